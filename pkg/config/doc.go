// Package config loads and validates drivewatch configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	DRIVEWATCH_HOST="0.0.0.0"
//	DRIVEWATCH_PORT="8080"
//	DRIVEWATCH_HEALTH_PORT="9090"
//	DRIVEWATCH_READ_TIMEOUT="15s"
//	DRIVEWATCH_SHUTDOWN_TIMEOUT="30s"
//
// User store settings:
//
//	DRIVEWATCH_STORE_TYPE="postgres"  # memory, postgres, sqlite, redis
//	DRIVEWATCH_POSTGRES_URL="postgres://localhost/drivewatch?sslmode=disable"
//	DRIVEWATCH_SQLITE_PATH="drivewatch.db"
//	DRIVEWATCH_REDIS_URL="redis://localhost:6379/0"
//	DRIVEWATCH_REDIS_PREFIX="drivewatch"
//
// Audit settings:
//
//	DRIVEWATCH_AUDIT_DIR="/var/log/drivewatch/audit"  # empty disables the file log
//	DRIVEWATCH_AUDIT_ROTATE="true"
//	DRIVEWATCH_AUDIT_DB_ENABLED="true"                # needs DRIVEWATCH_POSTGRES_URL
//	DRIVEWATCH_AUDIT_RETENTION_DAYS="90"              # 0 keeps rows forever
//	DRIVEWATCH_AUDIT_RETENTION_SCHEDULE="0 3 * * *"
//	DRIVEWATCH_AUDIT_WRITERS="4"                      # background writer goroutines
//	DRIVEWATCH_AUDIT_QUEUE_SIZE="1024"                # events beyond this are dropped
//
// Access control settings:
//
//	DRIVEWATCH_ADMIN_EMAILS="boss@example.com,ops@example.com"
//	DRIVEWATCH_ADMIN_EMAILS_FILE="/etc/drivewatch/admins"  # reloaded on change
//	DRIVEWATCH_APPROVED_DOMAINS="example.com"
//	DRIVEWATCH_CATALOG_FILE="/etc/drivewatch/catalog.yaml"
//	DRIVEWATCH_IDENTITY_HEADER="X-Authenticated-Email"
//	DRIVEWATCH_REQUIRE_IDENTITY="true"
//
// Rate limiting:
//
//	DRIVEWATCH_RATE_LIMIT_ENABLED="true"
//	DRIVEWATCH_RATE_LIMIT_ACTOR_PER_MINUTE="1000"
//	DRIVEWATCH_RATE_LIMIT_ANONYMOUS_PER_MINUTE="100"
//
// Observability settings:
//
//	DRIVEWATCH_LOG_LEVEL="info"  # debug, info, warn, error
//	DRIVEWATCH_METRICS_ENABLED="true"
//	DRIVEWATCH_OTEL_ENABLED="true"
//	DRIVEWATCH_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
