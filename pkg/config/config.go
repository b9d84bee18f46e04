package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/drivewatch/pkg/adminemails"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// User store types
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// User store configuration
	Store StoreConfig

	// Audit trail configuration
	Audit AuditConfig

	// Access control configuration
	Access AccessConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s health checks)
	HealthPort string
}

// StoreConfig selects and configures the user store
type StoreConfig struct {
	Type        string
	PostgresURL string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
}

// AuditConfig configures where audit events go and how long they are kept
type AuditConfig struct {
	// FileDir enables the JSON-lines file log when non-empty
	FileDir      string
	FileRotate   bool
	FileMaxSize  int64
	FileMaxFiles int

	// DBEnabled writes events to the audit_logs table of the postgres user store database
	DBEnabled         bool
	RetentionDays     int
	RetentionSchedule string

	// Writers and QueueSize size the background audit writer pool
	Writers   int
	QueueSize int
}

// AccessConfig configures the RBAC catalog and identity inputs
type AccessConfig struct {
	AdminEmails     []string
	AdminEmailsFile string
	ApprovedDomains []string
	CatalogFile     string
	IdentityHeader  string
	RequireIdentity bool
}

// RateLimitConfig configures request rate limits. Limits are shared through
// Redis when Store.RedisURL is set.
type RateLimitConfig struct {
	Enabled            bool
	ActorPerMinute     int
	AnonymousPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Audit:         loadAuditConfig(),
		Access:        loadAccessConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DRIVEWATCH_HOST", "0.0.0.0"),
		Port:            getEnv("DRIVEWATCH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DRIVEWATCH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DRIVEWATCH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DRIVEWATCH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DRIVEWATCH_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DRIVEWATCH_HEALTH_PORT", "9090"),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:        strings.ToLower(getEnv("DRIVEWATCH_STORE_TYPE", StoreMemory)),
		PostgresURL: getEnv("DRIVEWATCH_POSTGRES_URL", ""),
		SQLitePath:  getEnv("DRIVEWATCH_SQLITE_PATH", "drivewatch.db"),
		RedisURL:    getEnv("DRIVEWATCH_REDIS_URL", ""),
		RedisPrefix: getEnv("DRIVEWATCH_REDIS_PREFIX", "drivewatch"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		FileDir:           getEnv("DRIVEWATCH_AUDIT_DIR", ""),
		FileRotate:        getEnvBool("DRIVEWATCH_AUDIT_ROTATE", true),
		FileMaxSize:       getEnvInt64("DRIVEWATCH_AUDIT_MAX_SIZE", 100*1024*1024),
		FileMaxFiles:      getEnvInt("DRIVEWATCH_AUDIT_MAX_FILES", 10),
		DBEnabled:         getEnvBool("DRIVEWATCH_AUDIT_DB_ENABLED", false),
		RetentionDays:     getEnvInt("DRIVEWATCH_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("DRIVEWATCH_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		Writers:           getEnvInt("DRIVEWATCH_AUDIT_WRITERS", 4),
		QueueSize:         getEnvInt("DRIVEWATCH_AUDIT_QUEUE_SIZE", 1024),
	}
}

func loadAccessConfig() AccessConfig {
	return AccessConfig{
		AdminEmails:     adminemails.Parse(getEnv("DRIVEWATCH_ADMIN_EMAILS", "")),
		AdminEmailsFile: getEnv("DRIVEWATCH_ADMIN_EMAILS_FILE", ""),
		ApprovedDomains: splitList(getEnv("DRIVEWATCH_APPROVED_DOMAINS", "")),
		CatalogFile:     getEnv("DRIVEWATCH_CATALOG_FILE", ""),
		IdentityHeader:  getEnv("DRIVEWATCH_IDENTITY_HEADER", "X-Authenticated-Email"),
		RequireIdentity: getEnvBool("DRIVEWATCH_REQUIRE_IDENTITY", true),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:            getEnvBool("DRIVEWATCH_RATE_LIMIT_ENABLED", true),
		ActorPerMinute:     getEnvInt("DRIVEWATCH_RATE_LIMIT_ACTOR_PER_MINUTE", 1000),
		AnonymousPerMinute: getEnvInt("DRIVEWATCH_RATE_LIMIT_ANONYMOUS_PER_MINUTE", 100),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("DRIVEWATCH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DRIVEWATCH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DRIVEWATCH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DRIVEWATCH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DRIVEWATCH_OTEL_SERVICE_NAME", "drivewatch-rbac"),
		OTelServiceVersion: getEnv("DRIVEWATCH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DRIVEWATCH_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate store config based on type
	switch c.Store.Type {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, postgres, sqlite, or redis)", c.Store.Type)
	}

	// Validate audit config
	if c.Audit.DBEnabled {
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required when the audit database is enabled")
		}
		if c.Audit.RetentionDays < 0 {
			return fmt.Errorf("audit retention days must not be negative")
		}
		if c.Audit.RetentionDays > 0 {
			if _, err := cron.ParseStandard(c.Audit.RetentionSchedule); err != nil {
				return fmt.Errorf("invalid audit retention schedule %q: %w", c.Audit.RetentionSchedule, err)
			}
		}
	}
	if c.Audit.FileDir != "" && c.Audit.FileRotate {
		if c.Audit.FileMaxSize <= 0 || c.Audit.FileMaxFiles <= 0 {
			return fmt.Errorf("audit file rotation needs a positive max size and max files")
		}
	}

	if c.Audit.Writers <= 0 || c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit writers and queue size must be positive")
	}

	// Validate access config
	if len(c.Access.AdminEmails) > 0 && c.Access.AdminEmailsFile != "" {
		return fmt.Errorf("set either admin emails or an admin emails file, not both")
	}
	if c.Access.IdentityHeader == "" {
		return fmt.Errorf("identity header is required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.ActorPerMinute <= 0 || c.RateLimit.AnonymousPerMinute <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// splitList splits a comma-separated list, trimming and lowercasing entries and dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
