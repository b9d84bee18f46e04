package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to a PostgreSQL audit_logs table
type DBLogger struct {
	db *sql.DB
}

var (
	_ Logger   = (*DBLogger)(nil)
	_ Searcher = (*DBLogger)(nil)
)

// NewDBLogger creates a new database-based audit logger and ensures its table exists
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_email VARCHAR(320) NOT NULL,
		target_email VARCHAR(320),
		resource VARCHAR(255),
		previous_role VARCHAR(64),
		new_role VARCHAR(64),
		reason TEXT,
		request_id VARCHAR(100),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_email);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_email);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts one event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, timestamp, event_type, status,
			actor_email, target_email, resource,
			previous_role, new_role, reason,
			request_id, metadata
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12
		)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorEmail, nullString(event.TargetEmail), nullString(event.Resource),
		nullString(event.PreviousRole), nullString(event.NewRole), nullString(event.Reason),
		nullString(event.RequestID), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns matching events newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			actor_email, target_email, resource,
			previous_role, new_role, reason,
			request_id, metadata
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}
	if filter.ActorEmail != "" {
		query += fmt.Sprintf(" AND actor_email = $%d", argCount)
		args = append(args, filter.ActorEmail)
		argCount++
	}
	if filter.TargetEmail != "" {
		query += fmt.Sprintf(" AND target_email = $%d", argCount)
		args = append(args, filter.TargetEmail)
		argCount++
	}
	if filter.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", argCount)
		args = append(args, filter.Resource)
		argCount++
	}
	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		var (
			event                                     AuditEvent
			target, resource, prev, next, reason, rid sql.NullString
			metadataJSON                              []byte
		)
		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.ActorEmail, &target, &resource,
			&prev, &next, &reason,
			&rid, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		event.TargetEmail = target.String
		event.Resource = resource.String
		event.PreviousRole = prev.String
		event.NewRole = next.String
		event.Reason = reason.String
		event.RequestID = rid.String

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

// Purge deletes events older than retention and returns how many were removed
func (l *DBLogger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := time.Now().UTC().Add(-retention)

	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit logs: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database connection may be shared
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
