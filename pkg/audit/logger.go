package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
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
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		org_id BIGINT,
		actor_org_user_id BIGINT,
		principal_id BIGINT,
		target_type VARCHAR(50),
		target_id BIGINT,
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_org_id ON audit_logs(org_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_org_user_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log writes an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			org_id, actor_org_user_id, principal_id,
			target_type, target_id,
			ip_address, request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.OrgID, event.ActorOrgUserID, event.PrincipalID,
		nullStr(event.TargetType), event.TargetID,
		nullStr(event.IPAddress), nullStr(event.RequestID), nullStr(event.Message), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List returns recent events for an organization, newest first
func (l *DBLogger) List(ctx context.Context, orgID int64, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, status,
		       org_id, actor_org_user_id, principal_id,
		       target_type, target_id, ip_address, request_id, message, metadata
		FROM audit_logs
		WHERE org_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var eventType, status string
		var targetType, ipAddress, requestID, message sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &status,
			&e.OrgID, &e.ActorOrgUserID, &e.PrincipalID,
			&targetType, &e.TargetID, &ipAddress, &requestID, &message, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.TargetType = targetType.String
		e.IPAddress = ipAddress.String
		e.RequestID = requestID.String
		e.Message = message.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// NopLogger discards all events. Used where audit logging is optional.
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
