package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DBLogger writes audit events to the audit_events table. Writes are
// synchronous; an insert failure is logged and returned to the caller, who
// treats audit as best effort because the audited operation has already
// committed.
type DBLogger struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB, log *logrus.Logger) *DBLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DBLogger{db: db, log: log}
}

// RunMigrations creates the audit_events table if needed
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			user_id BIGINT,
			organization_id BIGINT,
			resource_type VARCHAR(50),
			resource_id VARCHAR(255),
			request_id VARCHAR(64),
			message TEXT,
			error_message TEXT,
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_org ON audit_events(organization_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

// Log records an audit event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata interface{}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = string(data)
	}

	query := `
		INSERT INTO audit_events (timestamp, event_type, status, user_id, organization_id, resource_type, resource_id, request_id, message, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp,
		event.EventType,
		event.Status,
		event.UserID,
		event.OrganizationID,
		event.ResourceType,
		event.ResourceID,
		event.RequestID,
		event.Message,
		event.ErrorMessage,
		metadata,
	).Scan(&event.ID)

	if err != nil {
		l.log.WithError(err).WithField("event_type", event.EventType).Error("Failed to write audit event")
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return nil
}

// Close is a no-op; the logger does not own the database handle
func (l *DBLogger) Close() error {
	return nil
}

// Search queries audit events with filters, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]Event, error) {
	query := `
		SELECT id, timestamp, event_type, status, user_id, organization_id, resource_type, resource_id, request_id, message, error_message, metadata
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}

	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ResourceType != "" {
		args = append(args, string(filter.ResourceType))
		query += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		query += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}
	if len(filter.EventTypes) > 0 {
		query += " AND event_type IN ("
		for i, et := range filter.EventTypes {
			if i > 0 {
				query += ", "
			}
			args = append(args, string(et))
			query += fmt.Sprintf("$%d", len(args))
		}
		query += ")"
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var userID, orgID sql.NullInt64
		var resourceType, resourceID, requestID, message, errorMessage, metadata sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.EventType,
			&event.Status,
			&userID,
			&orgID,
			&resourceType,
			&resourceID,
			&requestID,
			&message,
			&errorMessage,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if userID.Valid {
			event.UserID = &userID.Int64
		}
		if orgID.Valid {
			event.OrganizationID = &orgID.Int64
		}
		event.ResourceType = ResourceType(resourceType.String)
		event.ResourceID = resourceID.String
		event.RequestID = requestID.String
		event.Message = message.String
		event.ErrorMessage = errorMessage.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
