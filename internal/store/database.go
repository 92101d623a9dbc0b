package store

import (
	"context"
	"fmt"
	"time"

	"xsanitaz-backend/internal/db"
)

// DatabaseFailureLog stores upstream failures in PostgreSQL
type DatabaseFailureLog struct {
	db *db.DB
}

func NewDatabaseFailureLog(database *db.DB) *DatabaseFailureLog {
	return &DatabaseFailureLog{db: database}
}

func (ds *DatabaseFailureLog) RecordFailure(ctx context.Context, f Failure) error {
	if f.Provider == "" || f.Kind == "" {
		return fmt.Errorf("provider and kind are required")
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO relay_failures (request_id, session_id, provider, kind, cause, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := ds.db.ExecContext(ctx, query, f.RequestID, f.SessionID, f.Provider, f.Kind, f.Cause, f.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to record relay failure: %w", err)
	}
	return nil
}

// HealthCheck pings the underlying database.
func (ds *DatabaseFailureLog) HealthCheck() error {
	return ds.db.HealthCheck()
}

// RecentFailures returns the newest failures first
func (ds *DatabaseFailureLog) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ds.db.QueryContext(ctx, `
		SELECT request_id, session_id, provider, kind, cause, occurred_at
		FROM relay_failures
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RequestID, &f.SessionID, &f.Provider, &f.Kind, &f.Cause, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan relay failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
