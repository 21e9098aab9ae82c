package store

import (
	"context"
	"database/sql"
	"fmt"

	"hemobank/internal/audit"
	"hemobank/pkg/platform/tx"
)

// PostgresStore persists the audit trail. Appends join any transaction in
// context so a staff override and its audit row commit or roll back as one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event audit.Event) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_events (occurred_at, actor_id, action, entity, note, request_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.Timestamp, event.ActorID, string(event.Action), event.Entity, event.Note, event.RequestID)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entity string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, actor_id, action, entity, note, request_id
		FROM audit_events
		WHERE entity = $1
		ORDER BY occurred_at
	`, entity)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var action string
		if err := rows.Scan(&e.Timestamp, &e.ActorID, &action, &e.Entity, &e.Note, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}
