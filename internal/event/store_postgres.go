package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/platform/tx"
)

// PostgresStore persists donation events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, title, location, starts_at, ends_at, description, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, event *DonationEvent) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO donation_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(event.ID), event.Title, event.Location, event.StartsAt,
		event.EndsAt, event.Description, event.Version, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID id.EventID) (*DonationEvent, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM donation_events WHERE id = $1
	`, uuid.UUID(eventID))
	return scanEvent(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*DonationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM donation_events ORDER BY starts_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*DonationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, eventID id.EventID) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `DELETE FROM donation_events WHERE id = $1`, uuid.UUID(eventID))
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Execute(ctx context.Context, eventID id.EventID,
	validate func(*DonationEvent) error,
	mutate func(*DonationEvent)) (*DonationEvent, error) {

	var result *DonationEvent
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		e, err := s.FindByID(txCtx, eventID)
		if err != nil {
			return err
		}
		if err := validate(e); err != nil {
			return err
		}
		readVersion := e.Version
		mutate(e)
		e.Version = readVersion + 1

		q := tx.Resolve(txCtx, s.db)
		res, err := q.ExecContext(txCtx, `
			UPDATE donation_events
			SET title = $1, location = $2, starts_at = $3, ends_at = $4,
			    description = $5, version = $6, updated_at = $7
			WHERE id = $8 AND version = $9
		`,
			e.Title, e.Location, e.StartsAt, e.EndsAt,
			e.Description, e.Version, e.UpdatedAt,
			uuid.UUID(e.ID), readVersion,
		)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("event changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanEvent(row interface{ Scan(dest ...any) error }) (*DonationEvent, error) {
	var e DonationEvent
	var eventID uuid.UUID
	err := row.Scan(
		&eventID, &e.Title, &e.Location, &e.StartsAt, &e.EndsAt,
		&e.Description, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.ID = id.EventID(eventID)
	return &e, nil
}
