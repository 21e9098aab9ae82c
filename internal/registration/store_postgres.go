package registration

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

// PostgresStore persists registrations. The one-active-registration
// invariant is enforced by a partial unique index on (donor_id, event_id)
// WHERE state <> 'cancelled', so concurrent Creates race at the database
// and the loser surfaces as a conflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const regColumns = `id, donor_id, event_id, state, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, reg *Registration) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO registrations (`+regColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(reg.ID), uuid.UUID(reg.DonorID), uuid.UUID(reg.EventID),
		string(reg.State), reg.Version, reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("donor already registered for event: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, regID id.RegistrationID) (*Registration, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+regColumns+` FROM registrations WHERE id = $1
	`, uuid.UUID(regID))
	return scanRegistration(row)
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID id.EventID) ([]*Registration, error) {
	return s.list(ctx, `SELECT `+regColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at`, uuid.UUID(eventID))
}

func (s *PostgresStore) ListByDonor(ctx context.Context, donorID id.DonorID) ([]*Registration, error) {
	return s.list(ctx, `SELECT `+regColumns+` FROM registrations WHERE donor_id = $1 ORDER BY created_at`, uuid.UUID(donorID))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Registration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []*Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActiveByEvent(ctx context.Context, eventID id.EventID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND state <> 'cancelled'
	`, uuid.UUID(eventID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Execute(ctx context.Context, regID id.RegistrationID,
	validate func(*Registration) error,
	mutate func(*Registration)) (*Registration, error) {

	var result *Registration
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		r, err := s.FindByID(txCtx, regID)
		if err != nil {
			return err
		}
		if err := validate(r); err != nil {
			return err
		}
		readVersion := r.Version
		mutate(r)
		r.Version = readVersion + 1

		q := tx.Resolve(txCtx, s.db)
		res, err := q.ExecContext(txCtx, `
			UPDATE registrations
			SET state = $1, version = $2, updated_at = $3
			WHERE id = $4 AND version = $5
		`, string(r.State), r.Version, r.UpdatedAt, uuid.UUID(r.ID), readVersion)
		if err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("registration changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanRegistration(row interface{ Scan(dest ...any) error }) (*Registration, error) {
	var r Registration
	var regID, donorID, eventID uuid.UUID
	var state string
	err := row.Scan(&regID, &donorID, &eventID, &state, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	r.ID = id.RegistrationID(regID)
	r.DonorID = id.DonorID(donorID)
	r.EventID = id.EventID(eventID)
	r.State = State(state)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
