package fulfillment

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

// PostgresStore persists blood requests.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, patient_name, hospital, blood_type, component_type, volume_ml, urgency, reason, state, reserved_volume_ml, note, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, req *BloodRequest) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO blood_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		uuid.UUID(req.ID), req.PatientName, req.Hospital, string(req.BloodType), string(req.ComponentType),
		req.VolumeML, string(req.Urgency), req.Reason, string(req.State), req.ReservedVolumeML,
		req.Note, req.Version, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reqID id.RequestID) (*BloodRequest, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM blood_requests WHERE id = $1
	`, uuid.UUID(reqID))
	return scanRequest(row)
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*BloodRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM blood_requests WHERE 1=1`
	var args []any
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.Hospital != "" {
		args = append(args, filter.Hospital)
		query += fmt.Sprintf(" AND hospital = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*BloodRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Execute(ctx context.Context, reqID id.RequestID,
	validate func(*BloodRequest) error,
	mutate func(*BloodRequest)) (*BloodRequest, error) {

	var result *BloodRequest
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		r, err := s.FindByID(txCtx, reqID)
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
			UPDATE blood_requests
			SET state = $1, reserved_volume_ml = $2, note = $3, version = $4, updated_at = $5
			WHERE id = $6 AND version = $7
		`, string(r.State), r.ReservedVolumeML, r.Note, r.Version, r.UpdatedAt,
			uuid.UUID(r.ID), readVersion)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("request changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanRequest(row interface{ Scan(dest ...any) error }) (*BloodRequest, error) {
	var r BloodRequest
	var reqID uuid.UUID
	var bloodType, compType, urgency, state string
	err := row.Scan(&reqID, &r.PatientName, &r.Hospital, &bloodType, &compType, &r.VolumeML,
		&urgency, &r.Reason, &state, &r.ReservedVolumeML, &r.Note, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	r.ID = id.RequestID(reqID)
	r.BloodType = id.BloodType(bloodType)
	r.ComponentType = id.ComponentType(compType)
	r.Urgency = id.Urgency(urgency)
	r.State = State(state)
	return &r, nil
}
