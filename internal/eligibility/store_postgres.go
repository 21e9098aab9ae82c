package eligibility

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

// PostgresStore persists medical profiles. Optimistic concurrency: every
// mutation goes through Execute, which re-reads the row inside a
// transaction and writes back with a WHERE version = check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `
	id, donor_id, full_name, date_of_birth, gender, national_id,
	email, phone, blood_type, donation_count, disease_notes, state,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, profile *MedicalProfile) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO medical_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		uuid.UUID(profile.ID), uuid.UUID(profile.DonorID), profile.FullName,
		profile.DateOfBirth, profile.Gender, profile.NationalID,
		profile.Email, profile.Phone, string(profile.BloodType),
		profile.DonationCount, profile.DiseaseNotes, string(profile.State),
		profile.Version, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("donor already has a profile: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, profileID id.ProfileID) (*MedicalProfile, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM medical_profiles WHERE id = $1
	`, uuid.UUID(profileID))
	return scanProfile(row)
}

func (s *PostgresStore) FindByDonor(ctx context.Context, donorID id.DonorID) (*MedicalProfile, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM medical_profiles WHERE donor_id = $1
	`, uuid.UUID(donorID))
	return scanProfile(row)
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*MedicalProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM medical_profiles`
	var args []any
	if filter.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*MedicalProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Execute(ctx context.Context, profileID id.ProfileID,
	validate func(*MedicalProfile) error,
	mutate func(*MedicalProfile)) (*MedicalProfile, error) {

	var result *MedicalProfile
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		p, err := s.FindByID(txCtx, profileID)
		if err != nil {
			return err
		}
		if err := validate(p); err != nil {
			return err
		}
		readVersion := p.Version
		mutate(p)
		p.Version = readVersion + 1

		q := tx.Resolve(txCtx, s.db)
		res, err := q.ExecContext(txCtx, `
			UPDATE medical_profiles
			SET full_name = $1, email = $2, phone = $3, donation_count = $4,
			    disease_notes = $5, state = $6, version = $7, updated_at = $8
			WHERE id = $9 AND version = $10
		`,
			p.FullName, p.Email, p.Phone, p.DonationCount,
			p.DiseaseNotes, string(p.State), p.Version, p.UpdatedAt,
			uuid.UUID(p.ID), readVersion,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("profile changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*MedicalProfile, error) {
	var p MedicalProfile
	var profileID, donorID uuid.UUID
	var bloodType, state string
	err := row.Scan(
		&profileID, &donorID, &p.FullName, &p.DateOfBirth, &p.Gender,
		&p.NationalID, &p.Email, &p.Phone, &bloodType, &p.DonationCount,
		&p.DiseaseNotes, &state, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.ID = id.ProfileID(profileID)
	p.DonorID = id.DonorID(donorID)
	p.BloodType = id.BloodType(bloodType)
	p.State = ProfileState(state)
	return &p, nil
}

// isUniqueViolation detects Postgres unique constraint errors (SQLSTATE
// 23505) without binding to a specific driver error type.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
