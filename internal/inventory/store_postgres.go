package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/platform/tx"
)

// PostgresUnitStore persists blood units. The one-unit-per-registration
// invariant is a partial unique index on registration_id WHERE
// registration_id IS NOT NULL.
type PostgresUnitStore struct {
	db *sql.DB
}

func NewPostgresUnitStore(db *sql.DB) *PostgresUnitStore {
	return &PostgresUnitStore{db: db}
}

const unitColumns = `id, donor_id, registration_id, blood_type, volume_ml, collected_at, expires_at, status, status_reason, version, created_at, updated_at`

func (s *PostgresUnitStore) Create(ctx context.Context, unit *BloodUnit) error {
	q := tx.Resolve(ctx, s.db)
	var regID any
	if !unit.RegistrationID.IsNil() {
		regID = uuid.UUID(unit.RegistrationID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO blood_units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(unit.ID), uuid.UUID(unit.DonorID), regID,
		string(unit.BloodType), unit.VolumeML, unit.CollectedAt, unit.ExpiresAt,
		string(unit.Status), unit.StatusReason, unit.Version, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		if isUnitUniqueViolation(err) {
			return fmt.Errorf("registration already has a collected unit: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

func (s *PostgresUnitStore) FindByID(ctx context.Context, unitID id.UnitID) (*BloodUnit, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+unitColumns+` FROM blood_units WHERE id = $1
	`, uuid.UUID(unitID))
	return scanUnit(row)
}

func (s *PostgresUnitStore) List(ctx context.Context, filter UnitFilter) ([]*BloodUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM blood_units WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.BloodType != "" {
		args = append(args, string(filter.BloodType))
		query += fmt.Sprintf(" AND blood_type = $%d", len(args))
	}
	if !filter.DonorID.IsNil() {
		args = append(args, uuid.UUID(filter.DonorID))
		query += fmt.Sprintf(" AND donor_id = $%d", len(args))
	}
	query += " ORDER BY collected_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []*BloodUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresUnitStore) Execute(ctx context.Context, unitID id.UnitID,
	validate func(*BloodUnit) error,
	mutate func(*BloodUnit)) (*BloodUnit, error) {

	var result *BloodUnit
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		u, err := s.FindByID(txCtx, unitID)
		if err != nil {
			return err
		}
		if err := validate(u); err != nil {
			return err
		}
		readVersion := u.Version
		mutate(u)
		u.Version = readVersion + 1

		q := tx.Resolve(txCtx, s.db)
		res, err := q.ExecContext(txCtx, `
			UPDATE blood_units
			SET status = $1, status_reason = $2, version = $3, updated_at = $4
			WHERE id = $5 AND version = $6
		`, string(u.Status), u.StatusReason, u.Version, u.UpdatedAt, uuid.UUID(u.ID), readVersion)
		if err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("unit changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostgresComponentStore persists separated components. Its multi-row
// operations run inside a single transaction; ReserveBatch additionally
// locks candidate rows with FOR UPDATE SKIP LOCKED so concurrent
// allocations never double-reserve a component.
type PostgresComponentStore struct {
	db    *sql.DB
	units *PostgresUnitStore
}

func NewPostgresComponentStore(db *sql.DB, units *PostgresUnitStore) *PostgresComponentStore {
	return &PostgresComponentStore{db: db, units: units}
}

const componentColumns = `id, unit_id, blood_type, component_type, volume_ml, expires_at, available, reserved_by, created_at, updated_at`

func (s *PostgresComponentStore) CompleteSeparation(ctx context.Context, unitID id.UnitID,
	validate func(*BloodUnit) error,
	components []*SeparatedComponent, now time.Time) (*BloodUnit, error) {

	var result *BloodUnit
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		q := tx.Resolve(txCtx, s.db)

		u, err := s.units.FindByID(txCtx, unitID)
		if err != nil {
			return err
		}

		// A unit that ever produced components may not be separated again,
		// even after an error-state retry.
		var existing int
		if err := q.QueryRowContext(txCtx, `
			SELECT COUNT(*) FROM separated_components WHERE unit_id = $1
		`, uuid.UUID(unitID)).Scan(&existing); err != nil {
			return fmt.Errorf("check prior separation: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("unit already separated: %w", sentinel.ErrInvalidState)
		}
		if err := validate(u); err != nil {
			return err
		}

		for _, c := range components {
			var reservedBy any
			if !c.ReservedBy.IsNil() {
				reservedBy = uuid.UUID(c.ReservedBy)
			}
			_, err := q.ExecContext(txCtx, `
				INSERT INTO separated_components (`+componentColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
				uuid.UUID(c.ID), uuid.UUID(c.UnitID), string(c.BloodType),
				string(c.ComponentType), c.VolumeML, c.ExpiresAt,
				c.Available, reservedBy, c.CreatedAt, c.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert component: %w", err)
			}
		}

		readVersion := u.Version
		u.ApplyStatus(SeparationProcessed, now)
		u.Version = readVersion + 1
		res, err := q.ExecContext(txCtx, `
			UPDATE blood_units
			SET status = $1, version = $2, updated_at = $3
			WHERE id = $4 AND version = $5
		`, string(u.Status), u.Version, u.UpdatedAt, uuid.UUID(u.ID), readVersion)
		if err != nil {
			return fmt.Errorf("mark unit processed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark unit processed: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("unit changed concurrently: %w", sentinel.ErrVersionMismatch)
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresComponentStore) FindByID(ctx context.Context, compID id.ComponentID) (*SeparatedComponent, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+componentColumns+` FROM separated_components WHERE id = $1
	`, uuid.UUID(compID))
	return scanComponent(row)
}

func (s *PostgresComponentStore) List(ctx context.Context, filter ComponentFilter) ([]*SeparatedComponent, error) {
	query := `SELECT ` + componentColumns + ` FROM separated_components WHERE 1=1`
	var args []any
	if filter.BloodType != "" {
		args = append(args, string(filter.BloodType))
		query += fmt.Sprintf(" AND blood_type = $%d", len(args))
	}
	if filter.ComponentType != "" {
		args = append(args, string(filter.ComponentType))
		query += fmt.Sprintf(" AND component_type = $%d", len(args))
	}
	if filter.OnlyAvailable {
		query += " AND available"
	}
	if !filter.UnitID.IsNil() {
		args = append(args, uuid.UUID(filter.UnitID))
		query += fmt.Sprintf(" AND unit_id = $%d", len(args))
	}
	if !filter.ReservedBy.IsNil() {
		args = append(args, uuid.UUID(filter.ReservedBy))
		query += fmt.Sprintf(" AND reserved_by = $%d", len(args))
	}
	query += " ORDER BY expires_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	var out []*SeparatedComponent
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresComponentStore) ReserveBatch(ctx context.Context, requestID id.RequestID,
	bloodType id.BloodType, componentType id.ComponentType,
	neededML int, componentIDs []id.ComponentID,
	allowPartial bool, now time.Time) ([]*SeparatedComponent, int, error) {

	var picked []*SeparatedComponent
	total := 0
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		q := tx.Resolve(txCtx, s.db)

		if len(componentIDs) > 0 {
			// Named path: lock exactly the requested rows (blocking, so
			// concurrent allocations naming an overlapping set serialize and
			// the loser sees the reservation) and reserve them or nothing.
			named := make([]uuid.UUID, 0, len(componentIDs))
			for _, cid := range componentIDs {
				named = append(named, uuid.UUID(cid))
			}
			rows, err := q.QueryContext(txCtx, `
				SELECT `+componentColumns+` FROM separated_components
				WHERE id = ANY($1::uuid[])
				FOR UPDATE
			`, pq.Array(named))
			if err != nil {
				return fmt.Errorf("select named components: %w", err)
			}
			defer rows.Close()

			found := make(map[id.ComponentID]bool, len(componentIDs))
			for rows.Next() {
				c, err := scanComponent(rows)
				if err != nil {
					return err
				}
				if !c.Available {
					return fmt.Errorf("component %s already reserved: %w", c.ID, sentinel.ErrConflict)
				}
				if c.BloodType != bloodType || c.ComponentType != componentType || !now.Before(c.ExpiresAt) {
					return fmt.Errorf("component %s does not match the request: %w", c.ID, sentinel.ErrInvalidState)
				}
				found[c.ID] = true
				picked = append(picked, c)
				total += c.VolumeML
			}
			if err := rows.Err(); err != nil {
				return err
			}
			for _, cid := range componentIDs {
				if !found[cid] {
					return fmt.Errorf("component %s not found: %w", cid, sentinel.ErrNotFound)
				}
			}
		} else {
			rows, err := q.QueryContext(txCtx, `
				SELECT `+componentColumns+` FROM separated_components
				WHERE available AND blood_type = $1 AND component_type = $2 AND expires_at > $3
				ORDER BY expires_at, id
				FOR UPDATE SKIP LOCKED
			`, string(bloodType), string(componentType), now)
			if err != nil {
				return fmt.Errorf("select reservable components: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				if total >= neededML {
					break
				}
				c, err := scanComponent(rows)
				if err != nil {
					return err
				}
				picked = append(picked, c)
				total += c.VolumeML
			}
			if err := rows.Err(); err != nil {
				return err
			}
			rows.Close()

			if total < neededML && !allowPartial {
				picked = nil
				return nil
			}
		}
		if len(picked) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(picked))
		for _, c := range picked {
			c.Available = false
			c.ReservedBy = requestID
			c.UpdatedAt = now
			ids = append(ids, uuid.UUID(c.ID))
		}
		_, err := q.ExecContext(txCtx, `
			UPDATE separated_components
			SET available = FALSE, reserved_by = $1, updated_at = $2
			WHERE id = ANY($3::uuid[])
		`, uuid.UUID(requestID), now, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("reserve components: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return picked, total, nil
}

func (s *PostgresComponentStore) ReleaseByRequest(ctx context.Context, requestID id.RequestID, now time.Time) (int, error) {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE separated_components
		SET available = TRUE, reserved_by = NULL, updated_at = $1
		WHERE reserved_by = $2
	`, now, uuid.UUID(requestID))
	if err != nil {
		return 0, fmt.Errorf("release components: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release components: %w", err)
	}
	return int(n), nil
}

func (s *PostgresComponentStore) AvailableVolumes(ctx context.Context) (map[id.BloodType]map[id.ComponentType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blood_type, component_type, COALESCE(SUM(volume_ml), 0)
		FROM separated_components
		WHERE available
		GROUP BY blood_type, component_type
	`)
	if err != nil {
		return nil, fmt.Errorf("sum available volumes: %w", err)
	}
	defer rows.Close()

	out := make(map[id.BloodType]map[id.ComponentType]int)
	for rows.Next() {
		var bt, ct string
		var sum int
		if err := rows.Scan(&bt, &ct, &sum); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		byType, ok := out[id.BloodType(bt)]
		if !ok {
			byType = make(map[id.ComponentType]int)
			out[id.BloodType(bt)] = byType
		}
		byType[id.ComponentType(ct)] = sum
	}
	return out, rows.Err()
}

func scanUnit(row interface{ Scan(dest ...any) error }) (*BloodUnit, error) {
	var u BloodUnit
	var unitID, donorID uuid.UUID
	var regID uuid.NullUUID
	var bloodType, status string
	err := row.Scan(&unitID, &donorID, &regID, &bloodType, &u.VolumeML,
		&u.CollectedAt, &u.ExpiresAt, &status, &u.StatusReason, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unit not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan unit: %w", err)
	}
	u.ID = id.UnitID(unitID)
	u.DonorID = id.DonorID(donorID)
	if regID.Valid {
		u.RegistrationID = id.RegistrationID(regID.UUID)
	}
	u.BloodType = id.BloodType(bloodType)
	u.Status = SeparationStatus(status)
	return &u, nil
}

func scanComponent(row interface{ Scan(dest ...any) error }) (*SeparatedComponent, error) {
	var c SeparatedComponent
	var compID, unitID uuid.UUID
	var reservedBy uuid.NullUUID
	var bloodType, compType string
	err := row.Scan(&compID, &unitID, &bloodType, &compType, &c.VolumeML,
		&c.ExpiresAt, &c.Available, &reservedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("component not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan component: %w", err)
	}
	c.ID = id.ComponentID(compID)
	c.UnitID = id.UnitID(unitID)
	c.BloodType = id.BloodType(bloodType)
	c.ComponentType = id.ComponentType(compType)
	if reservedBy.Valid {
		c.ReservedBy = id.RequestID(reservedBy.UUID)
	}
	return &c, nil
}

func isUnitUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
