// Package inventory tracks physical blood stock: raw collected units and
// the typed components they separate into. The component ledger is the only
// source hospital requests draw from.
package inventory

import (
	"time"

	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// SeparationStatus tracks where a unit stands in the component separation
// pipeline.
//
// Machine: unprocessed → processing → {processed, error}. processed is
// terminal; error returns to unprocessed only through a staff-authorized
// retry.
type SeparationStatus string

const (
	SeparationUnprocessed SeparationStatus = "unprocessed"
	SeparationProcessing  SeparationStatus = "processing"
	SeparationProcessed   SeparationStatus = "processed"
	SeparationError       SeparationStatus = "error"
)

var separationTransitions = map[SeparationStatus][]SeparationStatus{
	SeparationUnprocessed: {SeparationProcessing},
	SeparationProcessing:  {SeparationProcessed, SeparationError},
	SeparationError:       {SeparationUnprocessed},
}

// CanTransitionTo reports whether the status machine allows the move.
func (s SeparationStatus) CanTransitionTo(target SeparationStatus) bool {
	for _, t := range separationTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ParseSeparationStatus validates external status input.
func ParseSeparationStatus(s string) (SeparationStatus, error) {
	switch SeparationStatus(s) {
	case SeparationUnprocessed, SeparationProcessing, SeparationProcessed, SeparationError:
		return SeparationStatus(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown separation status %q", s)
}

// BloodUnit is one raw collection of whole blood.
type BloodUnit struct {
	ID      id.UnitID    `json:"id"`
	DonorID id.DonorID   `json:"donor_id"`
	// RegistrationID links the unit to the completed registration it was
	// collected under. Nil for walk-in collections.
	RegistrationID id.RegistrationID `json:"registration_id,omitempty"`
	BloodType      id.BloodType      `json:"blood_type"`
	VolumeML       int               `json:"volume_ml"`
	CollectedAt    time.Time         `json:"collected_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Status         SeparationStatus  `json:"status"`
	// StatusReason says why the unit sits in the error state; cleared when
	// a retry returns it to unprocessed.
	StatusReason string    `json:"status_reason,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IntakePolicy bounds what the bank physically accepts.
type IntakePolicy struct {
	MinVolumeML int
	MaxVolumeML int
}

// IntakeUnitInput is the trust-boundary input for taking a unit into stock.
type IntakeUnitInput struct {
	DonorID        id.DonorID
	RegistrationID id.RegistrationID
	BloodType      id.BloodType
	VolumeML       int
	CollectedAt    time.Time
	ExpiresAt      time.Time
}

// NewBloodUnit validates intake input against policy and builds the unit in
// its initial unprocessed state.
func NewBloodUnit(in IntakeUnitInput, policy IntakePolicy, now time.Time) (*BloodUnit, error) {
	if in.DonorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "donor id is required")
	}
	if !in.BloodType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown blood type %q", in.BloodType)
	}
	if in.VolumeML < policy.MinVolumeML || in.VolumeML > policy.MaxVolumeML {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"volume %dml outside accepted range [%d, %d]",
			in.VolumeML, policy.MinVolumeML, policy.MaxVolumeML)
	}
	if in.CollectedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "collection time is required")
	}
	if !in.ExpiresAt.After(in.CollectedAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry must be after collection time")
	}
	return &BloodUnit{
		ID:             id.NewUnitID(),
		DonorID:        in.DonorID,
		RegistrationID: in.RegistrationID,
		BloodType:      in.BloodType,
		VolumeML:       in.VolumeML,
		CollectedAt:    in.CollectedAt,
		ExpiresAt:      in.ExpiresAt,
		Status:         SeparationUnprocessed,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanTransitionTo guards a status move on this unit.
func (u *BloodUnit) CanTransitionTo(target SeparationStatus) error {
	if !u.Status.CanTransitionTo(target) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"unit is %s, cannot move to %s", u.Status, target).WithEntity(u.ID.String())
	}
	return nil
}

// ApplyStatus transitions the unit. Call CanTransitionTo first.
func (u *BloodUnit) ApplyStatus(target SeparationStatus, now time.Time) {
	u.Status = target
	u.UpdatedAt = now
}

// IsExpired reports whether the unit is past its shelf life at the given
// instant.
func (u *BloodUnit) IsExpired(now time.Time) bool {
	return !now.Before(u.ExpiresAt)
}

// SeparatedComponent is one typed fraction produced from a unit. Components
// are the allocatable grain of the inventory: a hospital request reserves
// whole components, never fractions of one.
type SeparatedComponent struct {
	ID            id.ComponentID   `json:"id"`
	UnitID        id.UnitID        `json:"unit_id"`
	BloodType     id.BloodType     `json:"blood_type"`
	ComponentType id.ComponentType `json:"component_type"`
	VolumeML      int              `json:"volume_ml"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Available     bool             `json:"available"`
	// ReservedBy is the request holding this component; nil while available.
	ReservedBy id.RequestID `json:"reserved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// UnitFilter narrows ListUnits.
type UnitFilter struct {
	Status    SeparationStatus
	BloodType id.BloodType
	DonorID   id.DonorID
}

// ComponentFilter narrows ListComponents.
type ComponentFilter struct {
	BloodType     id.BloodType
	ComponentType id.ComponentType
	OnlyAvailable bool
	UnitID        id.UnitID
	ReservedBy    id.RequestID
}
