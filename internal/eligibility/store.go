package eligibility

import (
	"context"

	id "hemobank/pkg/domain"
)

// Filter narrows List results.
type Filter struct {
	State ProfileState
}

// Store is the persistence boundary for medical profiles.
//
// Error contract: implementations return sentinel errors —
// sentinel.ErrNotFound for unknown ids, sentinel.ErrConflict when a donor
// already owns a profile, sentinel.ErrVersionMismatch when an optimistic
// write lost. The service translates them into domain errors.
type Store interface {
	Create(ctx context.Context, profile *MedicalProfile) error
	FindByID(ctx context.Context, profileID id.ProfileID) (*MedicalProfile, error)
	FindByDonor(ctx context.Context, donorID id.DonorID) (*MedicalProfile, error)
	List(ctx context.Context, filter Filter) ([]*MedicalProfile, error)

	// Execute atomically runs validate then mutate against the current
	// record, holding the entity's write lock (mutex or row lock) for the
	// whole read-validate-write cycle. The version is bumped on success.
	Execute(ctx context.Context, profileID id.ProfileID,
		validate func(*MedicalProfile) error,
		mutate func(*MedicalProfile)) (*MedicalProfile, error)
}
