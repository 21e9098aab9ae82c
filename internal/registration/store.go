package registration

import (
	"context"

	id "hemobank/pkg/domain"
)

// Store is the persistence boundary for registrations.
//
// Error contract: sentinel.ErrNotFound for unknown ids;
// sentinel.ErrConflict when Create would give a donor a second active
// registration on the same event (the store owns this uniqueness so the
// check and the insert are one critical section);
// sentinel.ErrVersionMismatch for stale writes.
type Store interface {
	// Create inserts the registration, enforcing at most one active
	// registration per donor+event.
	Create(ctx context.Context, reg *Registration) error
	FindByID(ctx context.Context, regID id.RegistrationID) (*Registration, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*Registration, error)
	ListByDonor(ctx context.Context, donorID id.DonorID) ([]*Registration, error)
	CountActiveByEvent(ctx context.Context, eventID id.EventID) (int, error)

	Execute(ctx context.Context, regID id.RegistrationID,
		validate func(*Registration) error,
		mutate func(*Registration)) (*Registration, error)
}
