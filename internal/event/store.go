package event

import (
	"context"

	id "hemobank/pkg/domain"
)

// Store is the persistence boundary for donation events. Error contract
// mirrors the other stores: sentinel.ErrNotFound for unknown ids,
// sentinel.ErrVersionMismatch for stale writes.
type Store interface {
	Create(ctx context.Context, event *DonationEvent) error
	FindByID(ctx context.Context, eventID id.EventID) (*DonationEvent, error)
	List(ctx context.Context) ([]*DonationEvent, error)
	Delete(ctx context.Context, eventID id.EventID) error

	Execute(ctx context.Context, eventID id.EventID,
		validate func(*DonationEvent) error,
		mutate func(*DonationEvent)) (*DonationEvent, error)
}
