package fulfillment

import (
	"context"

	id "hemobank/pkg/domain"
)

// Store is the persistence boundary for blood requests.
//
// Error contract: sentinel.ErrNotFound for unknown ids;
// sentinel.ErrVersionMismatch for stale writes.
type Store interface {
	Create(ctx context.Context, req *BloodRequest) error
	FindByID(ctx context.Context, reqID id.RequestID) (*BloodRequest, error)
	List(ctx context.Context, filter Filter) ([]*BloodRequest, error)

	Execute(ctx context.Context, reqID id.RequestID,
		validate func(*BloodRequest) error,
		mutate func(*BloodRequest)) (*BloodRequest, error)
}
