package inventory

import (
	"context"
	"time"

	id "hemobank/pkg/domain"
)

// UnitStore is the persistence boundary for raw blood units.
//
// Error contract: sentinel.ErrNotFound for unknown ids;
// sentinel.ErrConflict when Create would give a registration a second unit;
// sentinel.ErrVersionMismatch for stale writes.
type UnitStore interface {
	// Create inserts the unit, enforcing at most one unit per registration.
	Create(ctx context.Context, unit *BloodUnit) error
	FindByID(ctx context.Context, unitID id.UnitID) (*BloodUnit, error)
	List(ctx context.Context, filter UnitFilter) ([]*BloodUnit, error)

	Execute(ctx context.Context, unitID id.UnitID,
		validate func(*BloodUnit) error,
		mutate func(*BloodUnit)) (*BloodUnit, error)
}

// ComponentStore is the persistence boundary for separated components.
// CompleteSeparation and ReserveBatch are the two multi-row critical
// sections of the whole system; both must be atomic in any implementation.
type ComponentStore interface {
	// CompleteSeparation atomically validates the source unit, inserts the
	// component rows, and marks the unit processed. Either everything lands
	// or nothing does.
	CompleteSeparation(ctx context.Context, unitID id.UnitID,
		validate func(*BloodUnit) error,
		components []*SeparatedComponent, now time.Time) (*BloodUnit, error)

	FindByID(ctx context.Context, compID id.ComponentID) (*SeparatedComponent, error)
	List(ctx context.Context, filter ComponentFilter) ([]*SeparatedComponent, error)

	// ReserveBatch atomically reserves components for the request and
	// returns them with the total volume reserved; the caller inspects the
	// total to detect a shortfall.
	//
	// With componentIDs set, exactly those components are reserved, all or
	// nothing: sentinel.ErrNotFound if one is unknown, sentinel.ErrConflict
	// if one is already reserved (first reserver wins),
	// sentinel.ErrInvalidState if one is expired or does not match the
	// request's blood and component type.
	//
	// With componentIDs empty, the store picks available components of the
	// given blood and component type, oldest expiry first, until neededML is
	// covered; if full coverage is impossible and allowPartial is false,
	// nothing is reserved.
	ReserveBatch(ctx context.Context, requestID id.RequestID,
		bloodType id.BloodType, componentType id.ComponentType,
		neededML int, componentIDs []id.ComponentID,
		allowPartial bool, now time.Time) ([]*SeparatedComponent, int, error)

	// ReleaseByRequest returns every component held by the request to the
	// available pool. Returns the number released.
	ReleaseByRequest(ctx context.Context, requestID id.RequestID, now time.Time) (int, error)

	// AvailableVolumes sums available component volume grouped by blood type
	// and component type.
	AvailableVolumes(ctx context.Context) (map[id.BloodType]map[id.ComponentType]int, error)
}
