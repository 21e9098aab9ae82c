// Package reporting assembles read-only snapshots of the bank for the
// export collaborator. It never mutates anything; every figure is derived
// from the owning domain's reads at snapshot time.
package reporting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"hemobank/internal/fulfillment"
	"hemobank/internal/inventory"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/reporting")

// StockReader is the inventory slice the snapshot reads.
type StockReader interface {
	StockLevels(ctx context.Context) ([]inventory.BloodTypeStock, error)
	ListUnits(ctx context.Context, filter inventory.UnitFilter) ([]*inventory.BloodUnit, error)
}

// RequestReader is the fulfillment slice the snapshot reads.
type RequestReader interface {
	ListRequests(ctx context.Context, filter fulfillment.Filter) ([]*fulfillment.BloodRequest, error)
}

// Snapshot is one point-in-time view of the bank.
type Snapshot struct {
	GeneratedAt     time.Time                          `json:"generated_at"`
	Stock           []inventory.BloodTypeStock         `json:"stock"`
	UnitsByStatus   map[inventory.SeparationStatus]int `json:"units_by_status"`
	RequestsByState map[fulfillment.State]int          `json:"requests_by_state"`
	PendingDemandML map[string]int                     `json:"pending_demand_ml"`
}

// Service builds snapshots.
type Service struct {
	stock    StockReader
	requests RequestReader
}

func NewService(stock StockReader, requests RequestReader) *Service {
	return &Service{stock: stock, requests: requests}
}

// Snapshot derives the current report.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "reporting.Snapshot")
	defer span.End()

	stock, err := s.stock.StockLevels(ctx)
	if err != nil {
		return nil, err
	}
	units, err := s.stock.ListUnits(ctx, inventory.UnitFilter{})
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListRequests(ctx, fulfillment.Filter{})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		GeneratedAt:     requestcontext.Now(ctx),
		Stock:           stock,
		UnitsByStatus:   make(map[inventory.SeparationStatus]int),
		RequestsByState: make(map[fulfillment.State]int),
		PendingDemandML: make(map[string]int),
	}
	for _, u := range units {
		snap.UnitsByStatus[u.Status]++
	}
	for _, r := range reqs {
		snap.RequestsByState[r.State]++
		// Open demand per blood type: what hospitals asked for that is not
		// covered yet.
		if r.State == fulfillment.StateApproved || r.State == fulfillment.StatePending {
			snap.PendingDemandML[r.BloodType.String()] += r.VolumeML - r.ReservedVolumeML
		}
	}
	return snap, nil
}
