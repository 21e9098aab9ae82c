package inventory

import (
	"context"
	"sync"

	"hemobank/internal/notification"
	id "hemobank/pkg/domain"
	"hemobank/pkg/requestcontext"
)

// StockLevel bands the available volume of a blood type. The level is
// derived from the component ledger on every read; it is never stored.
type StockLevel string

const (
	StockGood     StockLevel = "good"
	StockLow      StockLevel = "low"
	StockCritical StockLevel = "critical"
)

// StockBand holds the thresholds separating the levels, in milliliters of
// total available volume per blood type.
type StockBand struct {
	LowML      int
	CriticalML int
}

// Classify maps a total available volume onto a level.
func (b StockBand) Classify(totalML int) StockLevel {
	switch {
	case totalML < b.CriticalML:
		return StockCritical
	case totalML < b.LowML:
		return StockLow
	default:
		return StockGood
	}
}

// BloodTypeStock is one row of the stock report.
type BloodTypeStock struct {
	BloodType   id.BloodType             `json:"blood_type"`
	TotalML     int                      `json:"total_ml"`
	Level       StockLevel               `json:"level"`
	ByComponent map[id.ComponentType]int `json:"by_component"`
}

// levelTracker remembers the last published level per blood type so the
// low-stock notification fires on downward crossings instead of every
// refresh.
type levelTracker struct {
	mu   sync.Mutex
	last map[id.BloodType]StockLevel
}

func newLevelTracker() *levelTracker {
	return &levelTracker{last: make(map[id.BloodType]StockLevel)}
}

// worsened records the new level and reports whether it dropped below the
// previously seen one.
func (t *levelTracker) worsened(bt id.BloodType, level StockLevel) bool {
	rank := map[StockLevel]int{StockGood: 0, StockLow: 1, StockCritical: 2}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.last[bt]
	t.last[bt] = level
	if !seen {
		return level != StockGood
	}
	return rank[level] > rank[prev]
}

// StockLevels derives the report across every blood type, including the
// ones with zero stock, so hospitals see the full picture.
func (s *Service) StockLevels(ctx context.Context) ([]BloodTypeStock, error) {
	volumes, err := s.components.AvailableVolumes(ctx)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}

	out := make([]BloodTypeStock, 0, len(id.AllBloodTypes()))
	for _, bt := range id.AllBloodTypes() {
		byComponent := volumes[bt]
		if byComponent == nil {
			byComponent = map[id.ComponentType]int{}
		}
		total := 0
		for _, ml := range byComponent {
			total += ml
		}
		out = append(out, BloodTypeStock{
			BloodType:   bt,
			TotalML:     total,
			Level:       s.band.Classify(total),
			ByComponent: byComponent,
		})
	}
	return out, nil
}

// RefreshStockSignals recomputes the report, updates the Prometheus gauges,
// and emits a low_stock notification for any blood type whose level just
// worsened. Called by the separation engine and the fulfillment service
// after they mutate the component ledger; failures are logged, never
// propagated, since the mutation already committed.
func (s *Service) RefreshStockSignals(ctx context.Context) {
	report, err := s.StockLevels(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "stock refresh failed", "error", err)
		return
	}
	for _, row := range report {
		if s.metrics != nil {
			for ct, ml := range row.ByComponent {
				s.metrics.AvailableVolumeML.WithLabelValues(row.BloodType.String(), ct.String()).Set(float64(ml))
			}
		}
		if row.Level == StockGood {
			s.levels.worsened(row.BloodType, row.Level)
			continue
		}
		if s.levels.worsened(row.BloodType, row.Level) && s.dispatcher != nil {
			s.dispatcher.Emit(ctx, notification.Event{
				Kind:        notification.KindLowStock,
				Timestamp:   requestcontext.Now(ctx),
				BloodType:   row.BloodType,
				AvailableML: row.TotalML,
			})
		}
	}
}
