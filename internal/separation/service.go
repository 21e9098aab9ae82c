// Package separation turns one raw blood unit into typed components. The
// engine drives the unit's status machine and hands the component rows to
// the inventory in a single all-or-nothing write.
package separation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hemobank/internal/audit"
	"hemobank/internal/inventory"
	"hemobank/internal/platform/metrics"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/separation")

// Pipeline is the slice of the inventory the engine drives: reading the
// claimed unit, failing it, and refreshing stock after the ledger changes.
type Pipeline interface {
	GetUnit(ctx context.Context, unitID id.UnitID) (*inventory.BloodUnit, error)
	MarkError(ctx context.Context, unitID id.UnitID, reason string) (*inventory.BloodUnit, error)
	RefreshStockSignals(ctx context.Context)
}

// ComponentSpec is one requested output fraction.
type ComponentSpec struct {
	Type     id.ComponentType
	VolumeML int
	// ExpiresAt overrides the per-type default shelf life when set.
	ExpiresAt time.Time
}

// Default shelf lives per component type, counted from separation.
var shelfLife = map[id.ComponentType]time.Duration{
	id.ComponentWholeBlood: 35 * 24 * time.Hour,
	id.ComponentRedCell:    42 * 24 * time.Hour,
	id.ComponentPlasma:     365 * 24 * time.Hour,
	id.ComponentPlatelet:   5 * 24 * time.Hour,
}

// Engine orchestrates separations.
type Engine struct {
	pipeline   Pipeline
	components inventory.ComponentStore
	auditor    *audit.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opTimeout  time.Duration
}

type Option func(*Engine)

func WithAuditor(a *audit.Publisher) Option {
	return func(e *Engine) { e.auditor = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithOpTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.opTimeout = d
		}
	}
}

func NewEngine(pipeline Pipeline, components inventory.ComponentStore, opts ...Option) *Engine {
	e := &Engine{
		pipeline:   pipeline,
		components: components,
		logger:     slog.Default(),
		opTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Separate splits the unit into the requested components.
//
// The caller claims the unit first: MarkSeparating moves it unprocessed →
// processing, and Separate refuses any unit not in processing with a
// conflict. The exclusive claim plus the store's one-component-set-per-unit
// guard mean a unit can never be separated twice even under concurrent
// calls. Component volumes must be positive and sum to at most the unit's
// volume. The write is all-or-nothing: either every component lands and the
// unit is processed, or nothing lands and the unit is moved to error for a
// staff-authorized retry.
func (e *Engine) Separate(ctx context.Context, unitID id.UnitID, specs []ComponentSpec) ([]*inventory.SeparatedComponent, error) {
	ctx, span := tracer.Start(ctx, "separation.Separate",
		trace.WithAttributes(
			attribute.String("unit_id", unitID.String()),
			attribute.Int("component_count", len(specs)),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	if len(specs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one component is required")
	}
	seen := make(map[id.ComponentType]bool, len(specs))
	for _, spec := range specs {
		if !spec.Type.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown component type %q", spec.Type)
		}
		if seen[spec.Type] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate component type %q", spec.Type)
		}
		seen[spec.Type] = true
		if spec.VolumeML <= 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"component %s volume must be positive", spec.Type)
		}
	}

	unit, err := e.pipeline.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.Status != inventory.SeparationProcessing {
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"unit is %s, claim it with mark-separating first", unit.Status).
			WithEntity(unitID.String())
	}

	total := 0
	for _, spec := range specs {
		total += spec.VolumeML
	}
	if total > unit.VolumeML {
		// The unit is already claimed; release it through the error path so
		// the over-ask is visible and retryable.
		return nil, e.rollback(ctx, unitID, dErrors.Newf(dErrors.CodeValidation,
			"component volumes sum to %dml, unit holds %dml", total, unit.VolumeML).
			WithEntity(unitID.String()))
	}

	now := requestcontext.Now(ctx)
	comps := make([]*inventory.SeparatedComponent, 0, len(specs))
	for _, spec := range specs {
		expires := spec.ExpiresAt
		if expires.IsZero() {
			expires = now.Add(shelfLife[spec.Type])
		}
		comps = append(comps, &inventory.SeparatedComponent{
			ID:            id.NewComponentID(),
			UnitID:        unit.ID,
			BloodType:     unit.BloodType,
			ComponentType: spec.Type,
			VolumeML:      spec.VolumeML,
			ExpiresAt:     expires,
			Available:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	_, err = e.components.CompleteSeparation(ctx, unitID,
		func(u *inventory.BloodUnit) error { return u.CanTransitionTo(inventory.SeparationProcessed) },
		comps, now)
	if err != nil {
		// Losing the exactly-once race is not a unit failure: a concurrent
		// call already separated it, so leave the processed unit alone.
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, translateStoreErr(err, unitID.String())
		}
		return nil, e.rollback(ctx, unitID, translateStoreErr(err, unitID.String()))
	}

	if e.metrics != nil {
		e.metrics.UnitsSeparated.Inc()
	}
	e.pipeline.RefreshStockSignals(ctx)
	return comps, nil
}

func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "unit not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, "unit has already been separated").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "unit was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "component store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "component store failure")
	}
}

// rollback moves the claimed unit to error and records the trail. The
// original failure is always the error returned; rollback trouble is
// logged on top of it.
func (e *Engine) rollback(ctx context.Context, unitID id.UnitID, cause error) error {
	if _, err := e.pipeline.MarkError(ctx, unitID, cause.Error()); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark unit errored after separation failure",
			"unit_id", unitID.String(),
			"error", err,
		)
	}
	if e.auditor != nil {
		err := e.auditor.Emit(ctx, audit.Event{
			Action: audit.ActionSeparationRolledBack,
			Entity: unitID.String(),
			Note:   cause.Error(),
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to audit separation rollback",
				"unit_id", unitID.String(),
				"error", err,
			)
		}
	}
	return cause
}
