package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hemobank/internal/audit"
	"hemobank/internal/notification"
	"hemobank/internal/platform/metrics"
	"hemobank/internal/registration"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/inventory")

// RegistrationDirectory resolves registrations so intake can verify that a
// linked registration exists and was completed.
type RegistrationDirectory interface {
	GetRegistration(ctx context.Context, regID id.RegistrationID) (*registration.Registration, error)
}

// Service owns the physical inventory: unit intake, the separation status
// machine, and the derived stock report.
type Service struct {
	units         UnitStore
	components    ComponentStore
	registrations RegistrationDirectory
	auditor       *audit.Publisher
	dispatcher    notification.Dispatcher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	opTimeout     time.Duration
	policy        IntakePolicy
	band          StockBand

	levels *levelTracker
}

type Option func(*Service)

func WithRegistrations(r RegistrationDirectory) Option {
	return func(s *Service) { s.registrations = r }
}

func WithAuditor(a *audit.Publisher) Option {
	return func(s *Service) { s.auditor = a }
}

func WithDispatcher(d notification.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

func WithIntakePolicy(p IntakePolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithStockBand(b StockBand) Option {
	return func(s *Service) { s.band = b }
}

func NewService(units UnitStore, components ComponentStore, opts ...Option) *Service {
	s := &Service{
		units:      units,
		components: components,
		logger:     slog.Default(),
		opTimeout:  5 * time.Second,
		policy:     IntakePolicy{MinVolumeML: 50, MaxVolumeML: 1000},
		band:       StockBand{LowML: 2000, CriticalML: 500},
		levels:     newLevelTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntakeUnit validates a collected unit against policy and records it
// unprocessed. A registration link, when present, must point at a completed
// registration, and a registration may back at most one unit.
func (s *Service) IntakeUnit(ctx context.Context, in IntakeUnitInput) (*BloodUnit, error) {
	ctx, span := tracer.Start(ctx, "inventory.IntakeUnit",
		trace.WithAttributes(attribute.String("donor_id", in.DonorID.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unit, err := NewBloodUnit(in, s.policy, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("unit_id", unit.ID.String()))

	if !in.RegistrationID.IsNil() {
		if s.registrations == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "registration links are not accepted here")
		}
		reg, err := s.registrations.GetRegistration(ctx, in.RegistrationID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.New(dErrors.CodeValidation, "linked registration does not exist").
					WithEntity(in.RegistrationID.String())
			}
			return nil, err
		}
		if reg.State != registration.StateCompleted {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"linked registration is %s, must be completed", reg.State).
				WithEntity(in.RegistrationID.String())
		}
		if reg.DonorID != in.DonorID {
			return nil, dErrors.New(dErrors.CodeValidation, "linked registration belongs to another donor").
				WithEntity(in.RegistrationID.String())
		}
	}

	if err := s.units.Create(ctx, unit); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "registration already has a collected unit").
				WithEntity(in.RegistrationID.String())
		}
		return nil, translateStoreErr(err, unit.ID.String())
	}
	if s.metrics != nil {
		s.metrics.UnitsCollected.Inc()
	}
	return unit, nil
}

func (s *Service) GetUnit(ctx context.Context, unitID id.UnitID) (*BloodUnit, error) {
	u, err := s.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, translateStoreErr(err, unitID.String())
	}
	return u, nil
}

func (s *Service) ListUnits(ctx context.Context, filter UnitFilter) ([]*BloodUnit, error) {
	units, err := s.units.List(ctx, filter)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}
	return units, nil
}

// MarkSeparating claims an unprocessed unit for separation. The status
// machine makes the claim exclusive: a second claimant fails the
// unprocessed → processing transition.
func (s *Service) MarkSeparating(ctx context.Context, unitID id.UnitID) (*BloodUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := requestcontext.Now(ctx)
	u, err := s.units.Execute(ctx, unitID,
		func(u *BloodUnit) error {
			if u.IsExpired(now) {
				return dErrors.New(dErrors.CodeInvalidTransition, "unit has expired").
					WithEntity(u.ID.String())
			}
			return u.CanTransitionTo(SeparationProcessing)
		},
		func(u *BloodUnit) { u.ApplyStatus(SeparationProcessing, now) },
	)
	if err != nil {
		return nil, translateStoreErr(err, unitID.String())
	}
	return u, nil
}

// MarkError moves a processing unit into the error state after a failed
// separation, recording why.
func (s *Service) MarkError(ctx context.Context, unitID id.UnitID, reason string) (*BloodUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := requestcontext.Now(ctx)
	u, err := s.units.Execute(ctx, unitID,
		func(u *BloodUnit) error { return u.CanTransitionTo(SeparationError) },
		func(u *BloodUnit) {
			u.ApplyStatus(SeparationError, now)
			u.StatusReason = reason
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, unitID.String())
	}
	if s.metrics != nil {
		s.metrics.SeparationFailures.Inc()
	}
	return u, nil
}

// RetryErrored returns an errored unit to unprocessed so separation can be
// attempted again. Staff only, note required, audited fail-closed.
func (s *Service) RetryErrored(ctx context.Context, unitID id.UnitID, note string) (*BloodUnit, error) {
	ctx, span := tracer.Start(ctx, "inventory.RetryErrored",
		trace.WithAttributes(attribute.String("unit_id", unitID.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if !requestcontext.ActorRole(ctx).AtLeastStaff() {
		return nil, dErrors.New(dErrors.CodeForbidden, "retry authorization requires staff role")
	}
	if note == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "retry authorization requires a note")
	}
	if s.auditor != nil {
		err := s.auditor.Emit(ctx, audit.Event{
			Action: audit.ActionUnitRetryAuthorized,
			Entity: unitID.String(),
			Note:   note,
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable, retry refused")
		}
	}

	now := requestcontext.Now(ctx)
	u, err := s.units.Execute(ctx, unitID,
		func(u *BloodUnit) error { return u.CanTransitionTo(SeparationUnprocessed) },
		func(u *BloodUnit) {
			u.ApplyStatus(SeparationUnprocessed, now)
			u.StatusReason = ""
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, unitID.String())
	}
	return u, nil
}

func (s *Service) GetComponent(ctx context.Context, compID id.ComponentID) (*SeparatedComponent, error) {
	c, err := s.components.FindByID(ctx, compID)
	if err != nil {
		return nil, translateStoreErr(err, compID.String())
	}
	return c, nil
}

func (s *Service) ListComponents(ctx context.Context, filter ComponentFilter) ([]*SeparatedComponent, error) {
	comps, err := s.components.List(ctx, filter)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}
	return comps, nil
}

func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "inventory record not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "inventory record was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "inventory conflict").WithEntity(entity)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, "unit has already been separated").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "inventory store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "inventory store failure")
	}
}
