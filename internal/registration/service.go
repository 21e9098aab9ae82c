package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hemobank/internal/eligibility"
	"hemobank/internal/event"
	"hemobank/internal/notification"
	"hemobank/internal/platform/metrics"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks EligibilityGate,EventDirectory

var tracer = otel.Tracer("hemobank/registration")

// EligibilityGate is the slice of the eligibility service the ledger needs:
// the donor's profile to check the blocked gate, and the donation counter
// bumped on completion.
type EligibilityGate interface {
	ProfileForDonor(ctx context.Context, donorID id.DonorID) (*eligibility.MedicalProfile, error)
	RecordDonation(ctx context.Context, donorID id.DonorID) error
}

// EventDirectory resolves events so the ledger can reject sign-ups against
// ended events.
type EventDirectory interface {
	GetEvent(ctx context.Context, eventID id.EventID) (*event.EventView, error)
}

// Service is the registration ledger.
type Service struct {
	store      Store
	gate       EligibilityGate
	events     EventDirectory
	dispatcher notification.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opTimeout  time.Duration
}

type Option func(*Service)

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

func NewService(store Store, gate EligibilityGate, events EventDirectory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		gate:      gate,
		events:    events,
		logger:    slog.Default(),
		opTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a pending registration for the donor on the event.
//
// Gates, in order: the donor's medical profile must exist and not be
// blocked; the event must exist and not have ended; the donor must not
// already hold an active registration on the event. The duplicate check
// lives in the store's Create so two concurrent sign-ups cannot both pass.
func (s *Service) Register(ctx context.Context, donorID id.DonorID, eventID id.EventID) (*Registration, error) {
	ctx, span := tracer.Start(ctx, "registration.Register",
		trace.WithAttributes(
			attribute.String("donor_id", donorID.String()),
			attribute.String("event_id", eventID.String()),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	profile, err := s.gate.ProfileForDonor(ctx, donorID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeEligibility, "donor has no medical profile").
				WithEntity(donorID.String())
		}
		return nil, err
	}
	if profile.IsBlocked() {
		return nil, dErrors.New(dErrors.CodeEligibility, "donor is medically blocked").
			WithEntity(donorID.String())
	}

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == event.PhaseEnded {
		return nil, dErrors.New(dErrors.CodeConflict, "event has ended").
			WithEntity(eventID.String())
	}

	now := requestcontext.Now(ctx)
	reg := &Registration{
		ID:        id.RegistrationID(uuid.New()),
		DonorID:   donorID,
		EventID:   eventID,
		State:     StatePending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, reg); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "donor already has an active registration for this event").
				WithEntity(eventID.String())
		}
		return nil, translateStoreErr(err, reg.ID.String())
	}
	if s.metrics != nil {
		s.metrics.RegistrationsCreated.Inc()
	}
	return reg, nil
}

// ChangeStatus moves a pending registration to completed or cancelled.
// Terminal registrations are immutable. Completion bumps the donor's
// donation count and notifies the messaging collaborator.
func (s *Service) ChangeStatus(ctx context.Context, regID id.RegistrationID, target State) (*Registration, error) {
	ctx, span := tracer.Start(ctx, "registration.ChangeStatus",
		trace.WithAttributes(
			attribute.String("registration_id", regID.String()),
			attribute.String("target", string(target)),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := requestcontext.Now(ctx)
	reg, err := s.store.Execute(ctx, regID,
		func(r *Registration) error { return r.CanTransitionTo(target) },
		func(r *Registration) { r.Apply(target, now) },
	)
	if err != nil {
		return nil, translateStoreErr(err, regID.String())
	}

	if target == StateCompleted {
		if err := s.gate.RecordDonation(ctx, reg.DonorID); err != nil {
			// The transition stands; the donation counter is a derived
			// convenience, not part of the ledger's invariant.
			s.logger.WarnContext(ctx, "failed to record donation",
				"donor_id", reg.DonorID.String(),
				"error", err,
			)
		}
		if s.metrics != nil {
			s.metrics.RegistrationsComplete.Inc()
		}
		if s.dispatcher != nil {
			s.dispatcher.Emit(ctx, notification.Event{
				Kind:           notification.KindRegistrationCompleted,
				RegistrationID: reg.ID,
				DonorID:        reg.DonorID,
			})
		}
	}
	return reg, nil
}

// GetRegistration resolves a registration by id.
func (s *Service) GetRegistration(ctx context.Context, regID id.RegistrationID) (*Registration, error) {
	reg, err := s.store.FindByID(ctx, regID)
	if err != nil {
		return nil, translateStoreErr(err, regID.String())
	}
	return reg, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID id.EventID) ([]*Registration, error) {
	regs, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, translateStoreErr(err, eventID.String())
	}
	return regs, nil
}

func (s *Service) ListByDonor(ctx context.Context, donorID id.DonorID) ([]*Registration, error) {
	regs, err := s.store.ListByDonor(ctx, donorID)
	if err != nil {
		return nil, translateStoreErr(err, donorID.String())
	}
	return regs, nil
}

// CountActiveByEvent implements event.RegistrationLedger.
func (s *Service) CountActiveByEvent(ctx context.Context, eventID id.EventID) (int, error) {
	n, err := s.store.CountActiveByEvent(ctx, eventID)
	if err != nil {
		return 0, translateStoreErr(err, eventID.String())
	}
	return n, nil
}

// CancelAllForEvent implements event.RegistrationLedger: the force-delete
// cascade. Already-terminal registrations are skipped.
func (s *Service) CancelAllForEvent(ctx context.Context, eventID id.EventID) (int, error) {
	regs, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return 0, translateStoreErr(err, eventID.String())
	}
	now := requestcontext.Now(ctx)
	cancelled := 0
	for _, reg := range regs {
		if reg.State.IsTerminal() {
			continue
		}
		_, err := s.store.Execute(ctx, reg.ID,
			func(r *Registration) error { return r.CanTransitionTo(StateCancelled) },
			func(r *Registration) { r.Apply(StateCancelled, now) },
		)
		if err != nil {
			// A registration that turned terminal between the list and the
			// write is fine; anything else aborts the cascade.
			if dErrors.HasCode(err, dErrors.CodeInvalidTransition) {
				continue
			}
			return cancelled, translateStoreErr(err, reg.ID.String())
		}
		cancelled++
	}
	return cancelled, nil
}

func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "registration not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "registration was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "registration conflict").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "registration store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "registration store failure")
	}
}
