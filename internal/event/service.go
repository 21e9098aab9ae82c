package event

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hemobank/internal/audit"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/event")

// RegistrationLedger is the port the registry needs from the registration
// ledger when deleting an event. Defined here so the dependency arrow stays
// registration → event.
type RegistrationLedger interface {
	CountActiveByEvent(ctx context.Context, eventID id.EventID) (int, error)
	CancelAllForEvent(ctx context.Context, eventID id.EventID) (int, error)
}

// EventView is an event decorated with its derived phase; what list and get
// return to callers.
type EventView struct {
	*DonationEvent
	Status Phase `json:"status"`
}

// Service manages donation events.
type Service struct {
	store         Store
	registrations RegistrationLedger
	auditor       *audit.Publisher
	logger        *slog.Logger
	opTimeout     time.Duration
}

type Option func(*Service)

func WithRegistrationLedger(l RegistrationLedger) Option {
	return func(s *Service) { s.registrations = l }
}

func WithAuditor(a *audit.Publisher) Option {
	return func(s *Service) { s.auditor = a }
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

// SetRegistrationLedger late-binds the ledger. The registration service is
// constructed after the event service (it needs event lookups), so main
// closes the loop here before serving.
func (s *Service) SetRegistrationLedger(l RegistrationLedger) {
	s.registrations = l
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    slog.Default(),
		opTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEvent validates and records a new donation event.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*DonationEvent, error) {
	ctx, span := tracer.Start(ctx, "event.CreateEvent")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	e, err := NewDonationEvent(in, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event_id", e.ID.String()))
	if err := s.store.Create(ctx, e); err != nil {
		return nil, translateStoreErr(err, e.ID.String())
	}
	return e, nil
}

// UpdateEvent edits an event's fields under the same validation as create.
func (s *Service) UpdateEvent(ctx context.Context, eventID id.EventID, in CreateEventInput) (*DonationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	// Run the builder to reuse its validation; only the field values move
	// onto the stored record.
	now := requestcontext.Now(ctx)
	draft, err := NewDonationEvent(in, now)
	if err != nil {
		return nil, err
	}

	e, err := s.store.Execute(ctx, eventID,
		func(*DonationEvent) error { return nil },
		func(e *DonationEvent) {
			e.Title = draft.Title
			e.Location = draft.Location
			e.StartsAt = draft.StartsAt
			e.EndsAt = draft.EndsAt
			e.Description = draft.Description
			e.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, eventID.String())
	}
	return e, nil
}

// GetEvent returns the event with its phase derived at the request time.
func (s *Service) GetEvent(ctx context.Context, eventID id.EventID) (*EventView, error) {
	e, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		return nil, translateStoreErr(err, eventID.String())
	}
	return &EventView{DonationEvent: e, Status: DeriveStatus(e, requestcontext.Now(ctx))}, nil
}

// ListEvents returns all events, each with its derived phase; when phase is
// non-empty only matching events are returned.
func (s *Service) ListEvents(ctx context.Context, phase Phase) ([]*EventView, error) {
	events, err := s.store.List(ctx)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}
	now := requestcontext.Now(ctx)
	out := make([]*EventView, 0, len(events))
	for _, e := range events {
		status := DeriveStatus(e, now)
		if phase != "" && status != phase {
			continue
		}
		out = append(out, &EventView{DonationEvent: e, Status: status})
	}
	return out, nil
}

// DeleteEvent removes an event. With active registrations present it fails
// with a conflict unless force is set, in which case the registrations are
// cancelled in cascade, the cascade is audited, and only then is the event
// deleted. Force requires staff tier.
func (s *Service) DeleteEvent(ctx context.Context, eventID id.EventID, force bool) error {
	ctx, span := tracer.Start(ctx, "event.DeleteEvent",
		trace.WithAttributes(attribute.String("event_id", eventID.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.store.FindByID(ctx, eventID); err != nil {
		return translateStoreErr(err, eventID.String())
	}

	if s.registrations != nil {
		active, err := s.registrations.CountActiveByEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if active > 0 {
			if !force {
				return dErrors.Newf(dErrors.CodeConflict,
					"event has %d active registrations", active).WithEntity(eventID.String())
			}
			if !requestcontext.ActorRole(ctx).AtLeastStaff() {
				return dErrors.New(dErrors.CodeForbidden, "force delete requires staff role")
			}
			if s.auditor != nil {
				err := s.auditor.Emit(ctx, audit.Event{
					Action: audit.ActionEventForceDeleted,
					Entity: eventID.String(),
				})
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable, force delete refused")
				}
			}
			cancelled, err := s.registrations.CancelAllForEvent(ctx, eventID)
			if err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "force delete cascaded registrations",
				"event_id", eventID.String(),
				"cancelled", cancelled,
			)
		}
	}

	if err := s.store.Delete(ctx, eventID); err != nil {
		return translateStoreErr(err, eventID.String())
	}
	return nil
}

func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "event not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "event was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "event store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "event store failure")
	}
}
