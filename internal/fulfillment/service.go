package fulfillment

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
	"hemobank/internal/notification"
	"hemobank/internal/platform/metrics"
	"hemobank/internal/platform/redis"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/retry"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/fulfillment")

// Ledger is the slice of the inventory component store allocation needs.
type Ledger interface {
	ReserveBatch(ctx context.Context, requestID id.RequestID,
		bloodType id.BloodType, componentType id.ComponentType,
		neededML int, componentIDs []id.ComponentID,
		allowPartial bool, now time.Time) ([]*inventory.SeparatedComponent, int, error)
	ReleaseByRequest(ctx context.Context, requestID id.RequestID, now time.Time) (int, error)
}

// StockRefresher is notified after the component ledger changes so gauges
// and low-stock signals stay current.
type StockRefresher interface {
	RefreshStockSignals(ctx context.Context)
}

// Service handles hospital blood requests end to end.
type Service struct {
	store      Store
	ledger     Ledger
	stock      StockRefresher
	locker     *redis.Client
	auditor    *audit.Publisher
	dispatcher notification.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opTimeout  time.Duration

	// allowWaitingPayment enables parking partially covered allocations in
	// waiting_payment instead of failing them.
	allowWaitingPayment bool
}

type Option func(*Service)

func WithLocker(c *redis.Client) Option {
	return func(s *Service) { s.locker = c }
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

func WithWaitingPayment(allow bool) Option {
	return func(s *Service) { s.allowWaitingPayment = allow }
}

func NewService(store Store, ledger Ledger, stock StockRefresher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		ledger:    ledger,
		stock:     stock,
		logger:    slog.Default(),
		opTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest validates hospital intake input and records the pending
// request.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*BloodRequest, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.CreateRequest",
		trace.WithAttributes(attribute.String("hospital", in.Hospital)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	req, err := NewBloodRequest(in, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request_id", req.ID.String()))

	if err := s.store.Create(ctx, req); err != nil {
		return nil, translateStoreErr(err, req.ID.String())
	}
	if s.metrics != nil {
		s.metrics.RequestsCreated.Inc()
	}
	return req, nil
}

// Decide applies the staff verdict to a pending request. Decide is
// idempotent: repeating a decision the request already carries is a no-op
// returning the current record, so a retried HTTP call cannot fail its
// caller. A conflicting decision on a decided request is an invalid
// transition.
func (s *Service) Decide(ctx context.Context, reqID id.RequestID, decision Decision) (*BloodRequest, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Decide",
		trace.WithAttributes(
			attribute.String("request_id", reqID.String()),
			attribute.String("decision", string(decision)),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	target, err := decision.TargetState()
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var repeat *BloodRequest
	req, err := s.store.Execute(ctx, reqID,
		func(r *BloodRequest) error {
			if r.State == target {
				clone := *r
				repeat = &clone
				return errDecisionRepeated
			}
			if r.State != StatePending {
				return r.CanTransitionTo(target)
			}
			return nil
		},
		func(r *BloodRequest) { r.Apply(target, now) },
	)
	if err != nil {
		if errors.Is(err, errDecisionRepeated) {
			return repeat, nil
		}
		return nil, translateStoreErr(err, reqID.String())
	}
	return req, nil
}

// errDecisionRepeated aborts the Execute write without surfacing an error;
// the idempotent repeat returns the unchanged record instead.
var errDecisionRepeated = errors.New("decision repeated")

// Allocate reserves components for an approved request.
//
// With componentIDs set, exactly those components are reserved: one already
// held by another request fails with a conflict (first reserver wins), one
// that is expired or does not match the request's blood and component type
// fails with insufficient inventory, and nothing is reserved on failure.
// With componentIDs empty, the ledger picks available matches oldest expiry
// first.
//
// Either way the reservation is first-come-first-served: components are
// locked to the request atomically, and the request transition is guarded
// by the state machine plus the version check, so of two concurrent
// allocations exactly one wins and the loser's reservation is released.
// Full coverage moves the request to fulfilled. A shortfall fails with
// insufficient inventory unless the waiting_payment policy is enabled, in
// which case a partial reservation parks the request in waiting_payment.
func (s *Service) Allocate(ctx context.Context, reqID id.RequestID, componentIDs []id.ComponentID) (*BloodRequest, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Allocate",
		trace.WithAttributes(
			attribute.String("request_id", reqID.String()),
			attribute.Int("named_components", len(componentIDs)),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unlock, err := s.lockAllocation(ctx, reqID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.store.FindByID(ctx, reqID)
	if err != nil {
		return nil, translateStoreErr(err, reqID.String())
	}
	if req.State != StateApproved {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"request is %s, only approved requests can be allocated", req.State).
			WithEntity(reqID.String())
	}

	now := requestcontext.Now(ctx)
	_, totalML, err := s.ledger.ReserveBatch(ctx, req.ID, req.BloodType, req.ComponentType,
		req.VolumeML, componentIDs, s.allowWaitingPayment, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict,
				"a named component is already reserved").WithEntity(reqID.String())
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.Wrap(err, dErrors.CodeInsufficientInventory,
				"a named component does not match the request").WithEntity(reqID.String())
		}
		return nil, translateStoreErr(err, reqID.String())
	}
	if totalML == 0 || (totalML < req.VolumeML && !s.allowWaitingPayment) {
		if totalML > 0 {
			s.releaseQuiet(ctx, req.ID, now)
		}
		return nil, dErrors.Newf(dErrors.CodeInsufficientInventory,
			"need %dml of %s %s, only %dml available",
			req.VolumeML, req.BloodType, req.ComponentType, totalML).
			WithEntity(reqID.String())
	}

	target := StateFulfilled
	if totalML < req.VolumeML {
		target = StateWaitingPayment
	}
	updated, err := s.store.Execute(ctx, reqID,
		func(r *BloodRequest) error {
			if r.State != StateApproved || r.ReservedVolumeML != 0 {
				return dErrors.New(dErrors.CodeConflict, "request was allocated concurrently").
					WithEntity(reqID.String())
			}
			return r.CanTransitionTo(target)
		},
		func(r *BloodRequest) {
			r.ReservedVolumeML = totalML
			r.Apply(target, now)
		},
	)
	if err != nil {
		// The components are already locked to a request whose transition
		// never happened; give them back before surfacing the error.
		s.releaseQuiet(ctx, req.ID, now)
		if s.metrics != nil {
			s.metrics.WriteConflicts.WithLabelValues("blood_request").Inc()
		}
		return nil, translateStoreErr(err, reqID.String())
	}

	s.stock.RefreshStockSignals(ctx)
	if target == StateFulfilled {
		s.recordFulfilled(ctx, updated)
	}
	return updated, nil
}

// ConfirmPayment settles a waiting_payment request, fulfilling it with the
// partial reservation it holds.
func (s *Service) ConfirmPayment(ctx context.Context, reqID id.RequestID) (*BloodRequest, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.ConfirmPayment",
		trace.WithAttributes(attribute.String("request_id", reqID.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := requestcontext.Now(ctx)
	req, err := s.store.Execute(ctx, reqID,
		func(r *BloodRequest) error {
			if r.State != StateWaitingPayment {
				return dErrors.Newf(dErrors.CodeInvalidTransition,
					"request is %s, only waiting_payment requests can confirm payment", r.State).
					WithEntity(reqID.String())
			}
			return nil
		},
		func(r *BloodRequest) { r.Apply(StateFulfilled, now) },
	)
	if err != nil {
		return nil, translateStoreErr(err, reqID.String())
	}
	s.recordFulfilled(ctx, req)
	return req, nil
}

// CancelAllocation releases a waiting_payment request's reserved components
// back to the pool and returns the request to approved. Staff only, note
// required, audited fail-closed.
func (s *Service) CancelAllocation(ctx context.Context, reqID id.RequestID, note string) (*BloodRequest, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.CancelAllocation",
		trace.WithAttributes(attribute.String("request_id", reqID.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if !requestcontext.ActorRole(ctx).AtLeastStaff() {
		return nil, dErrors.New(dErrors.CodeForbidden, "cancelling an allocation requires staff role")
	}
	if note == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "cancelling an allocation requires a note")
	}
	if s.auditor != nil {
		err := s.auditor.Emit(ctx, audit.Event{
			Action: audit.ActionAllocationCancelled,
			Entity: reqID.String(),
			Note:   note,
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable, cancel refused")
		}
	}

	now := requestcontext.Now(ctx)
	req, err := s.store.Execute(ctx, reqID,
		func(r *BloodRequest) error {
			if r.State != StateWaitingPayment {
				return dErrors.Newf(dErrors.CodeInvalidTransition,
					"request is %s, only waiting_payment allocations can be cancelled", r.State).
					WithEntity(reqID.String())
			}
			return nil
		},
		func(r *BloodRequest) {
			r.ReservedVolumeML = 0
			r.Note = note
			r.Apply(StateApproved, now)
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, reqID.String())
	}

	if _, err := s.ledger.ReleaseByRequest(ctx, reqID, now); err != nil {
		// The request already moved back to approved; orphaned reservations
		// block stock, so this is loud.
		s.logger.ErrorContext(ctx, "failed to release cancelled allocation",
			"request_id", reqID.String(),
			"error", err,
		)
	}
	s.stock.RefreshStockSignals(ctx)
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, reqID id.RequestID) (*BloodRequest, error) {
	req, err := s.store.FindByID(ctx, reqID)
	if err != nil {
		return nil, translateStoreErr(err, reqID.String())
	}
	return req, nil
}

func (s *Service) ListRequests(ctx context.Context, filter Filter) ([]*BloodRequest, error) {
	reqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}
	return reqs, nil
}

// lockAllocation takes the cross-process allocation lock when Redis is
// configured. Store-level serialization already guarantees correctness;
// the lock just keeps competing processes from burning reservations they
// will immediately release.
func (s *Service) lockAllocation(ctx context.Context, reqID id.RequestID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := "hemobank:allocate:" + reqID.String()
	var ok bool
	err := retry.Do(ctx, retry.Policy{}, func(ctx context.Context) error {
		acquired, err := s.locker.SetNX(ctx, key, "1", s.opTimeout).Result()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeTransient, "allocation lock unavailable")
		}
		ok = acquired
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeConflict, "allocation already in progress").
			WithEntity(reqID.String())
	}
	return func() {
		if err := s.locker.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to release allocation lock", "key", key, "error", err)
		}
	}, nil
}

func (s *Service) recordFulfilled(ctx context.Context, req *BloodRequest) {
	if s.metrics != nil {
		s.metrics.RequestsFulfilled.Inc()
	}
	if s.dispatcher != nil {
		s.dispatcher.Emit(ctx, notification.Event{
			Kind:      notification.KindRequestFulfilled,
			Timestamp: requestcontext.Now(ctx),
			RequestID: req.ID,
			Hospital:  req.Hospital,
		})
	}
}

func (s *Service) releaseQuiet(ctx context.Context, reqID id.RequestID, now time.Time) {
	if _, err := s.ledger.ReleaseByRequest(ctx, reqID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to release reservation",
			"request_id", reqID.String(),
			"error", err,
		)
	}
}

func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "request not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "request was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "request conflict").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "request store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "request store failure")
	}
}
