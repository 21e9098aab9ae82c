package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hemobank/internal/audit"
	auditstore "hemobank/internal/audit/store"
	"hemobank/internal/inventory"
	"hemobank/internal/notification"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/testutil"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (d *recordingDispatcher) Emit(_ context.Context, e notification.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDispatcher) all() []notification.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.Event{}, d.events...)
}

type ServiceSuite struct {
	suite.Suite
	store      *InMemoryStore
	units      *inventory.InMemoryUnitStore
	components *inventory.InMemoryComponentStore
	invSvc     *inventory.Service
	auditStore *auditstore.InMemoryStore
	dispatcher *recordingDispatcher
	service    *Service
	now        time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.units, s.components = inventory.NewInMemoryStores()
	s.invSvc = inventory.NewService(s.units, s.components,
		inventory.WithIntakePolicy(inventory.IntakePolicy{MinVolumeML: 50, MaxVolumeML: 1000}),
	)
	s.auditStore = auditstore.NewInMemoryStore()
	s.dispatcher = &recordingDispatcher{}
	s.now = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	s.service = NewService(s.store, s.components, s.invSvc,
		WithAuditor(audit.NewPublisher(s.auditStore)),
		WithDispatcher(s.dispatcher),
	)
}

func (s *ServiceSuite) ctx() context.Context {
	return testutil.At(context.Background(), s.now)
}

// seedStock puts one available red cell component of the given volume into
// the ledger and returns its id.
func (s *ServiceSuite) seedStock(bt id.BloodType, volumeML int) id.ComponentID {
	return s.seedStockExpiring(bt, volumeML, s.now.Add(42*24*time.Hour))
}

func (s *ServiceSuite) seedStockExpiring(bt id.BloodType, volumeML int, expiresAt time.Time) id.ComponentID {
	unit, err := s.invSvc.IntakeUnit(s.ctx(), inventory.IntakeUnitInput{
		DonorID:     id.NewDonorID(),
		BloodType:   bt,
		VolumeML:    volumeML,
		CollectedAt: s.now,
		ExpiresAt:   s.now.Add(35 * 24 * time.Hour),
	})
	s.Require().NoError(err)
	_, err = s.invSvc.MarkSeparating(s.ctx(), unit.ID)
	s.Require().NoError(err)
	compID := id.NewComponentID()
	_, err = s.components.CompleteSeparation(s.ctx(), unit.ID,
		func(u *inventory.BloodUnit) error { return u.CanTransitionTo(inventory.SeparationProcessed) },
		[]*inventory.SeparatedComponent{{
			ID:            compID,
			UnitID:        unit.ID,
			BloodType:     bt,
			ComponentType: id.ComponentRedCell,
			VolumeML:      volumeML,
			ExpiresAt:     expiresAt,
			Available:     true,
			CreatedAt:     s.now,
			UpdatedAt:     s.now,
		}}, s.now)
	s.Require().NoError(err)
	return compID
}

func (s *ServiceSuite) createRequest(volumeML int) *BloodRequest {
	req, err := s.service.CreateRequest(s.ctx(), CreateRequestInput{
		PatientName:   "Tran Van Binh",
		Hospital:      "General Hospital",
		BloodType:     id.BloodTypeAPos,
		ComponentType: id.ComponentRedCell,
		VolumeML:      volumeML,
		Reason:        "scheduled surgery",
	})
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) approvedRequest(volumeML int) *BloodRequest {
	req := s.createRequest(volumeML)
	approved, err := s.service.Decide(s.ctx(), req.ID, DecisionApprove)
	s.Require().NoError(err)
	return approved
}

func (s *ServiceSuite) TestCreateRequestValidation() {
	s.Run("defaults urgency to routine", func() {
		req := s.createRequest(300)
		s.Equal(id.UrgencyRoutine, req.Urgency)
		s.Equal(StatePending, req.State)
	})

	s.Run("rejects missing patient name", func() {
		_, err := s.service.CreateRequest(s.ctx(), CreateRequestInput{
			Hospital:      "General Hospital",
			BloodType:     id.BloodTypeAPos,
			ComponentType: id.ComponentRedCell,
			VolumeML:      300,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects missing hospital", func() {
		_, err := s.service.CreateRequest(s.ctx(), CreateRequestInput{
			PatientName:   "Tran Van Binh",
			BloodType:     id.BloodTypeAPos,
			ComponentType: id.ComponentRedCell,
			VolumeML:      300,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects non-positive volume", func() {
		_, err := s.service.CreateRequest(s.ctx(), CreateRequestInput{
			PatientName:   "Tran Van Binh",
			Hospital:      "General Hospital",
			BloodType:     id.BloodTypeAPos,
			ComponentType: id.ComponentRedCell,
			VolumeML:      0,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestDecide() {
	s.Run("approves a pending request", func() {
		req := s.createRequest(300)
		decided, err := s.service.Decide(s.ctx(), req.ID, DecisionApprove)
		s.Require().NoError(err)
		s.Equal(StateApproved, decided.State)
		s.Equal(2, decided.Version)
	})

	s.Run("repeating the same decision is a no-op", func() {
		req := s.createRequest(300)
		first, err := s.service.Decide(s.ctx(), req.ID, DecisionApprove)
		s.Require().NoError(err)

		second, err := s.service.Decide(s.ctx(), req.ID, DecisionApprove)
		s.Require().NoError(err)
		s.Equal(first.State, second.State)
		// The repeat did not write: the version is unchanged.
		s.Equal(first.Version, second.Version)
	})

	s.Run("conflicting decision on a decided request fails", func() {
		req := s.createRequest(300)
		_, err := s.service.Decide(s.ctx(), req.ID, DecisionReject)
		s.Require().NoError(err)

		_, err = s.service.Decide(s.ctx(), req.ID, DecisionApprove)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown decision is rejected", func() {
		req := s.createRequest(300)
		_, err := s.service.Decide(s.ctx(), req.ID, Decision("defer"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// staleStore fails the next Execute the way the postgres store does when
// the version check loses a concurrent write.
type staleStore struct {
	Store
	stale bool
}

func (s *staleStore) Execute(ctx context.Context, reqID id.RequestID,
	validate func(*BloodRequest) error, mutate func(*BloodRequest)) (*BloodRequest, error) {
	if s.stale {
		s.stale = false
		return nil, fmt.Errorf("request changed concurrently: %w", sentinel.ErrVersionMismatch)
	}
	return s.Store.Execute(ctx, reqID, validate, mutate)
}

func (s *ServiceSuite) TestStaleWriteSurfacesAsConflict() {
	req := s.createRequest(300)

	stale := &staleStore{Store: s.store, stale: true}
	svc := NewService(stale, s.components, s.invSvc)

	_, err := svc.Decide(s.ctx(), req.ID, DecisionApprove)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// The loser re-reads and retries against fresh state.
	decided, err := svc.Decide(s.ctx(), req.ID, DecisionApprove)
	s.Require().NoError(err)
	s.Equal(StateApproved, decided.State)
}

func (s *ServiceSuite) TestAllocateFullCoverage() {
	s.seedStock(id.BloodTypeAPos, 200)
	s.seedStock(id.BloodTypeAPos, 200)
	req := s.approvedRequest(300)

	allocated, err := s.service.Allocate(s.ctx(), req.ID, nil)
	s.Require().NoError(err)
	s.Equal(StateFulfilled, allocated.State)
	s.Equal(400, allocated.ReservedVolumeML) // whole components, oldest first

	reserved, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{ReservedBy: req.ID})
	s.Require().NoError(err)
	s.Len(reserved, 2)

	emitted := s.dispatcher.all()
	s.Require().Len(emitted, 1)
	s.Equal(notification.KindRequestFulfilled, emitted[0].Kind)
	s.Equal(req.ID, emitted[0].RequestID)
}

func (s *ServiceSuite) TestAllocateNamedComponents() {
	soon := s.seedStockExpiring(id.BloodTypeAPos, 250, s.now.Add(24*time.Hour))
	late := s.seedStockExpiring(id.BloodTypeAPos, 250, s.now.Add(30*24*time.Hour))
	req := s.approvedRequest(200)

	allocated, err := s.service.Allocate(s.ctx(), req.ID, []id.ComponentID{late})
	s.Require().NoError(err)
	s.Equal(StateFulfilled, allocated.State)
	s.Equal(250, allocated.ReservedVolumeML)

	// Exactly the named component is reserved; the soonest-expiring one the
	// auto-picker would have chosen stays available.
	reserved, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{ReservedBy: req.ID})
	s.Require().NoError(err)
	s.Require().Len(reserved, 1)
	s.Equal(late, reserved[0].ID)

	other, err := s.invSvc.GetComponent(s.ctx(), soon)
	s.Require().NoError(err)
	s.True(other.Available)
}

func (s *ServiceSuite) TestAllocateNamedComponentAlreadyReserved() {
	comp := s.seedStock(id.BloodTypeAPos, 250)
	first := s.approvedRequest(200)
	second := s.approvedRequest(200)

	_, err := s.service.Allocate(s.ctx(), first.ID, []id.ComponentID{comp})
	s.Require().NoError(err)

	// First reserver wins; the same named set conflicts for the loser.
	_, err = s.service.Allocate(s.ctx(), second.ID, []id.ComponentID{comp})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	current, err := s.service.GetRequest(s.ctx(), second.ID)
	s.Require().NoError(err)
	s.Equal(StateApproved, current.State)
	s.Zero(current.ReservedVolumeML)
}

func (s *ServiceSuite) TestAllocateNamedComponentMismatch() {
	// O- stock cannot serve an A+ red cell ask even when named explicitly.
	comp := s.seedStock(id.BloodTypeONeg, 250)
	req := s.approvedRequest(200)

	_, err := s.service.Allocate(s.ctx(), req.ID, []id.ComponentID{comp})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientInventory))

	unharmed, err := s.invSvc.GetComponent(s.ctx(), comp)
	s.Require().NoError(err)
	s.True(unharmed.Available)
}

func (s *ServiceSuite) TestAllocateRequiresApproved() {
	req := s.createRequest(300)
	_, err := s.service.Allocate(s.ctx(), req.ID, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestAllocateInsufficientStock() {
	s.seedStock(id.BloodTypeAPos, 100)
	// Exact match on both axes: B- stock cannot serve an A+ ask.
	s.seedStock(id.BloodTypeBNeg, 500)
	req := s.approvedRequest(300)

	_, err := s.service.Allocate(s.ctx(), req.ID, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientInventory))

	// Nothing stays reserved after the failed allocation.
	reserved, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{ReservedBy: req.ID})
	s.Require().NoError(err)
	s.Empty(reserved)

	current, err := s.service.GetRequest(s.ctx(), req.ID)
	s.Require().NoError(err)
	s.Equal(StateApproved, current.State)
	s.Zero(current.ReservedVolumeML)
}

func (s *ServiceSuite) TestAllocatePartialUnderWaitingPaymentPolicy() {
	svc := NewService(s.store, s.components, s.invSvc,
		WithDispatcher(s.dispatcher),
		WithWaitingPayment(true),
	)
	s.seedStock(id.BloodTypeAPos, 200)
	req := s.approvedRequest(500)

	parked, err := svc.Allocate(s.ctx(), req.ID, nil)
	s.Require().NoError(err)
	s.Equal(StateWaitingPayment, parked.State)
	s.Equal(200, parked.ReservedVolumeML)

	s.Run("confirm payment settles the partial allocation", func() {
		confirmed, err := svc.ConfirmPayment(s.ctx(), req.ID)
		s.Require().NoError(err)
		s.Equal(StateFulfilled, confirmed.State)

		emitted := s.dispatcher.all()
		s.Require().NotEmpty(emitted)
		s.Equal(notification.KindRequestFulfilled, emitted[len(emitted)-1].Kind)
	})
}

func (s *ServiceSuite) TestConfirmPaymentRequiresWaitingPayment() {
	req := s.approvedRequest(300)
	_, err := s.service.ConfirmPayment(s.ctx(), req.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestCancelAllocation() {
	svc := NewService(s.store, s.components, s.invSvc,
		WithAuditor(audit.NewPublisher(s.auditStore)),
		WithWaitingPayment(true),
	)
	s.seedStock(id.BloodTypeAPos, 200)
	req := s.approvedRequest(500)
	_, err := svc.Allocate(s.ctx(), req.ID, nil)
	s.Require().NoError(err)

	s.Run("requires staff role", func() {
		_, err := svc.CancelAllocation(testutil.DonorContext(s.ctx()), req.ID, "hospital withdrew")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("requires a note", func() {
		_, err := svc.CancelAllocation(testutil.StaffContext(s.ctx()), req.ID, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("releases the reservation and returns to approved", func() {
		cancelled, err := svc.CancelAllocation(testutil.StaffContext(s.ctx()), req.ID, "hospital withdrew")
		s.Require().NoError(err)
		s.Equal(StateApproved, cancelled.State)
		s.Zero(cancelled.ReservedVolumeML)
		s.Equal("hospital withdrew", cancelled.Note)

		reserved, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{ReservedBy: req.ID})
		s.Require().NoError(err)
		s.Empty(reserved)

		trail, err := s.auditStore.ListByEntity(s.ctx(), req.ID.String())
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(audit.ActionAllocationCancelled, trail[0].Action)
	})

	s.Run("only waiting_payment allocations can be cancelled", func() {
		_, err := svc.CancelAllocation(testutil.StaffContext(s.ctx()), req.ID, "again")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ServiceSuite) TestAllocateFulfilledRequestFails() {
	s.seedStock(id.BloodTypeAPos, 300)
	req := s.approvedRequest(300)

	_, err := s.service.Allocate(s.ctx(), req.ID, nil)
	s.Require().NoError(err)

	_, err = s.service.Allocate(s.ctx(), req.ID, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestListRequestsFilter() {
	first := s.createRequest(100)
	_, err := s.service.Decide(s.ctx(), first.ID, DecisionReject)
	s.Require().NoError(err)
	second := s.createRequest(200)

	pending, err := s.service.ListRequests(s.ctx(), Filter{State: StatePending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.ID, pending[0].ID)

	byHospital, err := s.service.ListRequests(s.ctx(), Filter{Hospital: "General Hospital"})
	s.Require().NoError(err)
	s.Len(byHospital, 2)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
