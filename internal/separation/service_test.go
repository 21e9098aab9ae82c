package separation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hemobank/internal/audit"
	auditstore "hemobank/internal/audit/store"
	"hemobank/internal/inventory"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/testutil"
)

// faultyComponentStore injects a failure into CompleteSeparation.
type faultyComponentStore struct {
	inventory.ComponentStore
	completeErr error
}

func (f *faultyComponentStore) CompleteSeparation(ctx context.Context, unitID id.UnitID,
	validate func(*inventory.BloodUnit) error,
	components []*inventory.SeparatedComponent, now time.Time) (*inventory.BloodUnit, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return f.ComponentStore.CompleteSeparation(ctx, unitID, validate, components, now)
}

type EngineSuite struct {
	suite.Suite
	units      *inventory.InMemoryUnitStore
	components *faultyComponentStore
	invSvc     *inventory.Service
	auditStore *auditstore.InMemoryStore
	engine     *Engine
	now        time.Time
}

func (s *EngineSuite) SetupTest() {
	units, components := inventory.NewInMemoryStores()
	s.units = units
	s.components = &faultyComponentStore{ComponentStore: components}
	s.auditStore = auditstore.NewInMemoryStore()
	s.now = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	auditor := audit.NewPublisher(s.auditStore)
	s.invSvc = inventory.NewService(units, s.components,
		inventory.WithAuditor(auditor),
		inventory.WithIntakePolicy(inventory.IntakePolicy{MinVolumeML: 50, MaxVolumeML: 1000}),
	)
	s.engine = NewEngine(s.invSvc, s.components, WithAuditor(auditor))
}

func (s *EngineSuite) ctx() context.Context {
	return testutil.At(context.Background(), s.now)
}

func (s *EngineSuite) intake(volumeML int) *inventory.BloodUnit {
	unit, err := s.invSvc.IntakeUnit(s.ctx(), inventory.IntakeUnitInput{
		DonorID:     id.NewDonorID(),
		BloodType:   id.BloodTypeOPos,
		VolumeML:    volumeML,
		CollectedAt: s.now,
		ExpiresAt:   s.now.Add(35 * 24 * time.Hour),
	})
	s.Require().NoError(err)
	return unit
}

// claimed intakes a unit and claims it for separation, the sequence every
// caller follows before Separate.
func (s *EngineSuite) claimed(volumeML int) *inventory.BloodUnit {
	unit := s.intake(volumeML)
	claimed, err := s.invSvc.MarkSeparating(s.ctx(), unit.ID)
	s.Require().NoError(err)
	return claimed
}

func (s *EngineSuite) TestSpecValidation() {
	unit := s.intake(450)

	cases := []struct {
		name  string
		specs []ComponentSpec
	}{
		{"no components", nil},
		{"unknown type", []ComponentSpec{{Type: "cryoprecipitate", VolumeML: 100}}},
		{"duplicate type", []ComponentSpec{
			{Type: id.ComponentPlasma, VolumeML: 100},
			{Type: id.ComponentPlasma, VolumeML: 100},
		}},
		{"non-positive volume", []ComponentSpec{{Type: id.ComponentPlasma, VolumeML: 0}}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.engine.Separate(s.ctx(), unit.ID, tc.specs)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	// Validation failures happen before the status check; the unit is
	// untouched.
	current, err := s.invSvc.GetUnit(s.ctx(), unit.ID)
	s.Require().NoError(err)
	s.Equal(inventory.SeparationUnprocessed, current.Status)
}

func (s *EngineSuite) TestSeparateRequiresClaim() {
	unit := s.intake(450)
	specs := []ComponentSpec{{Type: id.ComponentRedCell, VolumeML: 250}}

	// An unclaimed unit is refused without touching it.
	_, err := s.engine.Separate(s.ctx(), unit.ID, specs)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	current, err := s.invSvc.GetUnit(s.ctx(), unit.ID)
	s.Require().NoError(err)
	s.Equal(inventory.SeparationUnprocessed, current.Status)

	// The documented sequence succeeds: mark-separating, then separate.
	_, err = s.invSvc.MarkSeparating(s.ctx(), unit.ID)
	s.Require().NoError(err)
	comps, err := s.engine.Separate(s.ctx(), unit.ID, specs)
	s.Require().NoError(err)
	s.Len(comps, 1)
}

func (s *EngineSuite) TestSeparateSuccess() {
	unit := s.claimed(450)

	comps, err := s.engine.Separate(s.ctx(), unit.ID, []ComponentSpec{
		{Type: id.ComponentRedCell, VolumeML: 250},
		{Type: id.ComponentPlasma, VolumeML: 150},
		{Type: id.ComponentPlatelet, VolumeML: 50},
	})
	s.Require().NoError(err)
	s.Require().Len(comps, 3)

	current, err := s.invSvc.GetUnit(s.ctx(), unit.ID)
	s.Require().NoError(err)
	s.Equal(inventory.SeparationProcessed, current.Status)

	for _, c := range comps {
		s.Equal(unit.ID, c.UnitID)
		s.Equal(unit.BloodType, c.BloodType)
		s.True(c.Available)
	}

	// Default shelf lives apply per component type.
	byType := map[id.ComponentType]*inventory.SeparatedComponent{}
	for _, c := range comps {
		byType[c.ComponentType] = c
	}
	s.Equal(s.now.Add(42*24*time.Hour), byType[id.ComponentRedCell].ExpiresAt)
	s.Equal(s.now.Add(365*24*time.Hour), byType[id.ComponentPlasma].ExpiresAt)
	s.Equal(s.now.Add(5*24*time.Hour), byType[id.ComponentPlatelet].ExpiresAt)

	listed, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{UnitID: unit.ID})
	s.Require().NoError(err)
	s.Len(listed, 3)
}

func (s *EngineSuite) TestSeparateTwiceFails() {
	unit := s.claimed(450)
	specs := []ComponentSpec{{Type: id.ComponentWholeBlood, VolumeML: 450}}

	_, err := s.engine.Separate(s.ctx(), unit.ID, specs)
	s.Require().NoError(err)

	// The unit is processed now, so a second run fails the claim check.
	_, err = s.engine.Separate(s.ctx(), unit.ID, specs)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// No extra components appeared.
	listed, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{UnitID: unit.ID})
	s.Require().NoError(err)
	s.Len(listed, 1)
}

func (s *EngineSuite) TestOverAskRollsBack() {
	unit := s.claimed(450)

	_, err := s.engine.Separate(s.ctx(), unit.ID, []ComponentSpec{
		{Type: id.ComponentRedCell, VolumeML: 300},
		{Type: id.ComponentPlasma, VolumeML: 300},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	current, err := s.invSvc.GetUnit(s.ctx(), unit.ID)
	s.Require().NoError(err)
	s.Equal(inventory.SeparationError, current.Status)
	s.NotEmpty(current.StatusReason)

	trail, err := s.auditStore.ListByEntity(s.ctx(), unit.ID.String())
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal(audit.ActionSeparationRolledBack, trail[0].Action)

	listed, err := s.invSvc.ListComponents(s.ctx(), inventory.ComponentFilter{UnitID: unit.ID})
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *EngineSuite) TestStoreFailureRollsBack() {
	unit := s.claimed(450)
	s.components.completeErr = sentinel.ErrUnavailable

	_, err := s.engine.Separate(s.ctx(), unit.ID, []ComponentSpec{
		{Type: id.ComponentWholeBlood, VolumeML: 450},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTransient))

	current, err := s.invSvc.GetUnit(s.ctx(), unit.ID)
	s.Require().NoError(err)
	s.Equal(inventory.SeparationError, current.Status)
}

func (s *EngineSuite) TestRetryAfterFailureSucceeds() {
	unit := s.claimed(450)
	s.components.completeErr = sentinel.ErrUnavailable

	_, err := s.engine.Separate(s.ctx(), unit.ID, []ComponentSpec{
		{Type: id.ComponentWholeBlood, VolumeML: 450},
	})
	s.Require().Error(err)

	_, err = s.invSvc.RetryErrored(testutil.StaffContext(s.ctx()), unit.ID, "transient store outage")
	s.Require().NoError(err)

	s.components.completeErr = nil
	_, err = s.invSvc.MarkSeparating(s.ctx(), unit.ID)
	s.Require().NoError(err)
	comps, err := s.engine.Separate(s.ctx(), unit.ID, []ComponentSpec{
		{Type: id.ComponentWholeBlood, VolumeML: 450},
	})
	s.Require().NoError(err)
	s.Len(comps, 1)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
