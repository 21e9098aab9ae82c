package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hemobank/internal/audit"
	auditstore "hemobank/internal/audit/store"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	store      *InMemoryStore
	auditStore *auditstore.InMemoryStore
	service    *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.auditStore = auditstore.NewInMemoryStore()
	s.service = NewService(s.store,
		WithAuditor(audit.NewPublisher(s.auditStore)),
		WithCompleteAfterDonations(3),
	)
}

func validInput() SubmitProfileInput {
	return SubmitProfileInput{
		DonorID:     id.NewDonorID(),
		FullName:    "Mai Tran",
		DateOfBirth: time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC),
		BloodType:   id.BloodTypeOPos,
		Email:       "mai@example.com",
		Phone:       "+84 912 345 678",
	}
}

func (s *ServiceSuite) TestSubmitProfileValidation() {
	ctx := context.Background()

	s.Run("valid input creates a pending profile", func() {
		profile, err := s.service.SubmitProfile(ctx, validInput())
		s.Require().NoError(err)
		s.Equal(ProfileStatePending, profile.State)
		s.Equal(1, profile.Version)
		s.Equal(0, profile.DonationCount)
	})

	s.Run("missing contact is rejected", func() {
		in := validInput()
		in.Email = ""
		in.Phone = ""
		_, err := s.service.SubmitProfile(ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("malformed email is rejected", func() {
		in := validInput()
		in.Email = "not-an-email"
		_, err := s.service.SubmitProfile(ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("future date of birth is rejected", func() {
		in := validInput()
		in.DateOfBirth = time.Now().Add(24 * time.Hour)
		_, err := s.service.SubmitProfile(ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("second profile for the same donor conflicts", func() {
		in := validInput()
		_, err := s.service.SubmitProfile(ctx, in)
		s.Require().NoError(err)

		_, err = s.service.SubmitProfile(ctx, in)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestReviewTransitions() {
	ctx := context.Background()

	s.Run("pending can be approved", func() {
		profile := s.mustSubmit(ctx)
		reviewed, err := s.service.ReviewProfile(ctx, profile.ID, DecisionApprove, false, "")
		s.Require().NoError(err)
		s.Equal(ProfileStateAvailable, reviewed.State)
		s.Equal(2, reviewed.Version)
	})

	s.Run("pending can be blocked", func() {
		profile := s.mustSubmit(ctx)
		reviewed, err := s.service.ReviewProfile(ctx, profile.ID, DecisionBlock, false, "")
		s.Require().NoError(err)
		s.True(reviewed.IsBlocked())
	})

	s.Run("blocked rejects further decisions without override", func() {
		profile := s.mustSubmit(ctx)
		_, err := s.service.ReviewProfile(ctx, profile.ID, DecisionBlock, false, "")
		s.Require().NoError(err)

		_, err = s.service.ReviewProfile(ctx, profile.ID, DecisionApprove, false, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("complete requires the donation threshold", func() {
		profile := s.mustSubmit(ctx)
		_, err := s.service.ReviewProfile(ctx, profile.ID, DecisionApprove, false, "")
		s.Require().NoError(err)

		_, err = s.service.ReviewProfile(ctx, profile.ID, DecisionComplete, false, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		for i := 0; i < 3; i++ {
			s.Require().NoError(s.service.RecordDonation(ctx, profile.DonorID))
		}
		reviewed, err := s.service.ReviewProfile(ctx, profile.ID, DecisionComplete, false, "")
		s.Require().NoError(err)
		s.Equal(ProfileStateComplete, reviewed.State)
	})

	s.Run("unknown decision is rejected", func() {
		profile := s.mustSubmit(ctx)
		_, err := s.service.ReviewProfile(ctx, profile.ID, Decision("purge"), false, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestOverride() {
	ctx := context.Background()

	blocked := func() *MedicalProfile {
		profile := s.mustSubmit(ctx)
		_, err := s.service.ReviewProfile(ctx, profile.ID, DecisionBlock, false, "")
		s.Require().NoError(err)
		return profile
	}

	s.Run("requires staff role", func() {
		profile := blocked()
		_, err := s.service.ReviewProfile(testutil.DonorContext(ctx), profile.ID, DecisionApprove, true, "cleared by physician")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("requires a note", func() {
		profile := blocked()
		_, err := s.service.ReviewProfile(testutil.StaffContext(ctx), profile.ID, DecisionApprove, true, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("staff override unblocks and leaves a trail", func() {
		profile := blocked()
		reviewed, err := s.service.ReviewProfile(testutil.StaffContext(ctx), profile.ID, DecisionApprove, true, "cleared by physician")
		s.Require().NoError(err)
		s.Equal(ProfileStateAvailable, reviewed.State)

		trail, err := s.auditStore.ListByEntity(ctx, profile.ID.String())
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(audit.ActionProfileOverridden, trail[0].Action)
		s.Equal("cleared by physician", trail[0].Note)
	})

	s.Run("override into the current state is a no-op rejection", func() {
		profile := blocked()
		_, err := s.service.ReviewProfile(testutil.StaffContext(ctx), profile.ID, DecisionBlock, true, "double block")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("override is refused when the trail cannot be written", func() {
		profile := blocked()
		failing := NewService(s.store, WithAuditor(audit.NewPublisher(failingAuditStore{})))

		_, err := failing.ReviewProfile(testutil.StaffContext(ctx), profile.ID, DecisionApprove, true, "cleared")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		// The profile must not have moved.
		current, err := s.service.GetProfile(ctx, profile.ID)
		s.Require().NoError(err)
		s.True(current.IsBlocked())
	})
}

func (s *ServiceSuite) TestRecordDonation() {
	ctx := context.Background()
	profile := s.mustSubmit(ctx)

	s.Require().NoError(s.service.RecordDonation(ctx, profile.DonorID))
	s.Require().NoError(s.service.RecordDonation(ctx, profile.DonorID))

	current, err := s.service.ProfileForDonor(ctx, profile.DonorID)
	s.Require().NoError(err)
	s.Equal(2, current.DonationCount)

	err = s.service.RecordDonation(ctx, id.NewDonorID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUpdateContact() {
	ctx := context.Background()
	profile := s.mustSubmit(ctx)

	// Updating one field leaves the other untouched.
	updated, err := s.service.UpdateContact(ctx, profile.ID, "new@example.com", "")
	s.Require().NoError(err)
	s.Equal("new@example.com", updated.Email)
	s.Equal(profile.Phone, updated.Phone)

	updated, err = s.service.UpdateContact(ctx, profile.ID, "", "+84 987 654 321")
	s.Require().NoError(err)
	s.Equal("+84 987 654 321", updated.Phone)
	s.Equal("new@example.com", updated.Email)

	_, err = s.service.UpdateContact(ctx, profile.ID, "", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.UpdateContact(ctx, profile.ID, "bad", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestListProfilesByState() {
	ctx := context.Background()
	first := s.mustSubmit(ctx)
	second := s.mustSubmit(ctx)
	_, err := s.service.ReviewProfile(ctx, second.ID, DecisionBlock, false, "")
	s.Require().NoError(err)

	pending, err := s.service.ListProfiles(ctx, Filter{State: ProfileStatePending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(first.ID, pending[0].ID)

	all, err := s.service.ListProfiles(ctx, Filter{})
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *ServiceSuite) mustSubmit(ctx context.Context) *MedicalProfile {
	profile, err := s.service.SubmitProfile(ctx, validInput())
	s.Require().NoError(err)
	return profile
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, audit.Event) error {
	return errors.New("trail store down")
}

func (failingAuditStore) ListByEntity(context.Context, string) ([]audit.Event, error) {
	return nil, errors.New("trail store down")
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
