package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hemobank/internal/audit"
	"hemobank/internal/platform/metrics"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
	"hemobank/pkg/platform/sentinel"
	"hemobank/pkg/requestcontext"
)

var tracer = otel.Tracer("hemobank/eligibility")

// Service validates and records donor medical profiles and drives the
// approval state machine.
type Service struct {
	store     Store
	auditor   *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opTimeout time.Duration

	// completeAfterDonations gates the complete decision: staff may only
	// close a profile once the donor reached this many completed donations.
	completeAfterDonations int
}

// Option configures the Service.
type Option func(*Service)

func WithAuditor(a *audit.Publisher) Option {
	return func(s *Service) { s.auditor = a }
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

func WithCompleteAfterDonations(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.completeAfterDonations = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:                  store,
		logger:                 slog.Default(),
		opTimeout:              5 * time.Second,
		completeAfterDonations: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitProfile validates donor intake input and records a pending profile.
func (s *Service) SubmitProfile(ctx context.Context, in SubmitProfileInput) (*MedicalProfile, error) {
	ctx, span := tracer.Start(ctx, "eligibility.SubmitProfile")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	profile, err := NewMedicalProfile(in, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("profile_id", profile.ID.String()))

	if err := s.store.Create(ctx, profile); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "donor already has a medical profile").
				WithEntity(in.DonorID.String())
		}
		return nil, translateStoreErr(err, profile.ID.String())
	}
	if s.metrics != nil {
		s.metrics.ProfilesSubmitted.Inc()
	}
	return profile, nil
}

// ReviewProfile applies a staff decision to the profile's state machine.
//
// Terminal states (blocked, complete) reject further decisions unless
// override is set, which requires a staff-tier actor and a note, and is
// written to the audit trail fail-closed: if the trail cannot be persisted
// the override does not happen.
func (s *Service) ReviewProfile(ctx context.Context, profileID id.ProfileID, decision Decision, override bool, note string) (*MedicalProfile, error) {
	ctx, span := tracer.Start(ctx, "eligibility.ReviewProfile",
		trace.WithAttributes(
			attribute.String("profile_id", profileID.String()),
			attribute.String("decision", string(decision)),
		))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := decision.TargetState(); err != nil {
		return nil, err
	}
	if override {
		if !requestcontext.ActorRole(ctx).AtLeastStaff() {
			return nil, dErrors.New(dErrors.CodeForbidden, "override requires staff role")
		}
		if note == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "override requires a note")
		}
		if s.auditor != nil {
			err := s.auditor.Emit(ctx, audit.Event{
				Action: audit.ActionProfileOverridden,
				Entity: profileID.String(),
				Note:   note,
			})
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable, override refused")
			}
		}
	}

	now := requestcontext.Now(ctx)
	profile, err := s.store.Execute(ctx, profileID,
		func(p *MedicalProfile) error {
			if override {
				// Override bypasses reachability but not identity: re-entering
				// the current state is still a no-op worth rejecting.
				if target, _ := decision.TargetState(); p.State == target {
					return dErrors.Newf(dErrors.CodeInvalidTransition,
						"profile already in state %s", p.State).WithEntity(p.ID.String())
				}
				return nil
			}
			if err := p.CanReview(decision); err != nil {
				return err
			}
			if decision == DecisionComplete && p.DonationCount < s.completeAfterDonations {
				return dErrors.Newf(dErrors.CodeInvalidTransition,
					"profile needs %d donations before completion, has %d",
					s.completeAfterDonations, p.DonationCount).WithEntity(p.ID.String())
			}
			return nil
		},
		func(p *MedicalProfile) {
			p.ApplyDecision(decision, now)
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, profileID.String())
	}
	return profile, nil
}

// UpdateContact edits a profile's contact fields with the same validation
// intake applies. An empty field leaves the current value in place, so a
// caller can change the email without restating the phone.
func (s *Service) UpdateContact(ctx context.Context, profileID id.ProfileID, email, phone string) (*MedicalProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if email == "" && phone == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one contact (email or phone) is required")
	}
	if email != "" && !emailPattern.MatchString(email) {
		return nil, dErrors.New(dErrors.CodeValidation, "email is malformed")
	}
	if phone != "" && !phonePattern.MatchString(phone) {
		return nil, dErrors.New(dErrors.CodeValidation, "phone is malformed")
	}

	now := requestcontext.Now(ctx)
	profile, err := s.store.Execute(ctx, profileID,
		func(*MedicalProfile) error { return nil },
		func(p *MedicalProfile) {
			if email != "" {
				p.Email = email
			}
			if phone != "" {
				p.Phone = phone
			}
			p.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, profileID.String())
	}
	return profile, nil
}

// RecordDonation increments the donor's donation count. Called by the
// registration ledger when a registration completes.
func (s *Service) RecordDonation(ctx context.Context, donorID id.DonorID) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	profile, err := s.store.FindByDonor(ctx, donorID)
	if err != nil {
		return translateStoreErr(err, donorID.String())
	}
	now := requestcontext.Now(ctx)
	_, err = s.store.Execute(ctx, profile.ID,
		func(*MedicalProfile) error { return nil },
		func(p *MedicalProfile) {
			p.DonationCount++
			p.UpdatedAt = now
		},
	)
	if err != nil {
		return translateStoreErr(err, profile.ID.String())
	}
	return nil
}

// ProfileForDonor returns the donor's profile; the registration ledger uses
// it as the eligibility gate.
func (s *Service) ProfileForDonor(ctx context.Context, donorID id.DonorID) (*MedicalProfile, error) {
	profile, err := s.store.FindByDonor(ctx, donorID)
	if err != nil {
		return nil, translateStoreErr(err, donorID.String())
	}
	return profile, nil
}

func (s *Service) GetProfile(ctx context.Context, profileID id.ProfileID) (*MedicalProfile, error) {
	profile, err := s.store.FindByID(ctx, profileID)
	if err != nil {
		return nil, translateStoreErr(err, profileID.String())
	}
	return profile, nil
}

func (s *Service) ListProfiles(ctx context.Context, filter Filter) ([]*MedicalProfile, error) {
	profiles, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translateStoreErr(err, "")
	}
	return profiles, nil
}

// translateStoreErr maps sentinel and infrastructure errors into the domain
// taxonomy. Domain errors pass through untouched.
func translateStoreErr(err error, entity string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "medical profile not found").WithEntity(entity)
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConflict, "profile was modified concurrently, retry").WithEntity(entity)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "profile conflict").WithEntity(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeTransient, "profile store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "profile store failure")
	}
}
