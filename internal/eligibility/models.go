// Package eligibility owns the donor medical profile and its approval state
// machine. A profile gates everything downstream: the registration ledger
// refuses donors whose profile is blocked.
package eligibility

import (
	"regexp"
	"strings"
	"time"

	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// ProfileState is the approval state of a medical profile.
//
// Machine: pending → {available, blocked}; available → complete.
// blocked and complete are terminal and only re-enterable through an
// explicit staff override, which is audited.
type ProfileState string

const (
	ProfileStatePending   ProfileState = "pending"
	ProfileStateAvailable ProfileState = "available"
	ProfileStateBlocked   ProfileState = "blocked"
	ProfileStateComplete  ProfileState = "complete"
)

var profileTransitions = map[ProfileState][]ProfileState{
	ProfileStatePending:   {ProfileStateAvailable, ProfileStateBlocked},
	ProfileStateAvailable: {ProfileStateComplete},
}

// CanTransitionTo reports whether the ordinary (non-override) machine
// permits moving to target.
func (s ProfileState) CanTransitionTo(target ProfileState) bool {
	if s == target {
		return false
	}
	for _, t := range profileTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state is closed to ordinary transitions.
func (s ProfileState) IsTerminal() bool {
	return s == ProfileStateBlocked || s == ProfileStateComplete
}

// ParseProfileState validates external state input (list filters).
func ParseProfileState(s string) (ProfileState, error) {
	switch ProfileState(s) {
	case ProfileStatePending, ProfileStateAvailable, ProfileStateBlocked, ProfileStateComplete:
		return ProfileState(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown profile state %q", s)
}

// Decision is a staff review outcome.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionBlock    Decision = "block"
	DecisionComplete Decision = "complete"
)

// TargetState maps a decision onto the state it requests.
func (d Decision) TargetState() (ProfileState, error) {
	switch d {
	case DecisionApprove:
		return ProfileStateAvailable, nil
	case DecisionBlock:
		return ProfileStateBlocked, nil
	case DecisionComplete:
		return ProfileStateComplete, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown decision %q", d)
}

// MedicalProfile is the aggregate for one donor's medical eligibility.
// Profiles are never hard-deleted; eligibility changes are state changes.
type MedicalProfile struct {
	ID            id.ProfileID `json:"id"`
	DonorID       id.DonorID   `json:"donor_id"`
	FullName      string       `json:"full_name"`
	DateOfBirth   time.Time    `json:"date_of_birth"`
	Gender        string       `json:"gender"`
	NationalID    string       `json:"national_id"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone"`
	BloodType     id.BloodType `json:"blood_type"`
	DonationCount int          `json:"donation_count"`
	DiseaseNotes  string       `json:"disease_notes"`
	State         ProfileState `json:"state"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,19}$`)
)

// SubmitProfileInput is the validated-builder input for donor intake. All
// fields arrive as captured by the intake form; NewMedicalProfile rejects
// the whole input before anything reaches persistence.
type SubmitProfileInput struct {
	DonorID      id.DonorID
	FullName     string
	DateOfBirth  time.Time
	Gender       string
	NationalID   string
	Email        string
	Phone        string
	BloodType    id.BloodType
	DiseaseNotes string
}

// NewMedicalProfile validates intake input and constructs a pending
// profile.
func NewMedicalProfile(in SubmitProfileInput, now time.Time) (*MedicalProfile, error) {
	if in.DonorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "donor id is required")
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "full name is required")
	}
	if !in.BloodType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "blood type is required")
	}
	if in.Email == "" && in.Phone == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one contact (email or phone) is required")
	}
	if in.Email != "" && !emailPattern.MatchString(in.Email) {
		return nil, dErrors.New(dErrors.CodeValidation, "email is malformed")
	}
	if in.Phone != "" && !phonePattern.MatchString(in.Phone) {
		return nil, dErrors.New(dErrors.CodeValidation, "phone is malformed")
	}
	if !in.DateOfBirth.IsZero() && !in.DateOfBirth.Before(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "date of birth must be in the past")
	}
	return &MedicalProfile{
		ID:           id.NewProfileID(),
		DonorID:      in.DonorID,
		FullName:     name,
		DateOfBirth:  in.DateOfBirth,
		Gender:       strings.TrimSpace(in.Gender),
		NationalID:   strings.TrimSpace(in.NationalID),
		Email:        in.Email,
		Phone:        in.Phone,
		BloodType:    in.BloodType,
		DiseaseNotes: in.DiseaseNotes,
		State:        ProfileStatePending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// CanReview checks whether the decision is reachable from the current
// state through the ordinary machine.
func (p *MedicalProfile) CanReview(decision Decision) error {
	target, err := decision.TargetState()
	if err != nil {
		return err
	}
	if !p.State.CanTransitionTo(target) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"decision %s not reachable from state %s", decision, p.State).
			WithEntity(p.ID.String())
	}
	return nil
}

// ApplyDecision transitions the profile. Call CanReview first unless the
// caller holds an audited staff override.
func (p *MedicalProfile) ApplyDecision(decision Decision, now time.Time) {
	target, _ := decision.TargetState()
	p.State = target
	p.UpdatedAt = now
}

// IsBlocked reports whether the donor may not register for events.
func (p *MedicalProfile) IsBlocked() bool {
	return p.State == ProfileStateBlocked
}
