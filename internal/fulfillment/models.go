// Package fulfillment handles hospital blood requests: intake, staff
// decision, and allocation against the separated-component ledger.
package fulfillment

import (
	"time"

	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// State is the lifecycle of a hospital request.
//
// Machine: pending → {approved, rejected}; approved → {fulfilled,
// waiting_payment}; waiting_payment → {fulfilled, approved}. rejected and
// fulfilled are terminal. The waiting_payment → approved edge is the
// allocation cancel path: reserved components return to the pool.
type State string

const (
	StatePending        State = "pending"
	StateApproved       State = "approved"
	StateRejected       State = "rejected"
	StateWaitingPayment State = "waiting_payment"
	StateFulfilled      State = "fulfilled"
)

var requestTransitions = map[State][]State{
	StatePending:        {StateApproved, StateRejected},
	StateApproved:       {StateFulfilled, StateWaitingPayment},
	StateWaitingPayment: {StateFulfilled, StateApproved},
}

// ParseState validates external state input.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateApproved, StateRejected, StateWaitingPayment, StateFulfilled:
		return State(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown request state %q", s)
}

// IsTerminal reports whether the request is immutable.
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateFulfilled
}

// Decision is the staff verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TargetState maps the decision onto the state machine.
func (d Decision) TargetState() (State, error) {
	switch d {
	case DecisionApprove:
		return StateApproved, nil
	case DecisionReject:
		return StateRejected, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown decision %q", d)
}

// ParseDecision validates external decision input.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown decision %q", s)
}

// BloodRequest is a hospital's ask for a volume of one component type in
// one blood group. Matching is exact on both axes.
type BloodRequest struct {
	ID            id.RequestID     `json:"id"`
	PatientName   string           `json:"patient_name"`
	Hospital      string           `json:"hospital"`
	BloodType     id.BloodType     `json:"blood_type"`
	ComponentType id.ComponentType `json:"component_type"`
	VolumeML      int              `json:"volume_ml"`
	Urgency       id.Urgency       `json:"urgency"`
	Reason        string           `json:"reason,omitempty"`
	State         State            `json:"state"`
	// ReservedVolumeML is how much of the ask is currently covered by
	// reserved components. Nonzero only in waiting_payment and fulfilled.
	ReservedVolumeML int       `json:"reserved_volume_ml"`
	Note             string    `json:"note,omitempty"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreateRequestInput is the trust-boundary input for request intake.
type CreateRequestInput struct {
	PatientName   string
	Hospital      string
	BloodType     id.BloodType
	ComponentType id.ComponentType
	VolumeML      int
	Urgency       id.Urgency
	Reason        string
}

// NewBloodRequest validates intake input and builds the pending request.
func NewBloodRequest(in CreateRequestInput, now time.Time) (*BloodRequest, error) {
	if in.PatientName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "patient name is required")
	}
	if in.Hospital == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "hospital is required")
	}
	if !in.BloodType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown blood type %q", in.BloodType)
	}
	if !in.ComponentType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown component type %q", in.ComponentType)
	}
	if in.VolumeML <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "requested volume must be positive")
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = id.UrgencyRoutine
	}
	return &BloodRequest{
		ID:            id.NewRequestID(),
		PatientName:   in.PatientName,
		Hospital:      in.Hospital,
		BloodType:     in.BloodType,
		ComponentType: in.ComponentType,
		VolumeML:      in.VolumeML,
		Urgency:       urgency,
		Reason:        in.Reason,
		State:         StatePending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CanTransitionTo guards the state machine.
func (r *BloodRequest) CanTransitionTo(target State) error {
	for _, t := range requestTransitions[r.State] {
		if t == target {
			return nil
		}
	}
	if r.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"request is %s and immutable", r.State).WithEntity(r.ID.String())
	}
	return dErrors.Newf(dErrors.CodeInvalidTransition,
		"request is %s, cannot move to %s", r.State, target).WithEntity(r.ID.String())
}

// Apply transitions the request. Call CanTransitionTo first.
func (r *BloodRequest) Apply(target State, now time.Time) {
	r.State = target
	r.UpdatedAt = now
}

// Filter narrows ListRequests.
type Filter struct {
	State    State
	Hospital string
}
