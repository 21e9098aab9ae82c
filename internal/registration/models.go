// Package registration is the ledger linking donors to donation events.
// A registration is the existence precondition for collecting a blood unit:
// inventory intake may reference only completed registrations.
package registration

import (
	"time"

	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// State is the approval state of a registration.
//
// Machine: pending → {completed, cancelled}; both targets are terminal.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// ParseState validates external state input.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateCompleted, StateCancelled:
		return State(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown registration state %q", s)
}

// IsTerminal reports whether the registration is immutable.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Registration is a donor's claim on an event.
type Registration struct {
	ID        id.RegistrationID `json:"id"`
	DonorID   id.DonorID        `json:"donor_id"`
	EventID   id.EventID        `json:"event_id"`
	State     State             `json:"state"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsActive reports whether the registration still occupies the donor+event
// slot (cancelled registrations free it).
func (r *Registration) IsActive() bool {
	return r.State != StateCancelled
}

// CanTransitionTo guards the state machine.
func (r *Registration) CanTransitionTo(target State) error {
	if target != StateCompleted && target != StateCancelled {
		return dErrors.Newf(dErrors.CodeValidation, "invalid target state %q", target)
	}
	if r.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"registration is %s and immutable", r.State).WithEntity(r.ID.String())
	}
	return nil
}

// Apply transitions the registration. Call CanTransitionTo first.
func (r *Registration) Apply(target State, now time.Time) {
	r.State = target
	r.UpdatedAt = now
}
