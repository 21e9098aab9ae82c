package audit

import "time"

// Action names the staff interventions that need a durable trail:
// overriding a terminal eligibility state, retrying an errored unit,
// force-deleting an event with active registrations, and releasing a
// request's reserved components.
type Action string

const (
	ActionProfileOverridden    Action = "profile_overridden"
	ActionUnitRetryAuthorized  Action = "unit_retry_authorized"
	ActionEventForceDeleted    Action = "event_force_deleted"
	ActionAllocationCancelled  Action = "allocation_cancelled"
	ActionSeparationRolledBack Action = "separation_rolled_back"
)

// Event is emitted from domain logic to capture key staff actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	ActorID   string
	Action    Action
	// Entity is the id of the record acted upon, in string form.
	Entity string
	// Note carries the mandatory staff note for overrides and retries.
	Note string
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string
}
