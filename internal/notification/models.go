// Package notification is the core's side of the messaging collaborator
// boundary. Domain services emit events here; delivery (email/SMS/push) and
// its retries belong to the external dispatcher consuming the topic.
package notification

import (
	"time"

	id "hemobank/pkg/domain"
)

// Kind enumerates the events the core emits.
type Kind string

const (
	KindRegistrationCompleted Kind = "registration_completed"
	KindRequestFulfilled      Kind = "request_fulfilled"
	KindLowStock              Kind = "low_stock"
)

// Event is a single notification. Exactly one of the payload groups is
// populated depending on Kind.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// registration_completed
	RegistrationID id.RegistrationID `json:"registration_id,omitempty"`
	DonorID        id.DonorID        `json:"donor_id,omitempty"`

	// request_fulfilled
	RequestID id.RequestID `json:"request_id,omitempty"`
	Hospital  string       `json:"hospital,omitempty"`

	// low_stock
	BloodType   id.BloodType `json:"blood_type,omitempty"`
	AvailableML int          `json:"available_ml,omitempty"`
}
