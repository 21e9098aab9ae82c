// Package domain holds the primitive value types shared across the blood
// bank: typed entity IDs and the closed blood-type / component-type /
// urgency / role vocabularies.
//
// IDs are distinct types over uuid.UUID so a RegistrationID can never be
// passed where a UnitID is expected; the compiler enforces the boundary.
// Construct IDs from external input via the Parse* functions, which reject
// empty, malformed, and nil UUIDs. Direct casting bypasses validation and
// is reserved for code that already holds a trusted uuid.
package domain

import (
	"github.com/google/uuid"

	dErrors "hemobank/pkg/domain-errors"
)

type (
	// DonorID identifies a donor identity owned by the external identity
	// collaborator. The core stores it but never resolves it.
	DonorID uuid.UUID

	// ProfileID identifies a donor's medical profile.
	ProfileID uuid.UUID

	// EventID identifies a donation event.
	EventID uuid.UUID

	// RegistrationID identifies a donor's registration against an event.
	RegistrationID uuid.UUID

	// UnitID identifies a collected blood unit.
	UnitID uuid.UUID

	// ComponentID identifies a separated component of a unit.
	ComponentID uuid.UUID

	// RequestID identifies a hospital blood request.
	RequestID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id cannot be the nil UUID")
	}
	return u, nil
}

func ParseDonorID(s string) (DonorID, error) {
	u, err := parseUUID(s)
	return DonorID(u), err
}

func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s)
	return ProfileID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	return EventID(u), err
}

func ParseRegistrationID(s string) (RegistrationID, error) {
	u, err := parseUUID(s)
	return RegistrationID(u), err
}

func ParseUnitID(s string) (UnitID, error) {
	u, err := parseUUID(s)
	return UnitID(u), err
}

func ParseComponentID(s string) (ComponentID, error) {
	u, err := parseUUID(s)
	return ComponentID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s)
	return RequestID(u), err
}

func (id DonorID) String() string        { return uuid.UUID(id).String() }
func (id ProfileID) String() string      { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id RegistrationID) String() string { return uuid.UUID(id).String() }
func (id UnitID) String() string         { return uuid.UUID(id).String() }
func (id ComponentID) String() string    { return uuid.UUID(id).String() }
func (id RequestID) String() string      { return uuid.UUID(id).String() }

func (id DonorID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ProfileID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UnitID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ComponentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders the id as its canonical UUID string; named array
// types do not inherit uuid.UUID's marshalers, so each id declares its own.
func (id DonorID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id ProfileID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id RegistrationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UnitID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id ComponentID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id RequestID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *DonorID) UnmarshalText(b []byte) error {
	v, err := ParseDonorID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *ProfileID) UnmarshalText(b []byte) error {
	v, err := ParseProfileID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	v, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *RegistrationID) UnmarshalText(b []byte) error {
	v, err := ParseRegistrationID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *UnitID) UnmarshalText(b []byte) error {
	v, err := ParseUnitID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *ComponentID) UnmarshalText(b []byte) error {
	v, err := ParseComponentID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *RequestID) UnmarshalText(b []byte) error {
	v, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func NewDonorID() DonorID               { return DonorID(uuid.New()) }
func NewProfileID() ProfileID           { return ProfileID(uuid.New()) }
func NewEventID() EventID               { return EventID(uuid.New()) }
func NewRegistrationID() RegistrationID { return RegistrationID(uuid.New()) }
func NewUnitID() UnitID                 { return UnitID(uuid.New()) }
func NewComponentID() ComponentID       { return ComponentID(uuid.New()) }
func NewRequestID() RequestID           { return RequestID(uuid.New()) }
