// Package event manages donation events: time-boxed drives at a location
// that donors register against. An event has no stored status; its phase is
// always derived from the clock.
package event

import (
	"strings"
	"time"

	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// Phase is the derived status of an event relative to a point in time.
type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseOngoing  Phase = "ongoing"
	PhaseEnded    Phase = "ended"
)

// DonationEvent is a donation drive. Invariant: StartsAt < EndsAt.
type DonationEvent struct {
	ID          id.EventID `json:"id"`
	Title       string     `json:"title"`
	Location    string     `json:"location"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      time.Time  `json:"ends_at"`
	Description string     `json:"description"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateEventInput is the validated-builder input for a new event.
type CreateEventInput struct {
	Title       string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Description string
}

// NewDonationEvent validates input and constructs an event.
func NewDonationEvent(in CreateEventInput, now time.Time) (*DonationEvent, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "location is required")
	}
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "start and end times are required")
	}
	if !in.StartsAt.Before(in.EndsAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "event must start before it ends")
	}
	return &DonationEvent{
		ID:          id.NewEventID(),
		Title:       title,
		Location:    location,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
		Description: in.Description,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DeriveStatus computes the event's phase at the given instant. Pure
// function, recomputed on every read, never persisted.
func DeriveStatus(e *DonationEvent, now time.Time) Phase {
	switch {
	case now.Before(e.StartsAt):
		return PhaseUpcoming
	case now.Before(e.EndsAt):
		return PhaseOngoing
	default:
		return PhaseEnded
	}
}

// HasEnded reports whether registrations against the event must be
// rejected.
func (e *DonationEvent) HasEnded(now time.Time) bool {
	return DeriveStatus(e, now) == PhaseEnded
}
