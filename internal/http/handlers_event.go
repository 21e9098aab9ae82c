package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hemobank/internal/event"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

type EventService interface {
	CreateEvent(ctx context.Context, in event.CreateEventInput) (*event.DonationEvent, error)
	UpdateEvent(ctx context.Context, eventID id.EventID, in event.CreateEventInput) (*event.DonationEvent, error)
	GetEvent(ctx context.Context, eventID id.EventID) (*event.EventView, error)
	ListEvents(ctx context.Context, phase event.Phase) ([]*event.EventView, error)
	DeleteEvent(ctx context.Context, eventID id.EventID, force bool) error
}

type EventHandler struct {
	svc EventService
}

func NewEventHandler(svc EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

type eventRequest struct {
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Description string    `json:"description,omitempty"`
}

func (h *EventHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := h.svc.CreateEvent(r.Context(), event.CreateEventInput{
		Title:       req.Title,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, err := h.svc.UpdateEvent(r.Context(), eventID, event.CreateEventInput{
		Title:       req.Title,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := h.svc.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var phase event.Phase
	switch p := r.URL.Query().Get("phase"); p {
	case "", string(event.PhaseUpcoming), string(event.PhaseOngoing), string(event.PhaseEnded):
		phase = event.Phase(p)
	default:
		writeError(w, dErrors.Newf(dErrors.CodeValidation, "unknown phase %q", p))
		return
	}
	events, err := h.svc.ListEvents(r.Context(), phase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.svc.DeleteEvent(r.Context(), eventID, force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
