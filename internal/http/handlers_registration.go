package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hemobank/internal/registration"
	id "hemobank/pkg/domain"
)

type RegistrationService interface {
	Register(ctx context.Context, donorID id.DonorID, eventID id.EventID) (*registration.Registration, error)
	ChangeStatus(ctx context.Context, regID id.RegistrationID, target registration.State) (*registration.Registration, error)
	GetRegistration(ctx context.Context, regID id.RegistrationID) (*registration.Registration, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*registration.Registration, error)
	ListByDonor(ctx context.Context, donorID id.DonorID) ([]*registration.Registration, error)
}

type RegistrationHandler struct {
	svc RegistrationService
}

func NewRegistrationHandler(svc RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

type registerRequest struct {
	DonorID string `json:"donor_id"`
	EventID string `json:"event_id"`
}

func (h *RegistrationHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	donorID, err := id.ParseDonorID(req.DonorID)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := id.ParseEventID(req.EventID)
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.svc.Register(r.Context(), donorID, eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

type changeStatusRequest struct {
	State string `json:"state"`
}

func (h *RegistrationHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(chi.URLParam(r, "registrationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req changeStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := registration.ParseState(req.State)
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.svc.ChangeStatus(r.Context(), regID, state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *RegistrationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	regID, err := id.ParseRegistrationID(chi.URLParam(r, "registrationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := h.svc.GetRegistration(r.Context(), regID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *RegistrationHandler) handleListByEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	regs, err := h.svc.ListByEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func (h *RegistrationHandler) handleListByDonor(w http.ResponseWriter, r *http.Request) {
	donorID, err := id.ParseDonorID(chi.URLParam(r, "donorID"))
	if err != nil {
		writeError(w, err)
		return
	}
	regs, err := h.svc.ListByDonor(r.Context(), donorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}
