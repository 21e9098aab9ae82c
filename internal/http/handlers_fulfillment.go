package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hemobank/internal/fulfillment"
	id "hemobank/pkg/domain"
)

type FulfillmentService interface {
	CreateRequest(ctx context.Context, in fulfillment.CreateRequestInput) (*fulfillment.BloodRequest, error)
	Decide(ctx context.Context, reqID id.RequestID, decision fulfillment.Decision) (*fulfillment.BloodRequest, error)
	Allocate(ctx context.Context, reqID id.RequestID, componentIDs []id.ComponentID) (*fulfillment.BloodRequest, error)
	ConfirmPayment(ctx context.Context, reqID id.RequestID) (*fulfillment.BloodRequest, error)
	CancelAllocation(ctx context.Context, reqID id.RequestID, note string) (*fulfillment.BloodRequest, error)
	GetRequest(ctx context.Context, reqID id.RequestID) (*fulfillment.BloodRequest, error)
	ListRequests(ctx context.Context, filter fulfillment.Filter) ([]*fulfillment.BloodRequest, error)
}

type FulfillmentHandler struct {
	svc FulfillmentService
}

func NewFulfillmentHandler(svc FulfillmentService) *FulfillmentHandler {
	return &FulfillmentHandler{svc: svc}
}

type createRequestRequest struct {
	PatientName   string `json:"patient_name"`
	Hospital      string `json:"hospital"`
	BloodType     string `json:"blood_type"`
	ComponentType string `json:"component_type"`
	VolumeML      int    `json:"volume_ml"`
	Urgency       string `json:"urgency,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (h *FulfillmentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bloodType, err := id.ParseBloodType(req.BloodType)
	if err != nil {
		writeError(w, err)
		return
	}
	compType, err := id.ParseComponentType(req.ComponentType)
	if err != nil {
		writeError(w, err)
		return
	}
	urgency, err := id.ParseUrgency(req.Urgency)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.svc.CreateRequest(r.Context(), fulfillment.CreateRequestInput{
		PatientName:   req.PatientName,
		Hospital:      req.Hospital,
		BloodType:     bloodType,
		ComponentType: compType,
		VolumeML:      req.VolumeML,
		Urgency:       urgency,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type decideRequest struct {
	Decision string `json:"decision"`
}

func (h *FulfillmentHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req decideRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	decision, err := fulfillment.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.svc.Decide(r.Context(), reqID, decision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// allocateRequest names the components to reserve; an empty or absent body
// lets the service pick by soonest expiry.
type allocateRequest struct {
	ComponentIDs []string `json:"component_ids,omitempty"`
}

func (h *FulfillmentHandler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req allocateRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	componentIDs := make([]id.ComponentID, 0, len(req.ComponentIDs))
	for _, raw := range req.ComponentIDs {
		compID, err := id.ParseComponentID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		componentIDs = append(componentIDs, compID)
	}
	updated, err := h.svc.Allocate(r.Context(), reqID, componentIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *FulfillmentHandler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.svc.ConfirmPayment(r.Context(), reqID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type cancelAllocationRequest struct {
	Note string `json:"note"`
}

func (h *FulfillmentHandler) handleCancelAllocation(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req cancelAllocationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.svc.CancelAllocation(r.Context(), reqID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *FulfillmentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	reqID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := h.svc.GetRequest(r.Context(), reqID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *FulfillmentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter fulfillment.Filter
	if state := r.URL.Query().Get("state"); state != "" {
		parsed, err := fulfillment.ParseState(state)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.State = parsed
	}
	filter.Hospital = r.URL.Query().Get("hospital")
	reqs, err := h.svc.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}
