package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hemobank/internal/inventory"
	"hemobank/internal/separation"
	id "hemobank/pkg/domain"
)

type InventoryService interface {
	IntakeUnit(ctx context.Context, in inventory.IntakeUnitInput) (*inventory.BloodUnit, error)
	GetUnit(ctx context.Context, unitID id.UnitID) (*inventory.BloodUnit, error)
	ListUnits(ctx context.Context, filter inventory.UnitFilter) ([]*inventory.BloodUnit, error)
	MarkSeparating(ctx context.Context, unitID id.UnitID) (*inventory.BloodUnit, error)
	RetryErrored(ctx context.Context, unitID id.UnitID, note string) (*inventory.BloodUnit, error)
	ListComponents(ctx context.Context, filter inventory.ComponentFilter) ([]*inventory.SeparatedComponent, error)
	StockLevels(ctx context.Context) ([]inventory.BloodTypeStock, error)
}

type SeparationEngine interface {
	Separate(ctx context.Context, unitID id.UnitID, specs []separation.ComponentSpec) ([]*inventory.SeparatedComponent, error)
}

type InventoryHandler struct {
	svc    InventoryService
	engine SeparationEngine
}

func NewInventoryHandler(svc InventoryService, engine SeparationEngine) *InventoryHandler {
	return &InventoryHandler{svc: svc, engine: engine}
}

type intakeRequest struct {
	DonorID        string    `json:"donor_id"`
	RegistrationID string    `json:"registration_id,omitempty"`
	BloodType      string    `json:"blood_type"`
	VolumeML       int       `json:"volume_ml"`
	CollectedAt    time.Time `json:"collected_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (h *InventoryHandler) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	donorID, err := id.ParseDonorID(req.DonorID)
	if err != nil {
		writeError(w, err)
		return
	}
	bloodType, err := id.ParseBloodType(req.BloodType)
	if err != nil {
		writeError(w, err)
		return
	}
	var regID id.RegistrationID
	if req.RegistrationID != "" {
		regID, err = id.ParseRegistrationID(req.RegistrationID)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	unit, err := h.svc.IntakeUnit(r.Context(), inventory.IntakeUnitInput{
		DonorID:        donorID,
		RegistrationID: regID,
		BloodType:      bloodType,
		VolumeML:       req.VolumeML,
		CollectedAt:    req.CollectedAt,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (h *InventoryHandler) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	unit, err := h.svc.GetUnit(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (h *InventoryHandler) handleListUnits(w http.ResponseWriter, r *http.Request) {
	var filter inventory.UnitFilter
	if status := r.URL.Query().Get("status"); status != "" {
		parsed, err := inventory.ParseSeparationStatus(status)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = parsed
	}
	if bt := r.URL.Query().Get("blood_type"); bt != "" {
		parsed, err := id.ParseBloodType(bt)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.BloodType = parsed
	}
	units, err := h.svc.ListUnits(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (h *InventoryHandler) handleMarkSeparating(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	unit, err := h.svc.MarkSeparating(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

type retryRequest struct {
	Note string `json:"note"`
}

func (h *InventoryHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req retryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	unit, err := h.svc.RetryErrored(r.Context(), unitID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

type separateRequest struct {
	Components []struct {
		Type     string `json:"type"`
		VolumeML int    `json:"volume_ml"`
	} `json:"components"`
}

func (h *InventoryHandler) handleSeparate(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req separateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	specs := make([]separation.ComponentSpec, 0, len(req.Components))
	for _, c := range req.Components {
		ct, err := id.ParseComponentType(c.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		specs = append(specs, separation.ComponentSpec{Type: ct, VolumeML: c.VolumeML})
	}
	comps, err := h.engine.Separate(r.Context(), unitID, specs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comps)
}

func (h *InventoryHandler) handleListComponents(w http.ResponseWriter, r *http.Request) {
	var filter inventory.ComponentFilter
	if bt := r.URL.Query().Get("blood_type"); bt != "" {
		parsed, err := id.ParseBloodType(bt)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.BloodType = parsed
	}
	if ct := r.URL.Query().Get("component_type"); ct != "" {
		parsed, err := id.ParseComponentType(ct)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.ComponentType = parsed
	}
	filter.OnlyAvailable = r.URL.Query().Get("available") == "true"
	comps, err := h.svc.ListComponents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

func (h *InventoryHandler) handleStock(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.StockLevels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
