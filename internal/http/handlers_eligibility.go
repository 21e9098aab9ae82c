package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hemobank/internal/eligibility"
	id "hemobank/pkg/domain"
	dErrors "hemobank/pkg/domain-errors"
)

// EligibilityService is the slice of the eligibility service the handler
// consumes.
type EligibilityService interface {
	SubmitProfile(ctx context.Context, in eligibility.SubmitProfileInput) (*eligibility.MedicalProfile, error)
	ReviewProfile(ctx context.Context, profileID id.ProfileID, decision eligibility.Decision, override bool, note string) (*eligibility.MedicalProfile, error)
	UpdateContact(ctx context.Context, profileID id.ProfileID, email, phone string) (*eligibility.MedicalProfile, error)
	GetProfile(ctx context.Context, profileID id.ProfileID) (*eligibility.MedicalProfile, error)
	ListProfiles(ctx context.Context, filter eligibility.Filter) ([]*eligibility.MedicalProfile, error)
}

type EligibilityHandler struct {
	svc EligibilityService
}

func NewEligibilityHandler(svc EligibilityService) *EligibilityHandler {
	return &EligibilityHandler{svc: svc}
}

type submitProfileRequest struct {
	DonorID      string `json:"donor_id"`
	FullName     string `json:"full_name"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	Gender       string `json:"gender,omitempty"`
	NationalID   string `json:"national_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	BloodType    string `json:"blood_type"`
	DiseaseNotes string `json:"disease_notes,omitempty"`
}

func (h *EligibilityHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitProfileRequest
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
	var dob time.Time
	if req.DateOfBirth != "" {
		dob, err = time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeValidation, "date_of_birth must be YYYY-MM-DD"))
			return
		}
	}
	profile, err := h.svc.SubmitProfile(r.Context(), eligibility.SubmitProfileInput{
		DonorID:      donorID,
		FullName:     req.FullName,
		DateOfBirth:  dob,
		Gender:       req.Gender,
		NationalID:   req.NationalID,
		Email:        req.Email,
		Phone:        req.Phone,
		BloodType:    bloodType,
		DiseaseNotes: req.DiseaseNotes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

type reviewProfileRequest struct {
	Decision string `json:"decision"`
	Override bool   `json:"override,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (h *EligibilityHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req reviewProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.svc.ReviewProfile(r.Context(), profileID,
		eligibility.Decision(req.Decision), req.Override, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type updateContactRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (h *EligibilityHandler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateContactRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.svc.UpdateContact(r.Context(), profileID, req.Email, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *EligibilityHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.svc.GetProfile(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *EligibilityHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter eligibility.Filter
	if state := r.URL.Query().Get("state"); state != "" {
		parsed, err := eligibility.ParseProfileState(state)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.State = parsed
	}
	profiles, err := h.svc.ListProfiles(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}
