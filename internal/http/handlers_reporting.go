package httpapi

import (
	"context"
	"net/http"

	"hemobank/internal/reporting"
)

type ReportingService interface {
	Snapshot(ctx context.Context) (*reporting.Snapshot, error)
}

type ReportingHandler struct {
	svc ReportingService
}

func NewReportingHandler(svc ReportingService) *ReportingHandler {
	return &ReportingHandler{svc: svc}
}

func (h *ReportingHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
