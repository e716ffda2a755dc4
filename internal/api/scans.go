package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/scan"
)

// StartScan creates a queued scan for a customer
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in scan.StartInput
	if !decodeJSON(w, r, &in, true) {
		return
	}
	s, err := h.Scans.Start(r.Context(), id.TenantID, r.PathValue("id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteCreated(w, r, s, "Scan created")
}

// GetScan returns a scan with its live discovery
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	h.scanStep(w, r, "", h.Scans.Get)
}

// ProcessScanChunk advances phase 1 or phase 2 by one bounded chunk
func (h *Handler) ProcessScanChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in scan.ChunkInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	result, err := h.Scans.ProcessChunk(r.Context(), id.TenantID, r.PathValue("id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, result, "")
}

// DetectNiche classifies the site once discovery is complete
func (h *Handler) DetectNiche(w http.ResponseWriter, r *http.Request) {
	h.scanStep(w, r, "Niche detected", h.Scans.DetectNiche)
}

// ConfirmNicheRequest optionally overrides the detected niche
type ConfirmNicheRequest struct {
	Niche *domain.Niche `json:"niche"`
}

// ConfirmNiche accepts the detected niche or an override and opens phase 2
func (h *Handler) ConfirmNiche(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req ConfirmNicheRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	s, err := h.Scans.ConfirmNiche(r.Context(), id.TenantID, r.PathValue("id"), req.Niche)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, s, "Niche confirmed")
}

// FinalizeScan computes the readiness summary
func (h *Handler) FinalizeScan(w http.ResponseWriter, r *http.Request) {
	h.scanStep(w, r, "Scan completed", h.Scans.Finalize)
}

// CancelScan stops a running scan
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	h.scanStep(w, r, "Scan cancelled", h.Scans.Cancel)
}

func (h *Handler) scanStep(w http.ResponseWriter, r *http.Request, message string, step func(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	s, err := step(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, s, message)
}

// queryInt reads a non-negative integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.Invalid(name, "must be a non-negative integer")
	}
	return v, nil
}

// ListScanPages pages through crawled pages, most important first
func (h *Handler) ListScanPages(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	pages, err := h.Scans.Pages(r.Context(), id.TenantID, r.PathValue("id"), offset, limit)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, pages, "")
}

// ListRecommendations returns a scan's recommendations filtered by status and severity
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	filter := db.RecommendationFilter{
		Status:   domain.RecommendationStatus(r.URL.Query().Get("status")),
		Severity: domain.Severity(r.URL.Query().Get("severity")),
	}
	recs, err := h.Recommendations.List(r.Context(), id.TenantID, r.PathValue("id"), filter)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*domain.Recommendation{}
	}
	WriteSuccess(w, r, recs, "")
}
