package api

import (
	"net/http"
)

// AcceptRecommendation marks a recommendation as wanted
func (h *Handler) AcceptRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	rec, err := h.Recommendations.Accept(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, rec, "Recommendation accepted")
}

// RejectRecommendation dismisses a recommendation
func (h *Handler) RejectRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	rec, err := h.Recommendations.Reject(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, rec, "Recommendation rejected")
}

// BulkRecommendationsRequest names the recommendations a bulk call applies to
type BulkRecommendationsRequest struct {
	IDs []string `json:"ids"`
}

// BulkAcceptRecommendations accepts many recommendations at once
func (h *Handler) BulkAcceptRecommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req BulkRecommendationsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	result, err := h.Recommendations.BulkAccept(r.Context(), id.TenantID, req.IDs)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, result, "")
}

// BulkCreateTrackings turns recommendations into trackings. Per-item failures are reported in
// the body; the call itself succeeds.
func (h *Handler) BulkCreateTrackings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req BulkRecommendationsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	result, err := h.Recommendations.BulkCreateTrackings(r.Context(), id.TenantID, req.IDs)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	logger := loggerWithRequest(r)
	logger.Info().Int("created", result.Created).Int("failed", result.Failed).Msg("Bulk tracking creation finished")
	WriteSuccess(w, r, result, "")
}
