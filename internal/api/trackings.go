package api

import (
	"net/http"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/tracking"
)

// ListTrackings returns a customer's trackings
func (h *Handler) ListTrackings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	trackings, err := h.Trackings.List(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if trackings == nil {
		trackings = []*domain.Tracking{}
	}
	WriteSuccess(w, r, trackings, "")
}

// CreateTracking stores a tracking and queues its sync. 201 means accepted for sync, not synced.
func (h *Handler) CreateTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in tracking.CreateInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	in.CustomerID = r.PathValue("id")

	result, err := h.Trackings.Create(r.Context(), id.TenantID, in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteCreated(w, r, result, "Tracking created and queued for sync")
}

// GetTracking returns one tracking
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	t, err := h.Trackings.Get(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, t, "")
}

// UpdateTracking changes a tracking's definition and queues a re-sync when needed
func (h *Handler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in tracking.UpdateInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	result, err := h.Trackings.Update(r.Context(), id.TenantID, r.PathValue("id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	message := "Tracking unchanged"
	if len(result.Jobs) > 0 {
		message = "Tracking updated and queued for sync"
	}
	WriteSuccess(w, r, result, message)
}

// DeleteTracking removes a tracking; remote cleanup runs in queued jobs
func (h *Handler) DeleteTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	handles, err := h.Trackings.Delete(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]any{"jobs": handles}, "Tracking deleted")
}

// TrackingStatus is the polling endpoint for sync progress
func (h *Handler) TrackingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	status, err := h.Trackings.Status(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, status, "")
}

// ResyncTracking queues a fresh sync of a failed or drifted tracking
func (h *Handler) ResyncTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	result, err := h.Trackings.Resync(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteAccepted(w, r, result, "Tracking queued for sync")
}

// CheckTrackingHealth verifies the tracking's remote objects still exist
func (h *Handler) CheckTrackingHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.Health == nil {
		ServiceUnavailable(w, r, "Health checks are not available")
		return
	}
	t, err := h.Health.CheckHealth(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]any{
		"id":                t.ID,
		"health_status":     t.HealthStatus,
		"health_checked_at": t.HealthCheckedAt,
		"health_details":    t.HealthDetails,
	}, "")
}

// SyncTrackingsRequest selects trackings for a batch; empty means every tracking of the customer
type SyncTrackingsRequest struct {
	TrackingIDs []string `json:"tracking_ids"`
}

// SyncTrackings re-syncs several trackings as one pausable batch
func (h *Handler) SyncTrackings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req SyncTrackingsRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	result, err := h.Trackings.SyncBatch(r.Context(), id.TenantID, r.PathValue("id"), req.TrackingIDs)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteAccepted(w, r, result, "Batch queued for sync")
}

// GetBatch returns a batch's progress counters
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	batch, err := h.Trackings.GetBatch(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, batch, "")
}

// PauseBatch stops workers from claiming the batch's remaining jobs
func (h *Handler) PauseBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	batch, err := h.Trackings.PauseBatch(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, batch, "Batch paused")
}

// ResumeBatch lets workers claim the batch's jobs again
func (h *Handler) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	batch, err := h.Trackings.ResumeBatch(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, batch, "Batch resumed")
}

// GetJob returns the state of a queued sync job
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	status, err := h.Jobs.GetJobStatus(r.Context(), id.TenantID, r.PathValue("queue"), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, status, "")
}
