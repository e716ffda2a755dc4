package api

import (
	"net/http"

	"github.com/oneclicktag/oneclicktag/internal/scan"
)

// ListCredentials returns a customer's stored site logins; passwords are never returned
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	creds, err := h.Scans.ListCredentials(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, creds, "")
}

// SaveCredential stores a site login used to crawl behind a login wall
func (h *Handler) SaveCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in scan.CredentialInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	cred, err := h.Scans.SaveCredential(r.Context(), id.TenantID, r.PathValue("id"), in)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteCreated(w, r, cred, "Credential saved")
}

// DeleteCredential removes a stored site login
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.Scans.DeleteCredential(r.Context(), id.TenantID, r.PathValue("id")); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteNoContent(w, r)
}
