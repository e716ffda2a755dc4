// Package api exposes the tracking, scan and recommendation services over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"

	"github.com/oneclicktag/oneclicktag/internal/auth"
	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/scan"
	"github.com/oneclicktag/oneclicktag/internal/tracking"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

const maxBodyBytes = 1 << 20

// Pinger reports database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// CustomerStore persists tenants and their customers
type CustomerStore interface {
	EnsureTenant(ctx context.Context, tenantID, name string) error
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, tenantID string) ([]*domain.Customer, error)
	LinkCustomerGoogle(ctx context.Context, tenantID, customerID, googleAccountID, email, connectionID string) error
}

// TrackingService is the request side of tracking sync
type TrackingService interface {
	Create(ctx context.Context, tenantID string, in tracking.CreateInput) (*tracking.Result, error)
	Update(ctx context.Context, tenantID, trackingID string, in tracking.UpdateInput) (*tracking.Result, error)
	Resync(ctx context.Context, tenantID, trackingID string) (*tracking.Result, error)
	Delete(ctx context.Context, tenantID, trackingID string) ([]*jobs.JobHandle, error)
	Get(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error)
	List(ctx context.Context, tenantID, customerID string) ([]*domain.Tracking, error)
	Status(ctx context.Context, tenantID, trackingID string) (*tracking.StatusView, error)
	SyncBatch(ctx context.Context, tenantID, customerID string, trackingIDs []string) (*tracking.BatchResult, error)
	GetBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error)
	PauseBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error)
	ResumeBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error)
}

// HealthChecker verifies a tracking against Google
type HealthChecker interface {
	CheckHealth(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error)
}

// JobStatusReader looks up queued sync jobs
type JobStatusReader interface {
	GetJobStatus(ctx context.Context, tenantID, queue, jobID string) (*jobs.JobStatus, error)
}

// ScanService drives site scans and stored site logins
type ScanService interface {
	Start(ctx context.Context, tenantID, customerID string, in scan.StartInput) (*domain.SiteScan, error)
	Get(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	Pages(ctx context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error)
	ProcessChunk(ctx context.Context, tenantID, scanID string, in scan.ChunkInput) (*scan.ChunkResult, error)
	DetectNiche(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	ConfirmNiche(ctx context.Context, tenantID, scanID string, override *domain.Niche) (*domain.SiteScan, error)
	Finalize(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	Cancel(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	SaveCredential(ctx context.Context, tenantID, customerID string, in scan.CredentialInput) (*domain.SiteCredential, error)
	ListCredentials(ctx context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error)
	DeleteCredential(ctx context.Context, tenantID, id string) error
}

// RecommendationService handles decisions on scan recommendations
type RecommendationService interface {
	List(ctx context.Context, tenantID, scanID string, filter db.RecommendationFilter) ([]*domain.Recommendation, error)
	Accept(ctx context.Context, tenantID, id string) (*domain.Recommendation, error)
	Reject(ctx context.Context, tenantID, id string) (*domain.Recommendation, error)
	BulkAccept(ctx context.Context, tenantID string, ids []string) (*recommend.BulkAcceptResult, error)
	BulkCreateTrackings(ctx context.Context, tenantID string, ids []string) (*recommend.BulkCreateResult, error)
}

// GoogleConnector runs the OAuth flow for a customer
type GoogleConnector interface {
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, tok *oauth2.Token) (*oauth2api.Userinfo, error)
	SaveConnection(ctx context.Context, tenantID, customerID string, tok *oauth2.Token, info *oauth2api.Userinfo) (*db.GoogleConnection, error)
	ClientsFor(ctx context.Context, customer *domain.Customer) (*google.Clients, error)
}

// GoogleBootstrapper prepares GTM, GA4 and Ads once a customer is connected
type GoogleBootstrapper interface {
	Run(ctx context.Context, clients *google.Clients, customer *domain.Customer) *google.BootstrapReport
}

// EventSubscriber streams realtime events
type EventSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan realtime.Event, func(), error)
}

// Dependencies are the collaborators the handlers call into. Google, Bootstrap and Events
// may be nil; the routes that need them then answer 503.
type Dependencies struct {
	DB              Pinger
	Customers       CustomerStore
	Trackings       TrackingService
	Health          HealthChecker
	Jobs            JobStatusReader
	Scans           ScanService
	Recommendations RecommendationService
	Google          GoogleConnector
	Bootstrap       GoogleBootstrapper
	Events          EventSubscriber
	Auth            auth.TokenValidator
}

// Config holds handler settings
type Config struct {
	StateSecret      string        // signs OAuth state
	AppURL           string        // frontend the OAuth callback redirects to; JSON is returned when empty
	BootstrapTimeout time.Duration // bound on the post-connect Google bootstrap
	SSEHeartbeat     time.Duration
}

// Handler holds dependencies for API handlers
type Handler struct {
	Dependencies
	config Config
	now    func() time.Time
	// background runs fire-and-forget work such as the post-connect bootstrap
	background func(func())
}

// NewHandler creates a new API handler with dependencies
func NewHandler(deps Dependencies, cfg Config) *Handler {
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 2 * time.Minute
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = 25 * time.Second
	}
	return &Handler{
		Dependencies: deps,
		config:       cfg,
		now:          time.Now,
		background:   func(fn func()) { go fn() },
	}
}

// authed wraps a handler with token verification
func (h *Handler) authed(fn http.HandlerFunc) http.Handler {
	return auth.Middleware(h.Auth)(fn)
}

// SetupRoutes configures all API routes with proper middleware
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /health/db", h.DatabaseHealthCheck)

	// Google redirects the browser here without our token; the signed state carries the caller
	mux.HandleFunc("GET /v1/auth/google/callback", h.GoogleCallback)

	mux.Handle("POST /v1/customers", h.authed(h.CreateCustomer))
	mux.Handle("GET /v1/customers", h.authed(h.ListCustomers))
	mux.Handle("GET /v1/customers/{id}", h.authed(h.GetCustomer))
	mux.Handle("POST /v1/customers/{id}/google/connect", h.authed(h.GoogleConnect))
	mux.Handle("GET /v1/customers/{id}/events", h.authed(h.CustomerEvents))

	mux.Handle("GET /v1/customers/{id}/trackings", h.authed(h.ListTrackings))
	mux.Handle("POST /v1/customers/{id}/trackings", h.authed(h.CreateTracking))
	mux.Handle("POST /v1/customers/{id}/trackings/sync", h.authed(h.SyncTrackings))
	mux.Handle("GET /v1/trackings/{id}", h.authed(h.GetTracking))
	mux.Handle("PATCH /v1/trackings/{id}", h.authed(h.UpdateTracking))
	mux.Handle("DELETE /v1/trackings/{id}", h.authed(h.DeleteTracking))
	mux.Handle("GET /v1/trackings/{id}/status", h.authed(h.TrackingStatus))
	mux.Handle("POST /v1/trackings/{id}/resync", h.authed(h.ResyncTracking))
	mux.Handle("POST /v1/trackings/{id}/health-check", h.authed(h.CheckTrackingHealth))

	mux.Handle("GET /v1/batches/{id}", h.authed(h.GetBatch))
	mux.Handle("POST /v1/batches/{id}/pause", h.authed(h.PauseBatch))
	mux.Handle("POST /v1/batches/{id}/resume", h.authed(h.ResumeBatch))
	mux.Handle("GET /v1/jobs/{queue}/{id}", h.authed(h.GetJob))

	mux.Handle("POST /v1/customers/{id}/scans", h.authed(h.StartScan))
	mux.Handle("GET /v1/scans/{id}", h.authed(h.GetScan))
	mux.Handle("POST /v1/scans/{id}/chunk", h.authed(h.ProcessScanChunk))
	mux.Handle("POST /v1/scans/{id}/detect-niche", h.authed(h.DetectNiche))
	mux.Handle("POST /v1/scans/{id}/confirm-niche", h.authed(h.ConfirmNiche))
	mux.Handle("POST /v1/scans/{id}/finalize", h.authed(h.FinalizeScan))
	mux.Handle("POST /v1/scans/{id}/cancel", h.authed(h.CancelScan))
	mux.Handle("GET /v1/scans/{id}/pages", h.authed(h.ListScanPages))
	mux.Handle("GET /v1/scans/{id}/recommendations", h.authed(h.ListRecommendations))

	mux.Handle("POST /v1/recommendations/{id}/accept", h.authed(h.AcceptRecommendation))
	mux.Handle("POST /v1/recommendations/{id}/reject", h.authed(h.RejectRecommendation))
	mux.Handle("POST /v1/recommendations/bulk-accept", h.authed(h.BulkAcceptRecommendations))
	mux.Handle("POST /v1/recommendations/bulk-create", h.authed(h.BulkCreateTrackings))

	mux.Handle("GET /v1/customers/{id}/credentials", h.authed(h.ListCredentials))
	mux.Handle("POST /v1/customers/{id}/credentials", h.authed(h.SaveCredential))
	mux.Handle("DELETE /v1/credentials/{id}", h.authed(h.DeleteCredential))
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteHealthy(w, r, "oneclicktag", Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", fmt.Errorf("database connection not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}
	WriteHealthy(w, r, "postgresql", "")
}

// identity returns the authenticated caller or writes 401
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.GetIdentity(r.Context())
	if !ok {
		Unauthorised(w, r, "User information not found")
	}
	return id, ok
}

// decodeJSON reads a JSON body into v. An empty body is accepted when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorMessage(w, r, "Request body too large", http.StatusRequestEntityTooLarge, ErrCodeBadRequest)
			return false
		}
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected malformed request body")
		BadRequest(w, r, "Invalid JSON request body")
		return false
	}
	return true
}
