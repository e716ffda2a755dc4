// Package tracking propagates user-declared trackings to Google Tag Manager, GA4 and Google Ads.
//
// The Service owns the request-side lifecycle (create, update, delete, batch sync) and only ever
// enqueues work. The Syncer runs the queued GTM and Ads jobs and is the only writer of remote
// identifiers and per-destination sync state once a tracking exists.
package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the orchestrator needs
type Store interface {
	GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error)
	CreateTracking(ctx context.Context, t *domain.Tracking) error
	GetTracking(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error)
	ListTrackings(ctx context.Context, tenantID, customerID string) ([]*domain.Tracking, error)
	UpdateTrackingDefinition(ctx context.Context, t *domain.Tracking, expected domain.TrackingStatus) error
	DeleteTracking(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error)
	MutateTracking(ctx context.Context, tenantID, trackingID string, fn func(*domain.Tracking) error) (*domain.Tracking, error)
	ListAdsAccounts(ctx context.Context, tenantID, customerID string) ([]*domain.GoogleAdsAccount, error)
	UpsertAdsAccount(ctx context.Context, a *domain.GoogleAdsAccount) error
	GetSyncBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error)
	SetSyncBatchStatus(ctx context.Context, tenantID, batchID, status string) (*db.SyncBatch, error)
}

// JobQueue is the producer side of the sync queues
type JobQueue interface {
	AddGTMSyncJob(ctx context.Context, p jobs.Payload) (*jobs.JobHandle, error)
	AddAdsSyncJob(ctx context.Context, p jobs.Payload) (*jobs.JobHandle, error)
	AddBatch(ctx context.Context, batch *db.SyncBatch, items []jobs.QueuedPayload) ([]*jobs.JobHandle, error)
}

// Service handles tracking requests
type Service struct {
	store     Store
	queue     JobQueue
	publisher realtime.Publisher
}

// NewService creates a Service
func NewService(store Store, queue JobQueue, publisher realtime.Publisher) *Service {
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	return &Service{store: store, queue: queue, publisher: publisher}
}

// Result is a tracking together with the jobs enqueued for it
type Result struct {
	Tracking *domain.Tracking  `json:"tracking"`
	Jobs     []*jobs.JobHandle `json:"jobs"`
}

// connectedCustomer loads the customer and requires a linked Google account
func (s *Service) connectedCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error) {
	customer, err := s.store.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.GoogleConnected() {
		return nil, domain.ErrGoogleNotConnected
	}
	return customer, nil
}

// Create stores a new tracking and queues its GTM sync, plus an Ads sync when Ads is a destination
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.connectedCustomer(ctx, tenantID, in.CustomerID); err != nil {
		return nil, err
	}

	t := in.tracking()
	t.TenantID = tenantID
	t.Status = domain.TrackingPending
	t.GTMSyncState = domain.SyncPending
	t.AdsSyncState = domain.InitialAdsState(t.Destinations)
	t.HealthStatus = domain.HealthUnchecked

	if err := s.store.CreateTracking(ctx, t); err != nil {
		return nil, err
	}

	handles, err := s.enqueue(ctx, t, jobs.ActionCreate)
	if err != nil {
		s.markEnqueueFailed(ctx, t, err)
		return nil, err
	}

	// A fast worker may already have resolved the status; only a still-pending tracking moves to CREATING.
	updated, err := s.store.MutateTracking(ctx, tenantID, t.ID, func(row *domain.Tracking) error {
		if row.Status == domain.TrackingPending {
			row.Status = domain.TrackingCreating
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark tracking as creating: %w", err)
	}

	log.Info().
		Str("tracking_id", t.ID).
		Str("customer_id", t.CustomerID).
		Str("type", string(t.Type)).
		Int("jobs", len(handles)).
		Msg("Tracking created")

	return &Result{Tracking: updated, Jobs: handles}, nil
}

// Update applies a user edit. A re-sync is queued only for an ACTIVE tracking that already has a
// GTM trigger; otherwise the definition is saved as is.
func (s *Service) Update(ctx context.Context, tenantID, trackingID string, in UpdateInput) (*Result, error) {
	t, err := s.store.GetTracking(ctx, tenantID, trackingID)
	if err != nil {
		return nil, err
	}
	if t.Status.InFlight() {
		return nil, domain.ErrSyncInProgress
	}

	previous := t.Status
	changed := in.apply(t)
	if err := validateDefinition(t); err != nil {
		return nil, err
	}

	resync := changed && previous == domain.TrackingActive && t.GTMTriggerID != nil && *t.GTMTriggerID != ""
	if resync {
		t.Status = domain.TrackingSyncing
		t.GTMSyncState = domain.SyncPending
		t.AdsSyncState = domain.InitialAdsState(t.Destinations)
	}

	if err := s.store.UpdateTrackingDefinition(ctx, t, previous); err != nil {
		return nil, err
	}
	if !resync {
		return &Result{Tracking: t}, nil
	}

	handles, err := s.enqueue(ctx, t, jobs.ActionUpdate)
	if err != nil {
		s.markEnqueueFailed(ctx, t, err)
		return nil, err
	}
	return &Result{Tracking: t, Jobs: handles}, nil
}

// Resync queues a fresh sync for a tracking that is not mid-sync, e.g. after a failure
func (s *Service) Resync(ctx context.Context, tenantID, trackingID string) (*Result, error) {
	t, err := s.store.GetTracking(ctx, tenantID, trackingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.connectedCustomer(ctx, tenantID, t.CustomerID); err != nil {
		return nil, err
	}

	action := jobs.ActionUpdate
	t, err = s.store.MutateTracking(ctx, tenantID, trackingID, func(row *domain.Tracking) error {
		if row.Status.InFlight() {
			return domain.ErrSyncInProgress
		}
		action = beginSync(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	handles, err := s.enqueue(ctx, t, action)
	if err != nil {
		s.markEnqueueFailed(ctx, t, err)
		return nil, err
	}
	return &Result{Tracking: t, Jobs: handles}, nil
}

// beginSync moves a tracking into its in-flight state and returns the job action to use
func beginSync(t *domain.Tracking) string {
	action := jobs.ActionCreate
	t.Status = domain.TrackingCreating
	if t.GTMTriggerID != nil && *t.GTMTriggerID != "" {
		action = jobs.ActionUpdate
		t.Status = domain.TrackingSyncing
	}
	t.GTMSyncState = domain.SyncPending
	t.AdsSyncState = domain.InitialAdsState(t.Destinations)
	t.LastError = nil
	return action
}

// Delete removes the tracking immediately and queues best-effort cleanup of whatever exists remotely
func (s *Service) Delete(ctx context.Context, tenantID, trackingID string) ([]*jobs.JobHandle, error) {
	t, err := s.store.DeleteTracking(ctx, tenantID, trackingID)
	if err != nil {
		return nil, err
	}

	workspacePath := ""
	if customer, err := s.store.GetCustomer(ctx, tenantID, t.CustomerID); err == nil {
		workspacePath = customer.WorkspacePath()
	} else {
		log.Warn().Err(err).Str("tracking_id", t.ID).Msg("Failed to load customer for tracking cleanup")
	}

	snapshot := snapshotOf(t, workspacePath)
	payload := jobs.Payload{
		TrackingID: t.ID,
		CustomerID: t.CustomerID,
		TenantID:   tenantID,
		Action:     jobs.ActionDelete,
		Snapshot:   snapshot,
	}

	var handles []*jobs.JobHandle
	if t.HasGTMIdentifiers() {
		if h, err := s.queue.AddGTMSyncJob(ctx, payload); err != nil {
			log.Error().Err(err).Str("tracking_id", t.ID).Msg("Failed to enqueue GTM cleanup")
		} else {
			handles = append(handles, h)
		}
	}
	if t.HasAdsIdentifiers() || t.Destinations.NeedsAds() {
		if h, err := s.queue.AddAdsSyncJob(ctx, payload); err != nil {
			log.Error().Err(err).Str("tracking_id", t.ID).Msg("Failed to enqueue Ads cleanup")
		} else {
			handles = append(handles, h)
		}
	}

	log.Info().Str("tracking_id", t.ID).Int("cleanup_jobs", len(handles)).Msg("Tracking deleted")
	return handles, nil
}

func snapshotOf(t *domain.Tracking, workspacePath string) *jobs.Snapshot {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return &jobs.Snapshot{
		WorkspacePath:         workspacePath,
		GTMTriggerID:          deref(t.GTMTriggerID),
		GTMTagIDGA4:           deref(t.GTMTagIDGA4),
		GTMTagIDAds:           deref(t.GTMTagIDAds),
		AdsConversionActionID: deref(t.AdsConversionActionID),
		GA4EventName:          t.EventName(),
	}
}

// Get returns one tracking
func (s *Service) Get(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	return s.store.GetTracking(ctx, tenantID, trackingID)
}

// List returns a customer's trackings
func (s *Service) List(ctx context.Context, tenantID, customerID string) ([]*domain.Tracking, error) {
	if _, err := s.store.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	return s.store.ListTrackings(ctx, tenantID, customerID)
}

// StatusView is the polling view of a tracking's sync progress
type StatusView struct {
	ID                    string                `json:"id"`
	Status                domain.TrackingStatus `json:"status"`
	GTMSyncState          domain.SyncState      `json:"gtm_sync_state"`
	AdsSyncState          domain.SyncState      `json:"ads_sync_state"`
	GTMTriggerID          *string               `json:"gtm_trigger_id"`
	GTMTagIDGA4           *string               `json:"gtm_tag_id_ga4"`
	GTMTagIDAds           *string               `json:"gtm_tag_id_ads"`
	AdsConversionActionID *string               `json:"conversion_action_id"`
	LastError             *string               `json:"last_error"`
	SyncAttempts          int                   `json:"sync_attempts"`
	HealthStatus          domain.HealthStatus   `json:"health_status"`
}

// Status returns the sync state of a tracking
func (s *Service) Status(ctx context.Context, tenantID, trackingID string) (*StatusView, error) {
	t, err := s.store.GetTracking(ctx, tenantID, trackingID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:                    t.ID,
		Status:                t.Status,
		GTMSyncState:          t.GTMSyncState,
		AdsSyncState:          t.AdsSyncState,
		GTMTriggerID:          t.GTMTriggerID,
		GTMTagIDGA4:           t.GTMTagIDGA4,
		GTMTagIDAds:           t.GTMTagIDAds,
		AdsConversionActionID: t.AdsConversionActionID,
		LastError:             t.LastError,
		SyncAttempts:          t.SyncAttempts,
		HealthStatus:          t.HealthStatus,
	}, nil
}

func syncPayload(t *domain.Tracking, action, batchID string) jobs.Payload {
	return jobs.Payload{
		TrackingID: t.ID,
		CustomerID: t.CustomerID,
		TenantID:   t.TenantID,
		Action:     action,
		BatchID:    batchID,
	}
}

// enqueue queues the GTM job and, when Ads is a destination, the Ads job
func (s *Service) enqueue(ctx context.Context, t *domain.Tracking, action string) ([]*jobs.JobHandle, error) {
	payload := syncPayload(t, action, "")

	gtm, err := s.queue.AddGTMSyncJob(ctx, payload)
	if err != nil {
		return nil, err
	}
	handles := []*jobs.JobHandle{gtm}

	if t.Destinations.NeedsAds() {
		ads, err := s.queue.AddAdsSyncJob(ctx, payload)
		if err != nil {
			return handles, err
		}
		handles = append(handles, ads)
	}
	return handles, nil
}

// markEnqueueFailed records a queueing failure so the tracking is not left looking in flight
func (s *Service) markEnqueueFailed(ctx context.Context, t *domain.Tracking, cause error) {
	msg := fmt.Sprintf("failed to queue sync: %v", cause)
	_, err := s.store.MutateTracking(context.WithoutCancel(ctx), t.TenantID, t.ID, func(row *domain.Tracking) error {
		row.Status = domain.TrackingFailed
		row.LastError = &msg
		if row.GTMSyncState == domain.SyncPending {
			row.GTMSyncState = domain.SyncFailed
		}
		if row.AdsSyncState == domain.SyncPending {
			row.AdsSyncState = domain.SyncFailed
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Str("tracking_id", t.ID).Msg("Failed to record enqueue failure")
	}
}
