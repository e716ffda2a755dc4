package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/rs/zerolog/log"
)

// SyncerConfig tunes the job handlers
type SyncerConfig struct {
	// AutoPublish creates and publishes a container version after every successful GTM sync
	AutoPublish bool
}

// Syncer runs GTM and Ads sync jobs
type Syncer struct {
	store     Store
	clients   google.ClientProvider
	bootstrap *google.Bootstrapper
	publisher realtime.Publisher
	cfg       SyncerConfig
	now       func() time.Time
}

// NewSyncer creates a Syncer
func NewSyncer(store Store, clients google.ClientProvider, bootstrap *google.Bootstrapper, publisher realtime.Publisher, cfg SyncerConfig) *Syncer {
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	return &Syncer{
		store:     store,
		clients:   clients,
		bootstrap: bootstrap,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handlers returns the job handlers keyed by queue, ready for the worker pool
func (s *Syncer) Handlers() map[string]jobs.Handler {
	return map[string]jobs.Handler{
		jobs.QueueGTMSync: syncHandler{syncer: s, dest: destGTM, handle: s.HandleGTM},
		jobs.QueueAdsSync: syncHandler{syncer: s, dest: destAds, handle: s.HandleAds},
	}
}

// syncHandler runs one queue's jobs and settles the destination it owns when a job dies
type syncHandler struct {
	syncer *Syncer
	dest   destination
	handle func(context.Context, *jobs.Job) error
}

func (h syncHandler) Handle(ctx context.Context, job *jobs.Job) error {
	return h.handle(ctx, job)
}

func (h syncHandler) HandleFinalFailure(ctx context.Context, job *jobs.Job, cause error) {
	h.syncer.settleFailure(ctx, job, h.dest, cause)
}

// destination selects which per-destination sync state a job owns
type destination int

const (
	destGTM destination = iota
	destAds
)

func (d destination) String() string {
	if d == destAds {
		return "ads"
	}
	return "gtm"
}

func (d destination) state(t *domain.Tracking) domain.SyncState {
	if d == destAds {
		return t.AdsSyncState
	}
	return t.GTMSyncState
}

func (d destination) setState(t *domain.Tracking, state domain.SyncState) {
	if d == destAds {
		t.AdsSyncState = state
		return
	}
	t.GTMSyncState = state
}

// syncContext is everything a create/update job needs about its tracking
type syncContext struct {
	job      *jobs.Job
	customer *domain.Customer
	tracking *domain.Tracking
	clients  *google.Clients
	tenant   *domain.Tenant
}

// load resolves the customer, tracking and Google clients for a sync job. Errors that retrying
// cannot fix are returned as permanent.
func (s *Syncer) load(ctx context.Context, job *jobs.Job) (*syncContext, error) {
	p := job.Payload
	customer, err := s.store.GetCustomer(ctx, p.TenantID, p.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	t, err := s.store.GetTracking(ctx, p.TenantID, p.TrackingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	clients, err := s.clients.ClientsFor(ctx, customer)
	if err != nil {
		if errors.Is(err, domain.ErrGoogleNotConnected) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	tenant, _, err := s.bootstrap.EnsureTenant(ctx, clients, p.TenantID)
	if err != nil {
		return nil, err
	}
	return &syncContext{job: job, customer: customer, tracking: t, clients: clients, tenant: tenant}, nil
}

// run executes one sync attempt and records its outcome on the tracking
func (s *Syncer) run(ctx context.Context, job *jobs.Job, dest destination, fn func(*syncContext) error) error {
	logger := log.With().
		Str("job_id", job.ID).
		Str("queue", job.Queue).
		Str("tracking_id", job.Payload.TrackingID).
		Int("attempt", job.Attempt).
		Logger()

	sc, err := s.load(ctx, job)
	if err == nil {
		err = fn(sc)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrNotFound) && jobs.IsPermanent(err) {
		// The tracking or customer is gone; there is nothing left to record the failure on.
		logger.Warn().Err(err).Msg("Sync target no longer exists")
		return err
	}

	final := job.FinalAttempt() || jobs.IsPermanent(err)
	logger.Warn().Err(err).Bool("final", final).Str("destination", dest.String()).Msg("Sync attempt failed")

	if recErr := s.recordFailure(context.WithoutCancel(ctx), job, dest, err, final); recErr != nil {
		logger.Error().Err(recErr).Msg("Failed to record sync failure on tracking")
	}
	return err
}

// recordFailure bumps the attempt counter and, once retries are exhausted, fails the destination
func (s *Syncer) recordFailure(ctx context.Context, job *jobs.Job, dest destination, cause error, final bool) error {
	msg := fmt.Sprintf("%s sync failed: %v", dest, cause)
	_, err := s.store.MutateTracking(ctx, job.Payload.TenantID, job.Payload.TrackingID, func(t *domain.Tracking) error {
		t.SyncAttempts++
		t.LastError = &msg
		if final {
			dest.setState(t, domain.SyncFailed)
			t.Status = domain.ResolveStatus(t.Status, t.GTMSyncState, t.AdsSyncState)
		}
		return nil
	})
	return err
}

// errAlreadySettled aborts a settle whose destination no longer waits on the dead job
var errAlreadySettled = errors.New("destination already settled")

// settleFailure fails dest on a tracking whose job died without recording the outcome, so the
// tracking leaves CREATING or SYNCING. A destination that is no longer pending is left alone.
func (s *Syncer) settleFailure(ctx context.Context, job *jobs.Job, dest destination, cause error) {
	if job.Payload.Action == jobs.ActionDelete {
		return
	}
	logger := log.With().
		Str("job_id", job.ID).
		Str("tracking_id", job.Payload.TrackingID).
		Str("destination", dest.String()).
		Logger()

	msg := fmt.Sprintf("%s sync failed: %v", dest, cause)
	t, err := s.store.MutateTracking(ctx, job.Payload.TenantID, job.Payload.TrackingID, func(row *domain.Tracking) error {
		if !row.Status.InFlight() || dest.state(row) != domain.SyncPending {
			return errAlreadySettled
		}
		dest.setState(row, domain.SyncFailed)
		row.LastError = &msg
		row.Status = domain.ResolveStatus(row.Status, row.GTMSyncState, row.AdsSyncState)
		return nil
	})
	switch {
	case err == nil:
		logger.Warn().Str("status", string(t.Status)).Msg("Settled tracking after dead sync job")
	case errors.Is(err, errAlreadySettled), errors.Is(err, domain.ErrNotFound):
	default:
		logger.Error().Err(err).Msg("Failed to settle tracking after dead sync job")
	}
}

// succeed marks the destination done and derives the overall status from both destinations
func (s *Syncer) succeed(t *domain.Tracking, dest destination) {
	dest.setState(t, domain.SyncSucceeded)
	now := s.now()
	t.LastSyncAt = &now
	t.Status = domain.ResolveStatus(t.Status, t.GTMSyncState, t.AdsSyncState)
	if t.Status == domain.TrackingActive {
		t.LastError = nil
	}
}

// linkAdsTag creates or updates the awct tag once both the GTM trigger and the Ads label exist.
// It runs under the tracking row lock so whichever job finishes second links it exactly once.
func linkAdsTag(ctx context.Context, gtm google.GTM, workspacePath, conversionID string, t *domain.Tracking) error {
	if !t.Destinations.NeedsAds() || workspacePath == "" || conversionID == "" {
		return nil
	}
	if t.GTMTriggerID == nil || *t.GTMTriggerID == "" || t.AdsConversionLabel == nil || *t.AdsConversionLabel == "" {
		return nil
	}

	tag, err := gtm.UpsertTag(ctx, workspacePath, google.AdsConversionTag(t, *t.GTMTriggerID, conversionID, *t.AdsConversionLabel))
	if err != nil {
		return err
	}
	t.GTMTagIDAds = &tag.TagId
	return nil
}

// conversionID returns the AW- conversion id of the customer's primary Ads account, if known
func (s *Syncer) conversionID(ctx context.Context, customer *domain.Customer) string {
	accounts, err := s.store.ListAdsAccounts(ctx, customer.TenantID, customer.ID)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", customer.ID).Msg("Failed to load Ads accounts")
		return ""
	}
	id := ""
	for _, a := range accounts {
		if a.ConversionTrackingID == nil {
			continue
		}
		if a.IsPrimary {
			return *a.ConversionTrackingID
		}
		if id == "" {
			id = *a.ConversionTrackingID
		}
	}
	return id
}
