package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/rs/zerolog/log"
)

// BatchResult reports a batch sync request
type BatchResult struct {
	Batch   *db.SyncBatch     `json:"batch"`
	Jobs    []*jobs.JobHandle `json:"jobs"`
	Skipped []SkippedTracking `json:"skipped"`
}

// SkippedTracking is a tracking left out of a batch
type SkippedTracking struct {
	TrackingID string `json:"tracking_id"`
	Reason     string `json:"reason"`
}

// SyncBatch re-syncs several trackings of one customer as a single pausable batch. Trackings
// that are mid-sync or belong to another customer are skipped and reported.
func (s *Service) SyncBatch(ctx context.Context, tenantID, customerID string, trackingIDs []string) (*BatchResult, error) {
	if len(trackingIDs) == 0 {
		return nil, domain.Invalid("tracking_ids", "at least one tracking is required")
	}
	if _, err := s.connectedCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}

	result := &BatchResult{Skipped: []SkippedTracking{}}
	var started []*domain.Tracking
	var items []jobs.QueuedPayload
	actions := make(map[string]string)
	seen := make(map[string]bool)

	for _, id := range trackingIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		t, err := s.store.MutateTracking(ctx, tenantID, id, func(row *domain.Tracking) error {
			if row.CustomerID != customerID {
				return db.ErrTrackingNotFound
			}
			if row.Status.InFlight() {
				return domain.ErrSyncInProgress
			}
			actions[row.ID] = beginSync(row)
			return nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSyncInProgress) {
				result.Skipped = append(result.Skipped, SkippedTracking{TrackingID: id, Reason: err.Error()})
				continue
			}
			s.failStarted(ctx, started, err)
			return nil, err
		}
		started = append(started, t)
	}

	if len(started) == 0 {
		return nil, domain.Invalid("tracking_ids", "none of the trackings can be synced right now")
	}

	// Batch ids are assigned on insert, so the payload learns its batch from the job row.
	for _, t := range started {
		p := syncPayload(t, actions[t.ID], "")
		items = append(items, jobs.QueuedPayload{Queue: jobs.QueueGTMSync, Payload: p})
		if t.Destinations.NeedsAds() {
			items = append(items, jobs.QueuedPayload{Queue: jobs.QueueAdsSync, Payload: p})
		}
	}

	batch := &db.SyncBatch{TenantID: tenantID, CustomerID: customerID}
	handles, err := s.queue.AddBatch(ctx, batch, items)
	if err != nil {
		s.failStarted(ctx, started, err)
		return nil, err
	}

	result.Batch = batch
	result.Jobs = handles
	log.Info().
		Str("batch_id", batch.ID).
		Str("customer_id", customerID).
		Int("trackings", len(started)).
		Int("jobs", len(handles)).
		Int("skipped", len(result.Skipped)).
		Msg("Sync batch started")
	return result, nil
}

func (s *Service) failStarted(ctx context.Context, started []*domain.Tracking, cause error) {
	for _, t := range started {
		s.markEnqueueFailed(ctx, t, cause)
	}
}

// GetBatch returns a batch's progress counters
func (s *Service) GetBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	return s.store.GetSyncBatch(ctx, tenantID, batchID)
}

// PauseBatch stops workers from claiming the batch's remaining jobs. Jobs already running finish.
func (s *Service) PauseBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	return s.setBatchStatus(ctx, tenantID, batchID, db.BatchPaused, realtime.EventBatchPaused)
}

// ResumeBatch lets workers claim the batch's jobs again
func (s *Service) ResumeBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	return s.setBatchStatus(ctx, tenantID, batchID, db.BatchRunning, realtime.EventBatchResumed)
}

func (s *Service) setBatchStatus(ctx context.Context, tenantID, batchID, status, event string) (*db.SyncBatch, error) {
	batch, err := s.store.SetSyncBatchStatus(ctx, tenantID, batchID, status)
	if err != nil {
		return nil, err
	}
	realtime.PublishQuietly(ctx, s.publisher, realtime.Event{
		Type:       event,
		CustomerID: batch.CustomerID,
		BatchID:    batch.ID,
		Data:       batch,
		Timestamp:  time.Now(),
	})
	return batch, nil
}
