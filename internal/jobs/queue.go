package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/rs/zerolog/log"
)

// Queue enqueues sync jobs and reports their status
type Queue struct {
	store       Store
	maxAttempts int
}

// NewQueue creates a producer; maxAttempts <= 0 uses DefaultMaxRetries
func NewQueue(store Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}
	return &Queue{store: store, maxAttempts: maxAttempts}
}

// QueuedPayload pairs a payload with its destination queue for batch enqueueing
type QueuedPayload struct {
	Queue   string
	Payload Payload
}

func (q *Queue) newJob(queue string, p Payload) (*db.SyncJob, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	job := &db.SyncJob{
		Queue:       queue,
		Action:      p.Action,
		TenantID:    p.TenantID,
		CustomerID:  p.CustomerID,
		Payload:     body,
		MaxAttempts: q.maxAttempts,
	}
	if p.TrackingID != "" {
		id := p.TrackingID
		job.TrackingID = &id
	}
	return job, nil
}

func (q *Queue) add(ctx context.Context, queue string, p Payload) (*JobHandle, error) {
	job, err := q.newJob(queue, p)
	if err != nil {
		return nil, err
	}
	if err := q.store.EnqueueSyncJob(ctx, job); err != nil {
		return nil, err
	}

	log.Debug().
		Str("job_id", job.ID).
		Str("queue", queue).
		Str("action", p.Action).
		Str("tracking_id", p.TrackingID).
		Msg("Enqueued sync job")

	return &JobHandle{ID: job.ID, Queue: queue}, nil
}

// AddGTMSyncJob enqueues a GTM sync
func (q *Queue) AddGTMSyncJob(ctx context.Context, p Payload) (*JobHandle, error) {
	return q.add(ctx, QueueGTMSync, p)
}

// AddAdsSyncJob enqueues a Google Ads sync
func (q *Queue) AddAdsSyncJob(ctx context.Context, p Payload) (*JobHandle, error) {
	return q.add(ctx, QueueAdsSync, p)
}

// AddBatch enqueues every payload under one sync batch, all or nothing
func (q *Queue) AddBatch(ctx context.Context, batch *db.SyncBatch, items []QueuedPayload) ([]*JobHandle, error) {
	rows := make([]*db.SyncJob, 0, len(items))
	for _, item := range items {
		job, err := q.newJob(item.Queue, item.Payload)
		if err != nil {
			return nil, err
		}
		rows = append(rows, job)
	}

	if err := q.store.CreateSyncBatch(ctx, batch, rows); err != nil {
		return nil, err
	}

	handles := make([]*JobHandle, len(rows))
	for i, job := range rows {
		handles[i] = &JobHandle{ID: job.ID, Queue: job.Queue}
	}
	return handles, nil
}

// GetJobStatus returns the pollable state of a job
func (q *Queue) GetJobStatus(ctx context.Context, tenantID, queue, jobID string) (*JobStatus, error) {
	if queue != QueueGTMSync && queue != QueueAdsSync {
		return nil, fmt.Errorf("unknown queue %q: %w", queue, db.ErrSyncJobNotFound)
	}
	row, err := q.store.GetSyncJob(ctx, tenantID, queue, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		ID:          row.ID,
		Queue:       row.Queue,
		Action:      row.Action,
		State:       stateOf(row, time.Now()),
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		LastError:   row.LastError,
		TrackingID:  row.TrackingID,
		BatchID:     row.BatchID,
		RunAt:       row.RunAt,
		CompletedAt: row.CompletedAt,
	}, nil
}
