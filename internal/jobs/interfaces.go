package jobs

import (
	"context"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
)

// Store defines the queue operations the producer and the worker pool need
type Store interface {
	EnqueueSyncJob(ctx context.Context, job *db.SyncJob) error
	CreateSyncBatch(ctx context.Context, batch *db.SyncBatch, jobs []*db.SyncJob) error
	ClaimNextSyncJob(ctx context.Context, queues []string) (*db.SyncJob, error)
	CompleteSyncJob(ctx context.Context, jobID string) error
	RetrySyncJob(ctx context.Context, jobID, lastError string, runAt time.Time) error
	FailSyncJob(ctx context.Context, jobID, lastError string) error
	RecoverStaleSyncJobs(ctx context.Context, staleBefore time.Time) (int64, error)
	GetSyncJob(ctx context.Context, tenantID, queue, jobID string) (*db.SyncJob, error)
	RecordBatchJobResult(ctx context.Context, batchID string, succeeded bool) (*db.SyncBatch, error)
}

// Handler runs one attempt of a job. Returning an error schedules a retry unless the
// error is Permanent or the attempt was the last one.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// FinalFailureHandler is an optional Handler extension. The worker pool calls it once a job
// for a tracking has failed for good, whatever the cause, including panics, undecodable
// payloads and failures the handler could not record itself.
type FinalFailureHandler interface {
	HandleFinalFailure(ctx context.Context, job *Job, cause error)
}
