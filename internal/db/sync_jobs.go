package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sync job statuses
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Sync batch statuses
const (
	BatchRunning   = "RUNNING"
	BatchPaused    = "PAUSED"
	BatchCompleted = "COMPLETED"
)

// ErrSyncJobNotFound is returned when a job id is unknown for the queue
var ErrSyncJobNotFound = fmt.Errorf("sync job %w", domain.ErrNotFound)

// ErrSyncBatchNotFound is returned when a batch does not exist for the tenant
var ErrSyncBatchNotFound = fmt.Errorf("sync batch %w", domain.ErrNotFound)

// SyncJob is a queued GTM or Ads sync
type SyncJob struct {
	ID          string
	Queue       string
	Action      string
	TenantID    string
	CustomerID  string
	TrackingID  *string
	BatchID     *string
	Payload     json.RawMessage
	Status      string
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncBatch groups sync jobs started together so they can be paused and tracked as one
type SyncBatch struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"-"`
	CustomerID    string     `json:"customer_id"`
	Status        string     `json:"status"`
	TotalJobs     int        `json:"total_jobs"`
	CompletedJobs int        `json:"completed_jobs"`
	FailedJobs    int        `json:"failed_jobs"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

const syncJobColumns = `
	id, queue, action, tenant_id, customer_id, tracking_id, batch_id, payload, status,
	attempts, max_attempts, run_at, started_at, completed_at, last_error, created_at, updated_at`

func scanSyncJob(row interface{ Scan(...any) error }) (*SyncJob, error) {
	j := &SyncJob{}
	var trackingID, batchID, lastError sql.NullString
	var startedAt, completedAt sql.NullTime
	var payload []byte

	err := row.Scan(
		&j.ID, &j.Queue, &j.Action, &j.TenantID, &j.CustomerID, &trackingID, &batchID, &payload, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.RunAt, &startedAt, &completedAt, &lastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Payload = payload
	j.TrackingID = stringPtr(trackingID)
	j.BatchID = stringPtr(batchID)
	j.LastError = stringPtr(lastError)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return j, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSyncJob(ctx context.Context, q execQuerier, job *SyncJob) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 5
	}
	return q.QueryRowContext(ctx, `
		INSERT INTO sync_jobs (queue, action, tenant_id, customer_id, tracking_id, batch_id, payload, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, status, run_at, created_at, updated_at
	`,
		job.Queue, job.Action, job.TenantID, job.CustomerID, nullString(job.TrackingID), nullString(job.BatchID),
		[]byte(job.Payload), job.MaxAttempts,
	).Scan(&job.ID, &job.Status, &job.RunAt, &job.CreatedAt, &job.UpdatedAt)
}

// EnqueueSyncJob inserts a pending job; the insert trigger notifies listening workers
func (db *DB) EnqueueSyncJob(ctx context.Context, job *SyncJob) error {
	if err := insertSyncJob(ctx, db.client, job); err != nil {
		log.Error().Err(err).Str("queue", job.Queue).Msg("Failed to enqueue sync job")
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return nil
}

// CreateSyncBatch inserts the batch and all of its jobs in one transaction
func (db *DB) CreateSyncBatch(ctx context.Context, batch *SyncBatch, jobs []*SyncJob) error {
	return db.Execute(ctx, func(tx *sql.Tx) error {
		batch.TotalJobs = len(jobs)
		batch.Status = BatchRunning
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sync_batches (tenant_id, customer_id, status, total_jobs)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at
		`, batch.TenantID, batch.CustomerID, batch.Status, batch.TotalJobs).Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create sync batch: %w", err)
		}

		for _, job := range jobs {
			id := batch.ID
			job.BatchID = &id
			if err := insertSyncJob(ctx, tx, job); err != nil {
				return fmt.Errorf("failed to enqueue batch job: %w", err)
			}
		}
		return nil
	})
}

// ClaimNextSyncJob takes the oldest runnable job from the given queues, skipping rows locked by
// other workers and jobs of paused batches. Returns nil when there is nothing to do.
func (db *DB) ClaimNextSyncJob(ctx context.Context, queues []string) (*SyncJob, error) {
	row := db.client.QueryRowContext(ctx, `
		UPDATE sync_jobs SET status = 'running', attempts = attempts + 1, started_at = NOW()
		WHERE id = (
			SELECT j.id FROM sync_jobs j
			LEFT JOIN sync_batches b ON b.id = j.batch_id
			WHERE j.status = 'pending'
				AND j.run_at <= NOW()
				AND j.queue = ANY($1)
				AND (b.id IS NULL OR b.status <> 'PAUSED')
			ORDER BY j.run_at ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING `+syncJobColumns,
		pq.Array(queues))

	job, err := scanSyncJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim sync job: %w", err)
	}
	return job, nil
}

// CompleteSyncJob marks a job as done
func (db *DB) CompleteSyncJob(ctx context.Context, jobID string) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'completed', completed_at = NOW(), last_error = NULL
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	return nil
}

// RetrySyncJob puts a failed attempt back in the queue to run at runAt
func (db *DB) RetrySyncJob(ctx context.Context, jobID, lastError string, runAt time.Time) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'pending', run_at = $2, last_error = $3, started_at = NULL
		WHERE id = $1
	`, jobID, runAt, lastError)
	if err != nil {
		return fmt.Errorf("failed to reschedule sync job: %w", err)
	}
	return nil
}

// FailSyncJob marks a job as permanently failed
func (db *DB) FailSyncJob(ctx context.Context, jobID, lastError string) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'failed', completed_at = NOW(), last_error = $2
		WHERE id = $1
	`, jobID, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark sync job failed: %w", err)
	}
	return nil
}

// RecoverStaleSyncJobs returns jobs stuck in running since before staleBefore to the queue
func (db *DB) RecoverStaleSyncJobs(ctx context.Context, staleBefore time.Time) (int64, error) {
	result, err := db.client.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'pending', started_at = NULL, run_at = NOW(),
			last_error = COALESCE(last_error, 'recovered after worker timeout')
		WHERE status = 'running' AND started_at < $1
	`, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale sync jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetSyncJob looks up a job by queue and id
func (db *DB) GetSyncJob(ctx context.Context, tenantID, queue, jobID string) (*SyncJob, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1 AND queue = $2 AND tenant_id = $3`,
		jobID, queue, tenantID)

	job, err := scanSyncJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSyncJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return job, nil
}

const syncBatchColumns = `
	id, tenant_id, customer_id, status, total_jobs, completed_jobs, failed_jobs, created_at, updated_at, completed_at`

func scanSyncBatch(row interface{ Scan(...any) error }) (*SyncBatch, error) {
	b := &SyncBatch{}
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.TenantID, &b.CustomerID, &b.Status, &b.TotalJobs, &b.CompletedJobs, &b.FailedJobs,
		&b.CreatedAt, &b.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.CompletedAt = timePtr(completedAt)
	return b, nil
}

// GetSyncBatch returns a batch scoped to the tenant
func (db *DB) GetSyncBatch(ctx context.Context, tenantID, batchID string) (*SyncBatch, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+syncBatchColumns+` FROM sync_batches WHERE id = $1 AND tenant_id = $2`,
		batchID, tenantID)
	b, err := scanSyncBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSyncBatchNotFound
		}
		return nil, fmt.Errorf("failed to get sync batch: %w", err)
	}
	return b, nil
}

// SetSyncBatchStatus moves a batch between RUNNING and PAUSED. Completed batches are left alone.
func (db *DB) SetSyncBatchStatus(ctx context.Context, tenantID, batchID, status string) (*SyncBatch, error) {
	row := db.client.QueryRowContext(ctx, `
		UPDATE sync_batches SET status = $3
		WHERE id = $1 AND tenant_id = $2 AND status <> 'COMPLETED'
		RETURNING `+syncBatchColumns,
		batchID, tenantID, status)
	b, err := scanSyncBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := db.GetSyncBatch(ctx, tenantID, batchID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrBatchFinished
		}
		return nil, fmt.Errorf("failed to update sync batch: %w", err)
	}

	if status == BatchRunning {
		// Wake workers for the jobs that were held back.
		if _, err := db.client.ExecContext(ctx, `SELECT pg_notify('sync_jobs', 'resume')`); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to notify workers of resumed batch")
		}
	}
	return b, nil
}

// RecordBatchJobResult counts a finished job against its batch and completes the batch when all jobs are done
func (db *DB) RecordBatchJobResult(ctx context.Context, batchID string, succeeded bool) (*SyncBatch, error) {
	row := db.client.QueryRowContext(ctx, `
		UPDATE sync_batches SET
			completed_jobs = completed_jobs + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_jobs = failed_jobs + CASE WHEN $2 THEN 0 ELSE 1 END,
			status = CASE WHEN completed_jobs + failed_jobs + 1 >= total_jobs THEN 'COMPLETED' ELSE status END,
			completed_at = CASE WHEN completed_jobs + failed_jobs + 1 >= total_jobs THEN NOW() ELSE completed_at END
		WHERE id = $1
		RETURNING `+syncBatchColumns,
		batchID, succeeded)
	b, err := scanSyncBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSyncBatchNotFound
		}
		return nil, fmt.Errorf("failed to record batch job result: %w", err)
	}
	return b, nil
}
