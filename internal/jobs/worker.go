package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/notifications"
	"github.com/oneclicktag/oneclicktag/internal/observability"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the PostgreSQL channel the sync_jobs insert trigger notifies
const NotifyChannel = "sync_jobs"

// WorkerPoolConfig tunes the pool; zero values fall back to defaults
type WorkerPoolConfig struct {
	NumWorkers       int
	ListenConnString string
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// WorkerPool runs sync jobs from the Postgres queue
type WorkerPool struct {
	store            Store
	handlers         map[string]Handler
	queues           []string
	numWorkers       int
	publisher        realtime.Publisher
	alerter          notifications.Alerter
	listenConnString string
	pollInterval     time.Duration
	recoveryInterval time.Duration
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	stopCh           chan struct{}
	notifyCh         chan struct{}
	wg               sync.WaitGroup
	stopping         atomic.Bool
	cancel           context.CancelFunc
	now              func() time.Time
}

// NewWorkerPool creates a pool that serves one queue per handler
func NewWorkerPool(store Store, handlers map[string]Handler, cfg WorkerPoolConfig, publisher realtime.Publisher, alerter notifications.Alerter) *WorkerPool {
	if store == nil {
		panic("job store is required")
	}
	if len(handlers) == 0 {
		panic("at least one job handler is required")
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = time.Minute
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Minute
	}
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	if alerter == nil {
		alerter = notifications.NoopAlerter{}
	}

	queues := make([]string, 0, len(handlers))
	for queue := range handlers {
		queues = append(queues, queue)
	}

	return &WorkerPool{
		store:            store,
		handlers:         handlers,
		queues:           queues,
		numWorkers:       cfg.NumWorkers,
		publisher:        publisher,
		alerter:          alerter,
		listenConnString: cfg.ListenConnString,
		pollInterval:     cfg.PollInterval,
		recoveryInterval: cfg.RecoveryInterval,
		retryBaseDelay:   cfg.RetryBaseDelay,
		retryMaxDelay:    cfg.RetryMaxDelay,
		stopCh:           make(chan struct{}),
		notifyCh:         make(chan struct{}, 1), // Buffer of 1 to prevent blocking
		now:              time.Now,
	}
}

// Start launches the workers, the stale-job recovery monitor and the notification listener
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)

	log.Info().Int("workers", wp.numWorkers).Strs("queues", wp.queues).Msg("Starting sync worker pool")

	if err := wp.recoverStaleJobs(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to perform initial stale job recovery")
	}

	wp.wg.Add(wp.numWorkers)
	for i := 0; i < wp.numWorkers; i++ {
		go wp.worker(ctx, i)
	}

	wp.wg.Add(1)
	go wp.recoveryMonitor(ctx)

	notifications.StartWithFallback(ctx, wp.listenConnString, NotifyChannel, wp.pollInterval, func(string) {
		wp.Notify()
	})
}

// Stop signals the workers and waits for in-flight jobs to finish
func (wp *WorkerPool) Stop() {
	if !wp.stopping.CompareAndSwap(false, true) {
		return
	}
	log.Debug().Msg("Stopping sync worker pool")
	close(wp.stopCh)
	wp.wg.Wait()
	if wp.cancel != nil {
		wp.cancel()
	}
	log.Debug().Msg("Sync worker pool stopped")
}

// Notify wakes an idle worker
func (wp *WorkerPool) Notify() {
	select {
	case wp.notifyCh <- struct{}{}:
	default:
		// Already has a pending notification
	}
}

func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	defer wp.wg.Done()

	log.Debug().Int("worker_id", workerID).Msg("Starting sync worker")

	consecutiveNoJobs := 0
	maxSleep := 30 * time.Second
	baseSleep := 200 * time.Millisecond

	for {
		select {
		case <-wp.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := wp.processNextJob(ctx)
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to process sync job")
			processed = false
		}
		if processed {
			consecutiveNoJobs = 0
			continue
		}

		consecutiveNoJobs++
		if consecutiveNoJobs == 1 || consecutiveNoJobs%10 == 0 {
			log.Debug().Int("worker_id", workerID).Msg("Waiting for new sync jobs")
		}
		sleepTime := time.Duration(float64(baseSleep) * math.Pow(1.5, float64(min(consecutiveNoJobs, 10))))
		if sleepTime > maxSleep {
			sleepTime = maxSleep
		}

		select {
		case <-time.After(sleepTime):
		case <-wp.notifyCh:
			consecutiveNoJobs = 0
		case <-wp.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processNextJob claims and runs one job. It reports false when the queues are empty.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	row, err := wp.store.ClaimNextSyncJob(ctx, wp.queues)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	wp.runJob(ctx, row)
	return true, nil
}

func (wp *WorkerPool) runJob(ctx context.Context, row *db.SyncJob) {
	start := wp.now()
	job, decodeErr := decodeJob(row)

	logger := log.With().
		Str("job_id", job.ID).
		Str("queue", job.Queue).
		Str("tracking_id", job.Payload.TrackingID).
		Int("attempt", job.Attempt).
		Logger()

	span := sentry.StartSpan(ctx, "sync.process_job")
	span.SetTag("job.queue", job.Queue)
	span.SetTag("job.action", job.Payload.Action)
	defer span.Finish()

	jobCtx, otelSpan := observability.StartSyncJobSpan(span.Context(), observability.SyncJobSpanInfo{
		JobID:      job.ID,
		Queue:      job.Queue,
		Action:     job.Payload.Action,
		TrackingID: job.Payload.TrackingID,
		Attempt:    job.Attempt,
	})
	defer otelSpan.End()

	wp.publish(ctx, realtime.EventJobProcessing, job, nil)

	err := decodeErr
	if err == nil {
		err = wp.invoke(jobCtx, job)
	}

	outcome := "completed"
	switch {
	case err == nil:
		if completeErr := wp.store.CompleteSyncJob(ctx, job.ID); completeErr != nil {
			logger.Error().Err(completeErr).Msg("Failed to mark sync job completed")
		}
		logger.Info().Dur("duration", wp.now().Sub(start)).Msg("Sync job completed")
		wp.publish(ctx, realtime.EventJobCompleted, job, nil)
		wp.recordBatchResult(ctx, job, true)

	case IsPermanent(err) || job.FinalAttempt():
		outcome = "failed"
		otelSpan.RecordError(err)
		if failErr := wp.store.FailSyncJob(ctx, job.ID, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to mark sync job failed")
		}
		logger.Error().Err(err).Msg("Sync job failed permanently")
		sentry.CaptureException(err)
		wp.settleFinalFailure(ctx, job, err)
		wp.publish(ctx, realtime.EventJobFailed, job, map[string]any{"error": err.Error(), "final": true})
		wp.recordBatchResult(ctx, job, false)
		wp.alert(ctx, job, err)

	default:
		outcome = "retried"
		runAt := wp.now().Add(wp.retryDelay(job.Attempt))
		if retryErr := wp.store.RetrySyncJob(ctx, job.ID, err.Error(), runAt); retryErr != nil {
			logger.Error().Err(retryErr).Msg("Failed to reschedule sync job")
		}
		logger.Warn().Err(err).Time("run_at", runAt).Msg("Sync job attempt failed, retrying")
		wp.publish(ctx, realtime.EventJobFailed, job, map[string]any{"error": err.Error(), "final": false})
	}

	observability.RecordSyncJob(ctx, observability.SyncJobMetrics{
		Queue:    job.Queue,
		Action:   job.Payload.Action,
		Outcome:  outcome,
		Duration: wp.now().Sub(start),
	})
}

// invoke runs the handler, turning a panic into a retryable error
func (wp *WorkerPool) invoke(ctx context.Context, job *Job) (err error) {
	handler, ok := wp.handlers[job.Queue]
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for queue %q", job.Queue))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", job.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Sync job handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler.Handle(ctx, job)
}

// settleFinalFailure hands a dead job back to its handler so the tracking it owned does not
// stay in flight
func (wp *WorkerPool) settleFinalFailure(ctx context.Context, job *Job, cause error) {
	if job.Payload.TrackingID == "" {
		return
	}
	settler, ok := wp.handlers[job.Queue].(FinalFailureHandler)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", job.ID).
				Interface("panic", r).
				Msg("Final failure handler panicked")
		}
	}()

	settler.HandleFinalFailure(context.WithoutCancel(ctx), job, cause)
}

// retryDelay doubles per attempt from the base delay, capped at the max
func (wp *WorkerPool) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(wp.retryBaseDelay) * math.Pow(2, float64(min(attempt-1, 20))))
	if delay > wp.retryMaxDelay {
		delay = wp.retryMaxDelay
	}
	return delay
}

func (wp *WorkerPool) publish(ctx context.Context, eventType string, job *Job, data any) {
	realtime.PublishQuietly(ctx, wp.publisher, realtime.Event{
		Type:       eventType,
		CustomerID: job.Payload.CustomerID,
		BatchID:    job.Payload.BatchID,
		TrackingID: job.Payload.TrackingID,
		JobID:      job.ID,
		Data:       data,
		Timestamp:  wp.now(),
	})
}

func (wp *WorkerPool) recordBatchResult(ctx context.Context, job *Job, succeeded bool) {
	if job.Payload.BatchID == "" {
		return
	}

	batch, err := wp.store.RecordBatchJobResult(ctx, job.Payload.BatchID, succeeded)
	if err != nil {
		if !errors.Is(err, db.ErrSyncBatchNotFound) {
			log.Error().Err(err).Str("batch_id", job.Payload.BatchID).Msg("Failed to record batch job result")
		}
		return
	}

	if batch.Status == db.BatchCompleted {
		log.Info().
			Str("batch_id", batch.ID).
			Int("completed", batch.CompletedJobs).
			Int("failed", batch.FailedJobs).
			Msg("Sync batch completed")
		realtime.PublishQuietly(ctx, wp.publisher, realtime.Event{
			Type:       realtime.EventBatchCompleted,
			CustomerID: batch.CustomerID,
			BatchID:    batch.ID,
			Data:       batch,
			Timestamp:  wp.now(),
		})
	}
}

func (wp *WorkerPool) alert(ctx context.Context, job *Job, err error) {
	failure := notifications.SyncFailure{
		JobID:      job.ID,
		Queue:      job.Queue,
		Action:     job.Payload.Action,
		TenantID:   job.Payload.TenantID,
		CustomerID: job.Payload.CustomerID,
		TrackingID: job.Payload.TrackingID,
		Attempts:   job.Attempt,
		Error:      err.Error(),
	}
	if alertErr := wp.alerter.SyncJobExhausted(ctx, failure); alertErr != nil {
		log.Warn().Err(alertErr).Str("job_id", job.ID).Msg("Failed to send sync failure alert")
	}
}

func (wp *WorkerPool) recoverStaleJobs(ctx context.Context) error {
	recovered, err := wp.store.RecoverStaleSyncJobs(ctx, wp.now().Add(-JobStaleTimeout))
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Info().Int64("recovered", recovered).Msg("Recovered stale sync jobs")
		wp.Notify()
	}
	return nil
}

func (wp *WorkerPool) recoveryMonitor(ctx context.Context) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wp.recoverStaleJobs(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to recover stale sync jobs")
			}
		}
	}
}
