package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, store Store, handler Handler) (*WorkerPool, *recordingPublisher, *recordingAlerter) {
	t.Helper()
	pub := &recordingPublisher{}
	alerter := &recordingAlerter{}
	wp := NewWorkerPool(store, map[string]Handler{QueueGTMSync: handler}, WorkerPoolConfig{
		NumWorkers:     1,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
	}, pub, alerter)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	wp.now = func() time.Time { return fixed }
	return wp, pub, alerter
}

func syncJobRow(t *testing.T, attempt int, p Payload) *db.SyncJob {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return &db.SyncJob{
		ID:          "job-1",
		Queue:       QueueGTMSync,
		Action:      p.Action,
		Payload:     body,
		Status:      db.JobRunning,
		Attempts:    attempt,
		MaxAttempts: 3,
	}
}

func TestNewWorkerPoolValidation(t *testing.T) {
	assert.Panics(t, func() { NewWorkerPool(nil, map[string]Handler{}, WorkerPoolConfig{}, nil, nil) })
	assert.Panics(t, func() { NewWorkerPool(new(MockStore), nil, WorkerPoolConfig{}, nil, nil) })

	wp := NewWorkerPool(new(MockStore), map[string]Handler{QueueAdsSync: HandlerFunc(func(context.Context, *Job) error { return nil })}, WorkerPoolConfig{}, nil, nil)
	assert.Equal(t, 1, wp.numWorkers)
	assert.Equal(t, []string{QueueAdsSync}, wp.queues)
	assert.Equal(t, time.Minute, wp.recoveryInterval)
}

func TestProcessNextJobEmptyQueue(t *testing.T) {
	store := new(MockStore)
	store.On("ClaimNextSyncJob", mock.Anything, []string{QueueGTMSync}).Return(nil, nil)
	wp, _, _ := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error { return nil }))

	processed, err := wp.processNextJob(context.Background())

	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunJobSuccess(t *testing.T) {
	store := new(MockStore)
	var seen *Job
	wp, pub, _ := newTestPool(t, store, HandlerFunc(func(_ context.Context, job *Job) error {
		seen = job
		return nil
	}))

	row := syncJobRow(t, 1, Payload{TrackingID: "trk-1", CustomerID: "cust-1", Action: ActionCreate})
	store.On("ClaimNextSyncJob", mock.Anything, mock.Anything).Return(row, nil)
	store.On("CompleteSyncJob", mock.Anything, "job-1").Return(nil)

	processed, err := wp.processNextJob(context.Background())

	require.NoError(t, err)
	assert.True(t, processed)
	require.NotNil(t, seen)
	assert.Equal(t, "trk-1", seen.Payload.TrackingID)
	assert.Equal(t, []string{realtime.EventJobProcessing, realtime.EventJobCompleted}, pub.types())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "RecordBatchJobResult", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunJobRetriesWithBackoff(t *testing.T) {
	store := new(MockStore)
	wp, pub, alerter := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error {
		return errors.New("rate limited")
	}))

	expectedRunAt := wp.now().Add(2 * time.Second)
	store.On("RetrySyncJob", mock.Anything, "job-1", "rate limited", expectedRunAt).Return(nil)

	wp.runJob(context.Background(), syncJobRow(t, 2, Payload{TrackingID: "trk-1", Action: ActionUpdate}))

	store.AssertExpectations(t)
	assert.Equal(t, []string{realtime.EventJobProcessing, realtime.EventJobFailed}, pub.types())
	assert.Empty(t, alerter.failures)
}

func TestRunJobFinalAttemptFailsBatchAndAlerts(t *testing.T) {
	store := new(MockStore)
	wp, pub, alerter := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error {
		return errors.New("container not found")
	}))

	store.On("FailSyncJob", mock.Anything, "job-1", "container not found").Return(nil)
	store.On("RecordBatchJobResult", mock.Anything, "batch-1", false).Return(&db.SyncBatch{
		ID:            "batch-1",
		CustomerID:    "cust-1",
		Status:        db.BatchCompleted,
		TotalJobs:     2,
		CompletedJobs: 1,
		FailedJobs:    1,
	}, nil)

	wp.runJob(context.Background(), syncJobRow(t, 3, Payload{
		TrackingID: "trk-1",
		CustomerID: "cust-1",
		TenantID:   "tenant-1",
		BatchID:    "batch-1",
		Action:     ActionCreate,
	}))

	store.AssertExpectations(t)
	assert.Equal(t, []string{
		realtime.EventJobProcessing,
		realtime.EventJobFailed,
		realtime.EventBatchCompleted,
	}, pub.types())
	require.Len(t, alerter.failures, 1)
	assert.Equal(t, 3, alerter.failures[0].Attempts)
	assert.Equal(t, "trk-1", alerter.failures[0].TrackingID)
}

func TestRunJobPermanentErrorSkipsRetry(t *testing.T) {
	store := new(MockStore)
	wp, _, alerter := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error {
		return Permanent(errors.New("tracking deleted"))
	}))
	store.On("FailSyncJob", mock.Anything, "job-1", "tracking deleted").Return(nil)

	wp.runJob(context.Background(), syncJobRow(t, 1, Payload{TrackingID: "trk-1", Action: ActionCreate}))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "RetrySyncJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, alerter.failures, 1)
}

func TestRunJobMalformedPayloadFails(t *testing.T) {
	store := new(MockStore)
	called := false
	wp, _, _ := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error {
		called = true
		return nil
	}))
	store.On("FailSyncJob", mock.Anything, "job-1", mock.Anything).Return(nil)

	row := syncJobRow(t, 1, Payload{})
	row.Payload = json.RawMessage(`{not json`)
	wp.runJob(context.Background(), row)

	assert.False(t, called)
	store.AssertExpectations(t)
}

func TestRunJobRecoversPanic(t *testing.T) {
	store := new(MockStore)
	wp, _, _ := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error {
		panic("boom")
	}))
	store.On("RetrySyncJob", mock.Anything, "job-1", "handler panic: boom", mock.Anything).Return(nil)

	assert.NotPanics(t, func() {
		wp.runJob(context.Background(), syncJobRow(t, 1, Payload{Action: ActionDelete}))
	})
	store.AssertExpectations(t)
}

// settlingHandler panics on every attempt and records the final failures handed back to it
type settlingHandler struct {
	settled []*Job
	causes  []error
}

func (h *settlingHandler) Handle(context.Context, *Job) error {
	panic("nil tag from GTM")
}

func (h *settlingHandler) HandleFinalFailure(_ context.Context, job *Job, cause error) {
	h.settled = append(h.settled, job)
	h.causes = append(h.causes, cause)
}

func TestRunJobPanicOnFinalAttemptSettlesTracking(t *testing.T) {
	store := new(MockStore)
	handler := &settlingHandler{}
	wp, pub, alerter := newTestPool(t, store, handler)
	store.On("FailSyncJob", mock.Anything, "job-1", "handler panic: nil tag from GTM").Return(nil)

	assert.NotPanics(t, func() {
		wp.runJob(context.Background(), syncJobRow(t, 3, Payload{TrackingID: "trk-1", TenantID: "tenant-1", Action: ActionCreate}))
	})

	store.AssertExpectations(t)
	require.Len(t, handler.settled, 1)
	assert.Equal(t, "trk-1", handler.settled[0].Payload.TrackingID)
	assert.EqualError(t, handler.causes[0], "handler panic: nil tag from GTM")
	assert.Equal(t, []string{realtime.EventJobProcessing, realtime.EventJobFailed}, pub.types())
	assert.Len(t, alerter.failures, 1)
}

func TestRunJobPanicWithRetriesLeftDoesNotSettle(t *testing.T) {
	store := new(MockStore)
	handler := &settlingHandler{}
	wp, _, _ := newTestPool(t, store, handler)
	store.On("RetrySyncJob", mock.Anything, "job-1", "handler panic: nil tag from GTM", mock.Anything).Return(nil)

	wp.runJob(context.Background(), syncJobRow(t, 2, Payload{TrackingID: "trk-1", Action: ActionCreate}))

	store.AssertExpectations(t)
	assert.Empty(t, handler.settled)
}

func TestRunJobUndecodablePayloadSettlesFromRow(t *testing.T) {
	store := new(MockStore)
	handler := &settlingHandler{}
	wp, _, _ := newTestPool(t, store, handler)
	store.On("FailSyncJob", mock.Anything, "job-1", mock.Anything).Return(nil)

	trackingID := "trk-7"
	row := syncJobRow(t, 1, Payload{})
	row.Payload = json.RawMessage(`{not json`)
	row.TrackingID = &trackingID
	row.TenantID = "tenant-1"
	row.CustomerID = "cust-1"
	wp.runJob(context.Background(), row)

	store.AssertExpectations(t)
	require.Len(t, handler.settled, 1)
	settled := handler.settled[0]
	assert.Equal(t, "trk-7", settled.Payload.TrackingID)
	assert.Equal(t, "tenant-1", settled.Payload.TenantID)
	assert.Equal(t, "cust-1", settled.Payload.CustomerID)
	assert.True(t, IsPermanent(handler.causes[0]))
}

func TestRunJobWithoutTrackingSkipsSettle(t *testing.T) {
	store := new(MockStore)
	handler := &settlingHandler{}
	wp, _, _ := newTestPool(t, store, handler)
	store.On("FailSyncJob", mock.Anything, "job-1", mock.Anything).Return(nil)

	wp.runJob(context.Background(), syncJobRow(t, 3, Payload{Action: ActionCreate}))

	assert.Empty(t, handler.settled)
}

func TestRetryDelay(t *testing.T) {
	wp, _, _ := newTestPool(t, new(MockStore), HandlerFunc(func(context.Context, *Job) error { return nil }))

	assert.Equal(t, time.Second, wp.retryDelay(1))
	assert.Equal(t, 2*time.Second, wp.retryDelay(2))
	assert.Equal(t, 8*time.Second, wp.retryDelay(4))
	assert.Equal(t, time.Minute, wp.retryDelay(30))
}

func TestRecoverStaleJobs(t *testing.T) {
	store := new(MockStore)
	wp, _, _ := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error { return nil }))
	store.On("RecoverStaleSyncJobs", mock.Anything, wp.now().Add(-JobStaleTimeout)).Return(int64(2), nil)

	require.NoError(t, wp.recoverStaleJobs(context.Background()))

	select {
	case <-wp.notifyCh:
	default:
		t.Fatal("expected workers to be notified after recovery")
	}
}

func TestStartAndStop(t *testing.T) {
	store := new(MockStore)
	store.On("RecoverStaleSyncJobs", mock.Anything, mock.Anything).Return(int64(0), nil)
	store.On("ClaimNextSyncJob", mock.Anything, mock.Anything).Return(nil, nil)
	wp, _, _ := newTestPool(t, store, HandlerFunc(func(context.Context, *Job) error { return nil }))

	wp.Start(context.Background())
	wp.Notify()

	done := make(chan struct{})
	go func() {
		wp.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop")
	}
	// Second stop is a no-op
	wp.Stop()
}
