package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/notifications"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) EnqueueSyncJob(ctx context.Context, job *db.SyncJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockStore) CreateSyncBatch(ctx context.Context, batch *db.SyncBatch, jobs []*db.SyncJob) error {
	args := m.Called(ctx, batch, jobs)
	return args.Error(0)
}

func (m *MockStore) ClaimNextSyncJob(ctx context.Context, queues []string) (*db.SyncJob, error) {
	args := m.Called(ctx, queues)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.SyncJob), args.Error(1)
}

func (m *MockStore) CompleteSyncJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockStore) RetrySyncJob(ctx context.Context, jobID, lastError string, runAt time.Time) error {
	args := m.Called(ctx, jobID, lastError, runAt)
	return args.Error(0)
}

func (m *MockStore) FailSyncJob(ctx context.Context, jobID, lastError string) error {
	args := m.Called(ctx, jobID, lastError)
	return args.Error(0)
}

func (m *MockStore) RecoverStaleSyncJobs(ctx context.Context, staleBefore time.Time) (int64, error) {
	args := m.Called(ctx, staleBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetSyncJob(ctx context.Context, tenantID, queue, jobID string) (*db.SyncJob, error) {
	args := m.Called(ctx, tenantID, queue, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.SyncJob), args.Error(1)
}

func (m *MockStore) RecordBatchJobResult(ctx context.Context, batchID string, succeeded bool) (*db.SyncBatch, error) {
	args := m.Called(ctx, batchID, succeeded)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.SyncBatch), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingAlerter struct {
	mu       sync.Mutex
	failures []notifications.SyncFailure
}

func (a *recordingAlerter) SyncJobExhausted(_ context.Context, failure notifications.SyncFailure) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, failure)
	return nil
}
