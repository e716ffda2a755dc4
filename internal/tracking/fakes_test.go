package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/mocks"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/stretchr/testify/mock"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

const (
	testTenant    = "tenant-1"
	testCustomer  = "cust-1"
	testWorkspace = "accounts/100/containers/200/workspaces/3"
)

func sp(s string) *string { return &s }

// memStore is an in-memory Store and google.BootstrapStore
type memStore struct {
	mu             sync.Mutex
	tenant         domain.Tenant
	customers      map[string]*domain.Customer
	trackings      map[string]*domain.Tracking
	createdStatus  map[string]domain.TrackingStatus
	ga4            map[string]*domain.GA4Property
	adsAccounts    []*domain.GoogleAdsAccount
	batches        map[string]*db.SyncBatch
	nextID         int
	mutateFailures int
}

func newMemStore() *memStore {
	return &memStore{
		tenant: domain.Tenant{ID: testTenant, GTMAccountID: sp("100"), GA4AccountID: sp("77"), GA4PropertyID: sp("901")},
		customers: map[string]*domain.Customer{
			testCustomer: {
				ID:                 testCustomer,
				TenantID:           testTenant,
				Name:               "Acme",
				WebsiteURL:         "https://acme.test",
				GoogleAccountID:    sp("g-1"),
				GoogleConnectionID: sp("conn-1"),
				GTMAccountID:       sp("100"),
				GTMContainerID:     sp("200"),
				GTMWorkspaceID:     sp("3"),
			},
			"cust-offline": {ID: "cust-offline", TenantID: testTenant, Name: "Offline"},
		},
		trackings:     map[string]*domain.Tracking{},
		createdStatus: map[string]domain.TrackingStatus{},
		ga4: map[string]*domain.GA4Property{
			testCustomer: {TenantID: testTenant, CustomerID: testCustomer, PropertyID: "901", MeasurementID: "G-TEST", DataStreamID: "5"},
		},
		adsAccounts: []*domain.GoogleAdsAccount{
			{TenantID: testTenant, CustomerID: testCustomer, AdsCustomerID: "1234567890", CurrencyCode: "EUR",
				LabelResourceName: sp("customers/1234567890/labels/1"), IsPrimary: true},
		},
		batches: map[string]*db.SyncBatch{},
	}
}

func (s *memStore) GetCustomer(_ context.Context, tenantID, customerID string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return nil, db.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) CreateTracking(_ context.Context, t *domain.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trackings {
		if existing.CustomerID == t.CustomerID && existing.Type == t.Type &&
			existing.Selector == t.Selector && existing.URLPattern == t.URLPattern {
			return domain.ErrDuplicateTracking
		}
	}
	s.nextID++
	t.ID = fmt.Sprintf("trk-%d", s.nextID)
	t.CreatedAt = time.Now()
	cp := *t
	s.trackings[t.ID] = &cp
	s.createdStatus[t.ID] = t.Status
	return nil
}

func (s *memStore) GetTracking(_ context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackings[trackingID]
	if !ok || t.TenantID != tenantID {
		return nil, db.ErrTrackingNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTrackings(_ context.Context, tenantID, customerID string) ([]*domain.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Tracking
	for _, t := range s.trackings {
		if t.TenantID == tenantID && t.CustomerID == customerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateTrackingDefinition(_ context.Context, t *domain.Tracking, expected domain.TrackingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.trackings[t.ID]
	if !ok || current.TenantID != t.TenantID {
		return db.ErrTrackingNotFound
	}
	if current.Status != expected {
		return domain.ErrSyncInProgress
	}
	cp := *t
	s.trackings[t.ID] = &cp
	return nil
}

func (s *memStore) DeleteTracking(_ context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackings[trackingID]
	if !ok || t.TenantID != tenantID {
		return nil, db.ErrTrackingNotFound
	}
	if t.Status.InFlight() {
		return nil, domain.ErrSyncInProgress
	}
	delete(s.trackings, trackingID)
	return t, nil
}

func (s *memStore) MutateTracking(_ context.Context, tenantID, trackingID string, fn func(*domain.Tracking) error) (*domain.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutateFailures > 0 {
		s.mutateFailures--
		return nil, fmt.Errorf("database unavailable")
	}
	t, ok := s.trackings[trackingID]
	if !ok || t.TenantID != tenantID {
		return nil, db.ErrTrackingNotFound
	}
	cp := *t
	// fn may call back into the store (e.g. GetCustomer), so run it unlocked.
	s.mu.Unlock()
	err := fn(&cp)
	s.mu.Lock()
	if err != nil {
		return nil, err
	}
	s.trackings[trackingID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) tracking(id string) *domain.Tracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackings[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *memStore) put(t *domain.Tracking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		s.nextID++
		t.ID = fmt.Sprintf("trk-%d", s.nextID)
	}
	cp := *t
	s.trackings[t.ID] = &cp
}

func (s *memStore) ListAdsAccounts(_ context.Context, _, customerID string) ([]*domain.GoogleAdsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GoogleAdsAccount
	for _, a := range s.adsAccounts {
		if a.CustomerID == customerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpsertAdsAccount(_ context.Context, a *domain.GoogleAdsAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.adsAccounts {
		if existing.CustomerID == a.CustomerID && existing.AdsCustomerID == a.AdsCustomerID {
			cp := *a
			cp.IsPrimary = existing.IsPrimary
			s.adsAccounts[i] = &cp
			return nil
		}
	}
	cp := *a
	s.adsAccounts = append(s.adsAccounts, &cp)
	return nil
}

func (s *memStore) GetSyncBatch(_ context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return nil, db.ErrSyncBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) SetSyncBatchStatus(_ context.Context, tenantID, batchID, status string) (*db.SyncBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return nil, db.ErrSyncBatchNotFound
	}
	if b.Status == db.BatchCompleted {
		return nil, domain.ErrBatchFinished
	}
	b.Status = status
	cp := *b
	return &cp, nil
}

func (s *memStore) GetTenant(_ context.Context, _ string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant
	return &t, nil
}

func (s *memStore) UpdateTenantGoogle(context.Context, string, *string, *string, *string) error {
	return nil
}

func (s *memStore) UpdateCustomerGTM(_ context.Context, _, customerID, accountID, containerID, publicID, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.customers[customerID]
	c.GTMAccountID = &accountID
	c.GTMContainerID = &containerID
	c.GTMContainerPublicID = &publicID
	c.GTMWorkspaceID = &workspaceID
	return nil
}

func (s *memStore) UpsertGA4Property(_ context.Context, p *domain.GA4Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ga4[p.CustomerID] = p
	return nil
}

func (s *memStore) GetGA4Property(_ context.Context, _, customerID string) (*domain.GA4Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.ga4[customerID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("ga4 property %w", domain.ErrNotFound)
}

var (
	_ Store                 = (*memStore)(nil)
	_ google.BootstrapStore = (*memStore)(nil)
)

// fakeQueue records enqueued payloads
type fakeQueue struct {
	mu      sync.Mutex
	gtm     []jobs.Payload
	ads     []jobs.Payload
	batches []*db.SyncBatch
	items   []jobs.QueuedPayload
	failAds bool
	n       int
}

func (q *fakeQueue) handle(queue string) *jobs.JobHandle {
	q.n++
	return &jobs.JobHandle{ID: fmt.Sprintf("job-%d", q.n), Queue: queue}
}

func (q *fakeQueue) AddGTMSyncJob(_ context.Context, p jobs.Payload) (*jobs.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gtm = append(q.gtm, p)
	return q.handle(jobs.QueueGTMSync), nil
}

func (q *fakeQueue) AddAdsSyncJob(_ context.Context, p jobs.Payload) (*jobs.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAds {
		return nil, fmt.Errorf("queue unavailable")
	}
	q.ads = append(q.ads, p)
	return q.handle(jobs.QueueAdsSync), nil
}

func (q *fakeQueue) AddBatch(_ context.Context, batch *db.SyncBatch, items []jobs.QueuedPayload) ([]*jobs.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch.ID = fmt.Sprintf("batch-%d", len(q.batches)+1)
	batch.Status = db.BatchRunning
	batch.TotalJobs = len(items)
	q.batches = append(q.batches, batch)
	q.items = append(q.items, items...)
	handles := make([]*jobs.JobHandle, len(items))
	for i, item := range items {
		handles[i] = q.handle(item.Queue)
	}
	return handles, nil
}

func (q *fakeQueue) total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.gtm) + len(q.ads)
}

// fakeProvider hands out the same mocked clients for every connected customer
type fakeProvider struct {
	clients *google.Clients
}

func (p *fakeProvider) ClientsFor(_ context.Context, customer *domain.Customer) (*google.Clients, error) {
	if !customer.GoogleConnected() {
		return nil, domain.ErrGoogleNotConnected
	}
	return p.clients, nil
}

// recordingPublisher keeps published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
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

func tagOfType(tagType string) any {
	return mock.MatchedBy(func(tag *tagmanager.Tag) bool { return tag.Type == tagType })
}

// harness wires a Service and a Syncer over the same in-memory store
type harness struct {
	store     *memStore
	queue     *fakeQueue
	gtm       *mocks.MockGTM
	ga4       *mocks.MockGA4
	ads       *mocks.MockAds
	publisher *recordingPublisher
	service   *Service
	syncer    *Syncer
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		queue:     &fakeQueue{},
		gtm:       new(mocks.MockGTM),
		ga4:       new(mocks.MockGA4),
		ads:       new(mocks.MockAds),
		publisher: &recordingPublisher{},
	}
	provider := &fakeProvider{clients: &google.Clients{GTM: h.gtm, GA4: h.ga4, Ads: h.ads}}
	h.service = NewService(h.store, h.queue, h.publisher)
	h.syncer = NewSyncer(h.store, provider, google.NewBootstrapper(h.store, nil), h.publisher, SyncerConfig{})
	h.syncer.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

// expectGTMHappyPath stubs a GTM workspace that accepts every write
func (h *harness) expectGTMHappyPath() {
	h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(true, nil)
	h.gtm.On("EnsureEssentials", mock.Anything, testWorkspace, "G-TEST").Return(nil)
	h.gtm.On("UpsertTrigger", mock.Anything, testWorkspace, mock.Anything).Return(&tagmanager.Trigger{TriggerId: "11"}, nil)
	h.gtm.On("UpsertTag", mock.Anything, testWorkspace, tagOfType(google.TagTypeGA4Event)).Return(&tagmanager.Tag{TagId: "21"}, nil)
	h.gtm.On("UpsertTag", mock.Anything, testWorkspace, tagOfType(google.TagTypeAdsConversion)).Return(&tagmanager.Tag{TagId: "22"}, nil)
}

// expectAdsHappyPath stubs an Ads account where conversion actions can be created
func (h *harness) expectAdsHappyPath() {
	h.ads.On("UpsertConversionAction", mock.Anything, "1234567890", mock.Anything).
		Return("customers/1234567890/conversionActions/555", nil)
	h.ads.On("GetConversionSendTo", mock.Anything, "1234567890", "555").Return("987", "abcLabel", nil)
}

func job(queue string, p jobs.Payload, attempt, maxAttempts int) *jobs.Job {
	return &jobs.Job{ID: "job-run", Queue: queue, Attempt: attempt, MaxAttempts: maxAttempts, Payload: p}
}
