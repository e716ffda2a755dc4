package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
)

const (
	testTenant   = "tenant-1"
	testCustomer = "cust-1"
)

// memStore is an in-memory Store with the same idempotency rules as the Postgres one
type memStore struct {
	mu          sync.Mutex
	customers   map[string]*domain.Customer
	scans       map[string]*domain.SiteScan
	leased      map[string]bool
	pages       map[string][]*domain.ScanPage
	recs        map[string][]*domain.Recommendation
	credentials map[string]*db.StoredCredential
	nextID      int
	saves       int
}

func newMemStore(website string) *memStore {
	return &memStore{
		customers: map[string]*domain.Customer{
			testCustomer: {ID: testCustomer, TenantID: testTenant, Name: "Acme", WebsiteURL: website},
		},
		scans:       map[string]*domain.SiteScan{},
		leased:      map[string]bool{},
		pages:       map[string][]*domain.ScanPage{},
		recs:        map[string][]*domain.Recommendation{},
		credentials: map[string]*db.StoredCredential{},
	}
}

func (s *memStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func cloneScan(in *domain.SiteScan) *domain.SiteScan {
	out := *in
	out.CrawlState.Queue = append([]domain.CrawlItem(nil), in.CrawlState.Queue...)
	out.CrawlState.Seen = append([]string(nil), in.CrawlState.Seen...)
	out.LiveDiscovery.PriorityElements = append([]domain.PriorityElement(nil), in.LiveDiscovery.PriorityElements...)
	if in.LiveDiscovery.PageTypes != nil {
		out.LiveDiscovery.PageTypes = make(map[string]int, len(in.LiveDiscovery.PageTypes))
		for k, v := range in.LiveDiscovery.PageTypes {
			out.LiveDiscovery.PageTypes[k] = v
		}
	}
	return &out
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

func (s *memStore) CreateScan(_ context.Context, scan *domain.SiteScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan.ID = s.id("scan")
	scan.CreatedAt = time.Now()
	scan.UpdatedAt = scan.CreatedAt
	s.scans[scan.ID] = cloneScan(scan)
	return nil
}

func (s *memStore) getLocked(tenantID, scanID string) (*domain.SiteScan, error) {
	scan, ok := s.scans[scanID]
	if !ok || scan.TenantID != tenantID {
		return nil, db.ErrScanNotFound
	}
	return scan, nil
}

func (s *memStore) GetScan(_ context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, err := s.getLocked(tenantID, scanID)
	if err != nil {
		return nil, err
	}
	return cloneScan(scan), nil
}

func (s *memStore) AcquireChunkLease(_ context.Context, tenantID, scanID string, _ time.Duration) (*domain.SiteScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, err := s.getLocked(tenantID, scanID)
	if err != nil {
		return nil, err
	}
	if s.leased[scanID] {
		return nil, domain.ErrChunkInProgress
	}
	s.leased[scanID] = true
	return cloneScan(scan), nil
}

func (s *memStore) ReleaseChunkLease(_ context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leased, scanID)
	return nil
}

func (s *memStore) saveLocked(scan *domain.SiteScan) {
	stored := cloneScan(scan)
	if current, ok := s.scans[scan.ID]; ok && current.Status == domain.ScanCancelled {
		stored.Status = domain.ScanCancelled
	}
	stored.UpdatedAt = time.Now()
	s.scans[scan.ID] = stored
	delete(s.leased, scan.ID)
	s.saves++
}

func (s *memStore) SaveScan(_ context.Context, scan *domain.SiteScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(scan)
	return nil
}

func (s *memStore) SavePhase1Chunk(_ context.Context, scan *domain.SiteScan, pages []*domain.ScanPage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, p := range pages {
		dup := false
		for _, existing := range s.pages[scan.ID] {
			if existing.URL == p.URL {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := *p
		cp.ID = s.id("page")
		s.pages[scan.ID] = append(s.pages[scan.ID], &cp)
		inserted++
	}
	scan.PagesProcessed = len(s.pages[scan.ID])
	s.saveLocked(scan)
	return inserted, nil
}

func (s *memStore) SavePhase2Chunk(_ context.Context, scan *domain.SiteScan, recs []*domain.Recommendation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range recs {
		dup := false
		for _, existing := range s.recs[scan.ID] {
			if existing.PageURL == r.PageURL && existing.Type == r.Type && existing.Selector == r.Selector {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := *r
		cp.ID = s.id("rec")
		s.recs[scan.ID] = append(s.recs[scan.ID], &cp)
		inserted++
	}
	s.saveLocked(scan)
	return inserted, nil
}

func (s *memStore) CancelScan(_ context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, err := s.getLocked(tenantID, scanID)
	if err != nil {
		return nil, err
	}
	if scan.Status.Terminal() {
		return nil, domain.ErrScanTerminal
	}
	scan.Status = domain.ScanCancelled
	delete(s.leased, scanID)
	return cloneScan(scan), nil
}

func (s *memStore) ListScanPages(_ context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pages []*domain.ScanPage
	for _, p := range s.pages[scanID] {
		if p.TenantID == tenantID {
			cp := *p
			pages = append(pages, &cp)
		}
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].ImportanceScore != pages[j].ImportanceScore {
			return pages[i].ImportanceScore > pages[j].ImportanceScore
		}
		return pages[i].URL < pages[j].URL
	})
	if offset >= len(pages) {
		return nil, nil
	}
	pages = pages[offset:]
	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (s *memStore) SeverityCounts(_ context.Context, scanID string) (map[domain.Severity]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Severity]int)
	for _, r := range s.recs[scanID] {
		counts[r.Severity]++
	}
	return counts, nil
}

func (s *memStore) SaveSiteCredential(_ context.Context, c *db.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.TenantID + "|" + c.Domain
	if existing, ok := s.credentials[key]; ok {
		c.ID = existing.ID
	} else {
		c.ID = s.id("cred")
	}
	cp := *c
	s.credentials[key] = &cp
	return nil
}

func (s *memStore) GetSiteCredential(_ context.Context, tenantID, siteDomain string) (*db.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[tenantID+"|"+siteDomain]
	if !ok {
		return nil, db.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListSiteCredentials(_ context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SiteCredential
	for _, c := range s.credentials {
		if c.TenantID == tenantID && c.CustomerID == customerID {
			cp := c.SiteCredential
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) DeleteSiteCredential(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.credentials {
		if c.TenantID == tenantID && c.ID == id {
			delete(s.credentials, key)
			return nil
		}
	}
	return db.ErrCredentialNotFound
}

func (s *memStore) pageCount(scanID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages[scanID])
}

func (s *memStore) recCount(scanID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs[scanID])
}

// recordingPublisher keeps every published event
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
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
