// Package scan runs site scans: a chunked discovery crawl, niche detection, a chunked deep
// crawl that produces recommendations, and a final readiness summary.
//
// All progress lives on the persisted scan row. Every chunk call loads the cursor under a
// short lease, advances it by a bounded amount of work and writes it back, so callers can
// stop and resume at any point without losing or repeating pages.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/crawler"
	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/niche"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/secrets"
	"github.com/oneclicktag/oneclicktag/internal/techdetect"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

const (
	defaultMaxPages  = 50
	maxMaxPages      = 500
	defaultMaxDepth  = 3
	maxMaxDepth      = 10
	defaultChunkSize = 8
	maxChunkSize     = 25
	defaultLeaseTTL  = 2 * time.Minute
)

// Store is the persistence the scan orchestrator needs
type Store interface {
	GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error)
	CreateScan(ctx context.Context, s *domain.SiteScan) error
	GetScan(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	AcquireChunkLease(ctx context.Context, tenantID, scanID string, ttl time.Duration) (*domain.SiteScan, error)
	ReleaseChunkLease(ctx context.Context, scanID string) error
	SaveScan(ctx context.Context, s *domain.SiteScan) error
	SavePhase1Chunk(ctx context.Context, s *domain.SiteScan, pages []*domain.ScanPage) (int, error)
	SavePhase2Chunk(ctx context.Context, s *domain.SiteScan, recs []*domain.Recommendation) (int, error)
	CancelScan(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error)
	ListScanPages(ctx context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error)
	SeverityCounts(ctx context.Context, scanID string) (map[domain.Severity]int, error)
	SaveSiteCredential(ctx context.Context, c *db.StoredCredential) error
	GetSiteCredential(ctx context.Context, tenantID, siteDomain string) (*db.StoredCredential, error)
	ListSiteCredentials(ctx context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error)
	DeleteSiteCredential(ctx context.Context, tenantID, id string) error
}

// Crawler fetches pages for a scan; implemented by crawler.Crawler
type Crawler interface {
	Fetch(ctx context.Context, targetURL string, session *crawler.Session) (*crawler.FetchResult, error)
	Login(ctx context.Context, session *crawler.Session, loginURL, username, password string) error
	Discover(ctx context.Context, rootURL string) *crawler.Discovery
}

// Service orchestrates site scans
type Service struct {
	store      Store
	crawler    Crawler
	detector   *techdetect.Detector
	classifier *niche.Classifier
	sealer     *secrets.Sealer
	publisher  realtime.Publisher
	leaseTTL   time.Duration
	now        func() time.Time
}

// NewService creates a Service. A nil sealer disables stored site credentials.
func NewService(store Store, c Crawler, sealer *secrets.Sealer, publisher realtime.Publisher) (*Service, error) {
	detector, err := techdetect.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create technology detector: %w", err)
	}
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	return &Service{
		store:      store,
		crawler:    c,
		detector:   detector,
		classifier: niche.New(),
		sealer:     sealer,
		publisher:  publisher,
		leaseTTL:   defaultLeaseTTL,
		now:        time.Now,
	}, nil
}

// StartInput configures a new scan. Nil limits take their defaults.
type StartInput struct {
	WebsiteURL string `json:"website_url"`
	MaxPages   *int   `json:"max_pages"`
	MaxDepth   *int   `json:"max_depth"`
}

// Start creates a queued scan for the customer's website, or for WebsiteURL when given
func (s *Service) Start(ctx context.Context, tenantID, customerID string, in StartInput) (*domain.SiteScan, error) {
	customer, err := s.store.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}

	raw := in.WebsiteURL
	if raw == "" {
		raw = customer.WebsiteURL
	}
	website := util.NormaliseURL(raw)
	if website == "" {
		return nil, domain.Invalid("website_url", "a valid http or https URL is required")
	}

	maxPages, err := bounded("max_pages", in.MaxPages, defaultMaxPages, 1, maxMaxPages)
	if err != nil {
		return nil, err
	}
	maxDepth, err := bounded("max_depth", in.MaxDepth, defaultMaxDepth, 0, maxMaxDepth)
	if err != nil {
		return nil, err
	}

	scan := &domain.SiteScan{
		TenantID:   tenantID,
		CustomerID: customer.ID,
		WebsiteURL: website,
		Status:     domain.ScanQueued,
		MaxPages:   maxPages,
		MaxDepth:   maxDepth,
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	log.Info().
		Str("scan_id", scan.ID).
		Str("customer_id", customer.ID).
		Str("website_url", website).
		Int("max_pages", maxPages).
		Int("max_depth", maxDepth).
		Msg("Scan created")
	return scan, nil
}

func bounded(field string, v *int, def, lo, hi int) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < lo || *v > hi {
		return 0, domain.Invalid(field, "must be between %d and %d", lo, hi)
	}
	return *v, nil
}

// Get returns a scan
func (s *Service) Get(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	return s.store.GetScan(ctx, tenantID, scanID)
}

// Pages returns a page of the scan's crawled pages, most important first
func (s *Service) Pages(ctx context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error) {
	if offset < 0 {
		return nil, domain.Invalid("offset", "must not be negative")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		return nil, domain.Invalid("limit", "must be at most 200")
	}
	if _, err := s.store.GetScan(ctx, tenantID, scanID); err != nil {
		return nil, err
	}
	pages, err := s.store.ListScanPages(ctx, tenantID, scanID, offset, limit)
	if err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []*domain.ScanPage{}
	}
	return pages, nil
}

// Cancel stops a scan; chunk calls made afterwards are rejected
func (s *Service) Cancel(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	scan, err := s.store.CancelScan(ctx, tenantID, scanID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("scan_id", scanID).Msg("Scan cancelled")
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{"status": scan.Status})
	return scan, nil
}

// DetectNiche classifies the site once phase 1 is complete. Repeated calls return the stored
// result without classifying again.
func (s *Service) DetectNiche(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	scan, err := s.store.GetScan(ctx, tenantID, scanID)
	if err != nil {
		return nil, err
	}
	if err := checkActive(scan); err != nil {
		return nil, err
	}
	if scan.Niche != nil {
		return scan, nil
	}
	if scan.Phase1CompletedAt == nil {
		return nil, fmt.Errorf("discovery crawl is still running: %w", domain.ErrPhaseNotReady)
	}

	pages, err := s.store.ListScanPages(ctx, tenantID, scanID, 0, maxMaxPages)
	if err != nil {
		return nil, err
	}
	input := niche.Input{
		Pages:        make([]niche.Page, 0, len(pages)),
		Discovery:    scan.LiveDiscovery,
		Technologies: scan.Technologies,
	}
	for _, p := range pages {
		input.Pages = append(input.Pages, niche.Page{URL: p.URL, Title: p.Title, PageType: p.PageType, TextSample: p.TextSample})
	}

	result := s.classifier.Classify(input)
	now := s.now()
	scan.Niche = &result
	scan.NicheDetectedAt = &now
	scan.Status = domain.ScanAwaitingConfirmation
	if err := s.store.SaveScan(ctx, scan); err != nil {
		return nil, err
	}

	log.Info().
		Str("scan_id", scanID).
		Str("niche", string(result.Niche)).
		Float64("confidence", result.Confidence).
		Int("pages", len(pages)).
		Msg("Niche detected")
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{"status": scan.Status, "niche": result})
	return scan, nil
}

// ConfirmNiche accepts the detected niche, or overrides it, and opens phase 2
func (s *Service) ConfirmNiche(ctx context.Context, tenantID, scanID string, override *domain.Niche) (*domain.SiteScan, error) {
	if override != nil && !override.Valid() {
		return nil, domain.Invalid("niche", "unknown niche %q", *override)
	}
	scan, err := s.store.GetScan(ctx, tenantID, scanID)
	if err != nil {
		return nil, err
	}
	if err := checkActive(scan); err != nil {
		return nil, err
	}

	switch scan.Status {
	case domain.ScanAwaitingConfirmation, domain.ScanNicheDetected:
	case domain.ScanDeepCrawling:
		if override == nil || (scan.ConfirmedNiche != nil && *scan.ConfirmedNiche == *override) {
			return scan, nil
		}
		return nil, fmt.Errorf("niche is already confirmed: %w", domain.ErrPhaseNotReady)
	default:
		return nil, fmt.Errorf("scan is %s, niche cannot be confirmed: %w", scan.Status, domain.ErrPhaseNotReady)
	}

	confirmed := scan.EffectiveNiche()
	if override != nil {
		confirmed = *override
	}
	scan.ConfirmedNiche = &confirmed
	scan.Status = domain.ScanDeepCrawling
	if err := s.store.SaveScan(ctx, scan); err != nil {
		return nil, err
	}

	log.Info().Str("scan_id", scanID).Str("niche", string(confirmed)).Msg("Niche confirmed")
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{"status": scan.Status, "confirmed_niche": confirmed})
	return scan, nil
}

// Summary is the final report stored on a completed scan
type Summary struct {
	PagesScanned    int                     `json:"pages_scanned"`
	Recommendations int                     `json:"recommendations"`
	BySeverity      map[domain.Severity]int `json:"by_severity"`
	Niche           domain.Niche            `json:"niche"`
	Technologies    domain.Technologies     `json:"technologies"`
	LoginDetected   bool                    `json:"login_detected"`
	ReadinessScore  int                     `json:"tracking_readiness_score"`
}

// Finalize scores the scan from its stored recommendations and completes it. A completed
// scan is returned unchanged.
func (s *Service) Finalize(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	scan, err := s.store.GetScan(ctx, tenantID, scanID)
	if err != nil {
		return nil, err
	}
	if scan.Status == domain.ScanCompleted {
		return scan, nil
	}
	if err := checkActive(scan); err != nil {
		return nil, err
	}
	if scan.Status != domain.ScanAnalyzing {
		return nil, fmt.Errorf("deep crawl has not finished: %w", domain.ErrPhaseNotReady)
	}

	counts, err := s.store.SeverityCounts(ctx, scanID)
	if err != nil {
		return nil, err
	}
	score, narrative := recommend.Readiness(counts, scan.PagesProcessed)

	total := 0
	for _, n := range counts {
		total += n
	}
	summary, err := json.Marshal(Summary{
		PagesScanned:    scan.PagesProcessed,
		Recommendations: total,
		BySeverity:      counts,
		Niche:           scan.EffectiveNiche(),
		Technologies:    scan.Technologies,
		LoginDetected:   scan.LoginDetected,
		ReadinessScore:  score,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan summary: %w", err)
	}

	now := s.now()
	scan.ReadinessScore = &score
	scan.ReadinessNarrative = &narrative
	scan.Summary = summary
	scan.Status = domain.ScanCompleted
	scan.CompletedAt = &now
	if err := s.store.SaveScan(ctx, scan); err != nil {
		return nil, err
	}

	log.Info().
		Str("scan_id", scanID).
		Int("readiness_score", score).
		Int("recommendations", total).
		Msg("Scan completed")
	s.publish(ctx, scan, realtime.EventScanCompleted, map[string]any{
		"tracking_readiness_score": score,
		"recommendations":          total,
	})
	return scan, nil
}

// checkActive rejects work on cancelled and failed scans
func checkActive(scan *domain.SiteScan) error {
	switch scan.Status {
	case domain.ScanCancelled:
		return domain.ErrScanCancelled
	case domain.ScanFailed:
		return domain.ErrScanTerminal
	}
	return nil
}

func (s *Service) publish(ctx context.Context, scan *domain.SiteScan, eventType string, data any) {
	realtime.PublishQuietly(ctx, s.publisher, realtime.Event{
		Type:       eventType,
		CustomerID: scan.CustomerID,
		ScanID:     scan.ID,
		Data:       data,
		Timestamp:  s.now(),
	})
}

func (s *Service) fail(ctx context.Context, scan *domain.SiteScan, cause error) error {
	msg := cause.Error()
	scan.Status = domain.ScanFailed
	scan.Error = &msg
	if err := s.store.SaveScan(ctx, scan); err != nil {
		return errors.Join(cause, err)
	}
	log.Warn().Err(cause).Str("scan_id", scan.ID).Msg("Scan failed")
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{"status": scan.Status, "error": msg})
	return nil
}
