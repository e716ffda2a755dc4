package scan

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/crawler"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/observability"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

// Credentials log the crawler into a site's members area
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	LoginURL string `json:"login_url,omitempty"`
}

// ChunkInput selects the phase and how much work one call may do
type ChunkInput struct {
	Phase           domain.ScanPhase `json:"phase"`
	ChunkSize       int              `json:"chunkSize"`
	Credentials     *Credentials     `json:"credentials,omitempty"`
	SaveCredentials bool             `json:"saveCredentials"`
}

// PageSummary is a page crawled in this chunk
type PageSummary struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	PageType     string `json:"pageType"`
	Depth        int    `json:"depth"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// ChunkResult reports one chunk. PagesProcessed is cumulative for the phase.
type ChunkResult struct {
	Phase              domain.ScanPhase      `json:"phase"`
	Status             domain.ScanStatus     `json:"status"`
	PagesProcessed     int                   `json:"pagesProcessed"`
	HasMore            bool                  `json:"hasMore"`
	Discovery          *domain.LiveDiscovery `json:"discovery,omitempty"`
	NewPages           []PageSummary         `json:"newPages,omitempty"`
	LoginDetected      bool                  `json:"loginDetected,omitempty"`
	LoginURL           string                `json:"loginUrl,omitempty"`
	Authenticated      bool                  `json:"authenticated,omitempty"`
	NewRecommendations int                   `json:"newRecommendations"`
	Error              string                `json:"error,omitempty"`
}

func (in *ChunkInput) normalise() error {
	if in.Phase != domain.Phase1 && in.Phase != domain.Phase2 {
		return domain.Invalid("phase", "must be phase1 or phase2")
	}
	if in.ChunkSize == 0 {
		in.ChunkSize = defaultChunkSize
	}
	if in.ChunkSize < 1 || in.ChunkSize > maxChunkSize {
		return domain.Invalid("chunkSize", "must be between 1 and %d", maxChunkSize)
	}
	if c := in.Credentials; c != nil {
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			return domain.Invalid("credentials", "username and password are required")
		}
		if c.LoginURL != "" && util.NormaliseURL(c.LoginURL) == "" {
			return domain.Invalid("credentials", "login_url is not a valid URL")
		}
	}
	return nil
}

// ProcessChunk advances one phase of the scan by at most ChunkSize pages. Concurrent calls for
// the same scan are rejected with ErrChunkInProgress. Calls made after a phase has finished
// return its stored counts with HasMore false.
func (s *Service) ProcessChunk(ctx context.Context, tenantID, scanID string, in ChunkInput) (*ChunkResult, error) {
	if err := in.normalise(); err != nil {
		return nil, err
	}

	scan, err := s.store.AcquireChunkLease(ctx, tenantID, scanID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	saved := false
	defer func() {
		if saved {
			return
		}
		// background context so a cancelled request still frees the scan
		if err := s.store.ReleaseChunkLease(context.WithoutCancel(ctx), scanID); err != nil {
			log.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to release chunk lease")
		}
	}()

	if err := checkActive(scan); err != nil {
		return nil, err
	}

	ctx, span := observability.StartScanChunkSpan(ctx, scanID, string(in.Phase))
	defer span.End()

	var result *ChunkResult
	if in.Phase == domain.Phase1 {
		result, saved, err = s.phase1(ctx, scan, in)
	} else {
		result, saved, err = s.phase2(ctx, scan, in)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// phase1 crawls the next pages of the frontier. The bool reports whether the scan row was
// written, which also releases the lease.
func (s *Service) phase1(ctx context.Context, scan *domain.SiteScan, in ChunkInput) (*ChunkResult, bool, error) {
	if scan.Phase1CompletedAt != nil {
		return s.phase1Result(scan, nil, false), false, nil
	}
	switch scan.Status {
	case domain.ScanQueued, domain.ScanDiscovering, domain.ScanCrawling:
	default:
		return nil, false, fmt.Errorf("scan is %s: %w", scan.Status, domain.ErrPhaseNotReady)
	}

	logger := log.With().Str("scan_id", scan.ID).Str("phase", string(domain.Phase1)).Logger()
	firstChunk := !scan.CrawlState.Seeded
	if firstChunk {
		scan.Status = domain.ScanDiscovering
		s.seed(ctx, scan)
	}

	c := &chunkCrawl{
		svc:       s,
		scan:      scan,
		rules:     &crawler.RobotsRules{DisallowPatterns: scan.CrawlState.Disallow, AllowPatterns: scan.CrawlState.Allow},
		seen:      make(map[string]bool, len(scan.CrawlState.Seen)),
		session:   crawler.NewSession(),
		discovery: domain.LiveDiscovery{PageTypes: make(map[string]int)},
	}
	for _, u := range scan.CrawlState.Seen {
		c.seen[u] = true
	}
	c.creds, c.credsFromRequest = s.resolveCredentials(ctx, scan, in.Credentials)
	if scan.LoginURL != nil {
		c.login(ctx, *scan.LoginURL)
	}

	// Every fetch counts against the budget, failed or not, and the chunk stops well inside
	// its lease so a slow site cannot let a second chunk start alongside it.
	budget := min(in.ChunkSize, scan.MaxPages-scan.PagesProcessed)
	deadline := s.now().Add(s.leaseTTL / 2)
	for attempts := 0; attempts < budget && len(scan.CrawlState.Queue) > 0; attempts++ {
		if ctx.Err() != nil || s.now().After(deadline) {
			break
		}
		item := scan.CrawlState.Queue[0]
		scan.CrawlState.Queue = scan.CrawlState.Queue[1:]

		err := c.visit(ctx, item)
		if err != nil && firstChunk && item.URL == scan.WebsiteURL {
			if failErr := s.fail(ctx, scan, fmt.Errorf("website unreachable: %w", err)); failErr != nil {
				return nil, false, failErr
			}
			result := s.phase1Result(scan, nil, false)
			result.Error = *scan.Error
			return result, true, nil
		}
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	scan.LiveDiscovery.Merge(c.discovery)
	scan.Technologies = scan.LiveDiscovery.Technologies
	scan.Status = domain.ScanCrawling
	scan.CrawlState.Seen = scan.CrawlState.Seen[:0]
	for u := range c.seen {
		scan.CrawlState.Seen = append(scan.CrawlState.Seen, u)
	}
	sort.Strings(scan.CrawlState.Seen)
	scan.TotalURLsFound = len(scan.CrawlState.Seen)
	scan.LiveDiscovery.TotalURLs = scan.TotalURLsFound
	scan.AuthenticatedPagesCount += c.authenticated

	hasMore := scan.PagesProcessed+len(c.pages) < scan.MaxPages && len(scan.CrawlState.Queue) > 0
	if !hasMore {
		now := s.now()
		scan.Phase1CompletedAt = &now
		scan.CrawlState.Queue = nil
	}

	inserted, err := s.store.SavePhase1Chunk(ctx, scan, c.pages)
	if err != nil {
		return nil, false, err
	}

	if c.loggedIn && c.creds != nil && c.credsFromRequest && in.SaveCredentials {
		s.rememberCredentials(ctx, scan, c.creds)
	}

	observability.RecordScanChunk(ctx, string(domain.Phase1), inserted)
	logger.Info().
		Int("crawled", len(c.pages)).
		Int("inserted", inserted).
		Int("pages_processed", scan.PagesProcessed).
		Int("queued", len(scan.CrawlState.Queue)).
		Bool("has_more", hasMore).
		Msg("Discovery chunk processed")

	result := s.phase1Result(scan, c.pages, hasMore)
	result.Authenticated = c.loggedIn
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{
		"phase":           domain.Phase1,
		"status":          scan.Status,
		"pages_processed": scan.PagesProcessed,
		"has_more":        hasMore,
	})
	return result, true, nil
}

func (s *Service) phase1Result(scan *domain.SiteScan, pages []*domain.ScanPage, hasMore bool) *ChunkResult {
	discovery := scan.LiveDiscovery
	result := &ChunkResult{
		Phase:          domain.Phase1,
		Status:         scan.Status,
		PagesProcessed: scan.PagesProcessed,
		HasMore:        hasMore,
		Discovery:      &discovery,
		NewPages:       make([]PageSummary, 0, len(pages)),
		LoginDetected:  scan.LoginDetected,
	}
	if scan.LoginURL != nil {
		result.LoginURL = *scan.LoginURL
	}
	for _, p := range pages {
		result.NewPages = append(result.NewPages, PageSummary{
			URL:          p.URL,
			Title:        p.Title,
			PageType:     p.PageType,
			Depth:        p.Depth,
			RequiresAuth: p.RequiresAuth,
		})
	}
	return result
}

// seed fills the frontier from the site root and its sitemaps and keeps the robots rules
// for later chunks
func (s *Service) seed(ctx context.Context, scan *domain.SiteScan) {
	discovery := s.crawler.Discover(ctx, scan.WebsiteURL)
	state := &scan.CrawlState
	state.Seeded = true
	state.Queue = []domain.CrawlItem{{URL: scan.WebsiteURL, Depth: 0}}
	state.Seen = []string{scan.WebsiteURL}
	if discovery.Robots != nil {
		state.Disallow = discovery.Robots.DisallowPatterns
		state.Allow = discovery.Robots.AllowPatterns
	}

	seen := map[string]bool{scan.WebsiteURL: true}
	for _, u := range discovery.SitemapURLs {
		if seen[u] || !discovery.Robots.Allowed(pathOf(u)) {
			continue
		}
		seen[u] = true
		state.Queue = append(state.Queue, domain.CrawlItem{URL: u, Depth: 1})
		state.Seen = append(state.Seen, u)
	}
	log.Debug().
		Str("scan_id", scan.ID).
		Int("sitemap_urls", len(discovery.SitemapURLs)).
		Int("queued", len(state.Queue)).
		Msg("Crawl frontier seeded")
}

// chunkCrawl is the working state of one phase-1 chunk
type chunkCrawl struct {
	svc              *Service
	scan             *domain.SiteScan
	rules            *crawler.RobotsRules
	seen             map[string]bool
	session          *crawler.Session
	creds            *Credentials
	credsFromRequest bool
	loginTried       bool
	loggedIn         bool
	pages            []*domain.ScanPage
	discovery        domain.LiveDiscovery
	authenticated    int
}

// visit fetches one frontier item, records the page and queues its links
func (c *chunkCrawl) visit(ctx context.Context, item domain.CrawlItem) error {
	authed := c.session.Authenticated
	res, err := c.svc.crawler.Fetch(ctx, item.URL, c.session)
	if err != nil {
		log.Debug().Err(err).Str("scan_id", c.scan.ID).Str("url", item.URL).Msg("Skipping page")
		return err
	}
	if res.Analysis == nil {
		return nil
	}

	finalURL := util.NormaliseURL(res.FinalURL)
	if finalURL == "" {
		finalURL = item.URL
	}
	if finalURL != item.URL {
		if c.seen[finalURL] || !util.SameSite(finalURL, c.scan.WebsiteURL) {
			return nil
		}
		c.seen[finalURL] = true
	}

	a := res.Analysis
	if a.LoginForm && !authed {
		c.scan.LoginDetected = true
		if c.scan.LoginURL == nil {
			c.scan.LoginURL = &finalURL
		}
		// a walled page is fetched again once the session is logged in
		if c.login(ctx, finalURL) && finalURL != item.URL {
			c.scan.CrawlState.Queue = append([]domain.CrawlItem{item}, c.scan.CrawlState.Queue...)
			return nil
		}
	}

	page := &domain.ScanPage{
		ScanID:          c.scan.ID,
		TenantID:        c.scan.TenantID,
		URL:             finalURL,
		Depth:           item.Depth,
		StatusCode:      res.StatusCode,
		Title:           a.Title,
		PageType:        a.PageType,
		HasForm:         a.HasForm,
		HasCTA:          a.HasCTA,
		HasVideo:        a.HasVideo,
		ImportanceScore: a.Importance(item.Depth),
		RequiresAuth:    authed,
		Elements:        a.Elements,
		TextSample:      a.TextSample,
	}
	c.pages = append(c.pages, page)
	if page.RequiresAuth {
		c.authenticated++
	}
	c.record(page, a, res)

	if item.Depth >= c.scan.MaxDepth {
		return nil
	}
	for _, link := range a.Links {
		if c.seen[link] || !util.SameSite(link, c.scan.WebsiteURL) || !c.rules.Allowed(pathOf(link)) {
			continue
		}
		c.seen[link] = true
		c.scan.CrawlState.Queue = append(c.scan.CrawlState.Queue, domain.CrawlItem{URL: link, Depth: item.Depth + 1})
	}
	return nil
}

// record folds one page into the chunk's discovery
func (c *chunkCrawl) record(page *domain.ScanPage, a *crawler.Analysis, res *crawler.FetchResult) {
	d := &c.discovery
	d.PageTypes[page.PageType]++
	d.Technologies.Merge(c.svc.detector.Detect(res.Headers, res.Body).Grouped)

	add := func(kind, selector, text string) {
		d.PriorityElements = append(d.PriorityElements, domain.PriorityElement{
			Kind: kind, PageURL: page.URL, Selector: selector, Text: text,
		})
	}
	switch page.PageType {
	case crawler.PageCart:
		d.HasCart = true
		add(domain.ElementCartPage, "", page.Title)
	case crawler.PageCheckout:
		d.HasCheckout = true
		add(domain.ElementCheckoutPage, "", page.Title)
	case crawler.PageProduct:
		add(domain.ElementProductPage, "", page.Title)
	case crawler.PageLogin:
		d.HasLogin = true
		add(domain.ElementLoginPage, "", page.Title)
	}
	if a.LoginForm {
		d.HasLogin = true
	}

	for _, el := range a.Elements {
		switch el.Kind {
		case domain.KindForm:
			d.FormsFound++
			add(domain.ElementForm, el.Selector, el.FormKind)
		case domain.KindButton:
			d.CTAsFound++
			add(domain.ElementCTA, el.Selector, el.Text)
		case domain.KindVideo:
			d.VideosFound++
			add(domain.ElementVideo, el.Selector, el.Text)
		case domain.KindTelLink:
			d.PhoneLinks++
			add(domain.ElementPhoneLink, el.Selector, el.Href)
		case domain.KindMailLink:
			d.EmailLinks++
			add(domain.ElementEmailLink, el.Selector, el.Href)
		}
	}
}

// login tries the credentials once per chunk and reports whether the session is logged in
func (c *chunkCrawl) login(ctx context.Context, detectedURL string) bool {
	if c.session.Authenticated {
		return true
	}
	if c.creds == nil || c.loginTried {
		return false
	}
	c.loginTried = true

	loginURL := detectedURL
	if c.creds.LoginURL != "" {
		loginURL = util.NormaliseURL(c.creds.LoginURL)
	}
	if err := c.svc.crawler.Login(ctx, c.session, loginURL, c.creds.Username, c.creds.Password); err != nil {
		log.Warn().Err(err).Str("scan_id", c.scan.ID).Str("login_url", loginURL).Msg("Site login failed")
		return false
	}
	c.loggedIn = true
	log.Info().Str("scan_id", c.scan.ID).Str("login_url", loginURL).Msg("Logged into site")
	return true
}

// phase2 derives recommendations for the next pages in importance order
func (s *Service) phase2(ctx context.Context, scan *domain.SiteScan, in ChunkInput) (*ChunkResult, bool, error) {
	if scan.Phase2CompletedAt != nil {
		return &ChunkResult{Phase: domain.Phase2, Status: scan.Status, PagesProcessed: scan.Phase2Offset}, false, nil
	}
	if scan.Status != domain.ScanDeepCrawling {
		return nil, false, fmt.Errorf("niche must be confirmed before the deep crawl: %w", domain.ErrPhaseNotReady)
	}

	pages, err := s.store.ListScanPages(ctx, scan.TenantID, scan.ID, scan.Phase2Offset, in.ChunkSize)
	if err != nil {
		return nil, false, err
	}

	nicheFor := scan.EffectiveNiche()
	var recs []*domain.Recommendation
	for _, page := range pages {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		s.refresh(ctx, page)
		for _, r := range recommend.Derive(page, nicheFor) {
			r.CustomerID = scan.CustomerID
			r.TenantID = scan.TenantID
			r.ScanID = scan.ID
			recs = append(recs, r)
		}
	}

	scan.Phase2Offset += len(pages)
	hasMore := len(pages) == in.ChunkSize && scan.Phase2Offset < scan.PagesProcessed
	if !hasMore {
		now := s.now()
		scan.Phase2CompletedAt = &now
		scan.Status = domain.ScanAnalyzing
	}

	inserted, err := s.store.SavePhase2Chunk(ctx, scan, recs)
	if err != nil {
		return nil, false, err
	}

	observability.RecordScanChunk(ctx, string(domain.Phase2), inserted)
	log.Info().
		Str("scan_id", scan.ID).
		Str("phase", string(domain.Phase2)).
		Int("pages", len(pages)).
		Int("recommendations", inserted).
		Bool("has_more", hasMore).
		Msg("Deep crawl chunk processed")
	s.publish(ctx, scan, realtime.EventScanProgress, map[string]any{
		"phase":               domain.Phase2,
		"status":              scan.Status,
		"pages_processed":     scan.Phase2Offset,
		"new_recommendations": inserted,
		"has_more":            hasMore,
	})

	return &ChunkResult{
		Phase:              domain.Phase2,
		Status:             scan.Status,
		PagesProcessed:     scan.Phase2Offset,
		HasMore:            hasMore,
		NewRecommendations: inserted,
	}, true, nil
}

// refresh re-reads a public page so recommendations reflect its current markup. Pages behind
// a login and pages that no longer load keep the elements stored in phase 1.
func (s *Service) refresh(ctx context.Context, page *domain.ScanPage) {
	if page.RequiresAuth {
		return
	}
	res, err := s.crawler.Fetch(ctx, page.URL, nil)
	if err != nil || res.Analysis == nil {
		return
	}
	page.Elements = res.Analysis.Elements
	if page.PageType == "" || page.PageType == crawler.PageOther {
		page.PageType = res.Analysis.PageType
	}
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}
