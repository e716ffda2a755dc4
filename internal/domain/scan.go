package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// ScanStatus is the phase a site scan is in.
type ScanStatus string

const (
	ScanQueued               ScanStatus = "QUEUED"
	ScanDiscovering          ScanStatus = "DISCOVERING"
	ScanCrawling             ScanStatus = "CRAWLING"
	ScanNicheDetected        ScanStatus = "NICHE_DETECTED"
	ScanAwaitingConfirmation ScanStatus = "AWAITING_CONFIRMATION"
	ScanDeepCrawling         ScanStatus = "DEEP_CRAWLING"
	ScanAnalyzing            ScanStatus = "ANALYZING"
	ScanCompleted            ScanStatus = "COMPLETED"
	ScanFailed               ScanStatus = "FAILED"
	ScanCancelled            ScanStatus = "CANCELLED"
)

func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanCancelled
}

// ScanPhase selects which chunked phase a process-chunk call advances.
type ScanPhase string

const (
	Phase1 ScanPhase = "phase1"
	Phase2 ScanPhase = "phase2"
)

// Niche is the business category a site is classified into.
type Niche string

const (
	NicheEcommerce     Niche = "ECOMMERCE"
	NicheSaaS          Niche = "SAAS"
	NicheLeadGen       Niche = "LEAD_GENERATION"
	NicheLocalServices Niche = "LOCAL_SERVICES"
	NicheContent       Niche = "CONTENT_PUBLISHER"
	NicheEducation     Niche = "EDUCATION"
	NicheHealthcare    Niche = "HEALTHCARE"
	NicheRealEstate    Niche = "REAL_ESTATE"
	NicheHospitality   Niche = "HOSPITALITY"
	NicheNonprofit     Niche = "NONPROFIT"
	NicheOther         Niche = "OTHER"
)

// AllNiches lists the taxonomy in declaration order.
var AllNiches = []Niche{
	NicheEcommerce, NicheSaaS, NicheLeadGen, NicheLocalServices, NicheContent, NicheEducation,
	NicheHealthcare, NicheRealEstate, NicheHospitality, NicheNonprofit, NicheOther,
}

func (n Niche) Valid() bool {
	for _, known := range AllNiches {
		if n == known {
			return true
		}
	}
	return false
}

// CrawlItem is one URL waiting in the crawl frontier.
type CrawlItem struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// CrawlState is the resumable phase-1 cursor persisted with the scan.
type CrawlState struct {
	Queue    []CrawlItem `json:"queue"`
	Seen     []string    `json:"seen"`
	Seeded   bool        `json:"seeded"`
	Disallow []string    `json:"disallow,omitempty"`
	Allow    []string    `json:"allow,omitempty"`
}

// Technologies groups detected technologies by category.
type Technologies struct {
	CMS       []string `json:"cms"`
	Framework []string `json:"framework"`
	Analytics []string `json:"analytics"`
	Ecommerce []string `json:"ecommerce"`
	CDN       []string `json:"cdn"`
	Other     []string `json:"other,omitempty"`
}

// Merge adds technologies not already present, keeping each list sorted.
func (t *Technologies) Merge(other Technologies) {
	t.CMS = mergeSorted(t.CMS, other.CMS)
	t.Framework = mergeSorted(t.Framework, other.Framework)
	t.Analytics = mergeSorted(t.Analytics, other.Analytics)
	t.Ecommerce = mergeSorted(t.Ecommerce, other.Ecommerce)
	t.CDN = mergeSorted(t.CDN, other.CDN)
	t.Other = mergeSorted(t.Other, other.Other)
}

// PriorityElement is a notable trackable finding surfaced while crawling.
type PriorityElement struct {
	Kind     string `json:"kind"`
	PageURL  string `json:"page_url"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Priority element kinds.
const (
	ElementForm         = "form"
	ElementCTA          = "cta"
	ElementCartPage     = "cart_page"
	ElementProductPage  = "product_page"
	ElementCheckoutPage = "checkout_page"
	ElementLoginPage    = "login_page"
	ElementVideo        = "video"
	ElementPhoneLink    = "phone_link"
	ElementEmailLink    = "email_link"
)

const maxPriorityElements = 200

// LiveDiscovery accumulates structural findings across phase-1 chunks.
type LiveDiscovery struct {
	Technologies     Technologies      `json:"technologies"`
	PriorityElements []PriorityElement `json:"priority_elements"`
	PageTypes        map[string]int    `json:"page_types"`
	TotalURLs        int               `json:"total_urls"`
	FormsFound       int               `json:"forms_found"`
	CTAsFound        int               `json:"ctas_found"`
	VideosFound      int               `json:"videos_found"`
	PhoneLinks       int               `json:"phone_links"`
	EmailLinks       int               `json:"email_links"`
	HasCart          bool              `json:"has_cart"`
	HasCheckout      bool              `json:"has_checkout"`
	HasLogin         bool              `json:"has_login"`
}

// Merge folds a chunk's discovery into the accumulated one. Priority elements are
// deduplicated on kind, page and selector.
func (d *LiveDiscovery) Merge(chunk LiveDiscovery) {
	d.Technologies.Merge(chunk.Technologies)
	if d.PageTypes == nil {
		d.PageTypes = make(map[string]int)
	}
	for k, v := range chunk.PageTypes {
		d.PageTypes[k] += v
	}
	seen := make(map[string]bool, len(d.PriorityElements))
	for _, el := range d.PriorityElements {
		seen[el.Kind+"|"+el.PageURL+"|"+el.Selector] = true
	}
	for _, el := range chunk.PriorityElements {
		key := el.Kind + "|" + el.PageURL + "|" + el.Selector
		if seen[key] || len(d.PriorityElements) >= maxPriorityElements {
			continue
		}
		seen[key] = true
		d.PriorityElements = append(d.PriorityElements, el)
	}
	if chunk.TotalURLs > d.TotalURLs {
		d.TotalURLs = chunk.TotalURLs
	}
	d.FormsFound += chunk.FormsFound
	d.CTAsFound += chunk.CTAsFound
	d.VideosFound += chunk.VideosFound
	d.PhoneLinks += chunk.PhoneLinks
	d.EmailLinks += chunk.EmailLinks
	d.HasCart = d.HasCart || chunk.HasCart
	d.HasCheckout = d.HasCheckout || chunk.HasCheckout
	d.HasLogin = d.HasLogin || chunk.HasLogin
}

// NicheResult is the outcome of niche classification.
type NicheResult struct {
	Niche        Niche             `json:"niche"`
	Confidence   float64           `json:"confidence"`
	Signals      []string          `json:"signals"`
	Alternatives map[Niche]float64 `json:"alternatives,omitempty"`
}

// SiteScan is one crawl session for a customer's website.
type SiteScan struct {
	ID                      string          `json:"id"`
	TenantID                string          `json:"tenant_id"`
	CustomerID              string          `json:"customer_id"`
	WebsiteURL              string          `json:"website_url"`
	Status                  ScanStatus      `json:"status"`
	MaxPages                int             `json:"max_pages"`
	MaxDepth                int             `json:"max_depth"`
	PagesProcessed          int             `json:"pages_processed"`
	TotalURLsFound          int             `json:"total_urls_found"`
	CrawlState              CrawlState      `json:"-"`
	Phase2Offset            int             `json:"phase2_offset"`
	Technologies            Technologies    `json:"technologies"`
	LiveDiscovery           LiveDiscovery   `json:"live_discovery"`
	Niche                   *NicheResult    `json:"niche,omitempty"`
	ConfirmedNiche          *Niche          `json:"confirmed_niche,omitempty"`
	LoginDetected           bool            `json:"login_detected"`
	LoginURL                *string         `json:"login_url,omitempty"`
	AuthenticatedPagesCount int             `json:"authenticated_pages_count"`
	ReadinessScore          *int            `json:"tracking_readiness_score,omitempty"`
	ReadinessNarrative      *string         `json:"readiness_narrative,omitempty"`
	Summary                 json.RawMessage `json:"summary,omitempty"`
	Error                   *string         `json:"error,omitempty"`
	Phase1CompletedAt       *time.Time      `json:"phase1_completed_at,omitempty"`
	NicheDetectedAt         *time.Time      `json:"niche_detected_at,omitempty"`
	Phase2CompletedAt       *time.Time      `json:"phase2_completed_at,omitempty"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// EffectiveNiche is the confirmed niche, falling back to the detected one.
func (s *SiteScan) EffectiveNiche() Niche {
	if s.ConfirmedNiche != nil {
		return *s.ConfirmedNiche
	}
	if s.Niche != nil {
		return s.Niche.Niche
	}
	return NicheOther
}

// Element is a trackable element found on a page.
type Element struct {
	Kind     string `json:"kind"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
	// FormKind is set for forms: login, search, newsletter, contact, signup or generic.
	FormKind string `json:"form_kind,omitempty"`
}

// Element kinds stored on pages.
const (
	KindForm     = "form"
	KindButton   = "button"
	KindTelLink  = "tel"
	KindMailLink = "mailto"
	KindVideo    = "video"
	KindDownload = "download"
	KindSocial   = "social"
)

// ScanPage is one crawled page within a scan.
type ScanPage struct {
	ID              string    `json:"id"`
	ScanID          string    `json:"scan_id"`
	TenantID        string    `json:"-"`
	URL             string    `json:"url"`
	Depth           int       `json:"depth"`
	StatusCode      int       `json:"status_code"`
	Title           string    `json:"title"`
	PageType        string    `json:"page_type"`
	HasForm         bool      `json:"has_form"`
	HasCTA          bool      `json:"has_cta"`
	HasVideo        bool      `json:"has_video"`
	ImportanceScore int       `json:"importance_score"`
	RequiresAuth    bool      `json:"requires_auth"`
	Elements        []Element `json:"elements,omitempty"`
	TextSample      string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	set := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
