package crawler

import (
	"net/http"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// FetchResult is one fetched page and what was found on it
type FetchResult struct {
	URL          string      `json:"url"`
	FinalURL     string      `json:"final_url"`
	StatusCode   int         `json:"status_code"`
	ContentType  string      `json:"content_type"`
	ResponseTime int64       `json:"response_time"`
	Headers      http.Header `json:"-"`
	Body         []byte      `json:"-"`
	Analysis     *Analysis   `json:"analysis,omitempty"`
}

// HTML reports whether the response is an HTML document
func (r *FetchResult) HTML() bool {
	return r.Analysis != nil
}

// Analysis is the structural read of an HTML page
type Analysis struct {
	Title      string           `json:"title"`
	PageType   string           `json:"page_type"`
	Links      []string         `json:"links"`
	Elements   []domain.Element `json:"elements"`
	HasForm    bool             `json:"has_form"`
	HasCTA     bool             `json:"has_cta"`
	HasVideo   bool             `json:"has_video"`
	LoginForm  bool             `json:"login_form"`
	TextSample string           `json:"-"`
}

// Importance ranks a page for phase-2 ordering; conversion pages come first
func (a *Analysis) Importance(depth int) int {
	score := 0
	switch a.PageType {
	case PageCheckout, PageCart:
		score += 50
	case PageProduct, PagePricing, PageSignup:
		score += 40
	case PageContact, PageBooking, PageHome:
		score += 30
	case PageLogin, PageThankYou:
		score += 20
	case PageBlog, PageAbout, PageSearch, PageCategory:
		score += 10
	}
	if a.HasForm {
		score += 15
	}
	if a.HasCTA {
		score += 10
	}
	if a.HasVideo {
		score += 5
	}
	score -= depth * 5
	if score < 0 {
		score = 0
	}
	return score
}
