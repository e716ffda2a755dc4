// Package techdetect identifies the CMS, frameworks, analytics tools, ecommerce platforms
// and CDNs a website runs on, using wappalyzergo fingerprints.
package techdetect

import (
	"net/http"
	"strings"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// Result contains the detected technologies of one response
type Result struct {
	// Technologies maps technology name to its categories (e.g., {"WordPress": ["CMS"], "Cloudflare": ["CDN"]})
	Technologies map[string][]string `json:"technologies"`
	// Grouped buckets the technologies the way scans report them
	Grouped domain.Technologies `json:"grouped"`
}

// Detector provides technology detection capabilities
type Detector struct {
	client *wappalyzer.Wappalyze
	mu     sync.RWMutex
}

// categoryNames maps wappalyzer category IDs to human-readable names
var categoryNames map[int]string
var categoryNamesOnce sync.Once

// bucket order matters: a technology lands in the first bucket one of its categories maps to
var buckets = []struct {
	categories []string
	assign     func(t *domain.Technologies, name string)
}{
	{[]string{"ecommerce", "payment processors", "cart abandonment"}, func(t *domain.Technologies, n string) { t.Ecommerce = append(t.Ecommerce, n) }},
	{[]string{"cms", "blogs", "page builders", "wikis", "static site generator", "lms"}, func(t *domain.Technologies, n string) { t.CMS = append(t.CMS, n) }},
	{[]string{"analytics", "tag managers", "advertising", "marketing automation", "rum", "a/b testing", "heatmaps"}, func(t *domain.Technologies, n string) { t.Analytics = append(t.Analytics, n) }},
	{[]string{"javascript frameworks", "web frameworks", "ui frameworks", "javascript libraries", "programming languages", "mobile frameworks"}, func(t *domain.Technologies, n string) { t.Framework = append(t.Framework, n) }},
	{[]string{"cdn", "caching", "reverse proxies", "paas"}, func(t *domain.Technologies, n string) { t.CDN = append(t.CDN, n) }},
}

// New creates a new technology detector
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		cats := wappalyzer.GetCategoriesMapping()
		for id, cat := range cats {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{
		client: client,
	}, nil
}

// Detect identifies technologies from HTTP headers and body
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := &Result{
		Technologies: make(map[string][]string),
	}

	fingerprints := d.client.FingerprintWithCats(headers, body)

	for tech, catInfo := range fingerprints {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		result.Technologies[tech] = categories
	}
	result.Grouped = Group(result.Technologies)

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Strs("cms", result.Grouped.CMS).
		Strs("analytics", result.Grouped.Analytics).
		Msg("Technology detection completed")

	return result
}

// Group buckets technology names by their wappalyzer categories. Names that fit no
// bucket go to Other. Every list is sorted.
func Group(technologies map[string][]string) domain.Technologies {
	var t domain.Technologies
	for name, categories := range technologies {
		// strip version suffixes such as "WordPress:6.4"
		display, _, _ := strings.Cut(name, ":")
		placed := false
		for _, b := range buckets {
			if matchesAny(categories, b.categories) {
				b.assign(&t, display)
				placed = true
				break
			}
		}
		if !placed {
			t.Other = append(t.Other, display)
		}
	}

	// Merge dedupes and sorts
	var grouped domain.Technologies
	grouped.Merge(t)
	return grouped
}

func matchesAny(categories, wanted []string) bool {
	for _, c := range categories {
		lc := strings.ToLower(c)
		for _, w := range wanted {
			if lc == w {
				return true
			}
		}
	}
	return false
}
