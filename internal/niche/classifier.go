// Package niche classifies a scanned website into a business niche from the words on its
// pages and the structure the crawl found.
package niche

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

const (
	// hits per keyword are capped so one repeated footer phrase cannot decide the niche
	maxHitsPerKeyword = 3
	// below this total score there is not enough evidence and the site is OTHER
	minEvidence     = 4.0
	otherConfidence = 0.3
	maxSignals      = 12
)

// Page is the part of a crawled page the classifier reads
type Page struct {
	URL        string
	Title      string
	PageType   string
	TextSample string
}

// Input is everything phase 1 learned about a site
type Input struct {
	Pages        []Page
	Discovery    domain.LiveDiscovery
	Technologies domain.Technologies
}

var keywords = map[domain.Niche][]string{
	domain.NicheEcommerce: {
		"add to cart", "add to bag", "shopping cart", "checkout", "free shipping", "buy now",
		"in stock", "out of stock", "shop now", "free returns", "wishlist",
	},
	domain.NicheSaaS: {
		"free trial", "per month", "per user", "start for free", "integrations", "api",
		"dashboard", "software", "platform", "saas", "book a demo", "request a demo",
	},
	domain.NicheLeadGen: {
		"get a quote", "request a quote", "free quote", "free consultation", "schedule a call",
		"get in touch", "enquiry", "inquiry", "contact us today", "talk to an expert",
	},
	domain.NicheLocalServices: {
		"call now", "service area", "emergency service", "plumbing", "electrician", "near you",
		"opening hours", "licensed and insured", "same day", "locally owned",
	},
	domain.NicheContent: {
		"read more", "latest articles", "latest posts", "posted on", "written by", "comments",
		"editorial", "newsletter", "subscribe to our", "min read",
	},
	domain.NicheEducation: {
		"courses", "enroll", "enrol", "curriculum", "students", "tuition", "online learning",
		"lesson", "certificate", "admissions",
	},
	domain.NicheHealthcare: {
		"patients", "clinic", "doctor", "treatment", "dental", "medical", "therapy",
		"health insurance", "physician", "book an appointment",
	},
	domain.NicheRealEstate: {
		"properties", "for sale", "for rent", "listings", "bedrooms", "real estate",
		"mortgage", "square feet", "realtor", "open house",
	},
	domain.NicheHospitality: {
		"book your stay", "reservations", "check-in", "check-out", "restaurant", "our menu",
		"hotel", "suites", "guests", "table booking",
	},
	domain.NicheNonprofit: {
		"donate", "volunteer", "our mission", "nonprofit", "non-profit", "charity",
		"fundraising", "make a difference", "donation", "sponsor a",
	},
}

type keywordRef struct {
	niche   domain.Niche
	keyword string
}

// Classifier matches every niche keyword list in a single pass over each page
type Classifier struct {
	matcher *ahocorasick.Matcher
	refs    [][]keywordRef
}

// New builds the keyword automaton
func New() *Classifier {
	index := make(map[string]int)
	var dictionary []string
	var refs [][]keywordRef

	// AllNiches order keeps the automaton deterministic
	for _, n := range domain.AllNiches {
		for _, kw := range keywords[n] {
			kw = normalizeText(kw)
			i, ok := index[kw]
			if !ok {
				i = len(dictionary)
				index[kw] = i
				// leading space anchors keywords at a word start
				dictionary = append(dictionary, " "+kw)
				refs = append(refs, nil)
			}
			refs[i] = append(refs[i], keywordRef{niche: n, keyword: kw})
		}
	}

	return &Classifier{
		matcher: ahocorasick.NewStringMatcher(dictionary),
		refs:    refs,
	}
}

type evidence struct {
	score   float64
	signals []string
}

// Classify scores every niche and returns the best with its confidence, supporting
// signals and the runner-up scores
func (c *Classifier) Classify(in Input) domain.NicheResult {
	scores := make(map[domain.Niche]*evidence, len(domain.AllNiches))
	for _, n := range domain.AllNiches {
		scores[n] = &evidence{}
	}

	hits := make(map[keywordRef]int)
	for _, p := range in.Pages {
		text := normalizeText(p.Title + " " + p.TextSample)
		if text == "" {
			continue
		}
		for _, i := range c.matcher.MatchThreadSafe([]byte(" " + text)) {
			for _, ref := range c.refs[i] {
				hits[ref]++
			}
		}
	}
	refs := make([]keywordRef, 0, len(hits))
	for ref := range hits {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if hits[refs[i]] != hits[refs[j]] {
			return hits[refs[i]] > hits[refs[j]]
		}
		return refs[i].keyword < refs[j].keyword
	})
	for _, ref := range refs {
		count := hits[ref]
		if count > maxHitsPerKeyword {
			count = maxHitsPerKeyword
		}
		e := scores[ref.niche]
		e.score += float64(count)
		e.signals = append(e.signals, fmt.Sprintf("keyword %q on %d page(s)", ref.keyword, hits[ref]))
	}

	c.addStructure(scores, in)

	return decide(scores)
}

// addStructure weighs what the crawl found: page types, forms, links and technologies
func (c *Classifier) addStructure(scores map[domain.Niche]*evidence, in Input) {
	add := func(n domain.Niche, weight float64, signal string) {
		e := scores[n]
		e.score += weight
		e.signals = append(e.signals, signal)
	}

	pageTypes := make(map[string]int)
	for _, p := range in.Pages {
		pageTypes[p.PageType]++
	}
	for k, v := range in.Discovery.PageTypes {
		if v > pageTypes[k] {
			pageTypes[k] = v
		}
	}
	d := in.Discovery

	if d.HasCart || pageTypes["cart"] > 0 {
		add(domain.NicheEcommerce, 4, "cart page found")
	}
	if d.HasCheckout || pageTypes["checkout"] > 0 {
		add(domain.NicheEcommerce, 4, "checkout page found")
	}
	if n := pageTypes["product"]; n > 0 {
		add(domain.NicheEcommerce, math.Min(float64(n), 4), fmt.Sprintf("%d product page(s)", n))
	}
	if len(in.Technologies.Ecommerce) > 0 {
		add(domain.NicheEcommerce, 5, "ecommerce platform: "+strings.Join(in.Technologies.Ecommerce, ", "))
	}

	if pageTypes["pricing"] > 0 {
		add(domain.NicheSaaS, 3, "pricing page found")
	}
	if pageTypes["signup"] > 0 {
		add(domain.NicheSaaS, 2, "signup page found")
	}
	if d.HasLogin && !d.HasCart {
		add(domain.NicheSaaS, 1, "login area without a cart")
	}

	if pageTypes["contact"] > 0 && d.FormsFound > 0 {
		add(domain.NicheLeadGen, 2, "contact page with forms")
	}
	if d.PhoneLinks > 0 {
		add(domain.NicheLocalServices, math.Min(float64(d.PhoneLinks), 3), fmt.Sprintf("%d phone link(s)", d.PhoneLinks))
	}
	if pageTypes["booking"] > 0 {
		add(domain.NicheHospitality, 1, "booking page found")
		add(domain.NicheLocalServices, 1, "booking page found")
	}
	if n := pageTypes["blog"]; n > 0 {
		weight := math.Min(float64(n), 4)
		if len(in.Pages) > 0 && float64(n)/float64(len(in.Pages)) >= 0.5 {
			weight += 2
		}
		add(domain.NicheContent, weight, fmt.Sprintf("%d blog page(s)", n))
	}
}

func decide(scores map[domain.Niche]*evidence) domain.NicheResult {
	total := 0.0
	best := domain.NicheOther
	bestScore := 0.0
	for _, n := range domain.AllNiches {
		s := scores[n].score
		total += s
		if s > bestScore {
			best, bestScore = n, s
		}
	}

	if total < minEvidence || best == domain.NicheOther {
		log.Debug().Float64("evidence", total).Msg("Not enough evidence to classify niche")
		return domain.NicheResult{
			Niche:      domain.NicheOther,
			Confidence: otherConfidence,
			Signals:    []string{"not enough niche-specific signals"},
		}
	}

	result := domain.NicheResult{
		Niche:        best,
		Confidence:   round2(bestScore / total),
		Signals:      scores[best].signals,
		Alternatives: make(map[domain.Niche]float64),
	}
	if len(result.Signals) > maxSignals {
		result.Signals = result.Signals[:maxSignals]
	}
	for _, n := range domain.AllNiches {
		if n != best && scores[n].score > 0 {
			result.Alternatives[n] = round2(scores[n].score / total)
		}
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// normalizeText lowercases and collapses whitespace and punctuation other than - and /
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '/':
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
