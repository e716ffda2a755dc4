// Package recommend turns scanned pages into suggested trackings and manages the user's
// decisions on them.
package recommend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// Page types as assigned by the crawler
const (
	pageHome     = "home"
	pageProduct  = "product"
	pageCategory = "category"
	pageCheckout = "checkout"
	pageThankYou = "thank_you"
	pageBooking  = "booking"
	pageBlog     = "blog"
	pagePricing  = "pricing"
)

var scrollConfig = json.RawMessage(`{"scrollThresholds":[25,50,75,90]}`)

// Derive produces the recommendations for one page. The result is deterministic for a
// given page and niche; duplicates within the page are dropped.
func Derive(page *domain.ScanPage, niche domain.Niche) []*domain.Recommendation {
	d := &deriver{page: page, niche: niche, seen: make(map[string]bool)}
	path := pagePath(page.URL)
	pattern := "^" + regexp.QuoteMeta(path)

	switch page.PageType {
	case pageCheckout:
		d.add(domain.TypeBeginCheckout, "", pattern, "Checkout started", "Checkout page reached")
	case pageThankYou:
		if niche == domain.NicheEcommerce {
			d.add(domain.TypePurchase, "", pattern, "Purchase completed", "Order confirmation page marks a completed purchase")
		} else {
			d.add(domain.TypeGenerateLead, "", pattern, "Lead confirmation", "Thank-you page marks a submitted lead")
		}
	case pageProduct:
		d.add(domain.TypeViewItem, "", pattern, "Product viewed", "Product detail page")
	case pageCategory:
		d.add(domain.TypeViewItemList, "", pattern, "Product list viewed", "Category or collection page")
	case pageBooking:
		d.add(domain.TypeBookAppointment, "", pattern, "Booking page reached", "Booking or appointment page")
	case pagePricing:
		d.add(domain.TypePageView, "", pattern, "Pricing page viewed", "Pricing views signal purchase intent")
	case pageBlog:
		d.addWithConfig(domain.TypeScrollDepth, "", pattern, "Article scroll depth", "Long-form content engagement", scrollConfig)
	}

	for _, el := range page.Elements {
		switch el.Kind {
		case domain.KindForm:
			t := d.formType(el.FormKind)
			d.add(t, el.Selector, pattern, formName(t, path), fmt.Sprintf("%s form on %s", formLabel(el.FormKind), path))
		case domain.KindButton:
			t := ctaType(el.Text)
			name := fmt.Sprintf("%q click", el.Text)
			d.add(t, el.Selector, pattern, name, fmt.Sprintf("Call to action %q on %s", el.Text, path))
		case domain.KindTelLink:
			d.add(domain.TypePhoneCallClick, el.Selector, "", "Phone number click", "Click-to-call links")
		case domain.KindMailLink:
			d.add(domain.TypeEmailClick, el.Selector, "", "Email link click", "mailto links")
		case domain.KindVideo:
			d.add(domain.TypeVideoPlay, el.Selector, "", "Video play", "Embedded video on "+path)
		case domain.KindDownload:
			d.add(domain.TypeFileDownload, el.Selector, "", "File download", "Downloadable file linked on "+path)
		case domain.KindSocial:
			d.add(domain.TypeSocialShare, el.Selector, "", "Social link click", "Social profile or share links")
		}
	}

	if page.PageType == pageHome && len(d.recs) == 0 {
		d.add(domain.TypePageView, "", pattern, "Home page viewed", "Baseline page view")
	}
	return d.recs
}

type deriver struct {
	page  *domain.ScanPage
	niche domain.Niche
	seen  map[string]bool
	recs  []*domain.Recommendation
}

func (d *deriver) add(t domain.TrackingType, selector, pattern, name, rationale string) {
	d.addWithConfig(t, selector, pattern, name, rationale, nil)
}

func (d *deriver) addWithConfig(t domain.TrackingType, selector, pattern, name, rationale string, config json.RawMessage) {
	// site-wide link trackings do not need the page pattern and dedupe on selector alone
	key := string(t) + "|" + selector
	if d.seen[key] {
		return
	}
	d.seen[key] = true
	if domain.RequiresSelector(t) && selector == "" {
		return
	}
	if len(name) > 120 {
		name = name[:120]
	}
	d.recs = append(d.recs, &domain.Recommendation{
		ScanID:       d.page.ScanID,
		TenantID:     d.page.TenantID,
		PageURL:      d.page.URL,
		Type:         t,
		Severity:     SeverityFor(t, d.niche),
		Status:       domain.RecommendationPending,
		Name:         name,
		Selector:     selector,
		URLPattern:   pattern,
		Config:       config,
		GA4EventName: domain.DefaultGA4EventName(t),
		Destinations: DestinationsFor(t),
		Rationale:    rationale,
	})
}

// formType maps a form's purpose to a tracking type; generic forms count as leads on
// lead-driven sites
func (d *deriver) formType(kind string) domain.TrackingType {
	switch kind {
	case "login":
		return domain.TypeLogin
	case "signup":
		return domain.TypeSignUp
	case "search":
		return domain.TypeSearch
	case "newsletter":
		return domain.TypeNewsletterSignup
	case "contact":
		if d.niche == domain.NicheLeadGen {
			return domain.TypeRequestQuote
		}
		return domain.TypeContactForm
	}
	switch d.niche {
	case domain.NicheLeadGen, domain.NicheLocalServices, domain.NicheRealEstate, domain.NicheHealthcare, domain.NicheEducation:
		return domain.TypeGenerateLead
	}
	return domain.TypeFormSubmit
}

func ctaType(text string) domain.TrackingType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "add to cart"), strings.Contains(lower, "add to bag"):
		return domain.TypeAddToCart
	case strings.Contains(lower, "checkout"), strings.Contains(lower, "buy now"), strings.Contains(lower, "order now"):
		return domain.TypeBeginCheckout
	case strings.Contains(lower, "book"), strings.Contains(lower, "schedule"), strings.Contains(lower, "appointment"):
		return domain.TypeBookAppointment
	case strings.Contains(lower, "quote"):
		return domain.TypeRequestQuote
	case strings.Contains(lower, "chat"):
		return domain.TypeChatStart
	}
	return domain.TypeButtonClick
}

func formLabel(kind string) string {
	if kind == "" {
		return "Generic"
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

func formName(t domain.TrackingType, path string) string {
	switch t {
	case domain.TypeLogin:
		return "Login"
	case domain.TypeSignUp:
		return "Sign up"
	case domain.TypeSearch:
		return "Site search"
	case domain.TypeNewsletterSignup:
		return "Newsletter signup"
	}
	return "Form submit on " + path
}

func pagePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// DestinationsFor suggests Ads alongside GA4 for conversion-class types
func DestinationsFor(t domain.TrackingType) domain.Destinations {
	if domain.IsConversion(t) {
		return domain.Destinations{domain.DestinationBoth}
	}
	return domain.Destinations{domain.DestinationGA4}
}
