package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

func byType(recs []*domain.Recommendation) map[domain.TrackingType]*domain.Recommendation {
	out := make(map[domain.TrackingType]*domain.Recommendation, len(recs))
	for _, r := range recs {
		out[r.Type] = r
	}
	return out
}

func TestDeriveCheckoutPage(t *testing.T) {
	page := &domain.ScanPage{
		ScanID:   "scan-1",
		TenantID: "tenant-1",
		URL:      "https://shop.example.com/checkout",
		PageType: "checkout",
		Elements: []domain.Element{
			{Kind: domain.KindForm, Selector: "#payment", FormKind: "generic"},
			{Kind: domain.KindTelLink, Selector: `a[href^="tel:"]`},
		},
	}

	recs := Derive(page, domain.NicheEcommerce)
	got := byType(recs)
	require.Len(t, recs, 3)

	begin := got[domain.TypeBeginCheckout]
	require.NotNil(t, begin)
	assert.Equal(t, domain.SeverityCritical, begin.Severity)
	assert.Equal(t, domain.Destinations{domain.DestinationBoth}, begin.Destinations)
	assert.Equal(t, "^/checkout", begin.URLPattern)
	assert.Equal(t, "begin_checkout", begin.GA4EventName)
	assert.Equal(t, domain.RecommendationPending, begin.Status)
	assert.Equal(t, "scan-1", begin.ScanID)

	form := got[domain.TypeFormSubmit]
	require.NotNil(t, form)
	assert.Equal(t, "#payment", form.Selector)
	assert.Equal(t, domain.Destinations{domain.DestinationGA4}, form.Destinations)

	phone := got[domain.TypePhoneCallClick]
	require.NotNil(t, phone)
	assert.Empty(t, phone.URLPattern, "link trackings are site-wide")
	assert.Equal(t, domain.SeverityRecommended, phone.Severity)
}

func TestDeriveFormKinds(t *testing.T) {
	tests := []struct {
		formKind string
		niche    domain.Niche
		expected domain.TrackingType
	}{
		{"login", domain.NicheSaaS, domain.TypeLogin},
		{"signup", domain.NicheSaaS, domain.TypeSignUp},
		{"search", domain.NicheContent, domain.TypeSearch},
		{"newsletter", domain.NicheContent, domain.TypeNewsletterSignup},
		{"contact", domain.NicheSaaS, domain.TypeContactForm},
		{"contact", domain.NicheLeadGen, domain.TypeRequestQuote},
		{"generic", domain.NicheLocalServices, domain.TypeGenerateLead},
		{"generic", domain.NicheEcommerce, domain.TypeFormSubmit},
	}

	for _, tt := range tests {
		t.Run(tt.formKind+"_"+string(tt.niche), func(t *testing.T) {
			page := &domain.ScanPage{
				URL:      "https://example.com/contact",
				PageType: "contact",
				Elements: []domain.Element{{Kind: domain.KindForm, Selector: "form.main", FormKind: tt.formKind}},
			}
			recs := Derive(page, tt.niche)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.expected, recs[0].Type)
		})
	}
}

func TestDeriveThankYouDependsOnNiche(t *testing.T) {
	page := &domain.ScanPage{URL: "https://example.com/thank-you", PageType: "thank_you"}

	assert.Equal(t, domain.TypePurchase, Derive(page, domain.NicheEcommerce)[0].Type)
	assert.Equal(t, domain.TypeGenerateLead, Derive(page, domain.NicheLeadGen)[0].Type)
}

func TestDeriveCTAs(t *testing.T) {
	tests := []struct {
		text     string
		expected domain.TrackingType
	}{
		{"Add to cart", domain.TypeAddToCart},
		{"Buy now", domain.TypeBeginCheckout},
		{"Book a table", domain.TypeBookAppointment},
		{"Get a quote", domain.TypeRequestQuote},
		{"Chat with us", domain.TypeChatStart},
		{"Start free trial", domain.TypeButtonClick},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, ctaType(tt.text))
		})
	}
}

func TestDeriveBlogGetsScrollDepthConfig(t *testing.T) {
	recs := Derive(&domain.ScanPage{URL: "https://example.com/blog/post", PageType: "blog"}, domain.NicheContent)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TypeScrollDepth, recs[0].Type)
	assert.JSONEq(t, `{"scrollThresholds":[25,50,75,90]}`, string(recs[0].Config))
	assert.Equal(t, domain.SeverityImportant, recs[0].Severity)
}

func TestDeriveHomeFallsBackToPageView(t *testing.T) {
	recs := Derive(&domain.ScanPage{URL: "https://example.com/", PageType: "home"}, domain.NicheOther)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TypePageView, recs[0].Type)
	assert.Equal(t, "^/", recs[0].URLPattern)
}

func TestDeriveSkipsSelectorlessClickTypes(t *testing.T) {
	page := &domain.ScanPage{
		URL:      "https://example.com/about",
		PageType: "about",
		Elements: []domain.Element{{Kind: domain.KindButton, Text: "Learn more"}},
	}
	assert.Empty(t, Derive(page, domain.NicheOther))
}

func TestDeriveIsDeterministic(t *testing.T) {
	page := &domain.ScanPage{
		URL:      "https://example.com/products/a",
		PageType: "product",
		Elements: []domain.Element{
			{Kind: domain.KindButton, Selector: "#add", Text: "Add to cart"},
			{Kind: domain.KindVideo, Selector: `iframe[src*="youtube.com"]`},
			{Kind: domain.KindDownload, Selector: `a[href$=".pdf"]`},
			{Kind: domain.KindSocial, Selector: `a[href*="instagram.com"]`},
			{Kind: domain.KindMailLink, Selector: `a[href^="mailto:"]`},
		},
	}
	first := Derive(page, domain.NicheEcommerce)
	require.Len(t, first, 6)
	assert.Equal(t, first, Derive(page, domain.NicheEcommerce))
}
