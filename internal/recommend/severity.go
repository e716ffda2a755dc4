package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// SeverityFor ranks a tracking type for a site's niche. The niche's primary outcome is
// CRITICAL, supporting funnel steps IMPORTANT.
func SeverityFor(t domain.TrackingType, n domain.Niche) domain.Severity {
	switch t {
	case domain.TypePurchase, domain.TypeBeginCheckout, domain.TypeAddToCart,
		domain.TypeAddShippingInfo, domain.TypeAddPaymentInfo:
		if n == domain.NicheEcommerce {
			return domain.SeverityCritical
		}
		return domain.SeverityImportant

	case domain.TypeViewItem, domain.TypeViewItemList, domain.TypeRemoveFromCart:
		if n == domain.NicheEcommerce {
			return domain.SeverityImportant
		}
		return domain.SeverityOptional

	case domain.TypeSignUp:
		switch n {
		case domain.NicheSaaS, domain.NicheEducation:
			return domain.SeverityCritical
		}
		return domain.SeverityImportant

	case domain.TypeGenerateLead, domain.TypeRequestQuote, domain.TypeContactForm:
		switch n {
		case domain.NicheLeadGen, domain.NicheLocalServices, domain.NicheRealEstate, domain.NicheHealthcare:
			return domain.SeverityCritical
		}
		return domain.SeverityImportant

	case domain.TypeBookAppointment:
		switch n {
		case domain.NicheLocalServices, domain.NicheHealthcare, domain.NicheHospitality:
			return domain.SeverityCritical
		}
		return domain.SeverityImportant

	case domain.TypePhoneCallClick:
		switch n {
		case domain.NicheLocalServices, domain.NicheHealthcare, domain.NicheRealEstate, domain.NicheHospitality:
			return domain.SeverityCritical
		}
		return domain.SeverityRecommended

	case domain.TypeNewsletterSignup:
		switch n {
		case domain.NicheContent, domain.NicheNonprofit:
			return domain.SeverityCritical
		}
		return domain.SeverityRecommended

	case domain.TypeFormSubmit, domain.TypeChatStart, domain.TypeEmailClick, domain.TypeFileDownload:
		return domain.SeverityRecommended

	case domain.TypeScrollDepth, domain.TypeTimeOnPage, domain.TypeVideoPlay, domain.TypeVideoComplete:
		if n == domain.NicheContent {
			return domain.SeverityImportant
		}
		return domain.SeverityOptional

	case domain.TypePageView:
		if n == domain.NicheSaaS {
			return domain.SeverityRecommended
		}
		return domain.SeverityOptional

	case domain.TypeButtonClick:
		if n == domain.NicheNonprofit {
			return domain.SeverityImportant
		}
		return domain.SeverityRecommended

	case domain.TypeLogin, domain.TypeSearch, domain.TypeLinkClick, domain.TypeOutboundLink,
		domain.TypeSocialShare, domain.TypeElementVisibility, domain.TypeCustomEvent:
		return domain.SeverityOptional
	}
	return domain.SeverityOptional
}

// Readiness scores how well a site could be measured today on a 0-100 scale. Every open
// critical or important gap costs points; a site with no gaps at all scores 100.
func Readiness(counts map[domain.Severity]int, pages int) (int, string) {
	penalty := counts[domain.SeverityCritical]*12 +
		counts[domain.SeverityImportant]*6 +
		counts[domain.SeverityRecommended]*2 +
		counts[domain.SeverityOptional]*1
	score := 100 - penalty
	if score < 0 {
		score = 0
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	var b strings.Builder
	switch {
	case total == 0:
		fmt.Fprintf(&b, "No tracking opportunities were found across %d page(s).", pages)
	case score >= 80:
		fmt.Fprintf(&b, "Tracking readiness is good: %d opportunities across %d page(s).", total, pages)
	case score >= 50:
		fmt.Fprintf(&b, "Tracking readiness is fair: %d opportunities across %d page(s) need attention.", total, pages)
	default:
		fmt.Fprintf(&b, "Tracking readiness is low: %d opportunities across %d page(s) are not measured.", total, pages)
	}

	severities := make([]domain.Severity, 0, len(counts))
	for s, n := range counts {
		if n > 0 {
			severities = append(severities, s)
		}
	}
	sort.Slice(severities, func(i, j int) bool { return severities[i].Weight() > severities[j].Weight() })
	parts := make([]string, 0, len(severities))
	for _, s := range severities {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(string(s))))
	}
	if len(parts) > 0 {
		b.WriteString(" Breakdown: " + strings.Join(parts, ", ") + ".")
	}
	return score, b.String()
}
