package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		t        domain.TrackingType
		niche    domain.Niche
		expected domain.Severity
	}{
		{domain.TypePurchase, domain.NicheEcommerce, domain.SeverityCritical},
		{domain.TypePurchase, domain.NicheSaaS, domain.SeverityImportant},
		{domain.TypeViewItem, domain.NicheEcommerce, domain.SeverityImportant},
		{domain.TypeViewItem, domain.NicheContent, domain.SeverityOptional},
		{domain.TypeSignUp, domain.NicheSaaS, domain.SeverityCritical},
		{domain.TypeGenerateLead, domain.NicheLeadGen, domain.SeverityCritical},
		{domain.TypeGenerateLead, domain.NicheEcommerce, domain.SeverityImportant},
		{domain.TypeBookAppointment, domain.NicheHealthcare, domain.SeverityCritical},
		{domain.TypePhoneCallClick, domain.NicheLocalServices, domain.SeverityCritical},
		{domain.TypePhoneCallClick, domain.NicheSaaS, domain.SeverityRecommended},
		{domain.TypeNewsletterSignup, domain.NicheContent, domain.SeverityCritical},
		{domain.TypeScrollDepth, domain.NicheContent, domain.SeverityImportant},
		{domain.TypeScrollDepth, domain.NicheEcommerce, domain.SeverityOptional},
		{domain.TypeButtonClick, domain.NicheNonprofit, domain.SeverityImportant},
		{domain.TypeSocialShare, domain.NicheOther, domain.SeverityOptional},
	}
	for _, tt := range tests {
		t.Run(string(tt.t)+"_"+string(tt.niche), func(t *testing.T) {
			assert.Equal(t, tt.expected, SeverityFor(tt.t, tt.niche))
		})
	}
}

func TestSeverityForCoversEveryType(t *testing.T) {
	for _, tt := range domain.AllTrackingTypes {
		for _, n := range domain.AllNiches {
			assert.NotZero(t, SeverityFor(tt, n).Weight(), "%s/%s", tt, n)
		}
	}
}

func TestReadiness(t *testing.T) {
	t.Run("no gaps", func(t *testing.T) {
		score, narrative := Readiness(map[domain.Severity]int{}, 12)
		assert.Equal(t, 100, score)
		assert.Equal(t, "No tracking opportunities were found across 12 page(s).", narrative)
	})

	t.Run("good", func(t *testing.T) {
		score, narrative := Readiness(map[domain.Severity]int{
			domain.SeverityRecommended: 3,
			domain.SeverityOptional:    4,
		}, 5)
		assert.Equal(t, 90, score)
		assert.Contains(t, narrative, "readiness is good")
		assert.Contains(t, narrative, "Breakdown: 3 recommended, 4 optional.")
	})

	t.Run("fair", func(t *testing.T) {
		score, narrative := Readiness(map[domain.Severity]int{
			domain.SeverityCritical:  2,
			domain.SeverityImportant: 2,
		}, 8)
		assert.Equal(t, 64, score)
		assert.Contains(t, narrative, "readiness is fair")
		assert.Contains(t, narrative, "Breakdown: 2 critical, 2 important.")
	})

	t.Run("clamped at zero", func(t *testing.T) {
		score, narrative := Readiness(map[domain.Severity]int{domain.SeverityCritical: 10}, 20)
		assert.Equal(t, 0, score)
		assert.Contains(t, narrative, "readiness is low")
	})
}
