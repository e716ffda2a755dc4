package tracking

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

const maxNameLength = 255

var (
	ga4EventNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,39}$`)
	currencyPattern     = regexp.MustCompile(`^[A-Z]{3}$`)
)

// CreateInput is a tracking definition submitted by a user
type CreateInput struct {
	CustomerID       string               `json:"customer_id"`
	Name             string               `json:"name"`
	Type             domain.TrackingType  `json:"type"`
	Destinations     []domain.Destination `json:"destinations"`
	Selector         string               `json:"selector"`
	URLPattern       string               `json:"url_pattern"`
	Config           json.RawMessage      `json:"config"`
	GA4EventName     string               `json:"ga4_event_name"`
	GA4Parameters    json.RawMessage      `json:"ga4_parameters"`
	ConversionValue  *float64             `json:"conversion_value"`
	CurrencyCode     string               `json:"currency_code"`
	RecommendationID *string              `json:"-"`
}

// UpdateInput carries the fields a user wants to change; nil fields are left alone
type UpdateInput struct {
	Name            *string              `json:"name"`
	Destinations    []domain.Destination `json:"destinations"`
	Selector        *string              `json:"selector"`
	URLPattern      *string              `json:"url_pattern"`
	Config          json.RawMessage      `json:"config"`
	GA4EventName    *string              `json:"ga4_event_name"`
	GA4Parameters   json.RawMessage      `json:"ga4_parameters"`
	ConversionValue *float64             `json:"conversion_value"`
	CurrencyCode    *string              `json:"currency_code"`
}

// Validate checks the definition before anything is stored or sent to Google
func (in *CreateInput) Validate() error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return domain.Invalid("customer_id", "is required")
	}
	t := in.tracking()
	return validateDefinition(t)
}

func (in *CreateInput) tracking() *domain.Tracking {
	return &domain.Tracking{
		CustomerID:       in.CustomerID,
		Name:             strings.TrimSpace(in.Name),
		Type:             in.Type,
		Destinations:     dedupeDestinations(in.Destinations),
		Selector:         strings.TrimSpace(in.Selector),
		URLPattern:       strings.TrimSpace(in.URLPattern),
		Config:           in.Config,
		GA4EventName:     strings.TrimSpace(in.GA4EventName),
		GA4Parameters:    in.GA4Parameters,
		ConversionValue:  in.ConversionValue,
		CurrencyCode:     strings.ToUpper(strings.TrimSpace(in.CurrencyCode)),
		RecommendationID: in.RecommendationID,
	}
}

// apply writes the changed fields onto t and reports whether anything that lives in Google changed
func (in *UpdateInput) apply(t *domain.Tracking) (changed bool) {
	if in.Name != nil && strings.TrimSpace(*in.Name) != t.Name {
		t.Name = strings.TrimSpace(*in.Name)
		changed = true
	}
	if in.Destinations != nil {
		next := dedupeDestinations(in.Destinations)
		if !sameDestinations(next, t.Destinations) {
			t.Destinations = next
			changed = true
		}
	}
	if in.Selector != nil && strings.TrimSpace(*in.Selector) != t.Selector {
		t.Selector = strings.TrimSpace(*in.Selector)
		changed = true
	}
	if in.URLPattern != nil && strings.TrimSpace(*in.URLPattern) != t.URLPattern {
		t.URLPattern = strings.TrimSpace(*in.URLPattern)
		changed = true
	}
	if in.Config != nil && !jsonEqual(in.Config, t.Config) {
		t.Config = in.Config
		changed = true
	}
	if in.GA4EventName != nil && strings.TrimSpace(*in.GA4EventName) != t.GA4EventName {
		t.GA4EventName = strings.TrimSpace(*in.GA4EventName)
		changed = true
	}
	if in.GA4Parameters != nil && !jsonEqual(in.GA4Parameters, t.GA4Parameters) {
		t.GA4Parameters = in.GA4Parameters
		changed = true
	}
	if in.ConversionValue != nil && (t.ConversionValue == nil || *t.ConversionValue != *in.ConversionValue) {
		v := *in.ConversionValue
		t.ConversionValue = &v
		changed = true
	}
	if in.CurrencyCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*in.CurrencyCode))
		if code != t.CurrencyCode {
			t.CurrencyCode = code
			changed = true
		}
	}
	return changed
}

func validateDefinition(t *domain.Tracking) error {
	if t.Name == "" {
		return domain.Invalid("name", "is required")
	}
	if len(t.Name) > maxNameLength {
		return domain.Invalid("name", "must be at most %d characters", maxNameLength)
	}
	if !t.Type.Valid() {
		return domain.Invalid("type", "unknown tracking type %q", t.Type)
	}
	if len(t.Destinations) == 0 {
		return domain.Invalid("destinations", "at least one destination is required")
	}
	for _, d := range t.Destinations {
		if !d.Valid() {
			return domain.Invalid("destinations", "unknown destination %q", d)
		}
	}
	if domain.RequiresSelector(t.Type) && t.Selector == "" {
		return domain.Invalid("selector", "is required for %s trackings", t.Type)
	}
	if t.URLPattern != "" {
		if _, err := regexp.Compile(t.URLPattern); err != nil {
			return domain.Invalid("url_pattern", "is not a valid regular expression")
		}
	}
	if err := validateObject("config", t.Config); err != nil {
		return err
	}
	if err := validateObject("ga4_parameters", t.GA4Parameters); err != nil {
		return err
	}
	if t.GA4EventName != "" && !ga4EventNamePattern.MatchString(t.GA4EventName) {
		return domain.Invalid("ga4_event_name", "must start with a letter and contain only letters, digits and underscores (max 40)")
	}
	if t.ConversionValue != nil && *t.ConversionValue < 0 {
		return domain.Invalid("conversion_value", "must not be negative")
	}
	if t.CurrencyCode != "" && !currencyPattern.MatchString(t.CurrencyCode) {
		return domain.Invalid("currency_code", "must be a three-letter ISO 4217 code")
	}
	return nil
}

func validateObject(field string, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.Invalid(field, "must be a JSON object")
	}
	return nil
}

// dedupeDestinations collapses GA4 + GOOGLE_ADS into BOTH and drops repeats
func dedupeDestinations(in []domain.Destination) domain.Destinations {
	seen := make(map[domain.Destination]bool, len(in))
	out := make(domain.Destinations, 0, len(in))
	for _, d := range in {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if seen[domain.DestinationBoth] || (seen[domain.DestinationGA4] && seen[domain.DestinationGoogleAds]) {
		filtered := domain.Destinations{domain.DestinationBoth}
		for _, d := range out {
			if !d.Valid() {
				filtered = append(filtered, d)
			}
		}
		return filtered
	}
	return out
}

func sameDestinations(a, b domain.Destinations) bool {
	return a.NeedsGA4() == b.NeedsGA4() && a.NeedsAds() == b.NeedsAds() && len(a) == len(b)
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if len(a) == 0 {
		a = json.RawMessage("null")
	}
	if len(b) == 0 {
		b = json.RawMessage("null")
	}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
