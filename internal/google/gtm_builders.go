package google

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

// GTM tag types
const (
	TagTypeGA4Event         = "gaawe"
	TagTypeAdsConversion    = "awct"
	TagTypeGoogleTag        = "googtag"
	TagTypeConversionLinker = "gclidw"
)

// AllPagesTriggerID is GTM's built-in "All Pages" trigger
const AllPagesTriggerID = "2147479553"

var essentialBuiltInVariables = []string{
	"pageUrl", "pagePath", "pageHostname", "referrer", "event",
	"clickElement", "clickClasses", "clickId", "clickTarget", "clickUrl", "clickText",
	"formElement", "formClasses", "formId", "formTarget", "formUrl", "formText",
	"videoProvider", "videoUrl", "videoTitle", "videoPercent", "videoStatus",
	"scrollDepthThreshold", "scrollDepthUnits", "scrollDepthDirection",
}

func template(key, value string) *tagmanager.Parameter {
	return &tagmanager.Parameter{Type: "template", Key: key, Value: value}
}

func boolean(key string, value bool) *tagmanager.Parameter {
	return &tagmanager.Parameter{Type: "boolean", Key: key, Value: strconv.FormatBool(value)}
}

func condition(kind, variable, value string) *tagmanager.Condition {
	return &tagmanager.Condition{
		Type: kind,
		Parameter: []*tagmanager.Parameter{
			template("arg0", variable),
			template("arg1", value),
		},
	}
}

// objectName is the display name used for every GTM object created for a tracking
func objectName(t *domain.Tracking, suffix string) string {
	return fmt.Sprintf("OCT - %s - %s", t.Name, suffix)
}

// BuildTrigger converts a tracking into the GTM trigger that fires it
func BuildTrigger(t *domain.Tracking) *tagmanager.Trigger {
	kind := domain.TriggerKindFor(t.Type)
	trigger := &tagmanager.Trigger{
		Name: objectName(t, "Trigger"),
		Type: string(kind),
	}
	if t.GTMTriggerID != nil {
		trigger.TriggerId = *t.GTMTriggerID
	}

	cfg := t.ParsedConfig()
	var filters []*tagmanager.Condition
	if t.URLPattern != "" {
		filters = append(filters, condition("matchRegex", "{{Page URL}}", t.URLPattern))
	}

	switch kind {
	case domain.TriggerClick:
		if t.Selector != "" {
			filters = append(filters, condition("cssSelector", "{{Click Element}}", t.Selector))
		}

	case domain.TriggerLinkClick:
		trigger.WaitForTags = boolean("", false)
		trigger.CheckValidation = boolean("", false)
		switch t.Type {
		case domain.TypePhoneCallClick:
			filters = append(filters, condition("startsWith", "{{Click URL}}", "tel:"))
		case domain.TypeEmailClick:
			filters = append(filters, condition("startsWith", "{{Click URL}}", "mailto:"))
		case domain.TypeFileDownload:
			filters = append(filters, condition("matchRegex", "{{Click URL}}", fileExtensionPattern(cfg.FileExtensions)))
		case domain.TypeOutboundLink:
			negated := condition("contains", "{{Click URL}}", "{{Page Hostname}}")
			negated.Parameter = append(negated.Parameter, boolean("negate", true))
			filters = append(filters, negated)
		}
		if t.Selector != "" {
			filters = append(filters, condition("cssSelector", "{{Click Element}}", t.Selector))
		}

	case domain.TriggerFormSubmission:
		trigger.WaitForTags = boolean("", false)
		trigger.CheckValidation = boolean("", true)
		if t.Selector != "" {
			filters = append(filters, condition("cssSelector", "{{Form Element}}", t.Selector))
		}

	case domain.TriggerPageview:

	case domain.TriggerElementVisibility:
		ratio := cfg.VisibilityRatio
		if ratio <= 0 {
			ratio = 50
		}
		trigger.Parameter = []*tagmanager.Parameter{
			template("selectorType", "CSS"),
			template("elementSelector", t.Selector),
			template("firingFrequency", "ONCE"),
			template("onScreenRatio", strconv.Itoa(ratio)),
		}

	case domain.TriggerScrollDepth:
		thresholds := cfg.ScrollThresholds
		if len(thresholds) == 0 {
			thresholds = []int{25, 50, 75, 90}
		}
		values := make([]string, len(thresholds))
		for i, v := range thresholds {
			values[i] = strconv.Itoa(v)
		}
		trigger.Parameter = []*tagmanager.Parameter{
			boolean("verticalThresholdOn", true),
			template("verticalThresholdUnits", "PERCENT"),
			template("verticalThresholdsPercent", strings.Join(values, ",")),
		}

	case domain.TriggerTimer:
		interval := cfg.TimerIntervalMs
		if interval <= 0 {
			interval = 30000
		}
		limit := cfg.TimerLimit
		if limit <= 0 {
			limit = 1
		}
		trigger.Interval = template("", strconv.Itoa(interval))
		trigger.Limit = template("", strconv.Itoa(limit))
		trigger.EventName = template("", "gtm.timer")

	case domain.TriggerYouTubeVideo:
		start := t.Type == domain.TypeVideoPlay
		trigger.Parameter = []*tagmanager.Parameter{
			boolean("captureStart", start),
			boolean("captureComplete", !start),
			boolean("captureProgress", false),
			boolean("fixMissingApi", true),
		}

	case domain.TriggerCustomEvent:
		eventName := cfg.EventName
		if eventName == "" {
			eventName = domain.DefaultGA4EventName(t.Type)
		}
		trigger.CustomEventFilter = []*tagmanager.Condition{
			condition("equals", "{{_event}}", eventName),
		}
	}

	if kind == domain.TriggerClick || kind == domain.TriggerLinkClick || kind == domain.TriggerFormSubmission {
		trigger.AutoEventFilter = filters
	} else {
		trigger.Filter = filters
	}
	return trigger
}

func fileExtensionPattern(exts []string) string {
	if len(exts) == 0 {
		exts = []string{"pdf", "docx?", "xlsx?", "pptx?", "zip", "csv", "txt"}
	}
	return `\.(` + strings.Join(exts, "|") + `)(\?.*)?$`
}

// GA4EventTag builds the GA4 event tag for a tracking
func GA4EventTag(t *domain.Tracking, triggerID, measurementID string) *tagmanager.Tag {
	params := []*tagmanager.Parameter{
		template("eventName", t.EventName()),
		template("measurementIdOverride", measurementID),
		boolean("sendEcommerceData", isEcommerce(t.Type)),
	}
	if rows := eventParameterRows(t.GA4Parameters); len(rows) > 0 {
		params = append(params, &tagmanager.Parameter{Type: "list", Key: "eventSettingsTable", List: rows})
	}
	if isEcommerce(t.Type) {
		params = append(params, template("getEcommerceDataFrom", "dataLayer"))
	}

	tag := &tagmanager.Tag{
		Name:            objectName(t, "GA4 Event"),
		Type:            TagTypeGA4Event,
		Parameter:       params,
		FiringTriggerId: []string{triggerID},
	}
	if t.GTMTagIDGA4 != nil {
		tag.TagId = *t.GTMTagIDGA4
	}
	return tag
}

// AdsConversionTag builds the Google Ads conversion tag that fires with the tracking's trigger
func AdsConversionTag(t *domain.Tracking, triggerID, conversionID, label string) *tagmanager.Tag {
	params := []*tagmanager.Parameter{
		template("conversionId", conversionID),
		template("conversionLabel", label),
	}
	if t.ConversionValue != nil {
		params = append(params, template("conversionValue", strconv.FormatFloat(*t.ConversionValue, 'f', -1, 64)))
	}
	if t.CurrencyCode != "" {
		params = append(params, template("currencyCode", t.CurrencyCode))
	}

	tag := &tagmanager.Tag{
		Name:            objectName(t, "Ads Conversion"),
		Type:            TagTypeAdsConversion,
		Parameter:       params,
		FiringTriggerId: []string{triggerID},
	}
	if t.GTMTagIDAds != nil {
		tag.TagId = *t.GTMTagIDAds
	}
	return tag
}

// GoogleTag is the GA4 configuration tag firing on all pages
func GoogleTag(measurementID string) *tagmanager.Tag {
	return &tagmanager.Tag{
		Name:            "OCT - Google Tag",
		Type:            TagTypeGoogleTag,
		Parameter:       []*tagmanager.Parameter{template("tagId", measurementID)},
		FiringTriggerId: []string{AllPagesTriggerID},
	}
}

// ConversionLinkerTag stores ad click ids in first-party cookies
func ConversionLinkerTag() *tagmanager.Tag {
	return &tagmanager.Tag{
		Name:            "OCT - Conversion Linker",
		Type:            TagTypeConversionLinker,
		FiringTriggerId: []string{AllPagesTriggerID},
	}
}

func eventParameterRows(raw json.RawMessage) []*tagmanager.Parameter {
	if len(raw) == 0 {
		return nil
	}
	var params map[string]string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]*tagmanager.Parameter, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, &tagmanager.Parameter{
			Type: "map",
			Map: []*tagmanager.Parameter{
				template("parameter", k),
				template("parameterValue", params[k]),
			},
		})
	}
	return rows
}

func isEcommerce(t domain.TrackingType) bool {
	switch t {
	case domain.TypeViewItem, domain.TypeViewItemList, domain.TypeAddToCart, domain.TypeRemoveFromCart,
		domain.TypeBeginCheckout, domain.TypeAddShippingInfo, domain.TypeAddPaymentInfo, domain.TypePurchase:
		return true
	}
	return false
}

var sendToPattern = regexp.MustCompile(`AW-(\d+)/([A-Za-z0-9_-]+)`)

// ParseSendTo extracts the conversion id and label from an Ads event snippet
func ParseSendTo(snippet string) (conversionID, label string, ok bool) {
	m := sendToPattern.FindStringSubmatch(snippet)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
