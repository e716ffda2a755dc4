package domain

import (
	"encoding/json"
	"time"
)

// TrackingStatus is the lifecycle state of a tracking.
type TrackingStatus string

const (
	TrackingPending  TrackingStatus = "PENDING"
	TrackingCreating TrackingStatus = "CREATING"
	TrackingActive   TrackingStatus = "ACTIVE"
	TrackingFailed   TrackingStatus = "FAILED"
	TrackingPaused   TrackingStatus = "PAUSED"
	TrackingSyncing  TrackingStatus = "SYNCING"
)

// InFlight reports whether a sync job currently owns the tracking.
func (s TrackingStatus) InFlight() bool {
	return s == TrackingCreating || s == TrackingSyncing
}

func (s TrackingStatus) Valid() bool {
	switch s {
	case TrackingPending, TrackingCreating, TrackingActive, TrackingFailed, TrackingPaused, TrackingSyncing:
		return true
	}
	return false
}

// Destination is where a tracking's conversions are reported.
type Destination string

const (
	DestinationGA4       Destination = "GA4"
	DestinationGoogleAds Destination = "GOOGLE_ADS"
	DestinationBoth      Destination = "BOTH"
)

func (d Destination) Valid() bool {
	switch d {
	case DestinationGA4, DestinationGoogleAds, DestinationBoth:
		return true
	}
	return false
}

// Destinations is the set of destinations selected for a tracking.
type Destinations []Destination

// NeedsGA4 reports whether a GA4 event tag has to exist in GTM.
func (d Destinations) NeedsGA4() bool {
	for _, dest := range d {
		if dest == DestinationGA4 || dest == DestinationBoth {
			return true
		}
	}
	return false
}

// NeedsAds reports whether a Google Ads conversion action has to exist.
func (d Destinations) NeedsAds() bool {
	for _, dest := range d {
		if dest == DestinationGoogleAds || dest == DestinationBoth {
			return true
		}
	}
	return false
}

// Strings returns the destinations as plain strings for storage.
func (d Destinations) Strings() []string {
	out := make([]string, len(d))
	for i, dest := range d {
		out[i] = string(dest)
	}
	return out
}

// ParseDestinations converts stored strings back to destinations, dropping unknown values.
func ParseDestinations(values []string) Destinations {
	out := make(Destinations, 0, len(values))
	for _, v := range values {
		if d := Destination(v); d.Valid() {
			out = append(out, d)
		}
	}
	return out
}

// SyncState is the outcome of the most recent sync for one destination system.
type SyncState string

const (
	SyncPending     SyncState = "PENDING"
	SyncSucceeded   SyncState = "SUCCEEDED"
	SyncFailed      SyncState = "FAILED"
	SyncNotRequired SyncState = "NOT_REQUIRED"
)

func (s SyncState) Terminal() bool {
	return s == SyncSucceeded || s == SyncFailed || s == SyncNotRequired
}

// HealthStatus is the result of the last remote verification.
type HealthStatus string

const (
	HealthUnchecked         HealthStatus = "UNCHECKED"
	HealthHealthy           HealthStatus = "HEALTHY"
	HealthMissingTrigger    HealthStatus = "MISSING_TRIGGER"
	HealthMissingTag        HealthStatus = "MISSING_TAG"
	HealthMissingConversion HealthStatus = "MISSING_CONVERSION"
	HealthWorkspaceGone     HealthStatus = "WORKSPACE_GONE"
)

// Tracking is one user-declared tracking intent and its remote identifiers.
type Tracking struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	CustomerID      string          `json:"customer_id"`
	Name            string          `json:"name"`
	Type            TrackingType    `json:"type"`
	Destinations    Destinations    `json:"destinations"`
	Selector        string          `json:"selector,omitempty"`
	URLPattern      string          `json:"url_pattern,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
	GA4EventName    string          `json:"ga4_event_name,omitempty"`
	GA4Parameters   json.RawMessage `json:"ga4_parameters,omitempty"`
	ConversionValue *float64        `json:"conversion_value,omitempty"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	Status          TrackingStatus  `json:"status"`

	GTMTriggerID          *string `json:"gtm_trigger_id"`
	GTMTagIDGA4           *string `json:"gtm_tag_id_ga4"`
	GTMTagIDAds           *string `json:"gtm_tag_id_ads"`
	AdsConversionActionID *string `json:"conversion_action_id"`
	AdsConversionLabel    *string `json:"conversion_label"`

	GTMSyncState SyncState `json:"gtm_sync_state"`
	AdsSyncState SyncState `json:"ads_sync_state"`

	LastError    *string    `json:"last_error"`
	SyncAttempts int        `json:"sync_attempts"`
	LastSyncAt   *time.Time `json:"last_sync_at"`

	HealthStatus    HealthStatus    `json:"health_status"`
	HealthCheckedAt *time.Time      `json:"health_checked_at"`
	HealthDetails   json.RawMessage `json:"health_details,omitempty"`

	RecommendationID *string   `json:"recommendation_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasGTMIdentifiers reports whether any GTM object was created for the tracking.
func (t *Tracking) HasGTMIdentifiers() bool {
	return nonEmpty(t.GTMTriggerID) || nonEmpty(t.GTMTagIDGA4) || nonEmpty(t.GTMTagIDAds)
}

// HasAdsIdentifiers reports whether a Google Ads conversion action was created.
func (t *Tracking) HasAdsIdentifiers() bool {
	return nonEmpty(t.AdsConversionActionID) || nonEmpty(t.AdsConversionLabel)
}

// EventName is the GA4 event name sent for this tracking.
func (t *Tracking) EventName() string {
	if t.GA4EventName != "" {
		return t.GA4EventName
	}
	return DefaultGA4EventName(t.Type)
}

// TrackingConfig holds the optional, type-specific settings kept in the config column.
type TrackingConfig struct {
	EventName        string   `json:"eventName,omitempty"`
	MarkAsKeyEvent   bool     `json:"markAsKeyEvent,omitempty"`
	ScrollThresholds []int    `json:"scrollThresholds,omitempty"`
	TimerIntervalMs  int      `json:"timerIntervalMs,omitempty"`
	TimerLimit       int      `json:"timerLimit,omitempty"`
	VisibilityRatio  int      `json:"visibilityRatio,omitempty"`
	FileExtensions   []string `json:"fileExtensions,omitempty"`
}

// ParsedConfig decodes the stored config; malformed JSON yields the zero config.
func (t *Tracking) ParsedConfig() TrackingConfig {
	var cfg TrackingConfig
	if len(t.Config) > 0 {
		_ = json.Unmarshal(t.Config, &cfg)
	}
	return cfg
}

// ResolveStatus derives the overall status from the per-destination sync states.
// The current status is kept while any required destination is still pending.
func ResolveStatus(current TrackingStatus, gtm, ads SyncState) TrackingStatus {
	if !gtm.Terminal() || !ads.Terminal() {
		return current
	}
	if gtm == SyncFailed || ads == SyncFailed {
		return TrackingFailed
	}
	return TrackingActive
}

// InitialAdsState is the ads sync state for a freshly enqueued sync.
func InitialAdsState(d Destinations) SyncState {
	if d.NeedsAds() {
		return SyncPending
	}
	return SyncNotRequired
}

func nonEmpty(s *string) bool { return s != nil && *s != "" }
