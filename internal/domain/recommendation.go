package domain

import (
	"encoding/json"
	"time"
)

// Severity ranks how much a recommendation matters for the site's measurement.
type Severity string

const (
	SeverityCritical    Severity = "CRITICAL"
	SeverityImportant   Severity = "IMPORTANT"
	SeverityRecommended Severity = "RECOMMENDED"
	SeverityOptional    Severity = "OPTIONAL"
)

// Weight is used for ordering and readiness scoring; higher is more severe.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityImportant:
		return 3
	case SeverityRecommended:
		return 2
	case SeverityOptional:
		return 1
	}
	return 0
}

// RecommendationStatus is the user's decision on a recommendation.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "PENDING"
	RecommendationAccepted RecommendationStatus = "ACCEPTED"
	RecommendationRejected RecommendationStatus = "REJECTED"
	RecommendationCreated  RecommendationStatus = "CREATED"
)

// Recommendation is a suggested tracking derived from a scanned page.
type Recommendation struct {
	ID           string               `json:"id"`
	ScanID       string               `json:"scan_id"`
	TenantID     string               `json:"-"`
	CustomerID   string               `json:"customer_id"`
	PageURL      string               `json:"page_url"`
	Type         TrackingType         `json:"type"`
	Severity     Severity             `json:"severity"`
	Status       RecommendationStatus `json:"status"`
	Name         string               `json:"name"`
	Selector     string               `json:"selector,omitempty"`
	URLPattern   string               `json:"url_pattern,omitempty"`
	Config       json.RawMessage      `json:"config,omitempty"`
	GA4EventName string               `json:"ga4_event_name"`
	Destinations Destinations         `json:"destinations"`
	Rationale    string               `json:"rationale"`
	TrackingID   *string              `json:"tracking_id,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
