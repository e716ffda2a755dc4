package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/tracking"
)

const maxBulkIDs = 200

// Store is the persistence the recommendation service needs
type Store interface {
	ListRecommendations(ctx context.Context, tenantID, scanID string, filter db.RecommendationFilter) ([]*domain.Recommendation, error)
	GetRecommendation(ctx context.Context, tenantID, id string) (*domain.Recommendation, error)
	SetRecommendationStatus(ctx context.Context, tenantID string, ids []string, from []domain.RecommendationStatus, to domain.RecommendationStatus) ([]string, error)
	MarkRecommendationCreated(ctx context.Context, tenantID, id, trackingID string) error
}

// TrackingCreator creates trackings; implemented by tracking.Service
type TrackingCreator interface {
	Create(ctx context.Context, tenantID string, in tracking.CreateInput) (*tracking.Result, error)
}

// Service handles user decisions on recommendations
type Service struct {
	store     Store
	trackings TrackingCreator
}

// NewService creates a Service
func NewService(store Store, trackings TrackingCreator) *Service {
	return &Service{store: store, trackings: trackings}
}

// BulkAcceptResult reports which recommendations moved to ACCEPTED
type BulkAcceptResult struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// BulkCreateError is one recommendation that could not become a tracking. TrackingID is set
// when the tracking was created but the recommendation could not be marked.
type BulkCreateError struct {
	RecommendationID string `json:"recommendationId"`
	TrackingID       string `json:"trackingId,omitempty"`
	Error            string `json:"error"`
}

// BulkCreateResult always satisfies Created + Failed == Total
type BulkCreateResult struct {
	Created     int               `json:"created"`
	Failed      int               `json:"failed"`
	TrackingIDs []string          `json:"trackingIds"`
	Errors      []BulkCreateError `json:"errors"`
	Total       int               `json:"total"`
}

// List returns a scan's recommendations, optionally filtered by status and severity
func (s *Service) List(ctx context.Context, tenantID, scanID string, filter db.RecommendationFilter) ([]*domain.Recommendation, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, domain.Invalid("status", "unknown status %q", filter.Status)
	}
	if filter.Severity != "" && filter.Severity.Weight() == 0 {
		return nil, domain.Invalid("severity", "unknown severity %q", filter.Severity)
	}
	return s.store.ListRecommendations(ctx, tenantID, scanID, filter)
}

// Accept marks a pending or rejected recommendation as accepted
func (s *Service) Accept(ctx context.Context, tenantID, id string) (*domain.Recommendation, error) {
	return s.transition(ctx, tenantID, id,
		[]domain.RecommendationStatus{domain.RecommendationPending, domain.RecommendationRejected},
		domain.RecommendationAccepted)
}

// Reject marks a pending or accepted recommendation as rejected
func (s *Service) Reject(ctx context.Context, tenantID, id string) (*domain.Recommendation, error) {
	return s.transition(ctx, tenantID, id,
		[]domain.RecommendationStatus{domain.RecommendationPending, domain.RecommendationAccepted},
		domain.RecommendationRejected)
}

func (s *Service) transition(ctx context.Context, tenantID, id string, from []domain.RecommendationStatus, to domain.RecommendationStatus) (*domain.Recommendation, error) {
	rec, err := s.store.GetRecommendation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.RecommendationCreated {
		return nil, domain.ErrRecommendationCreated
	}
	if rec.Status == to {
		return rec, nil
	}
	if _, err := s.store.SetRecommendationStatus(ctx, tenantID, []string{id}, from, to); err != nil {
		return nil, err
	}
	return s.store.GetRecommendation(ctx, tenantID, id)
}

// BulkAccept accepts every pending or rejected recommendation among ids
func (s *Service) BulkAccept(ctx context.Context, tenantID string, ids []string) (*BulkAcceptResult, error) {
	ids, err := checkIDs(ids, true)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.SetRecommendationStatus(ctx, tenantID, ids,
		[]domain.RecommendationStatus{domain.RecommendationPending, domain.RecommendationRejected},
		domain.RecommendationAccepted)
	if err != nil {
		return nil, err
	}
	if changed == nil {
		changed = []string{}
	}
	return &BulkAcceptResult{Accepted: len(changed), IDs: changed}, nil
}

// BulkCreateTrackings turns each recommendation into a tracking. Failures are collected
// per recommendation and never abort the rest; a repeated id fails as already created.
func (s *Service) BulkCreateTrackings(ctx context.Context, tenantID string, ids []string) (*BulkCreateResult, error) {
	ids, err := checkIDs(ids, false)
	if err != nil {
		return nil, err
	}

	result := &BulkCreateResult{Total: len(ids), TrackingIDs: []string{}, Errors: []BulkCreateError{}}
	for _, id := range ids {
		trackingID, err := s.createOne(ctx, tenantID, id)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkCreateError{RecommendationID: id, TrackingID: trackingID, Error: err.Error()})
			log.Warn().Err(err).Str("recommendation_id", id).Str("tracking_id", trackingID).Msg("Failed to create tracking from recommendation")
			continue
		}
		result.Created++
		result.TrackingIDs = append(result.TrackingIDs, trackingID)
	}

	log.Info().
		Int("created", result.Created).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("Bulk tracking creation finished")
	return result, nil
}

// createOne returns the tracking id whenever a tracking was created, even alongside an error
func (s *Service) createOne(ctx context.Context, tenantID, id string) (string, error) {
	rec, err := s.store.GetRecommendation(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	switch rec.Status {
	case domain.RecommendationCreated:
		return "", domain.ErrRecommendationCreated
	case domain.RecommendationRejected:
		return "", domain.Invalid("status", "recommendation was rejected")
	}

	recID := rec.ID
	res, err := s.trackings.Create(ctx, tenantID, tracking.CreateInput{
		CustomerID:       rec.CustomerID,
		Name:             rec.Name,
		Type:             rec.Type,
		Destinations:     rec.Destinations,
		Selector:         rec.Selector,
		URLPattern:       rec.URLPattern,
		Config:           rec.Config,
		GA4EventName:     rec.GA4EventName,
		RecommendationID: &recID,
	})
	if err != nil {
		return "", err
	}

	if err := s.store.MarkRecommendationCreated(ctx, tenantID, rec.ID, res.Tracking.ID); err != nil {
		// the tracking exists; a concurrent request marked the recommendation first
		if errors.Is(err, domain.ErrRecommendationCreated) {
			return res.Tracking.ID, nil
		}
		return res.Tracking.ID, fmt.Errorf("tracking %s created but recommendation not updated: %w", res.Tracking.ID, err)
	}
	return res.Tracking.ID, nil
}

func checkIDs(ids []string, dedupe bool) ([]string, error) {
	if len(ids) == 0 {
		return nil, domain.Invalid("ids", "at least one id is required")
	}
	if len(ids) > maxBulkIDs {
		return nil, domain.Invalid("ids", "at most %d ids per request", maxBulkIDs)
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, domain.Invalid("ids", "must not contain empty ids")
		}
		if dedupe && seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validStatus(s domain.RecommendationStatus) bool {
	switch s {
	case domain.RecommendationPending, domain.RecommendationAccepted,
		domain.RecommendationRejected, domain.RecommendationCreated:
		return true
	}
	return false
}
