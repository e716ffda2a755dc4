package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/rs/zerolog/log"
)

// HealthDetails records which remote objects were found by the last health check
type HealthDetails struct {
	Workspace        *bool  `json:"workspace,omitempty"`
	Trigger          *bool  `json:"trigger,omitempty"`
	GA4Tag           *bool  `json:"ga4_tag,omitempty"`
	AdsTag           *bool  `json:"ads_tag,omitempty"`
	ConversionAction *bool  `json:"conversion_action,omitempty"`
	Error            string `json:"error,omitempty"`
}

// CheckHealth re-reads the tracking's objects from GTM and Google Ads and stores the verdict.
// Drift such as a trigger deleted by hand in the GTM UI shows up here and nowhere else.
func (s *Syncer) CheckHealth(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	t, err := s.store.GetTracking(ctx, tenantID, trackingID)
	if err != nil {
		return nil, err
	}
	customer, err := s.store.GetCustomer(ctx, tenantID, t.CustomerID)
	if err != nil {
		return nil, err
	}
	clients, err := s.clients.ClientsFor(ctx, customer)
	if err != nil {
		return nil, err
	}

	status, details, err := s.verify(ctx, clients, customer, t)
	if err != nil {
		return nil, fmt.Errorf("failed to verify tracking: %w", err)
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode health details: %w", err)
	}
	updated, err := s.store.MutateTracking(ctx, tenantID, trackingID, func(row *domain.Tracking) error {
		now := s.now()
		row.HealthStatus = status
		row.HealthCheckedAt = &now
		row.HealthDetails = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("tracking_id", trackingID).Str("health", string(status)).Msg("Tracking health checked")
	realtime.PublishQuietly(ctx, s.publisher, realtime.Event{
		Type:       realtime.EventHealthChecked,
		CustomerID: updated.CustomerID,
		TrackingID: updated.ID,
		Data:       map[string]any{"health_status": status, "details": details},
		Timestamp:  s.now(),
	})
	return updated, nil
}

// verify classifies the remote state. The first missing object in the order workspace, trigger,
// tags, conversion action decides the status.
func (s *Syncer) verify(ctx context.Context, clients *google.Clients, customer *domain.Customer, t *domain.Tracking) (domain.HealthStatus, HealthDetails, error) {
	var details HealthDetails
	found := func(v bool) *bool { return &v }

	workspacePath := customer.WorkspacePath()
	if workspacePath == "" {
		details.Workspace = found(false)
		return domain.HealthWorkspaceGone, details, nil
	}
	ok, err := clients.GTM.WorkspaceExists(ctx, workspacePath)
	if err != nil {
		return "", details, err
	}
	details.Workspace = found(ok)
	if !ok {
		return domain.HealthWorkspaceGone, details, nil
	}

	status := domain.HealthHealthy
	downgrade := func(to domain.HealthStatus) {
		if status == domain.HealthHealthy {
			status = to
		}
	}

	if t.GTMTriggerID == nil {
		details.Trigger = found(false)
		downgrade(domain.HealthMissingTrigger)
	} else {
		ok, err := clients.GTM.TriggerExists(ctx, workspacePath, *t.GTMTriggerID)
		if err != nil {
			return "", details, err
		}
		details.Trigger = found(ok)
		if !ok {
			downgrade(domain.HealthMissingTrigger)
		}
	}

	checkTag := func(tagID *string, field **bool) error {
		if tagID == nil {
			*field = found(false)
			downgrade(domain.HealthMissingTag)
			return nil
		}
		ok, err := clients.GTM.TagExists(ctx, workspacePath, *tagID)
		if err != nil {
			return err
		}
		*field = found(ok)
		if !ok {
			downgrade(domain.HealthMissingTag)
		}
		return nil
	}
	if t.Destinations.NeedsGA4() {
		if err := checkTag(t.GTMTagIDGA4, &details.GA4Tag); err != nil {
			return "", details, err
		}
	}
	if t.Destinations.NeedsAds() {
		if err := checkTag(t.GTMTagIDAds, &details.AdsTag); err != nil {
			return "", details, err
		}

		ok, err := s.conversionExists(ctx, clients, customer, t)
		if err != nil {
			return "", details, err
		}
		details.ConversionAction = found(ok)
		if !ok {
			downgrade(domain.HealthMissingConversion)
		}
	}
	return status, details, nil
}

func (s *Syncer) conversionExists(ctx context.Context, clients *google.Clients, customer *domain.Customer, t *domain.Tracking) (bool, error) {
	if t.AdsConversionActionID == nil {
		return false, nil
	}
	accounts, err := s.store.ListAdsAccounts(ctx, customer.TenantID, customer.ID)
	if err != nil {
		return false, err
	}
	if len(accounts) == 0 {
		return false, nil
	}
	// Accounts come back primary first.
	return clients.Ads.ConversionActionExists(ctx, accounts[0].AdsCustomerID, *t.AdsConversionActionID)
}
