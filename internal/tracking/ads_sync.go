package tracking

import (
	"context"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/rs/zerolog/log"
)

// HandleAds runs an ads-sync job
func (s *Syncer) HandleAds(ctx context.Context, job *jobs.Job) error {
	if job.Payload.Action == jobs.ActionDelete {
		return s.cleanupAds(ctx, job)
	}
	return s.run(ctx, job, destAds, func(sc *syncContext) error {
		return s.syncAds(ctx, sc)
	})
}

func (s *Syncer) syncAds(ctx context.Context, sc *syncContext) error {
	t := sc.tracking

	if !t.Destinations.NeedsAds() {
		// Destinations changed after the job was queued.
		_, err := s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
			if !row.Destinations.NeedsAds() {
				row.AdsSyncState = domain.SyncNotRequired
				row.Status = domain.ResolveStatus(row.Status, row.GTMSyncState, row.AdsSyncState)
			}
			return nil
		})
		return err
	}

	account, err := s.bootstrap.PrimaryAdsAccount(ctx, sc.clients, sc.customer)
	if err != nil {
		return err
	}

	action := google.ConversionAction{
		Name:         "OneClickTag - " + t.Name,
		Category:     domain.ConversionCategory(t.Type),
		DefaultValue: t.ConversionValue,
		CurrencyCode: t.CurrencyCode,
	}
	if action.CurrencyCode == "" {
		action.CurrencyCode = account.CurrencyCode
	}
	if t.AdsConversionActionID != nil && *t.AdsConversionActionID != "" {
		action.ResourceName = "customers/" + account.AdsCustomerID + "/conversionActions/" + *t.AdsConversionActionID
	}

	resourceName, err := sc.clients.Ads.UpsertConversionAction(ctx, account.AdsCustomerID, action)
	if err != nil {
		return err
	}
	actionID := google.ConversionActionID(resourceName)
	if t, err = s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
		row.AdsConversionActionID = &actionID
		return nil
	}); err != nil {
		return err
	}

	conversionID, label, err := sc.clients.Ads.GetConversionSendTo(ctx, account.AdsCustomerID, actionID)
	if err != nil {
		return err
	}
	if account.ConversionTrackingID == nil || *account.ConversionTrackingID != conversionID {
		account.ConversionTrackingID = &conversionID
		if err := s.store.UpsertAdsAccount(ctx, account); err != nil {
			log.Warn().Err(err).Str("ads_customer_id", account.AdsCustomerID).Msg("Failed to store Ads conversion id")
		}
	}

	workspacePath := sc.customer.WorkspacePath()
	_, err = s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
		row.AdsConversionLabel = &label
		if workspacePath == "" && row.GTMTriggerID != nil {
			// The GTM job created the workspace after this job loaded the customer.
			customer, err := s.store.GetCustomer(ctx, row.TenantID, row.CustomerID)
			if err != nil {
				return err
			}
			workspacePath = customer.WorkspacePath()
		}
		if err := linkAdsTag(ctx, sc.clients.GTM, workspacePath, conversionID, row); err != nil {
			return err
		}
		s.succeed(row, destAds)
		return nil
	})
	if err != nil {
		return err
	}

	if workspacePath != "" {
		s.publish(ctx, sc.clients.GTM, workspacePath, t.ID)
	}
	return nil
}

// cleanupAds removes the deleted tracking's conversion action from the primary Ads account
func (s *Syncer) cleanupAds(ctx context.Context, job *jobs.Job) error {
	snap := job.Payload.Snapshot
	logger := log.With().Str("job_id", job.ID).Str("tracking_id", job.Payload.TrackingID).Logger()
	if snap == nil || snap.AdsConversionActionID == "" {
		logger.Info().Msg("No Ads conversion action recorded for deleted tracking, nothing to clean up")
		return nil
	}

	accounts, err := s.store.ListAdsAccounts(ctx, job.Payload.TenantID, job.Payload.CustomerID)
	if err != nil {
		return err
	}
	var primary *domain.GoogleAdsAccount
	for _, a := range accounts {
		if a.IsPrimary {
			primary = a
			break
		}
	}
	if primary == nil {
		logger.Warn().Msg("Customer has no primary Ads account, skipping conversion action cleanup")
		return nil
	}

	clients, err := s.clientsFor(ctx, job)
	if err != nil {
		return err
	}
	if err := clients.Ads.RemoveConversionAction(ctx, primary.AdsCustomerID, snap.AdsConversionActionID); err != nil {
		logger.Warn().Err(err).Msg("Ads cleanup failed")
		return err
	}

	logger.Info().Str("conversion_action_id", snap.AdsConversionActionID).Msg("Removed Ads conversion action of deleted tracking")
	return nil
}
