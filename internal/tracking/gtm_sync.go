package tracking

import (
	"context"
	"errors"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/rs/zerolog/log"
)

// HandleGTM runs a gtm-sync job
func (s *Syncer) HandleGTM(ctx context.Context, job *jobs.Job) error {
	if job.Payload.Action == jobs.ActionDelete {
		return s.cleanupGTM(ctx, job)
	}
	return s.run(ctx, job, destGTM, func(sc *syncContext) error {
		return s.syncGTM(ctx, sc)
	})
}

func (s *Syncer) syncGTM(ctx context.Context, sc *syncContext) error {
	gtm := sc.clients.GTM
	t := sc.tracking

	workspacePath, err := s.bootstrap.EnsureCustomerGTM(ctx, sc.clients, sc.tenant, sc.customer)
	if err != nil {
		return err
	}

	var stream *domain.GA4Property
	if t.Destinations.NeedsGA4() {
		if stream, err = s.bootstrap.EnsureGA4Stream(ctx, sc.clients, sc.tenant, sc.customer); err != nil {
			return err
		}
		if err := gtm.EnsureEssentials(ctx, workspacePath, stream.MeasurementID); err != nil {
			return err
		}
	}

	trigger, err := gtm.UpsertTrigger(ctx, workspacePath, google.BuildTrigger(t))
	if err != nil {
		return err
	}
	triggerID := trigger.TriggerId

	// Persist the trigger before anything else can fail so a retry updates rather than duplicates it.
	t, err = s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
		row.GTMTriggerID = &triggerID
		return nil
	})
	if err != nil {
		return err
	}

	if t.Destinations.NeedsGA4() {
		tag, err := gtm.UpsertTag(ctx, workspacePath, google.GA4EventTag(t, triggerID, stream.MeasurementID))
		if err != nil {
			return err
		}
		tagID := tag.TagId
		if t, err = s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
			row.GTMTagIDGA4 = &tagID
			return nil
		}); err != nil {
			return err
		}

		if t.ParsedConfig().MarkAsKeyEvent {
			if err := sc.clients.GA4.EnsureKeyEvent(ctx, stream.PropertyID, t.EventName()); err != nil {
				return err
			}
		}
	} else if t.GTMTagIDGA4 != nil {
		if err := gtm.DeleteTag(ctx, workspacePath, *t.GTMTagIDGA4); err != nil {
			return err
		}
	}

	if !t.Destinations.NeedsAds() && t.GTMTagIDAds != nil {
		if err := gtm.DeleteTag(ctx, workspacePath, *t.GTMTagIDAds); err != nil {
			return err
		}
	}

	_, err = s.store.MutateTracking(ctx, t.TenantID, t.ID, func(row *domain.Tracking) error {
		if !row.Destinations.NeedsGA4() {
			row.GTMTagIDGA4 = nil
		}
		if !row.Destinations.NeedsAds() {
			row.GTMTagIDAds = nil
		}
		// The Ads job stores the conversion id before it sets the label, so it is readable here once the label is.
		if row.AdsConversionLabel != nil {
			if err := linkAdsTag(ctx, gtm, workspacePath, s.conversionID(ctx, sc.customer), row); err != nil {
				return err
			}
		}
		s.succeed(row, destGTM)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, gtm, workspacePath, t.ID)
	return nil
}

// publish pushes the workspace live when auto-publish is on; a failed publish leaves the sync successful
func (s *Syncer) publish(ctx context.Context, gtm google.GTM, workspacePath, trackingID string) {
	if !s.cfg.AutoPublish {
		return
	}
	if err := gtm.Publish(ctx, workspacePath); err != nil {
		log.Warn().Err(err).Str("tracking_id", trackingID).Str("workspace", workspacePath).Msg("Failed to publish GTM workspace")
	}
}

// cleanupGTM removes the deleted tracking's tags and trigger. Tags go first because GTM refuses
// to delete a trigger that still fires a tag.
func (s *Syncer) cleanupGTM(ctx context.Context, job *jobs.Job) error {
	snap := job.Payload.Snapshot
	logger := log.With().Str("job_id", job.ID).Str("tracking_id", job.Payload.TrackingID).Logger()
	if snap == nil || snap.WorkspacePath == "" {
		logger.Info().Msg("No GTM workspace recorded for deleted tracking, nothing to clean up")
		return nil
	}

	clients, err := s.clientsFor(ctx, job)
	if err != nil {
		return err
	}

	var errs []error
	for _, tagID := range []string{snap.GTMTagIDGA4, snap.GTMTagIDAds} {
		if tagID == "" {
			continue
		}
		if err := clients.GTM.DeleteTag(ctx, snap.WorkspacePath, tagID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 && snap.GTMTriggerID != "" {
		if err := clients.GTM.DeleteTrigger(ctx, snap.WorkspacePath, snap.GTMTriggerID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn().Err(err).Msg("GTM cleanup failed")
		return err
	}

	s.publish(ctx, clients.GTM, snap.WorkspacePath, job.Payload.TrackingID)
	logger.Info().Msg("Removed GTM objects of deleted tracking")
	return nil
}

// clientsFor builds Google clients for a cleanup job, whose tracking row no longer exists
func (s *Syncer) clientsFor(ctx context.Context, job *jobs.Job) (*google.Clients, error) {
	customer, err := s.store.GetCustomer(ctx, job.Payload.TenantID, job.Payload.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	clients, err := s.clients.ClientsFor(ctx, customer)
	if err != nil {
		if errors.Is(err, domain.ErrGoogleNotConnected) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	return clients, nil
}
