package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrTrackingNotFound is returned when a tracking does not exist for the tenant
var ErrTrackingNotFound = fmt.Errorf("tracking %w", domain.ErrNotFound)

const trackingColumns = `
	id, tenant_id, customer_id, name, type, destinations, selector, url_pattern, config,
	ga4_event_name, ga4_parameters, conversion_value, currency_code, status,
	gtm_trigger_id, gtm_tag_id_ga4, gtm_tag_id_ads, ads_conversion_action_id, ads_conversion_label,
	gtm_sync_state, ads_sync_state, last_error, sync_attempts, last_sync_at,
	health_status, health_checked_at, health_details, recommendation_id, created_at, updated_at`

func scanTracking(row interface{ Scan(...any) error }) (*domain.Tracking, error) {
	t := &domain.Tracking{}
	var destinations []string
	var config, ga4Params, healthDetails []byte
	var conversionValue sql.NullFloat64
	var trigger, tagGA4, tagAds, actionID, label, lastError, recommendationID sql.NullString
	var lastSync, healthChecked sql.NullTime

	err := row.Scan(
		&t.ID, &t.TenantID, &t.CustomerID, &t.Name, &t.Type, pq.Array(&destinations), &t.Selector, &t.URLPattern, &config,
		&t.GA4EventName, &ga4Params, &conversionValue, &t.CurrencyCode, &t.Status,
		&trigger, &tagGA4, &tagAds, &actionID, &label,
		&t.GTMSyncState, &t.AdsSyncState, &lastError, &t.SyncAttempts, &lastSync,
		&t.HealthStatus, &healthChecked, &healthDetails, &recommendationID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Destinations = domain.ParseDestinations(destinations)
	t.Config = config
	t.GA4Parameters = ga4Params
	t.HealthDetails = healthDetails
	if conversionValue.Valid {
		v := conversionValue.Float64
		t.ConversionValue = &v
	}
	t.GTMTriggerID = stringPtr(trigger)
	t.GTMTagIDGA4 = stringPtr(tagGA4)
	t.GTMTagIDAds = stringPtr(tagAds)
	t.AdsConversionActionID = stringPtr(actionID)
	t.AdsConversionLabel = stringPtr(label)
	t.LastError = stringPtr(lastError)
	t.LastSyncAt = timePtr(lastSync)
	t.HealthCheckedAt = timePtr(healthChecked)
	t.RecommendationID = stringPtr(recommendationID)
	return t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// CreateTracking inserts a tracking; a clash on (customer, type, selector, url pattern) returns ErrDuplicateTracking
func (db *DB) CreateTracking(ctx context.Context, t *domain.Tracking) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO trackings (
			tenant_id, customer_id, name, type, destinations, selector, url_pattern, config,
			ga4_event_name, ga4_parameters, conversion_value, currency_code, status,
			gtm_sync_state, ads_sync_state, health_status, recommendation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`,
		t.TenantID, t.CustomerID, t.Name, t.Type, pq.Array(t.Destinations.Strings()), t.Selector, t.URLPattern, jsonOrNull(t.Config),
		t.GA4EventName, jsonOrNull(t.GA4Parameters), nullFloat(t.ConversionValue), t.CurrencyCode, t.Status,
		t.GTMSyncState, t.AdsSyncState, t.HealthStatus, nullString(t.RecommendationID),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrDuplicateTracking
		}
		log.Error().Err(err).Str("customer_id", t.CustomerID).Msg("Failed to create tracking")
		return fmt.Errorf("failed to create tracking: %w", err)
	}
	return nil
}

// GetTracking returns a tracking scoped to the tenant
func (db *DB) GetTracking(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+trackingColumns+` FROM trackings WHERE id = $1 AND tenant_id = $2`,
		trackingID, tenantID)

	t, err := scanTracking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackingNotFound
		}
		return nil, fmt.Errorf("failed to get tracking: %w", err)
	}
	return t, nil
}

// ListTrackings returns the customer's trackings, newest first
func (db *DB) ListTrackings(ctx context.Context, tenantID, customerID string) ([]*domain.Tracking, error) {
	rows, err := db.client.QueryContext(ctx,
		`SELECT `+trackingColumns+` FROM trackings WHERE tenant_id = $1 AND customer_id = $2 ORDER BY created_at DESC`,
		tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trackings: %w", err)
	}
	defer rows.Close()

	var trackings []*domain.Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracking: %w", err)
		}
		trackings = append(trackings, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trackings: %w", err)
	}
	return trackings, nil
}

// UpdateTrackingDefinition writes the user-editable fields and the new status, but only while the
// row is still in the expected status. A concurrent transition yields ErrSyncInProgress.
func (db *DB) UpdateTrackingDefinition(ctx context.Context, t *domain.Tracking, expected domain.TrackingStatus) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE trackings SET
			name = $3, destinations = $4, selector = $5, url_pattern = $6, config = $7,
			ga4_event_name = $8, ga4_parameters = $9, conversion_value = $10, currency_code = $11,
			status = $12, gtm_sync_state = $13, ads_sync_state = $14
		WHERE id = $1 AND tenant_id = $2 AND status = $15
	`,
		t.ID, t.TenantID, t.Name, pq.Array(t.Destinations.Strings()), t.Selector, t.URLPattern, jsonOrNull(t.Config),
		t.GA4EventName, jsonOrNull(t.GA4Parameters), nullFloat(t.ConversionValue), t.CurrencyCode,
		t.Status, t.GTMSyncState, t.AdsSyncState, expected,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrDuplicateTracking
		}
		return fmt.Errorf("failed to update tracking: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return db.explainMissingTracking(ctx, t.TenantID, t.ID)
	}
	return nil
}

// DeleteTracking removes a tracking that is not mid-sync and returns the deleted row
func (db *DB) DeleteTracking(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	row := db.client.QueryRowContext(ctx, `
		DELETE FROM trackings
		WHERE id = $1 AND tenant_id = $2 AND status NOT IN ('CREATING', 'SYNCING')
		RETURNING `+trackingColumns,
		trackingID, tenantID)

	t, err := scanTracking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.explainMissingTracking(ctx, tenantID, trackingID)
		}
		return nil, fmt.Errorf("failed to delete tracking: %w", err)
	}
	return t, nil
}

// explainMissingTracking tells apart a tracking that does not exist from one that is mid-sync.
func (db *DB) explainMissingTracking(ctx context.Context, tenantID, trackingID string) error {
	var status domain.TrackingStatus
	err := db.client.QueryRowContext(ctx,
		`SELECT status FROM trackings WHERE id = $1 AND tenant_id = $2`,
		trackingID, tenantID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTrackingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check tracking status: %w", err)
	}
	return domain.ErrSyncInProgress
}

// MutateTracking locks the tracking row, lets fn change the sync-managed fields and writes them back.
// Only job handlers and the health check go through here; the user-editable columns are not written.
func (db *DB) MutateTracking(ctx context.Context, tenantID, trackingID string, fn func(*domain.Tracking) error) (*domain.Tracking, error) {
	var updated *domain.Tracking

	err := db.Execute(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+trackingColumns+` FROM trackings WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			trackingID, tenantID)

		t, err := scanTracking(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTrackingNotFound
			}
			return fmt.Errorf("failed to lock tracking: %w", err)
		}

		if err := fn(t); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE trackings SET
				status = $2, gtm_trigger_id = $3, gtm_tag_id_ga4 = $4, gtm_tag_id_ads = $5,
				ads_conversion_action_id = $6, ads_conversion_label = $7,
				gtm_sync_state = $8, ads_sync_state = $9, last_error = $10, sync_attempts = $11,
				last_sync_at = $12, health_status = $13, health_checked_at = $14, health_details = $15
			WHERE id = $1
		`,
			t.ID, t.Status, nullString(t.GTMTriggerID), nullString(t.GTMTagIDGA4), nullString(t.GTMTagIDAds),
			nullString(t.AdsConversionActionID), nullString(t.AdsConversionLabel),
			t.GTMSyncState, t.AdsSyncState, nullString(t.LastError), t.SyncAttempts,
			t.LastSyncAt, t.HealthStatus, t.HealthCheckedAt, jsonOrNull(t.HealthDetails),
		)
		if err != nil {
			return fmt.Errorf("failed to write tracking sync state: %w", err)
		}

		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
