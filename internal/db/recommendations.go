package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// ErrRecommendationNotFound is returned when a recommendation does not exist for the tenant
var ErrRecommendationNotFound = fmt.Errorf("recommendation %w", domain.ErrNotFound)

const recommendationColumns = `
	id, scan_id, tenant_id, customer_id, page_url, type, severity, status, name, selector,
	url_pattern, config, ga4_event_name, destinations, rationale, tracking_id, created_at, updated_at`

func scanRecommendation(row interface{ Scan(...any) error }) (*domain.Recommendation, error) {
	r := &domain.Recommendation{}
	var destinations []string
	var config []byte
	var trackingID sql.NullString

	err := row.Scan(
		&r.ID, &r.ScanID, &r.TenantID, &r.CustomerID, &r.PageURL, &r.Type, &r.Severity, &r.Status, &r.Name, &r.Selector,
		&r.URLPattern, &config, &r.GA4EventName, pq.Array(&destinations), &r.Rationale, &trackingID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Config = config
	r.Destinations = domain.ParseDestinations(destinations)
	r.TrackingID = stringPtr(trackingID)
	return r, nil
}

// insertRecommendation returns 1 when the row was inserted and 0 when it already existed.
func insertRecommendation(ctx context.Context, tx *sql.Tx, r *domain.Recommendation) (int, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO tracking_recommendations (
			scan_id, tenant_id, customer_id, page_url, type, severity, status, name, selector,
			url_pattern, config, ga4_event_name, destinations, rationale
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (scan_id, page_url, type, selector) DO NOTHING
		RETURNING id, created_at, updated_at
	`,
		r.ScanID, r.TenantID, r.CustomerID, r.PageURL, r.Type, r.Severity, r.Status, r.Name, r.Selector,
		r.URLPattern, jsonOrNull(r.Config), r.GA4EventName, pq.Array(r.Destinations.Strings()), r.Rationale,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert recommendation: %w", err)
	}
	return 1, nil
}

// RecommendationFilter narrows ListRecommendations; zero values match everything
type RecommendationFilter struct {
	Status   domain.RecommendationStatus
	Severity domain.Severity
}

// ListRecommendations returns a scan's recommendations, most severe first
func (db *DB) ListRecommendations(ctx context.Context, tenantID, scanID string, filter RecommendationFilter) ([]*domain.Recommendation, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT `+recommendationColumns+`
		FROM tracking_recommendations
		WHERE scan_id = $1 AND tenant_id = $2
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR severity = $4)
		ORDER BY CASE severity
			WHEN 'CRITICAL' THEN 4 WHEN 'IMPORTANT' THEN 3 WHEN 'RECOMMENDED' THEN 2 ELSE 1 END DESC,
			page_url ASC, type ASC
	`, scanID, tenantID, string(filter.Status), string(filter.Severity))
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*domain.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

// GetRecommendation returns a recommendation scoped to the tenant
func (db *DB) GetRecommendation(ctx context.Context, tenantID, id string) (*domain.Recommendation, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+recommendationColumns+` FROM tracking_recommendations WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	r, err := scanRecommendation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecommendationNotFound
		}
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return r, nil
}

// SetRecommendationStatus moves recommendations to status when they are currently in one of from.
// It returns the ids that changed.
func (db *DB) SetRecommendationStatus(ctx context.Context, tenantID string, ids []string, from []domain.RecommendationStatus, to domain.RecommendationStatus) ([]string, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	rows, err := db.client.QueryContext(ctx, `
		UPDATE tracking_recommendations SET status = $3
		WHERE tenant_id = $1 AND id = ANY($2) AND status = ANY($4)
		RETURNING id
	`, tenantID, pq.Array(ids), to, pq.Array(fromStrings))
	if err != nil {
		return nil, fmt.Errorf("failed to update recommendation status: %w", err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation id: %w", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating updated recommendations: %w", err)
	}
	return changed, nil
}

// MarkRecommendationCreated links an accepted recommendation to the tracking built from it
func (db *DB) MarkRecommendationCreated(ctx context.Context, tenantID, id, trackingID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE tracking_recommendations SET status = 'CREATED', tracking_id = $3
		WHERE id = $1 AND tenant_id = $2 AND status <> 'CREATED'
	`, id, tenantID, trackingID)
	if err != nil {
		return fmt.Errorf("failed to mark recommendation created: %w", err)
	}
	return requireRow(result, domain.ErrRecommendationCreated)
}

// SeverityCounts tallies a scan's recommendations per severity
func (db *DB) SeverityCounts(ctx context.Context, scanID string) (map[domain.Severity]int, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM tracking_recommendations WHERE scan_id = $1 GROUP BY severity
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recommendations: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Severity]int)
	for rows.Next() {
		var severity domain.Severity
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}
