package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrScanNotFound is returned when a scan does not exist for the tenant
var ErrScanNotFound = fmt.Errorf("scan %w", domain.ErrNotFound)

const scanColumns = `
	id, tenant_id, customer_id, website_url, status, max_pages, max_depth, pages_processed,
	total_urls_found, crawl_state, phase2_offset, technologies, live_discovery,
	niche, niche_confidence, niche_signals, confirmed_niche, login_detected, login_url,
	authenticated_pages_count, readiness_score, readiness_narrative, summary, error,
	phase1_completed_at, niche_detected_at, phase2_completed_at, completed_at, created_at, updated_at`

func scanSiteScan(row interface{ Scan(...any) error }) (*domain.SiteScan, error) {
	s := &domain.SiteScan{}
	var crawlState, technologies, discovery, nicheSignals, summary []byte
	var niche, confirmedNiche, loginURL, narrative, scanErr sql.NullString
	var nicheConfidence sql.NullFloat64
	var readiness sql.NullInt64
	var phase1, nicheAt, phase2, completed sql.NullTime

	err := row.Scan(
		&s.ID, &s.TenantID, &s.CustomerID, &s.WebsiteURL, &s.Status, &s.MaxPages, &s.MaxDepth, &s.PagesProcessed,
		&s.TotalURLsFound, &crawlState, &s.Phase2Offset, &technologies, &discovery,
		&niche, &nicheConfidence, &nicheSignals, &confirmedNiche, &s.LoginDetected, &loginURL,
		&s.AuthenticatedPagesCount, &readiness, &narrative, &summary, &scanErr,
		&phase1, &nicheAt, &phase2, &completed, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(crawlState) > 0 {
		if err := json.Unmarshal(crawlState, &s.CrawlState); err != nil {
			return nil, fmt.Errorf("failed to decode crawl state: %w", err)
		}
	}
	if len(technologies) > 0 {
		if err := json.Unmarshal(technologies, &s.Technologies); err != nil {
			return nil, fmt.Errorf("failed to decode technologies: %w", err)
		}
	}
	if len(discovery) > 0 {
		if err := json.Unmarshal(discovery, &s.LiveDiscovery); err != nil {
			return nil, fmt.Errorf("failed to decode live discovery: %w", err)
		}
	}
	if niche.Valid {
		result := &domain.NicheResult{Niche: domain.Niche(niche.String), Confidence: nicheConfidence.Float64}
		if len(nicheSignals) > 0 {
			var stored struct {
				Signals      []string                 `json:"signals"`
				Alternatives map[domain.Niche]float64 `json:"alternatives"`
			}
			if err := json.Unmarshal(nicheSignals, &stored); err == nil {
				result.Signals = stored.Signals
				result.Alternatives = stored.Alternatives
			}
		}
		s.Niche = result
	}
	if confirmedNiche.Valid {
		n := domain.Niche(confirmedNiche.String)
		s.ConfirmedNiche = &n
	}
	if readiness.Valid {
		score := int(readiness.Int64)
		s.ReadinessScore = &score
	}
	s.LoginURL = stringPtr(loginURL)
	s.ReadinessNarrative = stringPtr(narrative)
	s.Summary = summary
	s.Error = stringPtr(scanErr)
	s.Phase1CompletedAt = timePtr(phase1)
	s.NicheDetectedAt = timePtr(nicheAt)
	s.Phase2CompletedAt = timePtr(phase2)
	s.CompletedAt = timePtr(completed)
	return s, nil
}

// CreateScan inserts a queued scan
func (db *DB) CreateScan(ctx context.Context, s *domain.SiteScan) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO site_scans (tenant_id, customer_id, website_url, status, max_pages, max_depth)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, s.TenantID, s.CustomerID, s.WebsiteURL, s.Status, s.MaxPages, s.MaxDepth).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("customer_id", s.CustomerID).Msg("Failed to create scan")
		return fmt.Errorf("failed to create scan: %w", err)
	}
	return nil
}

// GetScan returns a scan scoped to the tenant
func (db *DB) GetScan(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM site_scans WHERE id = $1 AND tenant_id = $2`,
		scanID, tenantID)
	s, err := scanSiteScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return s, nil
}

// AcquireChunkLease claims the scan for one chunk of work. A live lease held by another
// request yields ErrChunkInProgress.
func (db *DB) AcquireChunkLease(ctx context.Context, tenantID, scanID string, ttl time.Duration) (*domain.SiteScan, error) {
	row := db.client.QueryRowContext(ctx, `
		UPDATE site_scans SET chunk_lease_until = NOW() + make_interval(secs => $3)
		WHERE id = $1 AND tenant_id = $2 AND (chunk_lease_until IS NULL OR chunk_lease_until < NOW())
		RETURNING `+scanColumns,
		scanID, tenantID, ttl.Seconds())
	s, err := scanSiteScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := db.GetScan(ctx, tenantID, scanID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrChunkInProgress
		}
		return nil, fmt.Errorf("failed to acquire chunk lease: %w", err)
	}
	return s, nil
}

// ReleaseChunkLease drops the lease without touching scan state
func (db *DB) ReleaseChunkLease(ctx context.Context, scanID string) error {
	_, err := db.client.ExecContext(ctx, `UPDATE site_scans SET chunk_lease_until = NULL WHERE id = $1`, scanID)
	if err != nil {
		return fmt.Errorf("failed to release chunk lease: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// saveScanState writes every mutable scan column and releases the chunk lease.
// A scan cancelled meanwhile keeps its CANCELLED status.
func saveScanState(ctx context.Context, q execer, s *domain.SiteScan) error {
	var niche sql.NullString
	var confidence sql.NullFloat64
	var signals []byte
	if s.Niche != nil {
		niche = sql.NullString{String: string(s.Niche.Niche), Valid: true}
		confidence = sql.NullFloat64{Float64: s.Niche.Confidence, Valid: true}
		signals = Serialise(map[string]any{"signals": s.Niche.Signals, "alternatives": s.Niche.Alternatives})
	}
	var confirmed sql.NullString
	if s.ConfirmedNiche != nil {
		confirmed = sql.NullString{String: string(*s.ConfirmedNiche), Valid: true}
	}
	var readiness sql.NullInt64
	if s.ReadinessScore != nil {
		readiness = sql.NullInt64{Int64: int64(*s.ReadinessScore), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		UPDATE site_scans SET
			status = CASE WHEN status = 'CANCELLED' THEN status ELSE $2 END,
			pages_processed = $3, total_urls_found = $4, crawl_state = $5, phase2_offset = $6,
			technologies = $7, live_discovery = $8, niche = $9, niche_confidence = $10, niche_signals = $11,
			confirmed_niche = $12, login_detected = $13, login_url = $14, authenticated_pages_count = $15,
			readiness_score = $16, readiness_narrative = $17, summary = $18, error = $19,
			phase1_completed_at = $20, niche_detected_at = $21, phase2_completed_at = $22, completed_at = $23,
			chunk_lease_until = NULL
		WHERE id = $1
	`,
		s.ID, s.Status, s.PagesProcessed, s.TotalURLsFound, Serialise(s.CrawlState), s.Phase2Offset,
		Serialise(s.Technologies), Serialise(s.LiveDiscovery), niche, confidence, jsonOrNull(signals),
		confirmed, s.LoginDetected, nullString(s.LoginURL), s.AuthenticatedPagesCount,
		readiness, nullString(s.ReadinessNarrative), jsonOrNull(s.Summary), nullString(s.Error),
		s.Phase1CompletedAt, s.NicheDetectedAt, s.Phase2CompletedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan state: %w", err)
	}
	return nil
}

// SaveScan persists the scan's state outside of chunk processing
func (db *DB) SaveScan(ctx context.Context, s *domain.SiteScan) error {
	return saveScanState(ctx, db.client, s)
}

// SavePhase1Chunk stores newly crawled pages and the advanced cursor atomically. Pages already
// stored for the scan are skipped and pages_processed is recounted from the table.
func (db *DB) SavePhase1Chunk(ctx context.Context, s *domain.SiteScan, pages []*domain.ScanPage) (int, error) {
	inserted := 0
	err := db.Execute(ctx, func(tx *sql.Tx) error {
		for _, p := range pages {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO scan_pages (
					scan_id, tenant_id, url, depth, status_code, title, page_type, has_form, has_cta,
					has_video, importance_score, requires_auth, elements, text_sample
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				ON CONFLICT (scan_id, url) DO NOTHING
			`,
				s.ID, s.TenantID, p.URL, p.Depth, p.StatusCode, p.Title, p.PageType, p.HasForm, p.HasCTA,
				p.HasVideo, p.ImportanceScore, p.RequiresAuth, Serialise(p.Elements), p.TextSample,
			)
			if err != nil {
				return fmt.Errorf("failed to insert scan page: %w", err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				inserted++
			}
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scan_pages WHERE scan_id = $1`, s.ID,
		).Scan(&s.PagesProcessed); err != nil {
			return fmt.Errorf("failed to count scan pages: %w", err)
		}

		return saveScanState(ctx, tx, s)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// SavePhase2Chunk stores generated recommendations and the advanced phase-2 offset atomically.
// Recommendations already present for the same page, type and selector are skipped.
func (db *DB) SavePhase2Chunk(ctx context.Context, s *domain.SiteScan, recs []*domain.Recommendation) (int, error) {
	inserted := 0
	err := db.Execute(ctx, func(tx *sql.Tx) error {
		for _, r := range recs {
			n, err := insertRecommendation(ctx, tx, r)
			if err != nil {
				return err
			}
			inserted += n
		}
		return saveScanState(ctx, tx, s)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CancelScan moves a non-terminal scan to CANCELLED
func (db *DB) CancelScan(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	row := db.client.QueryRowContext(ctx, `
		UPDATE site_scans SET status = 'CANCELLED', chunk_lease_until = NULL
		WHERE id = $1 AND tenant_id = $2 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		RETURNING `+scanColumns,
		scanID, tenantID)
	s, err := scanSiteScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := db.GetScan(ctx, tenantID, scanID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrScanTerminal
		}
		return nil, fmt.Errorf("failed to cancel scan: %w", err)
	}
	return s, nil
}

// ListScanPages returns pages ordered by importance, then URL, for stable phase-2 paging
func (db *DB) ListScanPages(ctx context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, scan_id, tenant_id, url, depth, status_code, title, page_type, has_form, has_cta,
		       has_video, importance_score, requires_auth, elements, text_sample, created_at
		FROM scan_pages
		WHERE scan_id = $1 AND tenant_id = $2
		ORDER BY importance_score DESC, url ASC
		OFFSET $3 LIMIT $4
	`, scanID, tenantID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan pages: %w", err)
	}
	defer rows.Close()

	var pages []*domain.ScanPage
	for rows.Next() {
		p := &domain.ScanPage{}
		var elements []byte
		if err := rows.Scan(&p.ID, &p.ScanID, &p.TenantID, &p.URL, &p.Depth, &p.StatusCode, &p.Title, &p.PageType,
			&p.HasForm, &p.HasCTA, &p.HasVideo, &p.ImportanceScore, &p.RequiresAuth, &elements, &p.TextSample,
			&p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page row: %w", err)
		}
		if len(elements) > 0 {
			if err := json.Unmarshal(elements, &p.Elements); err != nil {
				log.Warn().Err(err).Str("page_id", p.ID).Msg("Ignoring malformed page elements")
			}
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan pages: %w", err)
	}
	return pages, nil
}
