package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrGoogleConnectionNotFound is returned when a Google OAuth connection is not found
var ErrGoogleConnectionNotFound = fmt.Errorf("google connection %w", domain.ErrNotFound)

// GoogleConnection is a customer's stored Google OAuth grant
type GoogleConnection struct {
	ID              string
	TenantID        string
	CustomerID      string
	GoogleUserID    string
	Email           string
	RefreshTokenEnc []byte // sealed refresh token
	AccessToken     string
	TokenType       string
	Expiry          time.Time
	Scopes          []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SaveGoogleConnection upserts the customer's Google connection and returns its id in conn.ID
func (db *DB) SaveGoogleConnection(ctx context.Context, conn *GoogleConnection) error {
	query := `
		INSERT INTO google_connections (
			tenant_id, customer_id, google_user_id, email, refresh_token_enc,
			access_token, token_type, expiry, scopes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, customer_id)
		DO UPDATE SET
			google_user_id = EXCLUDED.google_user_id,
			email = EXCLUDED.email,
			refresh_token_enc = COALESCE(EXCLUDED.refresh_token_enc, google_connections.refresh_token_enc),
			access_token = EXCLUDED.access_token,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			scopes = EXCLUDED.scopes
		RETURNING id, created_at, updated_at
	`

	var refresh any
	if len(conn.RefreshTokenEnc) > 0 {
		refresh = conn.RefreshTokenEnc
	}

	err := db.client.QueryRowContext(ctx, query,
		conn.TenantID, conn.CustomerID, conn.GoogleUserID, conn.Email, refresh,
		conn.AccessToken, conn.TokenType, conn.Expiry, pq.Array(conn.Scopes),
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("customer_id", conn.CustomerID).Msg("Failed to save Google connection")
		return fmt.Errorf("failed to save Google connection: %w", err)
	}

	return nil
}

// GetGoogleConnection retrieves a Google connection by ID, scoped to the tenant
func (db *DB) GetGoogleConnection(ctx context.Context, tenantID, connectionID string) (*GoogleConnection, error) {
	conn := &GoogleConnection{}
	var accessToken, tokenType sql.NullString
	var expiry sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, google_user_id, email, refresh_token_enc,
		       access_token, token_type, expiry, scopes, created_at, updated_at
		FROM google_connections
		WHERE id = $1 AND tenant_id = $2
	`, connectionID, tenantID).Scan(
		&conn.ID, &conn.TenantID, &conn.CustomerID, &conn.GoogleUserID, &conn.Email, &conn.RefreshTokenEnc,
		&accessToken, &tokenType, &expiry, pq.Array(&conn.Scopes), &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGoogleConnectionNotFound
		}
		log.Error().Err(err).Str("connection_id", connectionID).Msg("Failed to get Google connection")
		return nil, fmt.Errorf("failed to get Google connection: %w", err)
	}

	if accessToken.Valid {
		conn.AccessToken = accessToken.String
	}
	if tokenType.Valid {
		conn.TokenType = tokenType.String
	}
	if expiry.Valid {
		conn.Expiry = expiry.Time
	}

	return conn, nil
}

// UpdateGoogleAccessToken persists a refreshed access token
func (db *DB) UpdateGoogleAccessToken(ctx context.Context, connectionID, accessToken, tokenType string, expiry time.Time, refreshTokenEnc []byte) error {
	var refresh any
	if len(refreshTokenEnc) > 0 {
		refresh = refreshTokenEnc
	}
	result, err := db.client.ExecContext(ctx, `
		UPDATE google_connections
		SET access_token = $2, token_type = $3, expiry = $4,
		    refresh_token_enc = COALESCE($5, refresh_token_enc)
		WHERE id = $1
	`, connectionID, accessToken, tokenType, expiry, refresh)
	if err != nil {
		return fmt.Errorf("failed to update Google access token: %w", err)
	}
	return requireRow(result, ErrGoogleConnectionNotFound)
}

// UpsertGA4Property records the customer's GA4 data stream
func (db *DB) UpsertGA4Property(ctx context.Context, p *domain.GA4Property) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO ga4_properties (tenant_id, customer_id, property_id, measurement_id, data_stream_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id)
		DO UPDATE SET
			property_id = EXCLUDED.property_id,
			measurement_id = EXCLUDED.measurement_id,
			data_stream_id = EXCLUDED.data_stream_id
		RETURNING id, created_at
	`, p.TenantID, p.CustomerID, p.PropertyID, p.MeasurementID, p.DataStreamID).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert GA4 property: %w", err)
	}
	return nil
}

// GetGA4Property returns the customer's GA4 data stream, or ErrNotFound
func (db *DB) GetGA4Property(ctx context.Context, tenantID, customerID string) (*domain.GA4Property, error) {
	p := &domain.GA4Property{}
	err := db.client.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, property_id, measurement_id, data_stream_id, created_at
		FROM ga4_properties WHERE customer_id = $1 AND tenant_id = $2
	`, customerID, tenantID).Scan(&p.ID, &p.TenantID, &p.CustomerID, &p.PropertyID, &p.MeasurementID, &p.DataStreamID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ga4 property %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get GA4 property: %w", err)
	}
	return p, nil
}

// UpsertAdsAccount records an accessible Google Ads customer; the first account stored becomes primary
func (db *DB) UpsertAdsAccount(ctx context.Context, a *domain.GoogleAdsAccount) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO google_ads_accounts (
			tenant_id, customer_id, ads_customer_id, descriptive_name, currency_code,
			conversion_tracking_id, label_resource_name, is_primary
		) VALUES ($1, $2, $3, $4, $5, $6, $7,
			NOT EXISTS (SELECT 1 FROM google_ads_accounts WHERE customer_id = $2))
		ON CONFLICT (customer_id, ads_customer_id)
		DO UPDATE SET
			descriptive_name = EXCLUDED.descriptive_name,
			currency_code = EXCLUDED.currency_code,
			conversion_tracking_id = COALESCE(EXCLUDED.conversion_tracking_id, google_ads_accounts.conversion_tracking_id),
			label_resource_name = COALESCE(EXCLUDED.label_resource_name, google_ads_accounts.label_resource_name)
		RETURNING id, is_primary, created_at
	`, a.TenantID, a.CustomerID, a.AdsCustomerID, a.DescriptiveName, a.CurrencyCode,
		nullString(a.ConversionTrackingID), nullString(a.LabelResourceName),
	).Scan(&a.ID, &a.IsPrimary, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert Google Ads account: %w", err)
	}
	return nil
}

// ListAdsAccounts returns the customer's Ads accounts, primary first
func (db *DB) ListAdsAccounts(ctx context.Context, tenantID, customerID string) ([]*domain.GoogleAdsAccount, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, ads_customer_id, descriptive_name, currency_code,
		       conversion_tracking_id, label_resource_name, is_primary, created_at
		FROM google_ads_accounts
		WHERE customer_id = $1 AND tenant_id = $2
		ORDER BY is_primary DESC, created_at ASC
	`, customerID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list Google Ads accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.GoogleAdsAccount
	for rows.Next() {
		a := &domain.GoogleAdsAccount{}
		var trackingID, label sql.NullString
		if err := rows.Scan(&a.ID, &a.TenantID, &a.CustomerID, &a.AdsCustomerID, &a.DescriptiveName, &a.CurrencyCode,
			&trackingID, &label, &a.IsPrimary, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan Google Ads account: %w", err)
		}
		a.ConversionTrackingID = stringPtr(trackingID)
		a.LabelResourceName = stringPtr(label)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating Google Ads accounts: %w", err)
	}
	return accounts, nil
}
