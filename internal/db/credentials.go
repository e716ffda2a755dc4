package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// ErrCredentialNotFound is returned when no site credential is stored for the domain
var ErrCredentialNotFound = fmt.Errorf("site credential %w", domain.ErrNotFound)

// StoredCredential is a site credential row with the password still sealed
type StoredCredential struct {
	domain.SiteCredential
	PasswordEnc []byte
}

// SaveSiteCredential upserts the login for a domain; one credential per tenant and domain
func (db *DB) SaveSiteCredential(ctx context.Context, c *StoredCredential) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO site_credentials (tenant_id, customer_id, domain, login_url, username, password_enc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, domain)
		DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			login_url = EXCLUDED.login_url,
			username = EXCLUDED.username,
			password_enc = EXCLUDED.password_enc
		RETURNING id, created_at, updated_at
	`, c.TenantID, c.CustomerID, c.Domain, c.LoginURL, c.Username, c.PasswordEnc).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save site credential: %w", err)
	}
	return nil
}

// GetSiteCredential returns the sealed credential for a domain
func (db *DB) GetSiteCredential(ctx context.Context, tenantID, siteDomain string) (*StoredCredential, error) {
	c := &StoredCredential{}
	err := db.client.QueryRowContext(ctx, `
		SELECT id, tenant_id, customer_id, domain, login_url, username, password_enc, created_at, updated_at
		FROM site_credentials WHERE tenant_id = $1 AND domain = $2
	`, tenantID, siteDomain).Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Domain, &c.LoginURL, &c.Username,
		&c.PasswordEnc, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get site credential: %w", err)
	}
	return c, nil
}

// ListSiteCredentials returns the customer's stored logins without passwords
func (db *DB) ListSiteCredentials(ctx context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, domain, login_url, username, created_at, updated_at
		FROM site_credentials WHERE tenant_id = $1 AND customer_id = $2 ORDER BY domain
	`, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site credentials: %w", err)
	}
	defer rows.Close()

	var creds []*domain.SiteCredential
	for rows.Next() {
		c := &domain.SiteCredential{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Domain, &c.LoginURL, &c.Username,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan site credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// DeleteSiteCredential removes a stored login
func (db *DB) DeleteSiteCredential(ctx context.Context, tenantID, id string) error {
	result, err := db.client.ExecContext(ctx,
		`DELETE FROM site_credentials WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete site credential: %w", err)
	}
	return requireRow(result, ErrCredentialNotFound)
}
