package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrCustomerNotFound is returned when a customer does not exist for the tenant
var ErrCustomerNotFound = fmt.Errorf("customer %w", domain.ErrNotFound)

const customerColumns = `
	id, tenant_id, name, website_url, google_account_id, google_email, google_connection_id,
	gtm_account_id, gtm_container_id, gtm_container_public_id, gtm_workspace_id, created_at, updated_at`

// EnsureTenant creates the tenant row on first use
func (db *DB) EnsureTenant(ctx context.Context, tenantID, name string) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, tenantID, name)
	if err != nil {
		return fmt.Errorf("failed to ensure tenant: %w", err)
	}
	return nil
}

// GetTenant returns the tenant with its shared Google handles
func (db *DB) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var gtmAccount, ga4Account, ga4Property sql.NullString
	var bootstrapped sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT id, name, gtm_account_id, ga4_account_id, ga4_property_id, bootstrapped_at, created_at
		FROM tenants WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &gtmAccount, &ga4Account, &ga4Property, &bootstrapped, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	t.GTMAccountID = stringPtr(gtmAccount)
	t.GA4AccountID = stringPtr(ga4Account)
	t.GA4PropertyID = stringPtr(ga4Property)
	t.BootstrappedAt = timePtr(bootstrapped)
	return t, nil
}

// UpdateTenantGoogle stores tenant-level Google handles; nil values keep what is stored
func (db *DB) UpdateTenantGoogle(ctx context.Context, tenantID string, gtmAccountID, ga4AccountID, ga4PropertyID *string) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE tenants SET
			gtm_account_id = COALESCE($2, gtm_account_id),
			ga4_account_id = COALESCE($3, ga4_account_id),
			ga4_property_id = COALESCE($4, ga4_property_id),
			bootstrapped_at = COALESCE(bootstrapped_at, NOW())
		WHERE id = $1
	`, tenantID, nullString(gtmAccountID), nullString(ga4AccountID), nullString(ga4PropertyID))
	if err != nil {
		return fmt.Errorf("failed to update tenant Google handles: %w", err)
	}
	return nil
}

// CreateCustomer inserts a customer for the tenant
func (db *DB) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO customers (tenant_id, name, website_url)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, c.TenantID, c.Name, c.WebsiteURL).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", c.TenantID).Msg("Failed to create customer")
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	c := &domain.Customer{}
	var googleAccount, googleEmail, connectionID, gtmAccount, gtmContainer, gtmPublicID, gtmWorkspace sql.NullString

	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.WebsiteURL, &googleAccount, &googleEmail, &connectionID,
		&gtmAccount, &gtmContainer, &gtmPublicID, &gtmWorkspace, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.GoogleAccountID = stringPtr(googleAccount)
	c.GoogleEmail = stringPtr(googleEmail)
	c.GoogleConnectionID = stringPtr(connectionID)
	c.GTMAccountID = stringPtr(gtmAccount)
	c.GTMContainerID = stringPtr(gtmContainer)
	c.GTMContainerPublicID = stringPtr(gtmPublicID)
	c.GTMWorkspaceID = stringPtr(gtmWorkspace)
	return c, nil
}

// GetCustomer returns a customer scoped to the tenant
func (db *DB) GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error) {
	row := db.client.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 AND tenant_id = $2`,
		customerID, tenantID)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// ListCustomers returns the tenant's customers, newest first
func (db *DB) ListCustomers(ctx context.Context, tenantID string) ([]*domain.Customer, error) {
	rows, err := db.client.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}
	return customers, nil
}

// LinkCustomerGoogle records the connected Google account on the customer
func (db *DB) LinkCustomerGoogle(ctx context.Context, tenantID, customerID, googleAccountID, email, connectionID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE customers
		SET google_account_id = $3, google_email = $4, google_connection_id = $5
		WHERE id = $1 AND tenant_id = $2
	`, customerID, tenantID, googleAccountID, email, connectionID)
	if err != nil {
		return fmt.Errorf("failed to link Google account: %w", err)
	}
	return requireRow(result, ErrCustomerNotFound)
}

// UpdateCustomerGTM stores the customer's dedicated GTM container and workspace
func (db *DB) UpdateCustomerGTM(ctx context.Context, tenantID, customerID, accountID, containerID, publicID, workspaceID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE customers
		SET gtm_account_id = $3, gtm_container_id = $4, gtm_container_public_id = $5, gtm_workspace_id = $6
		WHERE id = $1 AND tenant_id = $2
	`, customerID, tenantID, accountID, containerID, publicID, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to update customer GTM handles: %w", err)
	}
	return requireRow(result, ErrCustomerNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
