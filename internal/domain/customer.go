package domain

import "time"

// Tenant owns customers and the shared Google resources discovered for them.
type Tenant struct {
	ID             string
	Name           string
	GTMAccountID   *string
	GA4AccountID   *string
	GA4PropertyID  *string
	BootstrappedAt *time.Time
	CreatedAt      time.Time
}

// Customer is an end customer of a tenant and the Google handles discovered for it.
type Customer struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	Name                 string    `json:"name"`
	WebsiteURL           string    `json:"website_url"`
	GoogleAccountID      *string   `json:"google_account_id"`
	GoogleEmail          *string   `json:"google_email"`
	GoogleConnectionID   *string   `json:"google_connection_id,omitempty"`
	GTMAccountID         *string   `json:"gtm_account_id"`
	GTMContainerID       *string   `json:"gtm_container_id"`
	GTMContainerPublicID *string   `json:"gtm_container_public_id"`
	GTMWorkspaceID       *string   `json:"gtm_workspace_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// GoogleConnected reports whether OAuth has linked a Google account.
func (c *Customer) GoogleConnected() bool {
	return c.GoogleAccountID != nil && *c.GoogleAccountID != "" && c.GoogleConnectionID != nil
}

// WorkspacePath is the GTM API path of the customer's dedicated workspace, or "" when unknown.
func (c *Customer) WorkspacePath() string {
	if !nonEmpty(c.GTMAccountID) || !nonEmpty(c.GTMContainerID) || !nonEmpty(c.GTMWorkspaceID) {
		return ""
	}
	return "accounts/" + *c.GTMAccountID + "/containers/" + *c.GTMContainerID + "/workspaces/" + *c.GTMWorkspaceID
}

// GA4Property is the customer's data stream inside the tenant's shared GA4 property.
type GA4Property struct {
	ID            string
	TenantID      string
	CustomerID    string
	PropertyID    string
	MeasurementID string
	DataStreamID  string
	CreatedAt     time.Time
}

// GoogleAdsAccount is an Ads customer reachable through the customer's Google connection.
type GoogleAdsAccount struct {
	ID                   string
	TenantID             string
	CustomerID           string
	AdsCustomerID        string
	DescriptiveName      string
	CurrencyCode         string
	ConversionTrackingID *string
	LabelResourceName    *string
	IsPrimary            bool
	CreatedAt            time.Time
}

// SiteCredential is a stored login for crawling behind a site's login wall.
type SiteCredential struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Domain     string    `json:"domain"`
	LoginURL   string    `json:"login_url,omitempty"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
