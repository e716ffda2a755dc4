package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/oneclicktag/oneclicktag/internal/cache"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BootstrapStore persists the Google handles discovered during bootstrap
type BootstrapStore interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	UpdateTenantGoogle(ctx context.Context, tenantID string, gtmAccountID, ga4AccountID, ga4PropertyID *string) error
	UpdateCustomerGTM(ctx context.Context, tenantID, customerID, accountID, containerID, publicID, workspaceID string) error
	UpsertGA4Property(ctx context.Context, p *domain.GA4Property) error
	GetGA4Property(ctx context.Context, tenantID, customerID string) (*domain.GA4Property, error)
	UpsertAdsAccount(ctx context.Context, a *domain.GoogleAdsAccount) error
	ListAdsAccounts(ctx context.Context, tenantID, customerID string) ([]*domain.GoogleAdsAccount, error)
}

// Bootstrap step names
const (
	StepGTMAccount   = "gtm_account"
	StepGA4Property  = "ga4_property"
	StepGTMContainer = "gtm_container"
	StepGA4Stream    = "ga4_stream"
	StepAdsAccounts  = "ads_accounts"
)

// StepResult is the outcome of one bootstrap step
type StepResult struct {
	Step  string `json:"step"`
	Error string `json:"error,omitempty"`
}

// BootstrapReport collects every step's outcome; failures never abort sibling steps
type BootstrapReport struct {
	Steps []StepResult `json:"steps"`
}

// Failed returns the steps that returned an error
func (r *BootstrapReport) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Error != "" {
			failed = append(failed, s)
		}
	}
	return failed
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// settleAll runs every step concurrently and waits for all of them. Errors and panics are
// captured per step and logged; they never cancel the other steps.
func settleAll(ctx context.Context, steps []step) []StepResult {
	results := make([]StepResult, len(steps))
	var g errgroup.Group

	for i, s := range steps {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				results[i] = StepResult{Step: s.name}
				if err != nil {
					results[i].Error = err.Error()
					log.Warn().Err(err).Str("step", s.name).Msg("Google bootstrap step failed")
				}
			}()
			return s.run(ctx)
		})
	}

	// Step errors are already captured in results
	_ = g.Wait()
	return results
}

// Bootstrapper discovers or creates the Google resources a customer needs
type Bootstrapper struct {
	store   BootstrapStore
	tenants *cache.TTLCache
}

// NewBootstrapper creates a Bootstrapper; tenants memoises tenant-level completion
func NewBootstrapper(store BootstrapStore, tenants *cache.TTLCache) *Bootstrapper {
	if tenants == nil {
		tenants = cache.NewTTLCache(0)
	}
	return &Bootstrapper{store: store, tenants: tenants}
}

// Run performs the full bootstrap after a customer connects Google. Tenant-level discovery runs first
// (once per tenant), then the GTM, GA4 and Ads customer steps run in parallel.
func (b *Bootstrapper) Run(ctx context.Context, clients *Clients, customer *domain.Customer) *BootstrapReport {
	report := &BootstrapReport{}

	tenant, tenantSteps, err := b.EnsureTenant(ctx, clients, customer.TenantID)
	report.Steps = append(report.Steps, tenantSteps...)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", customer.TenantID).Msg("Failed to load tenant for Google bootstrap")
		return report
	}

	report.Steps = append(report.Steps, settleAll(ctx, []step{
		{StepGTMContainer, func(ctx context.Context) error {
			_, err := b.EnsureCustomerGTM(ctx, clients, tenant, customer)
			return err
		}},
		{StepGA4Stream, func(ctx context.Context) error {
			_, err := b.EnsureGA4Stream(ctx, clients, tenant, customer)
			return err
		}},
		{StepAdsAccounts, func(ctx context.Context) error {
			_, err := b.EnsureAdsAccounts(ctx, clients, customer)
			return err
		}},
	})...)

	log.Info().
		Str("tenant_id", customer.TenantID).
		Str("customer_id", customer.ID).
		Int("failed_steps", len(report.Failed())).
		Msg("Google bootstrap finished")

	return report
}

func tenantCacheKey(tenantID string) string { return "tenant-bootstrap:" + tenantID }

// EnsureTenant discovers the tenant's GTM account and shared GA4 property. Both steps are skipped
// once the tenant has them.
func (b *Bootstrapper) EnsureTenant(ctx context.Context, clients *Clients, tenantID string) (*domain.Tenant, []StepResult, error) {
	if cached, ok := b.tenants.Get(tenantCacheKey(tenantID)); ok {
		return cached.(*domain.Tenant), nil, nil
	}

	tenant, err := b.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	var steps []step
	if tenant.GTMAccountID == nil {
		steps = append(steps, step{StepGTMAccount, func(ctx context.Context) error {
			accounts, err := clients.GTM.ListAccounts(ctx)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return errors.New("google account has no GTM accounts")
			}
			id := accounts[0].AccountId
			if err := b.store.UpdateTenantGoogle(ctx, tenantID, &id, nil, nil); err != nil {
				return err
			}
			tenant.GTMAccountID = &id
			return nil
		}})
	}
	if tenant.GA4PropertyID == nil {
		steps = append(steps, step{StepGA4Property, func(ctx context.Context) error {
			prop, err := clients.GA4.FindOrCreateProperty(ctx, SharedPropertyName, "", "")
			if err != nil {
				return err
			}
			if err := b.store.UpdateTenantGoogle(ctx, tenantID, nil, &prop.AccountID, &prop.PropertyID); err != nil {
				return err
			}
			tenant.GA4AccountID = &prop.AccountID
			tenant.GA4PropertyID = &prop.PropertyID
			return nil
		}})
	}

	results := settleAll(ctx, steps)

	if tenant.GTMAccountID != nil && tenant.GA4PropertyID != nil {
		b.tenants.Set(tenantCacheKey(tenantID), tenant)
	}
	return tenant, results, nil
}

// EnsureCustomerGTM returns the customer's workspace path, creating the dedicated container and
// workspace when the stored one is missing.
func (b *Bootstrapper) EnsureCustomerGTM(ctx context.Context, clients *Clients, tenant *domain.Tenant, customer *domain.Customer) (string, error) {
	if path := customer.WorkspacePath(); path != "" {
		exists, err := clients.GTM.WorkspaceExists(ctx, path)
		if err != nil {
			return "", err
		}
		if exists {
			return path, nil
		}
		log.Warn().Str("customer_id", customer.ID).Str("workspace", path).Msg("Stored GTM workspace is gone, recreating")
	}

	accountID := ""
	if tenant != nil && tenant.GTMAccountID != nil {
		accountID = *tenant.GTMAccountID
	}
	if accountID == "" {
		accounts, err := clients.GTM.ListAccounts(ctx)
		if err != nil {
			return "", err
		}
		if len(accounts) == 0 {
			return "", errors.New("google account has no GTM accounts")
		}
		accountID = accounts[0].AccountId
	}

	container, err := clients.GTM.FindOrCreateContainer(ctx, accountID, "OneClickTag - "+customer.Name, hostOf(customer.WebsiteURL))
	if err != nil {
		return "", err
	}
	workspace, err := clients.GTM.FindOrCreateWorkspace(ctx, container.Path, WorkspaceName)
	if err != nil {
		return "", err
	}
	if err := clients.GTM.EnsureEssentials(ctx, workspace.Path, ""); err != nil {
		return "", err
	}

	if err := b.store.UpdateCustomerGTM(ctx, customer.TenantID, customer.ID,
		accountID, container.ContainerId, container.PublicId, workspace.WorkspaceId); err != nil {
		return "", err
	}

	customer.GTMAccountID = &accountID
	customer.GTMContainerID = &container.ContainerId
	customer.GTMContainerPublicID = &container.PublicId
	customer.GTMWorkspaceID = &workspace.WorkspaceId
	return workspace.Path, nil
}

// EnsureGA4Stream returns the customer's web stream in the tenant's shared property, creating it if needed
func (b *Bootstrapper) EnsureGA4Stream(ctx context.Context, clients *Clients, tenant *domain.Tenant, customer *domain.Customer) (*domain.GA4Property, error) {
	existing, err := b.store.GetGA4Property(ctx, customer.TenantID, customer.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if tenant == nil || tenant.GA4PropertyID == nil {
		return nil, errors.New("tenant has no shared GA4 property")
	}
	if customer.WebsiteURL == "" {
		return nil, domain.Invalid("website_url", "customer has no website URL for a GA4 stream")
	}

	stream, err := clients.GA4.FindOrCreateWebStream(ctx, *tenant.GA4PropertyID, customer.WebsiteURL, customer.Name)
	if err != nil {
		return nil, err
	}

	prop := &domain.GA4Property{
		TenantID:      customer.TenantID,
		CustomerID:    customer.ID,
		PropertyID:    *tenant.GA4PropertyID,
		MeasurementID: stream.MeasurementID,
		DataStreamID:  stream.StreamID,
	}
	if err := b.store.UpsertGA4Property(ctx, prop); err != nil {
		return nil, err
	}
	return prop, nil
}

// EnsureAdsAccounts records every non-manager Ads account the customer can reach and makes sure each
// has the OneClickTag label. Per-account failures are logged; an error is returned only if none succeeded.
func (b *Bootstrapper) EnsureAdsAccounts(ctx context.Context, clients *Clients, customer *domain.Customer) ([]*domain.GoogleAdsAccount, error) {
	ids, err := clients.Ads.ListAccessibleCustomers(ctx)
	if err != nil {
		return nil, err
	}

	var accounts []*domain.GoogleAdsAccount
	var lastErr error
	for _, id := range ids {
		account, err := b.ensureAdsAccount(ctx, clients.Ads, customer, id)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("ads_customer_id", id).Str("customer_id", customer.ID).Msg("Failed to set up Ads account")
			continue
		}
		if account != nil {
			accounts = append(accounts, account)
		}
	}

	if len(accounts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return accounts, nil
}

func (b *Bootstrapper) ensureAdsAccount(ctx context.Context, ads Ads, customer *domain.Customer, adsCustomerID string) (*domain.GoogleAdsAccount, error) {
	info, err := ads.GetCustomer(ctx, adsCustomerID)
	if err != nil {
		return nil, err
	}
	if info.Manager {
		return nil, nil
	}

	label, err := ads.FindOrCreateLabel(ctx, adsCustomerID, LabelName)
	if err != nil {
		return nil, err
	}

	account := &domain.GoogleAdsAccount{
		TenantID:          customer.TenantID,
		CustomerID:        customer.ID,
		AdsCustomerID:     info.ID,
		DescriptiveName:   info.DescriptiveName,
		CurrencyCode:      info.CurrencyCode,
		LabelResourceName: &label,
	}
	if info.ConversionTrackingID != "" {
		account.ConversionTrackingID = &info.ConversionTrackingID
	}
	if err := b.store.UpsertAdsAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// PrimaryAdsAccount returns the customer's primary Ads account, running Ads discovery when none is stored
func (b *Bootstrapper) PrimaryAdsAccount(ctx context.Context, clients *Clients, customer *domain.Customer) (*domain.GoogleAdsAccount, error) {
	accounts, err := b.store.ListAdsAccounts(ctx, customer.TenantID, customer.ID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		if accounts, err = b.EnsureAdsAccounts(ctx, clients, customer); err != nil {
			return nil, err
		}
	}
	if len(accounts) == 0 {
		return nil, errors.New("customer has no accessible Google Ads account")
	}

	primary := accounts[0]
	for _, a := range accounts {
		if a.IsPrimary {
			primary = a
			break
		}
	}
	if primary.LabelResourceName == nil {
		label, err := clients.Ads.FindOrCreateLabel(ctx, primary.AdsCustomerID, LabelName)
		if err != nil {
			return nil, err
		}
		primary.LabelResourceName = &label
		if err := b.store.UpsertAdsAccount(ctx, primary); err != nil {
			return nil, err
		}
	}
	return primary, nil
}
