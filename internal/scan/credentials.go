package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/util"
)

var errNoSealer = errors.New("site credential storage is not configured")

// CredentialInput registers a login for a customer's site
type CredentialInput struct {
	Domain   string `json:"domain"`
	LoginURL string `json:"login_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SaveCredential stores a site login with its password sealed. One login is kept per domain.
func (s *Service) SaveCredential(ctx context.Context, tenantID, customerID string, in CredentialInput) (*domain.SiteCredential, error) {
	if s.sealer == nil {
		return nil, errNoSealer
	}
	if _, err := s.store.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}

	siteDomain := util.NormaliseDomain(in.Domain)
	if siteDomain == "" && in.LoginURL != "" {
		siteDomain = util.HostOf(util.NormaliseURL(in.LoginURL))
	}
	if err := util.ValidateDomain(siteDomain); err != nil {
		return nil, domain.Invalid("domain", "%s", err.Error())
	}
	loginURL := util.NormaliseURL(in.LoginURL)
	if loginURL == "" {
		return nil, domain.Invalid("login_url", "a valid http or https URL is required")
	}
	if strings.TrimSpace(in.Username) == "" {
		return nil, domain.Invalid("username", "is required")
	}
	if in.Password == "" {
		return nil, domain.Invalid("password", "is required")
	}

	stored, err := s.seal(tenantID, customerID, siteDomain, loginURL, in.Username, in.Password)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSiteCredential(ctx, stored); err != nil {
		return nil, err
	}
	log.Info().Str("customer_id", customerID).Str("domain", siteDomain).Msg("Site credential saved")
	return &stored.SiteCredential, nil
}

// ListCredentials returns the customer's stored site logins without passwords
func (s *Service) ListCredentials(ctx context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error) {
	if _, err := s.store.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, err
	}
	creds, err := s.store.ListSiteCredentials(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		creds = []*domain.SiteCredential{}
	}
	return creds, nil
}

// DeleteCredential removes a stored site login
func (s *Service) DeleteCredential(ctx context.Context, tenantID, id string) error {
	return s.store.DeleteSiteCredential(ctx, tenantID, id)
}

// associated data binds a sealed password to its tenant and domain
func credentialAAD(tenantID, siteDomain string) string {
	return tenantID + "|" + siteDomain
}

func (s *Service) seal(tenantID, customerID, siteDomain, loginURL, username, password string) (*db.StoredCredential, error) {
	enc, err := s.sealer.SealString(password, credentialAAD(tenantID, siteDomain))
	if err != nil {
		return nil, fmt.Errorf("failed to seal site password: %w", err)
	}
	return &db.StoredCredential{
		SiteCredential: domain.SiteCredential{
			TenantID:   tenantID,
			CustomerID: customerID,
			Domain:     siteDomain,
			LoginURL:   loginURL,
			Username:   username,
		},
		PasswordEnc: enc,
	}, nil
}

// resolveCredentials prefers credentials sent with the chunk and falls back to the login
// stored for the scanned domain. The bool reports whether they came from the request.
func (s *Service) resolveCredentials(ctx context.Context, scan *domain.SiteScan, given *Credentials) (*Credentials, bool) {
	if given != nil {
		return given, true
	}
	if s.sealer == nil {
		return nil, false
	}

	siteDomain := util.HostOf(scan.WebsiteURL)
	stored, err := s.store.GetSiteCredential(ctx, scan.TenantID, siteDomain)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to load site credential")
		}
		return nil, false
	}
	password, err := s.sealer.OpenString(stored.PasswordEnc, credentialAAD(scan.TenantID, siteDomain))
	if err != nil {
		log.Error().Err(err).Str("scan_id", scan.ID).Str("domain", siteDomain).Msg("Failed to open site credential")
		return nil, false
	}
	return &Credentials{Username: stored.Username, Password: password, LoginURL: stored.LoginURL}, false
}

// rememberCredentials stores credentials that just logged in successfully; failures only log
func (s *Service) rememberCredentials(ctx context.Context, scan *domain.SiteScan, creds *Credentials) {
	if s.sealer == nil {
		log.Warn().Str("scan_id", scan.ID).Err(errNoSealer).Msg("Not saving site credential")
		return
	}
	loginURL := util.NormaliseURL(creds.LoginURL)
	if loginURL == "" && scan.LoginURL != nil {
		loginURL = *scan.LoginURL
	}
	stored, err := s.seal(scan.TenantID, scan.CustomerID, util.HostOf(scan.WebsiteURL), loginURL, creds.Username, creds.Password)
	if err == nil {
		err = s.store.SaveSiteCredential(ctx, stored)
	}
	if err != nil {
		log.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to save site credential")
		return
	}
	log.Info().Str("scan_id", scan.ID).Str("domain", stored.Domain).Msg("Site credential saved from scan")
}
