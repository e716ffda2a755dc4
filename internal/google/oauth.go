// Package google wraps the Google Tag Manager, GA4 Admin and Google Ads APIs behind the
// small get-or-create contracts the sync and bootstrap code relies on.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/secrets"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

// AdsScope grants access to the Google Ads API
const AdsScope = "https://www.googleapis.com/auth/adwords"

// Scopes requested on connect
var Scopes = []string{
	oauth2api.OpenIDScope,
	oauth2api.UserinfoEmailScope,
	tagmanager.TagmanagerEditContainersScope,
	tagmanager.TagmanagerEditContainerversionsScope,
	tagmanager.TagmanagerPublishScope,
	tagmanager.TagmanagerReadonlyScope,
	analyticsadmin.AnalyticsEditScope,
	AdsScope,
}

// Config holds the OAuth client and Ads API settings
type Config struct {
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	AdsDeveloperToken  string
	AdsLoginCustomerID string
	AdsBaseURL         string
	ClientOptions      []option.ClientOption // extra options for the generated API clients
}

// ConnectionStore persists OAuth grants
type ConnectionStore interface {
	SaveGoogleConnection(ctx context.Context, conn *db.GoogleConnection) error
	GetGoogleConnection(ctx context.Context, tenantID, connectionID string) (*db.GoogleConnection, error)
	UpdateGoogleAccessToken(ctx context.Context, connectionID, accessToken, tokenType string, expiry time.Time, refreshTokenEnc []byte) error
}

// Connector runs the OAuth flow and builds API clients for a connected customer
type Connector struct {
	oauth  *oauth2.Config
	cfg    Config
	store  ConnectionStore
	sealer *secrets.Sealer
}

// NewConnector creates a Connector
func NewConnector(cfg Config, store ConnectionStore, sealer *secrets.Sealer) *Connector {
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		cfg:    cfg,
		store:  store,
		sealer: sealer,
	}
}

// Configured reports whether OAuth client credentials are present
func (c *Connector) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthCodeURL returns the consent URL; offline access with forced consent so a refresh token is issued
func (c *Connector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for a token
func (c *Connector) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange OAuth code: %w", err)
	}
	return tok, nil
}

// UserInfo identifies the Google account behind tok
func (c *Connector) UserInfo(ctx context.Context, tok *oauth2.Token) (*oauth2api.Userinfo, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(c.oauth.TokenSource(ctx, tok))}, c.cfg.ClientOptions...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Google user info: %w", err)
	}
	return info, nil
}

// SaveConnection seals the refresh token and stores the grant for the customer
func (c *Connector) SaveConnection(ctx context.Context, tenantID, customerID string, tok *oauth2.Token, info *oauth2api.Userinfo) (*db.GoogleConnection, error) {
	conn := &db.GoogleConnection{
		TenantID:     tenantID,
		CustomerID:   customerID,
		GoogleUserID: info.Id,
		Email:        info.Email,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       Scopes,
	}
	if tok.RefreshToken != "" {
		sealed, err := c.sealer.SealString(tok.RefreshToken, refreshTokenAD(tenantID, customerID))
		if err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
		conn.RefreshTokenEnc = sealed
	}
	if err := c.store.SaveGoogleConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ClientsFor builds API clients authorised as the customer's connected Google account
func (c *Connector) ClientsFor(ctx context.Context, customer *domain.Customer) (*Clients, error) {
	if !customer.GoogleConnected() {
		return nil, domain.ErrGoogleNotConnected
	}

	conn, err := c.store.GetGoogleConnection(ctx, customer.TenantID, *customer.GoogleConnectionID)
	if err != nil {
		if errors.Is(err, db.ErrGoogleConnectionNotFound) {
			return nil, domain.ErrGoogleNotConnected
		}
		return nil, err
	}

	ts, err := c.tokenSource(ctx, conn)
	if err != nil {
		return nil, err
	}
	return c.newClients(ctx, ts)
}

func (c *Connector) newClients(ctx context.Context, ts oauth2.TokenSource) (*Clients, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.cfg.ClientOptions...)

	gtm, err := NewGTMClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	ga4, err := NewGA4Client(ctx, opts...)
	if err != nil {
		return nil, err
	}
	ads := NewAdsClient(oauth2.NewClient(ctx, ts), AdsConfig{
		BaseURL:         c.cfg.AdsBaseURL,
		DeveloperToken:  c.cfg.AdsDeveloperToken,
		LoginCustomerID: c.cfg.AdsLoginCustomerID,
	})

	return &Clients{GTM: gtm, GA4: ga4, Ads: ads}, nil
}

func (c *Connector) tokenSource(ctx context.Context, conn *db.GoogleConnection) (oauth2.TokenSource, error) {
	tok := &oauth2.Token{
		AccessToken: conn.AccessToken,
		TokenType:   conn.TokenType,
		Expiry:      conn.Expiry,
	}
	if len(conn.RefreshTokenEnc) > 0 {
		refresh, err := c.sealer.OpenString(conn.RefreshTokenEnc, refreshTokenAD(conn.TenantID, conn.CustomerID))
		if err != nil {
			return nil, fmt.Errorf("failed to open refresh token: %w", err)
		}
		tok.RefreshToken = refresh
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, fmt.Errorf("google connection has no usable token: %w", domain.ErrGoogleNotConnected)
	}

	return &persistingTokenSource{
		base:   c.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		last:   tok,
		conn:   conn,
		store:  c.store,
		sealer: c.sealer,
	}, nil
}

func refreshTokenAD(tenantID, customerID string) string {
	return "google-refresh:" + tenantID + ":" + customerID
}

// persistingTokenSource writes refreshed access tokens back to the connection row
type persistingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	last   *oauth2.Token
	conn   *db.GoogleConnection
	store  ConnectionStore
	sealer *secrets.Sealer
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == s.last.AccessToken {
		return tok, nil
	}

	var refreshEnc []byte
	if tok.RefreshToken != "" && tok.RefreshToken != s.last.RefreshToken {
		sealed, err := s.sealer.SealString(tok.RefreshToken, refreshTokenAD(s.conn.TenantID, s.conn.CustomerID))
		if err != nil {
			return nil, fmt.Errorf("failed to seal rotated refresh token: %w", err)
		}
		refreshEnc = sealed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateGoogleAccessToken(ctx, s.conn.ID, tok.AccessToken, tok.TokenType, tok.Expiry, refreshEnc); err != nil {
		// The token is still good for this process; the next refresh will try again.
		log.Warn().Err(err).Str("connection_id", s.conn.ID).Msg("Failed to persist refreshed Google token")
	}

	s.last = tok
	return tok, nil
}

// Clients bundles the per-customer API clients
type Clients struct {
	GTM GTM
	GA4 GA4
	Ads Ads
}

// ClientProvider builds clients for a connected customer
type ClientProvider interface {
	ClientsFor(ctx context.Context, customer *domain.Customer) (*Clients, error)
}

var _ ClientProvider = (*Connector)(nil)
