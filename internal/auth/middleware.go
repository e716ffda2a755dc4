// Package auth verifies bearer tokens and resolves the caller's tenant and user.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingToken  = errors.New("missing or invalid Authorization header")
	ErrMissingTenant = errors.New("token carries no tenant")

	errJWKSUnavailable = errors.New("jwks unavailable")
	errHS256Disabled   = errors.New("HS256 tokens are not accepted")
)

// Claims are the JWT claims the API understands. The tenant may be a top-level claim or
// sit in app_metadata, which is where hosted identity providers usually put it.
type Claims struct {
	jwt.RegisteredClaims
	Email       string         `json:"email"`
	TenantID    string         `json:"tenant_id"`
	AppMetadata map[string]any `json:"app_metadata"`
}

// Tenant returns the tenant the token was issued for
func (c *Claims) Tenant() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	if v, ok := c.AppMetadata["tenant_id"].(string); ok {
		return v
	}
	return ""
}

// Identity is the resolved caller of a request
type Identity struct {
	TenantID string
	UserID   string
	Email    string
}

type identityKey struct{}

// WithIdentity stores id on ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// GetIdentity extracts the caller from ctx
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.TenantID != "" && id.UserID != ""
}

// TokenValidator checks a raw bearer token
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// Validator accepts RS256/ES256 tokens signed by a key in the JWKS and, when a shared secret
// is configured, HS256 tokens.
type Validator struct {
	cfg Config

	jwksOnce   sync.Once
	jwks       keyfunc.Keyfunc
	jwksErr    error
	stopJWKS   context.CancelFunc
	httpClient *http.Client
}

// NewValidator creates a Validator; the JWKS is fetched on first use
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg, httpClient: &http.Client{Timeout: 5 * time.Second}}
}

// Close stops the background JWKS refresh
func (v *Validator) Close() {
	if v.stopJWKS != nil {
		v.stopJWKS()
	}
}

func (v *Validator) getJWKS() (keyfunc.Keyfunc, error) {
	v.jwksOnce.Do(func() {
		if v.cfg.JWKSURL == "" {
			v.jwksErr = fmt.Errorf("%w: no JWKS URL configured", errJWKSUnavailable)
			return
		}

		override := keyfunc.Override{
			Client:          v.httpClient,
			HTTPTimeout:     5 * time.Second,
			RefreshInterval: 10 * time.Minute,
			RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
				return func(ctx context.Context, err error) {
					log.Error().Err(err).Str("jwks_url", url).Msg("JWKS refresh failed")
				}
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{v.cfg.JWKSURL}, override)
		if err != nil {
			cancel()
			v.jwksErr = fmt.Errorf("%w: %v", errJWKSUnavailable, err)
			return
		}
		v.jwks = jwks
		v.stopJWKS = cancel
	})
	return v.jwks, v.jwksErr
}

func (v *Validator) keyFor(token *jwt.Token) (any, error) {
	if token.Method.Alg() == jwt.SigningMethodHS256.Alg() {
		if v.cfg.HMACSecret == "" {
			return nil, errHS256Disabled
		}
		return []byte(v.cfg.HMACSecret), nil
	}
	jwks, err := v.getJWKS()
	if err != nil {
		return nil, err
	}
	return jwks.Keyfunc(token)
}

// ValidateToken parses and verifies a token
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request context cancelled: %w", ctx.Err())
	default:
	}

	methods := []string{jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name}
	if v.cfg.HMACSecret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Name)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Middleware rejects requests without a valid token and stores the caller's Identity
func Middleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, "Missing or invalid Authorization header", http.StatusUnauthorized, "UNAUTHORISED")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				log.Warn().Err(err).Str("token_prefix", tokenString[:min(10, len(tokenString))]).Msg("JWT validation failed")

				errorMsg := "Invalid authentication token"
				statusCode := http.StatusUnauthorized
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					errorMsg = "Authentication token has expired"
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					errorMsg = "Invalid token signature"
					sentry.CaptureException(err)
				case errors.Is(err, errJWKSUnavailable):
					errorMsg = "Authentication service misconfigured"
					statusCode = http.StatusInternalServerError
					sentry.CaptureException(err)
				}
				writeAuthError(w, errorMsg, statusCode, "UNAUTHORISED")
				return
			}

			tenantID := claims.Tenant()
			if tenantID == "" {
				writeAuthError(w, "Token carries no tenant", http.StatusForbidden, "FORBIDDEN")
				return
			}

			id := Identity{TenantID: tenantID, UserID: claims.Subject, Email: claims.Email}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// writeAuthError writes the API error envelope; the request id is read back from the
// response header set by the request-id middleware
func writeAuthError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"status":     statusCode,
		"message":    message,
		"code":       code,
		"request_id": w.Header().Get("X-Request-ID"),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode auth error response")
	}
}
