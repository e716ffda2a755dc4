package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	v := NewValidator(Config{HMACSecret: testSecret})

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noTenant := validClaims()
	noTenant.TenantID = ""

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{name: "missing_header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORISED", wantMsg: "Missing or invalid Authorization header"},
		{name: "not_bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORISED", wantMsg: "Missing or invalid Authorization header"},
		{name: "expired", header: "Bearer " + hsToken(t, testSecret, expired), wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORISED", wantMsg: "Authentication token has expired"},
		{name: "bad_signature", header: "Bearer " + hsToken(t, "another-secret-entirely-for-this-test", validClaims()), wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORISED", wantMsg: "Invalid token signature"},
		{name: "malformed", header: "Bearer not.a.token", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORISED", wantMsg: "Invalid authentication token"},
		{name: "no_tenant", header: "Bearer " + hsToken(t, testSecret, noTenant), wantStatus: http.StatusForbidden, wantCode: "FORBIDDEN", wantMsg: "Token carries no tenant"},
		{name: "valid", header: "Bearer " + hsToken(t, testSecret, validClaims()), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen Identity
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := GetIdentity(r.Context())
				require.True(t, ok)
				seen = id
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/customers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			rec.Header().Set("X-Request-ID", "req-1")

			Middleware(v)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, Identity{TenantID: "tenant-1", UserID: "user-123", Email: "user@example.com"}, seen)
				return
			}

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, tt.wantMsg, body["message"])
			assert.Equal(t, "req-1", body["request_id"])
		})
	}
}

func TestGetIdentityRequiresTenantAndUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := GetIdentity(req.Context())
	assert.False(t, ok)

	_, ok = GetIdentity(WithIdentity(req.Context(), Identity{TenantID: "t"}))
	assert.False(t, ok)

	id, ok := GetIdentity(WithIdentity(req.Context(), Identity{TenantID: "t", UserID: "u"}))
	assert.True(t, ok)
	assert.Equal(t, "u", id.UserID)
}
