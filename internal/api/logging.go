package api

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/auth"
)

// loggerWithRequest returns a logger carrying the request's correlation fields and,
// once authenticated, its tenant
func loggerWithRequest(r *http.Request) zerolog.Logger {
	if r == nil {
		return log.With().Logger()
	}

	builder := log.With().
		Str("request_id", GetRequestID(r)).
		Str("method", r.Method).
		Str("path", r.URL.Path)

	if id, ok := auth.GetIdentity(r.Context()); ok {
		builder = builder.Str("tenant_id", id.TenantID).Str("user_id", id.UserID)
	}
	return builder.Logger()
}
