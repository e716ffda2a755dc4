package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/oneclicktag/oneclicktag/internal/domain"
)

// GoogleConnect returns the consent URL that links a Google account to the customer
func (h *Handler) GoogleConnect(w http.ResponseWriter, r *http.Request) {
	logger := loggerWithRequest(r)

	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.Google == nil || !h.Google.Configured() {
		ServiceUnavailable(w, r, "Google integration is not configured")
		return
	}

	customer, err := h.Customers.GetCustomer(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	state, err := h.generateOAuthState(id.UserID, id.TenantID, customer.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate OAuth state")
		ServiceUnavailable(w, r, "Google integration is not configured")
		return
	}

	WriteSuccess(w, r, map[string]string{"auth_url": h.Google.AuthCodeURL(state)}, "Redirect to this URL to connect Google")
}

// GoogleCallback finishes the OAuth flow: the grant is stored, the customer is linked, and
// the GTM/GA4/Ads bootstrap starts in the background. Bootstrap failures never fail the callback.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	logger := loggerWithRequest(r)

	if h.Google == nil || !h.Google.Configured() {
		ServiceUnavailable(w, r, "Google integration is not configured")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		logger.Warn().Str("error", errParam).Msg("Google OAuth denied")
		h.finishOAuth(w, r, "", "Google connection was cancelled", http.StatusBadRequest)
		return
	}

	code, stateParam := query.Get("code"), query.Get("state")
	if code == "" || stateParam == "" {
		BadRequest(w, r, "Missing code or state parameter")
		return
	}

	state, err := h.validateOAuthState(stateParam)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid OAuth state")
		h.finishOAuth(w, r, "", "Invalid or expired state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	customer, err := h.Customers.GetCustomer(ctx, state.TenantID, state.CustomerID)
	if err != nil {
		logger.Warn().Err(err).Str("customer_id", state.CustomerID).Msg("OAuth callback for unknown customer")
		h.finishOAuth(w, r, "", "Customer not found", http.StatusNotFound)
		return
	}

	tok, err := h.Google.Exchange(ctx, code)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to exchange Google OAuth code")
		h.finishOAuth(w, r, customer.ID, "Failed to connect to Google", http.StatusBadGateway)
		return
	}
	info, err := h.Google.UserInfo(ctx, tok)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch Google user info")
		h.finishOAuth(w, r, customer.ID, "Failed to read the Google account", http.StatusBadGateway)
		return
	}

	conn, err := h.Google.SaveConnection(ctx, state.TenantID, customer.ID, tok, info)
	if err != nil {
		sentry.CaptureException(err)
		logger.Error().Err(err).Msg("Failed to save Google connection")
		h.finishOAuth(w, r, customer.ID, "Failed to save the Google connection", http.StatusInternalServerError)
		return
	}
	if err := h.Customers.LinkCustomerGoogle(ctx, state.TenantID, customer.ID, info.Id, info.Email, conn.ID); err != nil {
		sentry.CaptureException(err)
		logger.Error().Err(err).Msg("Failed to link Google account to customer")
		h.finishOAuth(w, r, customer.ID, "Failed to save the Google connection", http.StatusInternalServerError)
		return
	}

	customer.GoogleAccountID = &info.Id
	customer.GoogleEmail = &info.Email
	customer.GoogleConnectionID = &conn.ID
	h.startBootstrap(customer)

	logger.Info().
		Str("tenant_id", state.TenantID).
		Str("customer_id", customer.ID).
		Str("google_email", info.Email).
		Msg("Google account connected")

	h.finishOAuth(w, r, customer.ID, "", http.StatusOK)
}

// startBootstrap runs the Google bootstrap detached from the request
func (h *Handler) startBootstrap(customer *domain.Customer) {
	if h.Bootstrap == nil {
		return
	}
	h.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.config.BootstrapTimeout)
		defer cancel()

		clients, err := h.Google.ClientsFor(ctx, customer)
		if err != nil {
			sentry.CaptureException(err)
			return
		}
		h.Bootstrap.Run(ctx, clients, customer)
	})
}

// finishOAuth redirects the browser back to the app when one is configured, otherwise answers JSON
func (h *Handler) finishOAuth(w http.ResponseWriter, r *http.Request, customerID, failure string, status int) {
	if h.config.AppURL != "" {
		q := url.Values{}
		if customerID != "" {
			q.Set("customer_id", customerID)
		}
		if failure == "" {
			q.Set("google", "connected")
		} else {
			q.Set("google_error", failure)
		}
		target := strings.TrimSuffix(h.config.AppURL, "/") + "/customers?" + q.Encode()
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	if failure != "" {
		WriteErrorMessage(w, r, failure, status, codeForStatus(status))
		return
	}
	WriteSuccess(w, r, map[string]string{"customer_id": customerID}, "Google account connected")
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	default:
		return ErrCodeInternal
	}
}
