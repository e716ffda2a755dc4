package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const oauthStateTTL = 15 * time.Minute

var errStateSecretMissing = errors.New("OAuth state secret is not configured")

// OAuthState is the signed state round-tripped through Google's consent screen
type OAuthState struct {
	UserID     string `json:"u"`
	TenantID   string `json:"t"`
	CustomerID string `json:"c"`
	IssuedAt   int64  `json:"i"`
	Nonce      string `json:"n"`
}

func (h *Handler) generateOAuthState(userID, tenantID, customerID string) (string, error) {
	if h.config.StateSecret == "" {
		return "", errStateSecretMissing
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	data, err := json.Marshal(OAuthState{
		UserID:     userID,
		TenantID:   tenantID,
		CustomerID: customerID,
		IssuedAt:   h.now().Unix(),
		Nonce:      base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(h.config.StateSecret))
	mac.Write(data)
	payload := append(data, mac.Sum(nil)...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

func (h *Handler) validateOAuthState(stateParam string) (*OAuthState, error) {
	if h.config.StateSecret == "" {
		return nil, errStateSecretMissing
	}

	payload, err := base64.RawURLEncoding.DecodeString(stateParam)
	if err != nil {
		return nil, fmt.Errorf("invalid state encoding: %w", err)
	}
	if len(payload) <= sha256.Size {
		return nil, fmt.Errorf("state too short")
	}

	data := payload[:len(payload)-sha256.Size]
	sig := payload[len(payload)-sha256.Size:]

	mac := hmac.New(sha256.New, []byte(h.config.StateSecret))
	mac.Write(data)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("invalid state signature")
	}

	var state OAuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("invalid state data: %w", err)
	}
	if state.TenantID == "" || state.CustomerID == "" {
		return nil, fmt.Errorf("state is missing tenant or customer")
	}
	if h.now().Sub(time.Unix(state.IssuedAt, 0)) > oauthStateTTL {
		return nil, fmt.Errorf("state expired")
	}
	return &state, nil
}
