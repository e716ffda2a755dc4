package auth

import (
	"fmt"
	"os"
	"strings"
)

// Config holds token verification settings
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	HMACSecret string
}

// NewConfigFromEnv creates auth config from environment variables
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		JWKSURL:    strings.TrimSpace(os.Getenv("AUTH_JWKS_URL")),
		Issuer:     strings.TrimSpace(os.Getenv("AUTH_ISSUER")),
		Audience:   strings.TrimSpace(os.Getenv("AUTH_AUDIENCE")),
		HMACSecret: os.Getenv("AUTH_JWT_SECRET"),
	}

	if config.JWKSURL == "" && config.HMACSecret == "" {
		return nil, fmt.Errorf("AUTH_JWKS_URL or AUTH_JWT_SECRET environment variable is required")
	}
	return config, nil
}

// Validate ensures at least one key source is configured
func (c *Config) Validate() error {
	if c.JWKSURL == "" && c.HMACSecret == "" {
		return fmt.Errorf("JWKSURL or HMACSecret is required")
	}
	if c.JWKSURL != "" && !strings.HasPrefix(c.JWKSURL, "https://") && !strings.HasPrefix(c.JWKSURL, "http://") {
		return fmt.Errorf("JWKSURL must be an http(s) URL")
	}
	return nil
}
