package crawler

import (
	"time"
)

// Config holds the configuration for a crawler instance
type Config struct {
	DefaultTimeout time.Duration // Per-request timeout
	RateLimit      int           // Requests per second per host
	UserAgent      string        // User agent string for requests
	MaxBodyBytes   int           // Response bodies are truncated to this size
	MaxSitemapURLs int           // Upper bound on URLs read from sitemaps
	SkipSSRFCheck  bool          // Skip SSRF protection (for tests only, never enable in production)
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout: 15 * time.Second,
		RateLimit:      4,
		UserAgent:      "OneClickTagScanner/1.0 (+https://oneclicktag.com/scanner)",
		MaxBodyBytes:   2 * 1024 * 1024,
		MaxSitemapURLs: 2000,
	}
}
