package util

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

// NormaliseDomain removes the scheme, www. prefix, path and trailing slash
func NormaliseDomain(domain string) string {
	domain = strings.TrimSpace(strings.ToLower(domain))
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	if idx := strings.IndexAny(domain, "/?#"); idx != -1 {
		domain = domain[:idx]
	}
	return domain
}

// ValidateDomain checks if a domain string is a valid public domain.
// Returns an error describing why the domain is invalid, or nil if valid.
func ValidateDomain(domain string) error {
	domain = NormaliseDomain(domain)
	if host, _, found := strings.Cut(domain, ":"); found {
		domain = host
	}

	if domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("domain must contain a TLD (e.g., .com, .co.uk)")
	}

	parts := strings.Split(domain, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("domain contains empty segment")
		}
		for _, c := range part {
			if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
				return fmt.Errorf("domain contains invalid character: %c", c)
			}
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("domain segment cannot start or end with hyphen")
		}
	}

	tld := parts[len(parts)-1]
	if len(tld) < 2 {
		return fmt.Errorf("TLD must be at least 2 characters")
	}

	for _, blocked := range []string{"localhost", "localhost.localdomain", "local", "internal"} {
		if domain == blocked || strings.HasSuffix(domain, "."+blocked) {
			return fmt.Errorf("domain %q is not allowed", domain)
		}
	}
	return nil
}

// NormaliseURL turns user or page input into a canonical absolute URL. A missing scheme becomes
// https; an explicit http scheme is kept. Fragments and default ports are dropped, the host is
// lowercased and a trailing slash is removed from non-root paths. Returns "" for unusable input.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return ""
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Host = normaliseHostPort(strings.ToLower(u.Host), u.Scheme)
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		cleaned := path.Clean(u.Path)
		if cleaned == "." {
			cleaned = "/"
		}
		u.Path = cleaned
		u.RawPath = ""
	}
	return u.String()
}

// HostOf returns the lowercased host of a URL without www. and default ports
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := normaliseHostPort(strings.ToLower(u.Host), u.Scheme)
	return strings.TrimPrefix(host, "www.")
}

// SameSite reports whether two URLs point at the same host, ignoring www. and default ports
func SameSite(a, b string) bool {
	ha := HostOf(a)
	return ha != "" && ha == HostOf(b)
}

// ExtractPathFromURL returns the path component of a URL, "/" when it has none
func ExtractPathFromURL(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
