package crawler

import (
	"bufio"
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxRobotsBytes = 512 * 1024

// RobotsRules contains parsed robots.txt rules for a site
type RobotsRules struct {
	// CrawlDelay in seconds (0 means no delay specified)
	CrawlDelay int
	// Sitemaps found in robots.txt
	Sitemaps []string
	// DisallowPatterns are URL patterns that should not be crawled
	DisallowPatterns []string
	// AllowPatterns override DisallowPatterns when they are at least as specific
	AllowPatterns []string
}

// FetchRobots loads robots.txt from the site root. A missing file means no restrictions.
func (c *Crawler) FetchRobots(ctx context.Context, rootURL string) (*RobotsRules, error) {
	robotsURL := strings.TrimSuffix(siteRoot(rootURL), "/") + "/robots.txt"
	res, err := c.Fetch(ctx, robotsURL, nil)
	if err != nil {
		if res != nil && res.StatusCode >= 400 && res.StatusCode < 500 {
			log.Debug().Str("robots_url", robotsURL).Int("status", res.StatusCode).Msg("No robots.txt found, no restrictions apply")
			return &RobotsRules{}, nil
		}
		return nil, err
	}
	body := res.Body
	if len(body) > maxRobotsBytes {
		body = body[:maxRobotsBytes]
	}
	return ParseRobots(body, c.config.UserAgent), nil
}

// ParseRobots reads robots.txt content. Groups naming our bot win over the wildcard group.
func ParseRobots(content []byte, userAgent string) *RobotsRules {
	botName := strings.ToLower(strings.Split(userAgent, "/")[0])

	ours := &RobotsRules{}
	wildcard := &RobotsRules{}
	var sitemaps []string
	var current []*RobotsRules
	foundOurs := false
	lastWasAgent := false

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !lastWasAgent {
				current = nil
			}
			lastWasAgent = true
			agent := strings.ToLower(value)
			switch {
			case agent == "*":
				current = append(current, wildcard)
			case agent != "" && strings.Contains(botName, agent):
				foundOurs = true
				current = append(current, ours)
			}
			continue
		case "sitemap":
			if value != "" {
				sitemaps = append(sitemaps, value)
			}
		case "disallow":
			for _, g := range current {
				if value != "" {
					g.DisallowPatterns = append(g.DisallowPatterns, value)
				}
			}
		case "allow":
			for _, g := range current {
				if value != "" {
					g.AllowPatterns = append(g.AllowPatterns, value)
				}
			}
		case "crawl-delay":
			if delay, err := strconv.ParseFloat(value, 64); err == nil {
				for _, g := range current {
					g.CrawlDelay = int(delay + 0.5)
				}
			}
		}
		lastWasAgent = false
	}

	rules := wildcard
	if foundOurs {
		rules = ours
	}
	rules.Sitemaps = sitemaps
	return rules
}

// Allowed reports whether a path may be crawled. The longest matching pattern wins and
// Allow wins ties.
func (r *RobotsRules) Allowed(path string) bool {
	if r == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	longestDisallow := -1
	for _, p := range r.DisallowPatterns {
		if matchRobotsPattern(p, path) && len(p) > longestDisallow {
			longestDisallow = len(p)
		}
	}
	if longestDisallow < 0 {
		return true
	}
	for _, p := range r.AllowPatterns {
		if matchRobotsPattern(p, path) && len(p) >= longestDisallow {
			return true
		}
	}
	return false
}

// matchRobotsPattern supports the * wildcard and a trailing $ anchor
func matchRobotsPattern(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		i := strings.Index(path[pos:], part)
		if i < 0 {
			return false
		}
		pos += i + len(part)
	}
	if !anchored {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return true
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(path, last) && (len(parts) > 1 || path == last)
}

func siteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + "/"
}
