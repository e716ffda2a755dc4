package crawler

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/util"
)

const maxSitemapFiles = 10

// Discovery is what a site exposes before crawling starts
type Discovery struct {
	Robots      *RobotsRules
	SitemapURLs []string
}

// SitemapIndex lists nested sitemaps
type SitemapIndex struct {
	XMLName  xml.Name  `xml:"sitemapindex"`
	Sitemaps []Sitemap `xml:"sitemap"`
}

type Sitemap struct {
	Loc string `xml:"loc"`
}

type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []URL    `xml:"url"`
}

type URL struct {
	Loc string `xml:"loc"`
}

// Discover reads robots.txt and every reachable sitemap for the site. Failures are logged
// and treated as "nothing found"; discovery never blocks a scan.
func (c *Crawler) Discover(ctx context.Context, rootURL string) *Discovery {
	d := &Discovery{Robots: &RobotsRules{}}

	robots, err := c.FetchRobots(ctx, rootURL)
	if err != nil {
		log.Debug().Err(err).Str("root_url", rootURL).Msg("Failed to read robots.txt, proceeding with no restrictions")
	} else {
		d.Robots = robots
	}

	candidates := d.Robots.Sitemaps
	if len(candidates) == 0 {
		candidates = []string{strings.TrimSuffix(siteRoot(rootURL), "/") + "/sitemap.xml"}
	}
	d.SitemapURLs = c.readSitemaps(ctx, rootURL, candidates)

	log.Debug().
		Str("root_url", rootURL).
		Int("sitemap_urls", len(d.SitemapURLs)).
		Int("disallow_patterns", len(d.Robots.DisallowPatterns)).
		Msg("Site discovery complete")
	return d
}

// readSitemaps walks sitemap indexes breadth first, keeping same-site page URLs only
func (c *Crawler) readSitemaps(ctx context.Context, rootURL string, candidates []string) []string {
	var urls []string
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	queue := append([]string(nil), candidates...)

	for len(queue) > 0 && len(visited) < maxSitemapFiles && len(urls) < c.config.MaxSitemapURLs {
		if ctx.Err() != nil {
			break
		}
		sitemapURL := queue[0]
		queue = queue[1:]
		if visited[sitemapURL] {
			continue
		}
		visited[sitemapURL] = true

		res, err := c.Fetch(ctx, sitemapURL, nil)
		if err != nil {
			log.Debug().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap not available")
			continue
		}

		var index SitemapIndex
		if err := xml.Unmarshal(res.Body, &index); err == nil && len(index.Sitemaps) > 0 {
			for _, s := range index.Sitemaps {
				if loc := strings.TrimSpace(s.Loc); loc != "" {
					queue = append(queue, loc)
				}
			}
			continue
		}

		var set URLSet
		if err := xml.Unmarshal(res.Body, &set); err != nil {
			log.Debug().Err(err).Str("sitemap", sitemapURL).Msg("Failed to parse sitemap")
			continue
		}
		for _, u := range set.URLs {
			normalised := util.NormaliseURL(strings.TrimSpace(u.Loc))
			if normalised == "" || seen[normalised] || !util.SameSite(normalised, rootURL) {
				continue
			}
			seen[normalised] = true
			urls = append(urls, normalised)
			if len(urls) >= c.config.MaxSitemapURLs {
				break
			}
		}
	}
	return urls
}
