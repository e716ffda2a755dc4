package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig disables SSRF checks so httptest servers on 127.0.0.1 are reachable
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SkipSSRFCheck = true
	cfg.RateLimit = 1000
	cfg.DefaultTimeout = 5 * time.Second
	return cfg
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var base string

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<a href="/pricing">Pricing</a><a class="cta" href="/signup">Start free trial</a></body></html>`)
	})
	mux.HandleFunc("/pricing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Plans</h1></body></html>`)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/pricing", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "User-agent: *\nDisallow: /admin\nSitemap: %s/sitemap_index.xml\n", base)
	})
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>%s/sitemap-pages.xml</loc></sitemap></sitemapindex>`, base)
	})
	mux.HandleFunc("/sitemap-pages.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/</loc></url><url><loc>%[1]s/pricing/</loc></url><url><loc>%[1]s/pricing</loc></url>
<url><loc>https://elsewhere.example.com/page</loc></url></urlset>`, base)
	})

	ts := httptest.NewServer(mux)
	base = ts.URL
	t.Cleanup(ts.Close)
	return ts
}

func TestFetchAnalysesHTML(t *testing.T) {
	ts := newSite(t)
	c := New(testConfig())

	res, err := c.Fetch(context.Background(), ts.URL+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, res.HTML())
	assert.Equal(t, "Home", res.Analysis.Title)
	assert.Equal(t, PageHome, res.Analysis.PageType)
	assert.True(t, res.Analysis.HasCTA)
	assert.Contains(t, res.Analysis.Links, ts.URL+"/pricing")
}

func TestFetchFollowsRedirects(t *testing.T) {
	ts := newSite(t)
	c := New(testConfig())

	res, err := c.Fetch(context.Background(), ts.URL+"/old", nil)
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/pricing", res.FinalURL)
	assert.Equal(t, PagePricing, res.Analysis.PageType)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	ts := newSite(t)
	c := New(testConfig())

	res, err := c.Fetch(context.Background(), ts.URL+"/missing", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Nil(t, res.Analysis)
}

func TestFetchRejectsInvalidURLs(t *testing.T) {
	c := New(testConfig())
	for _, target := range []string{"ftp://example.com/", "/relative", "https://"} {
		_, err := c.Fetch(context.Background(), target, nil)
		assert.Error(t, err, target)
	}
}

func TestFetchBlocksPrivateAddresses(t *testing.T) {
	ts := newSite(t)
	c := New(DefaultConfig())

	_, err := c.Fetch(context.Background(), ts.URL+"/", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private network address")
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	ts := newSite(t)
	c := New(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, ts.URL+"/", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverReadsRobotsAndNestedSitemaps(t *testing.T) {
	ts := newSite(t)
	c := New(testConfig())

	d := c.Discover(context.Background(), ts.URL)
	assert.Equal(t, []string{"/admin"}, d.Robots.DisallowPatterns)
	assert.Equal(t, []string{ts.URL + "/", ts.URL + "/pricing"}, d.SitemapURLs)
}

func TestDiscoverWithoutRobotsOrSitemap(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	c := New(testConfig())

	d := c.Discover(context.Background(), ts.URL+"/")
	assert.Empty(t, d.Robots.DisallowPatterns)
	assert.Empty(t, d.SitemapURLs)
}

func TestDiscoverCapsSitemapURLs(t *testing.T) {
	ts := newSite(t)
	cfg := testConfig()
	cfg.MaxSitemapURLs = 1
	c := New(cfg)

	d := c.Discover(context.Background(), ts.URL)
	assert.Len(t, d.SitemapURLs, 1)
}
