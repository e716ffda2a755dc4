package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrBlockedAddress is returned when a URL resolves to a private or loopback address
	ErrBlockedAddress = errors.New("refusing to crawl a private network address")
	// ErrLoginFailed is returned when submitting credentials did not get past the login form
	ErrLoginFailed = errors.New("site login failed")
)

// Crawler fetches and analyses pages of customer websites
type Crawler struct {
	config    *Config
	transport http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Session carries cookies between fetches of one scan chunk
type Session struct {
	jar http.CookieJar
	// Authenticated is set once a login succeeded on this session
	Authenticated bool
}

// NewSession creates an empty cookie session
func NewSession() *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{jar: jar}
}

// New creates a new Crawler instance with the given configuration.
// If config is nil, default configuration is used
func New(config *Config) *Crawler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultConfig().RateLimit
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !config.SkipSSRFCheck {
		dialer.Control = blockPrivateAddresses
	}

	return &Crawler{
		config: config,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Config returns the Crawler's configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// blockPrivateAddresses runs after DNS resolution so rebinding to an internal address is caught too
func blockPrivateAddresses(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// wait applies the per-host politeness limit
func (c *Crawler) wait(ctx context.Context, host string) error {
	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.config.RateLimit), 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()
	return limiter.Wait(ctx)
}

// collector builds a single-use collector; a session's cookie jar is attached when given
func (c *Crawler) collector(session *Session) *colly.Collector {
	col := colly.NewCollector(
		colly.UserAgent(c.config.UserAgent),
		colly.MaxDepth(0),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(c.config.MaxBodyBytes),
		colly.ParseHTTPErrorResponse(),
	)

	client := &http.Client{Timeout: c.config.DefaultTimeout, Transport: c.transport}
	if session != nil {
		client.Jar = session.jar
	}
	col.SetClient(client)

	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		log.Debug().Str("url", r.URL.String()).Msg("Crawler sending request")
	})
	return col
}

func validateTarget(ctx context.Context, targetURL string) (*url.URL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL format: %s", targetURL)
	}
	return parsed, nil
}

// Fetch retrieves a URL and analyses it when it is HTML. Non-2xx responses return the
// result together with an error.
func (c *Crawler) Fetch(ctx context.Context, targetURL string, session *Session) (*FetchResult, error) {
	return c.do(ctx, targetURL, session, func(col *colly.Collector) error {
		return col.Visit(targetURL)
	})
}

func (c *Crawler) do(ctx context.Context, targetURL string, session *Session, visit func(*colly.Collector) error) (*FetchResult, error) {
	parsed, err := validateTarget(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx, parsed.Host); err != nil {
		return nil, err
	}

	res := &FetchResult{URL: targetURL}
	start := time.Now()
	col := c.collector(session)

	col.OnResponse(func(r *colly.Response) {
		res.ResponseTime = time.Since(start).Milliseconds()
		res.StatusCode = r.StatusCode
		res.FinalURL = r.Request.URL.String()
		res.Body = r.Body
		if r.Headers != nil {
			res.Headers = r.Headers.Clone()
			res.ContentType = r.Headers.Get("Content-Type")
		}
	})

	var fetchErr error
	col.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			res.StatusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- visit(col)
	}()

	select {
	case err := <-done:
		if err != nil && fetchErr == nil {
			fetchErr = err
		}
	case <-ctx.Done():
		return res, ctx.Err()
	}

	if fetchErr != nil {
		log.Debug().Err(fetchErr).Str("url", targetURL).Msg("Fetch failed")
		return res, fetchErr
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, fmt.Errorf("non-success status code: %d", res.StatusCode)
	}

	if isHTML(res.ContentType, res.Body) {
		pageURL := res.FinalURL
		if pageURL == "" {
			pageURL = targetURL
		}
		analysis, err := Analyze(pageURL, res.Body)
		if err != nil {
			log.Warn().Err(err).Str("url", targetURL).Msg("Failed to parse HTML")
		} else {
			res.Analysis = analysis
		}
	}

	log.Debug().
		Str("url", targetURL).
		Int("status", res.StatusCode).
		Int64("response_time_ms", res.ResponseTime).
		Bool("html", res.HTML()).
		Msg("Page fetched")
	return res, nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType != "" {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return strings.Contains(strings.ToLower(http.DetectContentType(body)), "html")
}
