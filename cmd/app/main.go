package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oneclicktag/oneclicktag/internal/api"
	"github.com/oneclicktag/oneclicktag/internal/auth"
	"github.com/oneclicktag/oneclicktag/internal/cache"
	"github.com/oneclicktag/oneclicktag/internal/crawler"
	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/notifications"
	"github.com/oneclicktag/oneclicktag/internal/observability"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/scan"
	"github.com/oneclicktag/oneclicktag/internal/secrets"
	"github.com/oneclicktag/oneclicktag/internal/tracking"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                  string // HTTP port to listen on
	Env                   string // Environment (development/production)
	SentryDSN             string // Sentry DSN for error tracking
	LogLevel              string // Log level (debug, info, warn, error)
	FlightRecorderEnabled bool   // Flight recorder for performance debugging
	ObservabilityEnabled  bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr           string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint          string // OTLP HTTP endpoint for trace export
	OTLPHeaders           string // Comma separated headers for OTLP exporter
	OTLPInsecure          bool   // Disable TLS verification for OTLP exporter

	RedisURL      string // Realtime events; disabled when empty
	EncryptionKey string // Seals refresh tokens and site passwords
	StateSecret   string // Signs OAuth state
	AppURL        string // Frontend the OAuth callback returns to

	GoogleClientID           string
	GoogleClientSecret       string
	GoogleRedirectURL        string
	GoogleAdsDeveloperToken  string
	GoogleAdsLoginCustomerID string

	SyncWorkers     int
	SyncMaxAttempts int
	GTMAutoPublish  bool
	SlackWebhookURL string

	ScanUserAgent      string
	ScanRequestTimeout time.Duration

	CORSAllowedOrigins string
	RateLimitRPS       float64
	RateLimitBurst     int
}

func loadConfig() *Config {
	return &Config{
		Port:                  getEnvWithDefault("PORT", "8080"),
		Env:                   getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		FlightRecorderEnabled: getEnvWithDefault("FLIGHT_RECORDER_ENABLED", "false") == "true",
		ObservabilityEnabled:  getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:           getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:           os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:          getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",

		RedisURL:      os.Getenv("REDIS_URL"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		StateSecret:   os.Getenv("OAUTH_STATE_SECRET"),
		AppURL:        os.Getenv("APP_URL"),

		GoogleClientID:           os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:       os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:        os.Getenv("GOOGLE_REDIRECT_URL"),
		GoogleAdsDeveloperToken:  os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN"),
		GoogleAdsLoginCustomerID: os.Getenv("GOOGLE_ADS_LOGIN_CUSTOMER_ID"),

		SyncWorkers:     clamp(getEnvInt("SYNC_WORKERS", 4), 1, 32),
		SyncMaxAttempts: clamp(getEnvInt("SYNC_MAX_ATTEMPTS", 5), 1, 20),
		GTMAutoPublish:  getEnvWithDefault("GTM_AUTO_PUBLISH", "false") == "true",
		SlackWebhookURL: os.Getenv("SLACK_ALERT_WEBHOOK_URL"),

		ScanUserAgent:      os.Getenv("SCAN_USER_AGENT"),
		ScanRequestTimeout: getEnvDuration("SCAN_REQUEST_TIMEOUT", 15*time.Second),

		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),
	}
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := loadConfig()

	// Start flight recorder if enabled
	if config.FlightRecorderEnabled {
		f, err := os.Create("trace.out")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create trace file")
		}
		if err := trace.Start(f); err != nil {
			log.Fatal().Err(err).Msg("failed to start flight recorder")
		}
		log.Info().Msg("Flight recorder enabled, writing to trace.out")
		defer func() {
			trace.Stop()
			f.Close()
		}()
	}

	setupLogging(config)

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	obsProviders, stopObservability := startObservability(config)
	defer stopObservability()

	// Connect to PostgreSQL
	pgDB, err := db.InitFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()
	log.Info().Msg("Connected to PostgreSQL database")

	sealer, err := secrets.NewSealer(config.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("ENCRYPTION_KEY is required to store Google grants and site logins")
	}

	authConfig, err := auth.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid authentication configuration")
	}
	validator := auth.NewValidator(*authConfig)
	defer validator.Close()

	// Realtime events are optional; without Redis they are dropped and the SSE route answers 503
	var (
		publisher  realtime.Publisher = realtime.NoopPublisher{}
		subscriber api.EventSubscriber
	)
	if config.RedisURL != "" {
		redisClient, err := realtime.NewClient(config.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, realtime events disabled")
		} else {
			defer redisClient.Close()
			publisher = realtime.NewRedisPublisher(redisClient)
			subscriber = realtime.NewSubscriber(redisClient)
		}
	} else {
		log.Warn().Msg("REDIS_URL not configured, realtime events disabled")
	}

	connector := google.NewConnector(google.Config{
		ClientID:           config.GoogleClientID,
		ClientSecret:       config.GoogleClientSecret,
		RedirectURL:        config.GoogleRedirectURL,
		AdsDeveloperToken:  config.GoogleAdsDeveloperToken,
		AdsLoginCustomerID: config.GoogleAdsLoginCustomerID,
	}, pgDB, sealer)
	if !connector.Configured() {
		log.Warn().Msg("Google OAuth client not configured, Google connect is disabled")
	}
	bootstrapper := google.NewBootstrapper(pgDB, cache.NewTTLCache(10*time.Minute))

	queue := jobs.NewQueue(pgDB, config.SyncMaxAttempts)
	trackingService := tracking.NewService(pgDB, queue, publisher)
	syncer := tracking.NewSyncer(pgDB, connector, bootstrapper, publisher, tracking.SyncerConfig{
		AutoPublish: config.GTMAutoPublish,
	})

	workerPool := jobs.NewWorkerPool(pgDB, syncer.Handlers(), jobs.WorkerPoolConfig{
		NumWorkers:       config.SyncWorkers,
		ListenConnString: pgDB.GetConfig().ConnectionString(),
	}, publisher, notifications.NewSlackAlerter(config.SlackWebhookURL, config.AppURL))
	workerPool.Start(context.Background())
	defer workerPool.Stop()

	crawlerConfig := crawler.DefaultConfig()
	if config.ScanUserAgent != "" {
		crawlerConfig.UserAgent = config.ScanUserAgent
	}
	crawlerConfig.DefaultTimeout = config.ScanRequestTimeout

	scanService, err := scan.NewService(pgDB, crawler.New(crawlerConfig), sealer, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scan service")
	}

	deps := api.Dependencies{
		DB:              pgDB,
		Customers:       pgDB,
		Trackings:       trackingService,
		Health:          syncer,
		Jobs:            queue,
		Scans:           scanService,
		Recommendations: recommend.NewService(pgDB, trackingService),
		Google:          connector,
		Bootstrap:       bootstrapper,
		Events:          subscriber,
		Auth:            validator,
	}
	apiHandler := api.NewHandler(deps, api.Config{
		StateSecret: config.StateSecret,
		AppURL:      config.AppURL,
	})

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(config, apiHandler, obsProviders),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Str("health", fmt.Sprintf("http://localhost:%s/health", config.Port)).
		Int("sync_workers", config.SyncWorkers).
		Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// buildHandler registers the API routes and wraps them in the middleware stack
func buildHandler(config *Config, apiHandler *api.Handler, obsProviders *observability.Providers) http.Handler {
	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	limiter := api.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst)

	// Add middleware in reverse order (outermost last)
	var handler http.Handler = limiter.Middleware(mux)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CrossOriginProtectionMiddleware(handler)
	handler = api.CORSMiddleware(api.SplitOrigins(config.CORSAllowedOrigins))(handler)
	return observability.WrapHandler(handler, obsProviders)
}

// startObservability initialises tracing and metrics and serves the metrics endpoint.
// The returned function flushes and stops both.
func startObservability(config *Config) (*observability.Providers, func()) {
	if !config.ObservabilityEnabled {
		return nil, func() {}
	}

	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "oneclicktag",
		Environment:    config.Env,
		OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
		OTLPInsecure:   config.OTLPInsecure,
		MetricsAddress: config.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil, func() {}
	}

	var metricsSrv *http.Server
	if providers.MetricsHandler != nil && config.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           providers.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return providers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
		}
		if err := providers.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
		}
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}
	return result
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || result <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid number in environment variable, using default")
		return defaultValue
	}
	return result
}

// getEnvDuration accepts Go durations ("20s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment variable, using default")
	return defaultValue
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "oneclicktag").
			Logger()
	}
}
