package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects where traces go and whether metrics are exposed. Tracing without an
// OTLPEndpoint still propagates trace context but exports nothing.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers holds what Init built. Shutdown flushes pending spans and must be called on exit.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

const shutdownTimeout = 10 * time.Second

var (
	initOnce sync.Once

	syncTracer trace.Tracer
	scanTracer trace.Tracer

	syncJobDuration metric.Float64Histogram
	syncJobTotal    metric.Int64Counter
	scanChunkPages  metric.Int64Counter
	scanChunkTotal  metric.Int64Counter
)

// Init installs the global tracer and meter providers used by the sync workers and the scan
// orchestrator. It returns nil providers when cfg.Enabled is false. An unreachable OTLP
// collector only disables span export.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "oneclicktag"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tracerProvider := newTracerProvider(ctx, cfg, res)
	otel.SetTracerProvider(tracerProvider)

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(propagator)

	meterProvider, registry, err := newMeterProvider(res)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		syncTracer = tracerProvider.Tracer("oneclicktag/sync")
		scanTracer = tracerProvider.Tracer("oneclicktag/scan")
		if err := initInstruments(meterProvider); err != nil {
			log.Warn().Err(err).Msg("Sync and scan metrics unavailable")
		}
	})

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     propagator,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return errors.Join(
				wrapShutdown("meter provider", meterProvider.Shutdown(ctx)),
				wrapShutdown("tracer provider", tracerProvider.Shutdown(ctx)),
			)
		},
		Config: cfg,
	}, nil
}

func wrapShutdown(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s shutdown: %w", what, err)
}

// newTracerProvider batches spans to the OTLP collector when one is configured
func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint == "" {
		return sdktrace.NewTracerProvider(opts...)
	}

	clientOpts := []otlptracehttp.Option{otlpEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	if len(cfg.OTLPHeaders) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}

	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter unavailable, spans will not be exported")
		return sdktrace.NewTracerProvider(opts...)
	}
	log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("Exporting traces over OTLP")
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithBatcher(exporter))...)
}

// newMeterProvider reads OpenTelemetry instruments into a private Prometheus registry that
// also carries the Go runtime and process collectors
func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)), registry, nil
}

// otlpEndpoint accepts either a full collector URL or a bare host:port
func otlpEndpoint(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// untracedPaths are polled by load balancers and scrapers
var untracedPaths = map[string]bool{"/health": true, "/metrics": true}

// WrapHandler traces every API request except health checks and metric scrapes. It returns
// handler unchanged when telemetry is off.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}
	return otelhttp.NewHandler(handler, "http.server",
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
	)
}

func initInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("oneclicktag")

	var err error
	syncJobDuration, err = meter.Float64Histogram(
		"oneclicktag.sync.job.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to run one GTM or Ads sync attempt"),
	)
	if err != nil {
		return err
	}

	syncJobTotal, err = meter.Int64Counter(
		"oneclicktag.sync.job.total",
		metric.WithDescription("Counts sync job attempts by queue and outcome"),
	)
	if err != nil {
		return err
	}

	scanChunkPages, err = meter.Int64Counter(
		"oneclicktag.scan.chunk.pages",
		metric.WithDescription("Pages or recommendations produced by scan chunks"),
	)
	if err != nil {
		return err
	}

	scanChunkTotal, err = meter.Int64Counter(
		"oneclicktag.scan.chunk.total",
		metric.WithDescription("Counts processed scan chunks by phase"),
	)
	return err
}

// SyncJobSpanInfo describes the attributes used when starting a sync job span.
type SyncJobSpanInfo struct {
	JobID      string
	Queue      string
	Action     string
	TrackingID string
	Attempt    int
}

// SyncJobMetrics describes a finished sync attempt for metric recording.
type SyncJobMetrics struct {
	Queue    string
	Action   string
	Outcome  string // completed, retried or failed
	Duration time.Duration
}

// StartSyncJobSpan starts a span for one sync job attempt.
func StartSyncJobSpan(ctx context.Context, info SyncJobSpanInfo) (context.Context, trace.Span) {
	t := syncTracer
	if t == nil {
		t = otel.Tracer("oneclicktag/sync")
	}

	attrs := []attribute.KeyValue{
		attribute.String("job.id", info.JobID),
		attribute.String("job.queue", info.Queue),
		attribute.String("job.action", info.Action),
		attribute.String("tracking.id", info.TrackingID),
		attribute.Int("job.attempt", info.Attempt),
	}

	return t.Start(ctx, "sync.process_job", trace.WithAttributes(attrs...))
}

// RecordSyncJob emits sync job metrics when instrumentation is initialised.
func RecordSyncJob(ctx context.Context, m SyncJobMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("job.queue", m.Queue),
		attribute.String("job.action", m.Action),
		attribute.String("job.outcome", m.Outcome),
	)
	if syncJobDuration != nil {
		syncJobDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if syncJobTotal != nil {
		syncJobTotal.Add(ctx, 1, attrs)
	}
}

// StartScanChunkSpan starts a span for one scan chunk.
func StartScanChunkSpan(ctx context.Context, scanID, phase string) (context.Context, trace.Span) {
	t := scanTracer
	if t == nil {
		t = otel.Tracer("oneclicktag/scan")
	}
	return t.Start(ctx, "scan.process_chunk", trace.WithAttributes(
		attribute.String("scan.id", scanID),
		attribute.String("scan.phase", phase),
	))
}

// RecordScanChunk counts a processed chunk and the items it produced.
func RecordScanChunk(ctx context.Context, phase string, produced int) {
	attrs := metric.WithAttributes(attribute.String("scan.phase", phase))
	if scanChunkTotal != nil {
		scanChunkTotal.Add(ctx, 1, attrs)
	}
	if scanChunkPages != nil {
		scanChunkPages.Add(ctx, int64(produced), attrs)
	}
}
