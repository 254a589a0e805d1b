// Package gcpmonitor assembles the harvester: it wires the Google API client,
// the Dynatrace pusher, the disabled-API cache, self-monitoring sinks and the
// health server around one orchestrator.
//
// Example usage:
//
//	cfg, err := gcpmonitor.NewConfig(gcpmonitor.WithProjectID("owner-project"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := gcpmonitor.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close(context.Background())
//	err = m.Serve(ctx)
package gcpmonitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/itsneelabh/gcp-monitor/internal/health"
	"github.com/itsneelabh/gcp-monitor/pkg/cache"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/dynatrace"
	"github.com/itsneelabh/gcp-monitor/pkg/entities"
	"github.com/itsneelabh/gcp-monitor/pkg/gcp"
	"github.com/itsneelabh/gcp-monitor/pkg/ingest"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/orchestration"
	"github.com/itsneelabh/gcp-monitor/pkg/telemetry"
	"github.com/itsneelabh/gcp-monitor/pkg/topology"
)

// Monitor owns every long-lived collaborator of the harvester.
type Monitor struct {
	config       *core.Config
	logger       logger.Logger
	telemetry    *telemetry.Provider
	gcp          *gcp.Client
	pusher       *dynatrace.Pusher
	store        cache.Store
	orchestrator *orchestration.Orchestrator
	health       *health.Server
}

type monitorOptions struct {
	logger        logger.Logger
	tokens        orchestration.TokenSource
	gcpClient     *gcp.Client
	dtHTTPClient  *http.Client
	store         cache.Store
	serviceLoader orchestration.ServiceLoader
	metricReader  sdkmetric.Reader
	spanExporter  sdktrace.SpanExporter
}

// MonitorOption customizes how New wires the monitor.
type MonitorOption func(*monitorOptions)

// WithLogger sets the logger. By default a zap logger is built from the
// logging configuration.
func WithLogger(l logger.Logger) MonitorOption {
	return func(o *monitorOptions) { o.logger = l }
}

// WithTokenSource replaces Application Default Credentials.
func WithTokenSource(t orchestration.TokenSource) MonitorOption {
	return func(o *monitorOptions) { o.tokens = t }
}

// WithGCPClient replaces the Google API client.
func WithGCPClient(c *gcp.Client) MonitorOption {
	return func(o *monitorOptions) { o.gcpClient = c }
}

// WithDynatraceHTTPClient replaces the HTTP client used for Dynatrace calls.
func WithDynatraceHTTPClient(c *http.Client) MonitorOption {
	return func(o *monitorOptions) { o.dtHTTPClient = c }
}

// WithStore replaces the cache store selected from the configuration.
func WithStore(s cache.Store) MonitorOption {
	return func(o *monitorOptions) { o.store = s }
}

// WithServiceLoader replaces loading services from the extension YAML files.
func WithServiceLoader(l orchestration.ServiceLoader) MonitorOption {
	return func(o *monitorOptions) { o.serviceLoader = l }
}

// WithTelemetryExporters replaces the OTLP exporters.
func WithTelemetryExporters(reader sdkmetric.Reader, spans sdktrace.SpanExporter) MonitorOption {
	return func(o *monitorOptions) {
		o.metricReader = reader
		o.spanExporter = spans
	}
}

// New wires a monitor from cfg. A nil cfg is loaded from the environment.
func New(ctx context.Context, cfg *core.Config, opts ...MonitorOption) (*Monitor, error) {
	if cfg == nil {
		var err error
		if cfg, err = core.NewConfig(); err != nil {
			return nil, err
		}
	}

	o := &monitorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		zl, err := logger.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		log = zl
	}
	m := &Monitor{config: cfg, logger: log}

	provider, err := telemetry.Setup(ctx, telemetry.Settings{
		TelemetryConfig: cfg.Telemetry,
		Version:         Version,
		Development:     cfg.Development.Enabled,
		MetricReader:    o.metricReader,
		SpanExporter:    o.spanExporter,
	})
	if err != nil {
		return nil, err
	}
	m.telemetry = provider

	m.gcp = o.gcpClient
	if m.gcp == nil {
		m.gcp = gcp.NewClient(cfg.HTTP.ClientTimeout, gcp.WithLogger(log))
	}
	m.gcp.MaxConcurrentProjectLookups = cfg.Execution.MaxConcurrentProjects

	m.store = o.store
	if m.store == nil {
		if m.store, err = openStore(ctx, cfg.Cache, log); err != nil {
			_ = m.Close(ctx)
			return nil, err
		}
	}

	pusherOpts := dynatrace.DefaultPusherOptions()
	pusherOpts.Timeout = cfg.Dynatrace.Timeout
	pusherOpts.RequireValidCertificate = cfg.Dynatrace.RequireValidCertificate
	pusherOpts.HTTPClient = o.dtHTTPClient
	pusherOpts.Logger = log
	pusherOpts.BatchSize = cfg.Dynatrace.IngestBatchSize
	m.pusher = dynatrace.NewPusher(pusherOpts)

	tokens := o.tokens
	if tokens == nil {
		tokens = gcp.NewTokenSource()
	}
	loadServices := o.serviceLoader
	if loadServices == nil {
		loadServices = func() ([]metrics.GCPService, error) {
			return core.LoadServices(cfg.Services, log)
		}
	}

	m.orchestrator, err = orchestration.NewOrchestrator(cfg, orchestration.Dependencies{
		Tokens:       tokens,
		Owner:        gcp.NewOwnerProjectResolver(cfg.ProjectID),
		Projects:     m.gcp,
		DisabledAPIs: cache.NewCachedDisabledAPIs(m.gcp, m.store, cfg.Cache.DisabledAPIsTTL, log),
		Credentials:  m.gcp,
		Connectivity: m.pusher,
		LoadServices: loadServices,
		Resolver:     newResolver(m.gcp, cfg),
		Fetcher:      ingest.NewFetcher(m.gcp, cfg.Execution.MaxConcurrentFetches),
		Pusher:       m.pusher,
		Sinks: []orchestration.SelfMonitoringSink{
			gcp.NewMonitoringSink(m.gcp),
			telemetry.NewMeterSink(provider.Meter),
		},
	}, log)
	if err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	m.health = health.NewServer(cfg.HTTP, m.orchestrator, log)
	return m, nil
}

func openStore(ctx context.Context, cfg core.CacheConfig, log logger.Logger) (cache.Store, error) {
	if cfg.RedisURL == "" {
		log.Debug("Using in-memory cache")
		return cache.NewInMemoryStore(), nil
	}
	store, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.Namespace)
	if err != nil {
		return nil, err
	}
	log.Info("Using Redis cache", map[string]interface{}{"namespace": cfg.Namespace})
	return store, nil
}

func newResolver(client *gcp.Client, cfg *core.Config) *topology.Resolver {
	return topology.NewResolver(entities.DefaultRegistry(client), cfg.Execution.MaxConcurrentExtractors)
}

// Config returns the configuration the monitor was built with.
func (m *Monitor) Config() *core.Config { return m.config }

// Orchestrator exposes the execution history.
func (m *Monitor) Orchestrator() *orchestration.Orchestrator { return m.orchestrator }

// Check runs the pre-launch check and returns the configured services.
func (m *Monitor) Check(ctx context.Context) ([]metrics.GCPService, error) {
	return m.orchestrator.PreLaunchCheck(ctx)
}

// RunOnce performs a single execution.
func (m *Monitor) RunOnce(ctx context.Context) error {
	services, err := m.Check(ctx)
	if err != nil {
		return err
	}
	return m.orchestrator.Run(ctx, "", services)
}

// Serve runs the pre-launch check, then polls and serves health checks until
// ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context) error {
	services, err := m.Check(ctx)
	if err != nil {
		return err
	}

	m.logger.Info("Starting GCP monitor", map[string]interface{}{
		"version":  Version,
		"services": len(services),
		"interval": m.config.Execution.QueryInterval.String(),
	})

	scheduler := orchestration.NewScheduler(m.orchestrator, services, m.config.Execution.QueryInterval, m.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.health.Start(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })
	return g.Wait()
}

// Close releases the cache and flushes telemetry.
func (m *Monitor) Close(ctx context.Context) error {
	var errs []error
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	if m.telemetry != nil {
		errs = append(errs, m.telemetry.Shutdown(ctx))
	}
	if zl, ok := m.logger.(*logger.ZapLogger); ok {
		_ = zl.Sync()
	}
	return errors.Join(errs...)
}
