package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

const instrumentationName = "github.com/itsneelabh/gcp-monitor"

// Provider owns the monitor's tracer and meter providers
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	resource       *resource.Resource
}

// Settings select exporters for Setup
type Settings struct {
	core.TelemetryConfig
	Version string
	// Development prints spans to stdout when no OTLP endpoint is configured.
	Development bool
	// MetricReader replaces the OTLP periodic reader, used by tests.
	MetricReader sdkmetric.Reader
	// SpanExporter replaces the configured span exporter, used by tests.
	SpanExporter sdktrace.SpanExporter
}

// Setup builds and installs the global providers. Traces go to OTLP over gRPC
// when an endpoint is configured, to stdout in development, and nowhere
// otherwise. Metrics go to OTLP over HTTP through a periodic reader.
func Setup(ctx context.Context, s Settings) (*Provider, error) {
	if os.Getenv("OTEL_SDK_DISABLED") == "true" {
		return &Provider{
			Tracer: otel.Tracer(instrumentationName),
			Meter:  otel.Meter(instrumentationName),
		}, nil
	}

	res := createResource(s)

	traceProvider, err := setupTraceProvider(ctx, s, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup trace provider: %w", err)
	}

	meterProvider, err := setupMeterProvider(ctx, s, res)
	if err != nil {
		_ = traceProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to setup meter provider: %w", err)
	}

	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		TracerProvider: traceProvider,
		MeterProvider:  meterProvider,
		Tracer:         traceProvider.Tracer(instrumentationName),
		Meter:          meterProvider.Meter(instrumentationName),
		resource:       res,
	}, nil
}

func createResource(s Settings) *resource.Resource {
	name := s.ServiceName
	if name == "" {
		name = "dynatrace-gcp-monitor"
	}
	version := s.Version
	if version == "" {
		version = "dev"
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(version),
		semconv.DeploymentEnvironmentKey.String(getEnvironment(s.Development)),
		semconv.CloudProviderGCP,
		attribute.String("gcp.project.id", os.Getenv("GCP_PROJECT")),
		semconv.K8SNamespaceNameKey.String(os.Getenv("KUBERNETES_NAMESPACE")),
		semconv.K8SPodNameKey.String(os.Getenv("HOSTNAME")),
	)
}

func setupTraceProvider(ctx context.Context, s Settings, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	exporter, err := spanExporter(ctx, s)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func spanExporter(ctx context.Context, s Settings) (sdktrace.SpanExporter, error) {
	switch {
	case s.SpanExporter != nil:
		return s.SpanExporter, nil
	case !s.TracingEnabled:
		return nil, nil
	case s.Endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil
	case s.Development:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, nil
	}
}

func setupMeterProvider(ctx context.Context, s Settings, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch {
	case s.MetricReader != nil:
		opts = append(opts, sdkmetric.WithReader(s.MetricReader))
	case s.MetricsEnabled && (s.MetricsEndpoint != "" || s.Endpoint != ""):
		var exporterOpts []otlpmetrichttp.Option
		if s.MetricsEndpoint != "" {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithEndpointURL(s.MetricsEndpoint))
		}
		if s.Insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Minute)),
		))
	}

	return sdkmetric.NewMeterProvider(opts...), nil
}

func getEnvironment(development bool) string {
	if env := os.Getenv("DEPLOYMENT_ENVIRONMENT"); env != "" {
		return env
	}
	if development {
		return "development"
	}
	return "production"
}

// Shutdown flushes and stops both providers
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
