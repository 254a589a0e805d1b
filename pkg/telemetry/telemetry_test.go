package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

func TestSetupWithTestExporters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewInMemoryExporter()

	provider, err := Setup(context.Background(), Settings{
		TelemetryConfig: core.TelemetryConfig{ServiceName: "gcp-monitor-test", TracingEnabled: true},
		Version:         "1.2.3",
		MetricReader:    reader,
		SpanExporter:    spans,
	})
	require.NoError(t, err)

	_, span := provider.Tracer.Start(context.Background(), "gcpmonitor.run")
	span.End()
	require.NoError(t, provider.TracerProvider.ForceFlush(context.Background()))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "gcpmonitor.run", got[0].Name)

	name, ok := got[0].Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "gcp-monitor-test", name.AsString())

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetupWithoutExporters(t *testing.T) {
	provider, err := Setup(context.Background(), Settings{})
	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestInstrumentName(t *testing.T) {
	assert.Equal(t, "gcpmonitor.ingest_lines", instrumentName(sfm.MetricPrefix+"/ingest_lines"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMeterSinkMirrorsSeries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sink := NewMeterSink(provider.Meter("test"))

	cfg := core.DefaultConfig()
	cfg.ProjectID = "owner"
	ec := core.NewExecutionContext(cfg, "exec", "tok", &logger.NoOpLogger{})
	ec.Registry.RecordPush("p1", 5, 2, 1)
	ec.Registry.PushToDynatraceExecutionTime.Update("p1", 1.5)

	ctx := context.Background()
	require.NoError(t, sink.EnsureDescriptors(ctx, ec))

	now := time.Now()
	series := ec.Registry.GenerateTimeSeries(ec.SFMMeta(), sfm.Interval{StartTime: now.Add(-time.Minute), EndTime: now})
	require.NoError(t, sink.Push(ctx, ec, series))

	metrics := collect(t, reader)

	lines, ok := metrics["gcpmonitor.ingest_lines"]
	require.True(t, ok)
	gauge, ok := lines.Data.(metricdata.Gauge[int64])
	require.True(t, ok)

	byStatus := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		project, _ := dp.Attributes.Value(attribute.Key("project_id"))
		assert.Equal(t, "p1", project.AsString())
		byStatus[status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"Ok": 5, "Invalid": 2, "Dropped": 1}, byStatus)

	phase, ok := metrics["gcpmonitor.phase_execution_time"]
	require.True(t, ok)
	times, ok := phase.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, times.DataPoints, 1)
	assert.InDelta(t, 1.5, times.DataPoints[0].Value, 1e-9)
}
