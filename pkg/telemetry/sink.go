package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

// MeterSink mirrors self-monitoring series into OpenTelemetry gauges, so the
// monitor's health is visible to the OTLP pipeline as well as Cloud Monitoring.
type MeterSink struct {
	meter metric.Meter

	mu      sync.Mutex
	ints    map[string]metric.Int64Gauge
	doubles map[string]metric.Float64Gauge
}

// NewMeterSink creates a sink recording through meter
func NewMeterSink(meter metric.Meter) *MeterSink {
	return &MeterSink{
		meter:   meter,
		ints:    make(map[string]metric.Int64Gauge),
		doubles: make(map[string]metric.Float64Gauge),
	}
}

// EnsureDescriptors registers one gauge per self-monitoring metric type
func (s *MeterSink) EnsureDescriptors(ctx context.Context, ec *core.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range sfm.Descriptors() {
		if _, err := s.instrument(d.Type, d.ValueType, d.Description, d.Unit); err != nil {
			return err
		}
	}
	return nil
}

// Push records the value of every series. Labels of the metric and resource
// become attributes.
func (s *MeterSink) Push(ctx context.Context, ec *core.ExecutionContext, series []sfm.TimeSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range series {
		inst, err := s.instrument(ts.Metric.Type, ts.ValueType, "", "")
		if err != nil {
			return err
		}
		opt := metric.WithAttributes(attributes(ts)...)
		switch g := inst.(type) {
		case metric.Int64Gauge:
			g.Record(ctx, ts.Int64(), opt)
		case metric.Float64Gauge:
			g.Record(ctx, ts.Double(), opt)
		}
	}
	return nil
}

// instrument returns the gauge for metricType, creating it on first use.
// Callers hold s.mu.
func (s *MeterSink) instrument(metricType, valueType, description, unit string) (interface{}, error) {
	name := instrumentName(metricType)

	if valueType == sfm.ValueTypeDouble {
		if g, ok := s.doubles[name]; ok {
			return g, nil
		}
		g, err := s.meter.Float64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		s.doubles[name] = g
		return g, nil
	}

	if g, ok := s.ints[name]; ok {
		return g, nil
	}
	g, err := s.meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", name, err)
	}
	s.ints[name] = g
	return g, nil
}

// instrumentName turns custom.googleapis.com/dynatrace/ingest_lines into
// gcpmonitor.ingest_lines.
func instrumentName(metricType string) string {
	return "gcpmonitor." + strings.TrimPrefix(strings.TrimPrefix(metricType, sfm.MetricPrefix), "/")
}

func attributes(ts sfm.TimeSeries) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(ts.Metric.Labels)+1)
	keys := make([]string, 0, len(ts.Metric.Labels))
	for k := range ts.Metric.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, ts.Metric.Labels[k]))
	}
	if project := ts.Resource.Labels["project_id"]; project != "" {
		attrs = append(attrs, attribute.String("gcp.project.id", project))
	}
	return attrs
}
