package sfm

import (
	"sort"
	"time"
)

// MetricPrefix is the custom metric namespace all self-monitoring series use.
const MetricPrefix = "custom.googleapis.com/dynatrace"

// Value types of the emitted series.
const (
	ValueTypeInt64  = "INT64"
	ValueTypeDouble = "DOUBLE"
	MetricKindGauge = "GAUGE"
)

// Meta carries the execution identity every series is tagged with.
type Meta struct {
	// ProjectID is the project the series are written to.
	ProjectID    string
	FunctionName string
	// TenantURL is the ingest endpoint identity, emitted as dynatrace_tenant_url.
	TenantURL string
	Location  string
}

// Interval is the window of a flush. Gauge points are stamped with EndTime.
type Interval struct {
	StartTime time.Time
	EndTime   time.Time
}

// TimeInterval is the JSON rendition of an Interval.
type TimeInterval struct {
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime"`
}

// TypedValue holds exactly one of the value fields.
type TypedValue struct {
	Int64Value  *int64   `json:"int64Value,string,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
}

// Point is a single time series point.
type Point struct {
	Interval TimeInterval `json:"interval"`
	Value    TypedValue   `json:"value"`
}

// MetricRef names a metric type and its labels.
type MetricRef struct {
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
}

// MonitoredResource is the resource the series is attached to.
type MonitoredResource struct {
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels"`
}

// TimeSeries is an immutable flushed series, shaped for the Cloud Monitoring
// timeSeries.create API.
type TimeSeries struct {
	Metric     MetricRef         `json:"metric"`
	Resource   MonitoredResource `json:"resource"`
	MetricKind string            `json:"metricKind"`
	ValueType  string            `json:"valueType"`
	Points     []Point           `json:"points"`
}

// Int64 returns the value of the first point, or 0.
func (ts TimeSeries) Int64() int64 {
	if len(ts.Points) == 0 || ts.Points[0].Value.Int64Value == nil {
		return 0
	}
	return *ts.Points[0].Value.Int64Value
}

// Double returns the value of the first point, or 0.
func (ts TimeSeries) Double() float64 {
	if len(ts.Points) == 0 || ts.Points[0].Value.DoubleValue == nil {
		return 0
	}
	return *ts.Points[0].Value.DoubleValue
}

// LabelDescriptor describes one metric label.
type LabelDescriptor struct {
	Key         string `json:"key"`
	ValueType   string `json:"valueType"`
	Description string `json:"description,omitempty"`
}

// MetricDescriptor is the definition created for each self-monitoring metric type.
type MetricDescriptor struct {
	Type        string            `json:"type"`
	DisplayName string            `json:"displayName"`
	Description string            `json:"description"`
	MetricKind  string            `json:"metricKind"`
	ValueType   string            `json:"valueType"`
	Unit        string            `json:"unit,omitempty"`
	Labels      []LabelDescriptor `json:"labels"`
}

func metricType(name string) string {
	return MetricPrefix + "/" + name
}

func newSeries(meta Meta, name, valueType string, labels map[string]string, interval Interval, value TypedValue) TimeSeries {
	all := map[string]string{
		"function_name":        meta.FunctionName,
		"dynatrace_tenant_url": meta.TenantURL,
	}
	for k, v := range labels {
		all[k] = v
	}

	location := meta.Location
	if location == "" {
		location = "us-east1"
	}

	// Every series is a GAUGE, whose points carry the end time only.
	ti := TimeInterval{EndTime: interval.EndTime.UTC().Format(time.RFC3339Nano)}

	return TimeSeries{
		Metric: MetricRef{Type: metricType(name), Labels: all},
		Resource: MonitoredResource{
			Type: "generic_task",
			Labels: map[string]string{
				"project_id": meta.ProjectID,
				"location":   location,
				"namespace":  meta.FunctionName,
				"job":        meta.FunctionName,
				"task_id":    meta.FunctionName,
			},
		},
		MetricKind: MetricKindGauge,
		ValueType:  valueType,
		Points:     []Point{{Interval: ti, Value: value}},
	}
}

func int64Value(v int64) TypedValue {
	return TypedValue{Int64Value: &v}
}

func doubleValue(v float64) TypedValue {
	return TypedValue{DoubleValue: &v}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
