package sfm

import (
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
)

// Registry owns one instance of every self-monitoring kind for a single
// execution. All methods are safe for concurrent use.
type Registry struct {
	DynatraceRequestCount *RequestCount
	GCPMetricRequestCount *ProjectRequestCount

	IngestLinesOk      *IngestLinesCount
	IngestLinesInvalid *IngestLinesCount
	IngestLinesDropped *IngestLinesCount

	SetupExecutionTime           *PhaseTime
	FetchGCPDataExecutionTime    *PhaseTime
	PushToDynatraceExecutionTime *PhaseTime

	Connectivity *Connectivity
}

// NewRegistry creates a registry with fresh, empty accumulators.
func NewRegistry() *Registry {
	return &Registry{
		DynatraceRequestCount:        NewRequestCount(),
		GCPMetricRequestCount:        NewProjectRequestCount(),
		IngestLinesOk:                NewIngestLinesCount(StatusOk),
		IngestLinesInvalid:           NewIngestLinesCount(StatusInvalid),
		IngestLinesDropped:           NewIngestLinesCount(StatusDropped),
		SetupExecutionTime:           NewPhaseTime(PhaseSetup),
		FetchGCPDataExecutionTime:    NewPhaseTime(PhaseFetchGCPData),
		PushToDynatraceExecutionTime: NewPhaseTime(PhasePushToDynatrace),
		Connectivity:                 NewConnectivity(),
	}
}

// Accumulators returns every kind in a fixed order.
func (r *Registry) Accumulators() []Accumulator {
	return []Accumulator{
		r.DynatraceRequestCount,
		r.GCPMetricRequestCount,
		r.IngestLinesOk,
		r.IngestLinesInvalid,
		r.IngestLinesDropped,
		r.SetupExecutionTime,
		r.FetchGCPDataExecutionTime,
		r.PushToDynatraceExecutionTime,
		r.Connectivity,
	}
}

// RecordPush adds the outcome of pushing a project's lines.
func (r *Registry) RecordPush(project string, ok, invalid, dropped int) {
	r.IngestLinesOk.Update(project, ok)
	r.IngestLinesInvalid.Update(project, invalid)
	r.IngestLinesDropped.Update(project, dropped)
}

// RecordSetup broadcasts the shared setup time to every project.
func (r *Registry) RecordSetup(projects []string, seconds float64) {
	for _, p := range projects {
		r.SetupExecutionTime.Update(p, seconds)
	}
}

// GenerateTimeSeries flushes every kind into series. State is left untouched.
func (r *Registry) GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries {
	var out []TimeSeries
	for _, acc := range r.Accumulators() {
		out = append(out, acc.GenerateTimeSeries(meta, interval)...)
	}
	return out
}

// Summary is a point-in-time view of the registry for logging.
type Summary struct {
	RequestCounts map[string]int64   `json:"dynatrace_request_count"`
	GCPRequests   map[string]int64   `json:"gcp_metric_request_count"`
	LinesOk       map[string]int64   `json:"ingest_lines_ok"`
	LinesInvalid  map[string]int64   `json:"ingest_lines_invalid"`
	LinesDropped  map[string]int64   `json:"ingest_lines_dropped"`
	SetupTime     map[string]float64 `json:"setup_execution_time"`
	FetchTime     map[string]float64 `json:"fetch_gcp_data_execution_time"`
	PushTime      map[string]float64 `json:"push_to_dynatrace_execution_time"`
	Connectivity  string             `json:"dynatrace_connectivity"`
}

// Summary snapshots the current state.
func (r *Registry) Summary() Summary {
	conn := ""
	if s := r.Connectivity.Status(); s != 0 {
		conn = s.String()
	}
	return Summary{
		RequestCounts: r.DynatraceRequestCount.snapshot(),
		GCPRequests:   r.GCPMetricRequestCount.snapshot(),
		LinesOk:       r.IngestLinesOk.snapshot(),
		LinesInvalid:  r.IngestLinesInvalid.snapshot(),
		LinesDropped:  r.IngestLinesDropped.snapshot(),
		SetupTime:     r.SetupExecutionTime.snapshot(),
		FetchTime:     r.FetchGCPDataExecutionTime.snapshot(),
		PushTime:      r.PushToDynatraceExecutionTime.snapshot(),
		Connectivity:  conn,
	}
}

// LogSummary writes the summary as one structured log entry.
func (r *Registry) LogSummary(log logger.Logger) {
	s := r.Summary()
	log.Info("Self monitoring summary", map[string]interface{}{
		"dynatrace_request_count":          s.RequestCounts,
		"gcp_metric_request_count":         s.GCPRequests,
		"ingest_lines_ok":                  s.LinesOk,
		"ingest_lines_invalid":             s.LinesInvalid,
		"ingest_lines_dropped":             s.LinesDropped,
		"setup_execution_time":             s.SetupTime,
		"fetch_gcp_data_execution_time":    s.FetchTime,
		"push_to_dynatrace_execution_time": s.PushTime,
		"dynatrace_connectivity":           s.Connectivity,
	})
}

// Descriptors returns the metric descriptors of every emitted metric type.
func Descriptors() []MetricDescriptor {
	base := []LabelDescriptor{
		{Key: "function_name", ValueType: "STRING"},
		{Key: "dynatrace_tenant_url", ValueType: "STRING"},
	}
	with := func(extra ...LabelDescriptor) []LabelDescriptor {
		out := make([]LabelDescriptor, 0, len(base)+len(extra))
		out = append(out, base...)
		return append(out, extra...)
	}

	return []MetricDescriptor{
		{
			Type:        metricType("request_count"),
			DisplayName: "Dynatrace Request Count",
			Description: "Dynatrace MINT request count [per response code]",
			MetricKind:  MetricKindGauge,
			ValueType:   ValueTypeInt64,
			Labels:      with(LabelDescriptor{Key: "response_code", ValueType: "STRING"}),
		},
		{
			Type:        metricType("ingest_lines"),
			DisplayName: "Dynatrace Ingest Lines Count",
			Description: "Dynatrace MINT lines count [per project and status]",
			MetricKind:  MetricKindGauge,
			ValueType:   ValueTypeInt64,
			Labels: with(
				LabelDescriptor{Key: "status", ValueType: "STRING"},
				LabelDescriptor{Key: "project_id", ValueType: "STRING"},
			),
		},
		{
			Type:        metricType("phase_execution_time"),
			DisplayName: "Phase Execution Time",
			Description: "Execution time of a monitor phase [per project]",
			MetricKind:  MetricKindGauge,
			ValueType:   ValueTypeDouble,
			Unit:        "s",
			Labels: with(
				LabelDescriptor{Key: "phase", ValueType: "STRING"},
				LabelDescriptor{Key: "project_id", ValueType: "STRING"},
			),
		},
		{
			Type:        metricType("connectivity"),
			DisplayName: "Dynatrace Connectivity",
			Description: "Dynatrace connectivity status",
			MetricKind:  MetricKindGauge,
			ValueType:   ValueTypeInt64,
			Labels:      with(LabelDescriptor{Key: "reason", ValueType: "STRING"}),
		},
	}
}
