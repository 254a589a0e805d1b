package sfm

import (
	"strconv"
	"sync"
)

// Accumulator is one self-monitoring kind. GenerateTimeSeries reads the current
// state without resetting it.
type Accumulator interface {
	Name() string
	Description() string
	GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries
}

// counter is a mutex guarded map of additive int64 values.
type counter struct {
	mu     sync.Mutex
	values map[string]int64
}

func (c *counter) add(key string, n int64) {
	c.mu.Lock()
	if c.values == nil {
		c.values = make(map[string]int64)
	}
	c.values[key] += n
	c.mu.Unlock()
}

func (c *counter) get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

func (c *counter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// RequestCount counts ingest requests per response status.
type RequestCount struct {
	counter
}

// NewRequestCount creates an empty request counter.
func NewRequestCount() *RequestCount {
	return &RequestCount{}
}

func (a *RequestCount) Name() string        { return "request_count" }
func (a *RequestCount) Description() string { return "Dynatrace MINT request count [per response code]" }

// Increment records one request that ended with status.
func (a *RequestCount) Increment(status int) {
	a.add(strconv.Itoa(status), 1)
}

// Count returns the requests recorded for status.
func (a *RequestCount) Count(status int) int64 {
	return a.get(strconv.Itoa(status))
}

func (a *RequestCount) GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries {
	snap := a.snapshot()
	out := make([]TimeSeries, 0, len(snap))
	for _, status := range sortedKeys(snap) {
		out = append(out, newSeries(meta, a.Name(), ValueTypeInt64,
			map[string]string{"response_code": status},
			interval, int64Value(snap[status])))
	}
	return out
}

// ProjectRequestCount counts monitoring API requests per project. It keeps its
// state for the summary log but emits no series.
type ProjectRequestCount struct {
	counter
}

// NewProjectRequestCount creates an empty per-project request counter.
func NewProjectRequestCount() *ProjectRequestCount {
	return &ProjectRequestCount{}
}

func (a *ProjectRequestCount) Name() string        { return "gcp_metric_request_count" }
func (a *ProjectRequestCount) Description() string { return "GCP Monitoring API request count [per project]" }

// Increment records one request for project.
func (a *ProjectRequestCount) Increment(project string) {
	a.add(project, 1)
}

// Count returns the requests recorded for project.
func (a *ProjectRequestCount) Count(project string) int64 {
	return a.get(project)
}

// GenerateTimeSeries always returns nil.
func (a *ProjectRequestCount) GenerateTimeSeries(Meta, Interval) []TimeSeries {
	return nil
}

// Ingest line outcomes.
const (
	StatusOk      = "Ok"
	StatusInvalid = "Invalid"
	StatusDropped = "Dropped"
)

// IngestLinesCount sums ingest lines of one outcome per project.
type IngestLinesCount struct {
	counter
	status string
}

// NewIngestLinesCount creates a counter for the given outcome.
func NewIngestLinesCount(status string) *IngestLinesCount {
	return &IngestLinesCount{status: status}
}

func (a *IngestLinesCount) Name() string { return "ingest_lines" }
func (a *IngestLinesCount) Description() string {
	return "Dynatrace MINT " + a.status + " lines count [per project]"
}

// Status returns the outcome this counter tracks.
func (a *IngestLinesCount) Status() string { return a.status }

// Update adds lines for project.
func (a *IngestLinesCount) Update(project string, lines int) {
	a.add(project, int64(lines))
}

// Count returns the lines recorded for project.
func (a *IngestLinesCount) Count(project string) int64 {
	return a.get(project)
}

func (a *IngestLinesCount) GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries {
	snap := a.snapshot()
	out := make([]TimeSeries, 0, len(snap))
	for _, project := range sortedKeys(snap) {
		out = append(out, newSeries(meta, a.Name(), ValueTypeInt64,
			map[string]string{"status": a.status, "project_id": project},
			interval, int64Value(snap[project])))
	}
	return out
}

// Execution phases.
const (
	PhaseSetup           = "setup"
	PhaseFetchGCPData    = "fetch_gcp_data"
	PhasePushToDynatrace = "push_to_dynatrace"
)

// PhaseTime keeps the last recorded duration, in seconds, of one phase per project.
type PhaseTime struct {
	mu     sync.Mutex
	values map[string]float64
	phase  string
}

// NewPhaseTime creates a timer for the given phase.
func NewPhaseTime(phase string) *PhaseTime {
	return &PhaseTime{values: make(map[string]float64), phase: phase}
}

func (a *PhaseTime) Name() string        { return "phase_execution_time" }
func (a *PhaseTime) Description() string { return "Execution time of phase " + a.phase + " [per project]" }

// Phase returns the phase this timer tracks.
func (a *PhaseTime) Phase() string { return a.phase }

// Update replaces the recorded time for project.
func (a *PhaseTime) Update(project string, seconds float64) {
	a.mu.Lock()
	a.values[project] = seconds
	a.mu.Unlock()
}

// Seconds returns the recorded time for project.
func (a *PhaseTime) Seconds(project string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[project]
	return v, ok
}

func (a *PhaseTime) snapshot() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

func (a *PhaseTime) GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries {
	snap := a.snapshot()
	out := make([]TimeSeries, 0, len(snap))
	for _, project := range sortedKeys(snap) {
		out = append(out, newSeries(meta, a.Name(), ValueTypeDouble,
			map[string]string{"phase": a.phase, "project_id": project},
			interval, doubleValue(snap[project])))
	}
	return out
}

// ConnectivityStatus is the outcome of talking to the ingest endpoint.
type ConnectivityStatus int

const (
	ConnectivityOk ConnectivityStatus = iota + 1
	ConnectivityExpiredToken
	ConnectivityWrongToken
	ConnectivityWrongURL
	ConnectivityTooManyRequests
	ConnectivityOther
)

func (s ConnectivityStatus) String() string {
	switch s {
	case ConnectivityOk:
		return "Ok"
	case ConnectivityExpiredToken:
		return "ExpiredToken"
	case ConnectivityWrongToken:
		return "WrongToken"
	case ConnectivityWrongURL:
		return "WrongURL"
	case ConnectivityTooManyRequests:
		return "TooManyRequests"
	case ConnectivityOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// ConnectivityFromStatus maps an HTTP status code to a connectivity outcome.
func ConnectivityFromStatus(code int) ConnectivityStatus {
	switch {
	case code >= 200 && code < 300:
		return ConnectivityOk
	case code == 401:
		return ConnectivityExpiredToken
	case code == 403:
		return ConnectivityWrongToken
	case code == 404 || code == 405:
		return ConnectivityWrongURL
	case code == 429:
		return ConnectivityTooManyRequests
	default:
		return ConnectivityOther
	}
}

// Connectivity keeps the last connectivity outcome.
type Connectivity struct {
	mu    sync.Mutex
	value ConnectivityStatus
}

// NewConnectivity creates an unset connectivity accumulator.
func NewConnectivity() *Connectivity {
	return &Connectivity{}
}

func (a *Connectivity) Name() string        { return "connectivity" }
func (a *Connectivity) Description() string { return "Dynatrace Connectivity" }

// Update replaces the recorded outcome.
func (a *Connectivity) Update(status ConnectivityStatus) {
	a.mu.Lock()
	a.value = status
	a.mu.Unlock()
}

// Status returns the recorded outcome, zero when nothing was recorded.
func (a *Connectivity) Status() ConnectivityStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// GenerateTimeSeries emits a single point of 1 tagged with the outcome, or
// nothing when no outcome was recorded.
func (a *Connectivity) GenerateTimeSeries(meta Meta, interval Interval) []TimeSeries {
	status := a.Status()
	if status == 0 {
		return nil
	}
	return []TimeSeries{newSeries(meta, a.Name(), ValueTypeInt64,
		map[string]string{"reason": status.String()},
		interval, int64Value(1))}
}
