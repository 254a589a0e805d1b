package gcpmonitor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	gcpmonitor "github.com/itsneelabh/gcp-monitor"
	"github.com/itsneelabh/gcp-monitor/pkg/cache"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/gcp"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fakeGoogle serves one project with the monitoring and cloud functions APIs
// enabled and two points per time series query.
func fakeGoogle(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"projects": []map[string]string{{"projectId": "p1", "lifecycleState": "ACTIVE"}},
		})
	})
	mux.HandleFunc("/v1/projects/p1/services", func(w http.ResponseWriter, r *http.Request) {
		var services []map[string]interface{}
		for _, api := range []string{"monitoring.googleapis.com", "cloudfunctions.googleapis.com"} {
			services = append(services, map[string]interface{}{
				"name":   "projects/1/services/" + api,
				"config": map[string]string{"name": api},
				"state":  "ENABLED",
			})
		}
		writeJSON(w, map[string]interface{}{"services": services})
	})
	mux.HandleFunc("/v3/projects/p1/timeSeries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"timeSeries": []interface{}{
				map[string]interface{}{
					"metric": map[string]interface{}{
						"type":   "cloudfunctions.googleapis.com/function/active_instances",
						"labels": map[string]string{},
					},
					"resource": map[string]interface{}{
						"type":   "cloud_function",
						"labels": map[string]string{"function_name": "fn-1", "region": "europe-west1"},
					},
					"points": []interface{}{
						map[string]interface{}{
							"interval": map[string]string{"endTime": time.Now().Add(-2 * time.Minute).UTC().Format(time.RFC3339)},
							"value":    map[string]interface{}{"int64Value": "3"},
						},
						map[string]interface{}{
							"interval": map[string]string{"endTime": time.Now().Add(-3 * time.Minute).UTC().Format(time.RFC3339)},
							"value":    map[string]interface{}{"int64Value": "4"},
						},
					},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fakeDynatrace struct {
	*httptest.Server
	mu    sync.Mutex
	lines []string
}

func newFakeDynatrace(t *testing.T) *fakeDynatrace {
	d := &fakeDynatrace{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tokens/lookup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"name":    "gcp-monitor",
			"revoked": false,
			"scopes":  []string{"metrics.ingest", "extensions.read"},
		})
	})
	mux.HandleFunc("/api/v2/metrics/ingest", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		d.mu.Lock()
		d.lines = append(d.lines, lines...)
		d.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]interface{}{"linesOk": len(lines), "linesInvalid": 0})
	})
	d.Server = httptest.NewServer(mux)
	t.Cleanup(d.Close)
	return d
}

var functionService = metrics.GCPService{
	Name:       "cloud_function",
	FeatureSet: "default_metrics",
	Metrics: []metrics.Metric{{
		Key:          "cloud.gcp.cloudfunctions_googleapis_com.function.active_instances",
		GoogleMetric: "cloudfunctions.googleapis.com/function/active_instances",
		Type:         "gauge",
		ValueType:    "INT64",
		MetricKind:   "GAUGE",
		SamplePeriod: 60 * time.Second,
		IngestDelay:  60 * time.Second,
	}},
}

func newMonitor(t *testing.T, google *httptest.Server, dt *fakeDynatrace, loader func() ([]metrics.GCPService, error)) *gcpmonitor.Monitor {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.ProjectID = "owner"
	cfg.Dynatrace.URL = dt.URL
	cfg.Dynatrace.AccessKey = "dt0c01.ABC.secret"
	cfg.HTTP.HealthCheckPort = 0

	client := gcp.NewClient(5*time.Second,
		gcp.WithHTTPClient(google.Client()),
		gcp.WithEndpoints(gcp.Endpoints{
			ResourceManager: google.URL,
			ServiceUsage:    google.URL,
			Monitoring:      google.URL,
			SecretManager:   google.URL,
			Compute:         google.URL,
			SQLAdmin:        google.URL,
		}),
	)

	m, err := gcpmonitor.New(context.Background(), cfg,
		gcpmonitor.WithLogger(&logger.NoOpLogger{}),
		gcpmonitor.WithTokenSource(gcp.NewStaticTokenSource("tok")),
		gcpmonitor.WithGCPClient(client),
		gcpmonitor.WithDynatraceHTTPClient(dt.Client()),
		gcpmonitor.WithStore(cache.NewInMemoryStore()),
		gcpmonitor.WithServiceLoader(loader),
		gcpmonitor.WithTelemetryExporters(sdkmetric.NewManualReader(), tracetest.NewInMemoryExporter()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestMonitorRunOnce(t *testing.T) {
	google := fakeGoogle(t)
	dt := newFakeDynatrace(t)
	m := newMonitor(t, google, dt, func() ([]metrics.GCPService, error) {
		return []metrics.GCPService{functionService}, nil
	})

	require.NoError(t, m.RunOnce(context.Background()))

	last, ok := m.Orchestrator().LastExecution()
	require.True(t, ok)
	assert.Zero(t, last.FailedProjects)
	require.Len(t, last.Projects, 1)
	assert.Equal(t, "p1", last.Projects[0].Project)
	assert.Equal(t, 2, last.Projects[0].Lines)
	assert.Equal(t, 2, last.Projects[0].Push.Ok)

	dt.mu.Lock()
	defer dt.mu.Unlock()
	require.Len(t, dt.lines, 2)
	for _, line := range dt.lines {
		assert.True(t, strings.HasPrefix(line, "cloud.gcp.cloudfunctions_googleapis_com.function.active_instances"), line)
	}
}

func TestMonitorCheckWithoutServices(t *testing.T) {
	google := fakeGoogle(t)
	dt := newFakeDynatrace(t)
	m := newMonitor(t, google, dt, func() ([]metrics.GCPService, error) { return nil, nil })

	_, err := m.Check(context.Background())
	assert.ErrorIs(t, err, core.ErrNoServices)
	assert.ErrorIs(t, m.RunOnce(context.Background()), core.ErrNoServices)
}

func TestMonitorServeStopsOnCancel(t *testing.T) {
	google := fakeGoogle(t)
	dt := newFakeDynatrace(t)
	m := newMonitor(t, google, dt, func() ([]metrics.GCPService, error) {
		return []metrics.GCPService{functionService}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := m.Orchestrator().LastExecution()
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
