package dynatrace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

func TestObfuscateAccessKey(t *testing.T) {
	public := "ABCDEFGHIJKLMNOPQRSTUVWX"
	secret := strings.Repeat("s", 64)
	structured := "dt0c01." + public + "." + secret
	require.Len(t, structured, 96)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"structured token", structured, "dt0c01." + public},
		{"plain key", "abcdefgh", "abc**fgh"},
		{"seven characters", "abcdefg", "abc*efg"},
		{"wrong length structured", "dt0c01.short.secret", "dt0*************ret"},
		{"too short", "ab", "Invalid Token"},
		{"empty", "", "Invalid Token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObfuscateAccessKey(tt.key))
		})
	}
}

func lookupServer(t *testing.T, status int, meta TokenMetadata) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens/lookup", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Api-Token secret-key", r.Header.Get("Authorization"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret-key", body["token"])

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(meta)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckConnectivity(t *testing.T) {
	full := []string{"metrics.ingest", "extensions.read", "logs.ingest"}

	tests := []struct {
		name   string
		status int
		meta   TokenMetadata
		want   bool
	}{
		{"valid", http.StatusOK, TokenMetadata{Name: "gcp", Scopes: full}, true},
		{"revoked", http.StatusOK, TokenMetadata{Name: "gcp", Revoked: true, Scopes: full}, false},
		{"missing scope", http.StatusOK, TokenMetadata{Name: "gcp", Scopes: []string{"metrics.ingest"}}, false},
		{"no name", http.StatusOK, TokenMetadata{Scopes: full}, false},
		{"unauthorized", http.StatusUnauthorized, TokenMetadata{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := lookupServer(t, tt.status, tt.meta)
			client := NewClient(Options{HTTPClient: srv.Client()})
			assert.Equal(t, tt.want, client.CheckConnectivity(context.Background(), srv.URL+"/", "secret-key"))
		})
	}
}

func TestCheckConnectivityNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Options{HTTPClient: &http.Client{Timeout: time.Second}})
	assert.False(t, client.CheckConnectivity(context.Background(), url, "secret-key"))
}

func TestCheckConnectivityMissingConfig(t *testing.T) {
	assert.False(t, CheckConnectivity(context.Background(), "", "secret-key"))
	assert.False(t, CheckConnectivity(context.Background(), "https://tenant.example", ""))
}

func TestMissingScopes(t *testing.T) {
	meta := TokenMetadata{Name: "x", Scopes: []string{"extensions.read"}}
	assert.Equal(t, []string{"metrics.ingest"}, meta.MissingScopes())
	assert.False(t, meta.Valid())
}

func testExecution(url string) *core.ExecutionContext {
	cfg := core.DefaultConfig()
	cfg.ProjectID = "owner"
	cfg.Dynatrace.URL = url
	cfg.Dynatrace.AccessKey = "secret-key"
	return core.NewExecutionContext(cfg, "exec-1", "token", &logger.NoOpLogger{})
}

func testLines(n int) []metrics.IngestLine {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	lines := make([]metrics.IngestLine, n)
	for i := range lines {
		lines[i] = metrics.IngestLine{
			ProjectID:  "p1",
			MetricKey:  "cloud.gcp.compute_googleapis_com.instance.cpu.utilization",
			MetricType: "gauge",
			Value:      float64(i),
			Dimensions: []metrics.DimensionValue{{Name: "gcp.project.id", Value: "p1"}},
			Timestamp:  ts,
		}
	}
	return lines
}

type ingestRecorder struct {
	mu      sync.Mutex
	batches []int
	calls   atomic.Int32
}

func (r *ingestRecorder) record(t *testing.T, req *http.Request) []string {
	t.Helper()
	r.calls.Add(1)
	assert.Equal(t, "/api/v2/metrics/ingest", req.URL.Path)
	assert.Equal(t, "Api-Token secret-key", req.Header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "text/plain"))
	body, err := io.ReadAll(req.Body)
	assert.NoError(t, err)
	lines := strings.Split(string(body), "\n")
	r.mu.Lock()
	r.batches = append(r.batches, len(lines))
	r.mu.Unlock()
	return lines
}

func newTestPusher(srv *httptest.Server, batchSize int) *Pusher {
	opts := DefaultPusherOptions()
	opts.HTTPClient = srv.Client()
	opts.BatchSize = batchSize
	return NewPusher(opts)
}

func TestPushBatches(t *testing.T) {
	rec := &ingestRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := rec.record(t, r)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]int{"linesOk": len(lines), "linesInvalid": 0})
	}))
	defer srv.Close()

	ec := testExecution(srv.URL)
	result := newTestPusher(srv, 1000).Push(context.Background(), ec, "p1", testLines(2500))

	assert.Equal(t, PushResult{Ok: 2500}, result)
	assert.Equal(t, []int{1000, 1000, 500}, rec.batches)
	assert.EqualValues(t, 3, ec.Registry.DynatraceRequestCount.Count(http.StatusAccepted))
	assert.Equal(t, sfm.ConnectivityOk, ec.Registry.Connectivity.Status())
}

func TestPushPartiallyInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"linesOk":8,"linesInvalid":2,"error":{"code":400,"message":"2 invalid lines"}}`)
	}))
	defer srv.Close()

	ec := testExecution(srv.URL)
	result := newTestPusher(srv, 100).Push(context.Background(), ec, "p1", testLines(10))

	assert.Equal(t, PushResult{Ok: 8, Invalid: 2}, result)
	assert.EqualValues(t, 1, ec.Registry.DynatraceRequestCount.Count(http.StatusBadRequest))
	assert.Equal(t, sfm.ConnectivityOther, ec.Registry.Connectivity.Status())
}

func TestPushUnauthorizedDropsLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ec := testExecution(srv.URL)
	result := newTestPusher(srv, 100).Push(context.Background(), ec, "p1", testLines(10))

	assert.Equal(t, PushResult{Dropped: 10}, result)
	assert.Equal(t, sfm.ConnectivityExpiredToken, ec.Registry.Connectivity.Status())
}

func TestPushCircuitBreakerOpens(t *testing.T) {
	rec := &ingestRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ec := testExecution(srv.URL)
	result := newTestPusher(srv, 1).Push(context.Background(), ec, "p1", testLines(6))

	assert.Equal(t, PushResult{Dropped: 6}, result)
	assert.EqualValues(t, 3, rec.calls.Load())
	assert.EqualValues(t, 3, ec.Registry.DynatraceRequestCount.Count(http.StatusServiceUnavailable))
}

func TestPushWithoutURL(t *testing.T) {
	ec := testExecution("")
	pusher := NewPusher(DefaultPusherOptions())

	result := pusher.Push(context.Background(), ec, "p1", testLines(4))
	assert.Equal(t, PushResult{Dropped: 4}, result)
	assert.Equal(t, 4, result.Total())
}

func TestPushNothing(t *testing.T) {
	ec := testExecution("https://tenant.example")
	result := NewPusher(DefaultPusherOptions()).Push(context.Background(), ec, "p1", nil)
	assert.Equal(t, PushResult{}, result)
}
