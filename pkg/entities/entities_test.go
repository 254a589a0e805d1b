package entities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/gcp"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

func TestEntityNormalizeAndDimensions(t *testing.T) {
	e := Entity{
		ID:          "1",
		DisplayName: "vm-1",
		DNSNames:    []string{"b.internal", "a.internal"},
		IPAddresses: []string{"10.0.0.9", "10.0.0.10"},
		Tags:        []string{"web", "api"},
		ListenPorts: []int{8080, 443},
	}
	e.Normalize()

	assert.Equal(t, []metrics.DimensionValue{
		{Name: "entity.name", Value: "vm-1"},
		{Name: "entity.dns_name", Value: "a.internal"},
		{Name: "entity.ip_address", Value: "10.0.0.10"},
		{Name: "entity.listen_port", Value: "443"},
		{Name: "entity.tags", Value: "api,web"},
	}, e.Dimensions())

	assert.Empty(t, Entity{ID: "bare"}.Dimensions())
}

func TestRegistryLookup(t *testing.T) {
	reg := Registry{"broken": {UsedAPI: "x"}}
	_, ok := reg.Lookup("broken")
	assert.False(t, ok, "extractor without function is not usable")
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func newClient(t *testing.T, h http.HandlerFunc) *gcp.Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return gcp.NewClient(5*time.Second,
		gcp.WithHTTPClient(srv.Client()),
		gcp.WithEndpoints(gcp.Endpoints{Compute: srv.URL, SQLAdmin: srv.URL}))
}

func testExecution() *core.ExecutionContext {
	return core.NewExecutionContext(core.DefaultConfig(), "exec", "tok", &logger.NoOpLogger{})
}

func TestComputeExtractor(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/compute/v1/projects/p1/aggregated/instances", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"items": map[string]interface{}{
				"zones/us-central1-a": map[string]interface{}{
					"instances": []interface{}{map[string]interface{}{
						"id":   "123",
						"name": "vm-1",
						"zone": "https://www.googleapis.com/compute/v1/projects/p1/zones/us-central1-a",
						"networkInterfaces": []interface{}{map[string]interface{}{
							"networkIP":     "10.0.0.2",
							"accessConfigs": []interface{}{map[string]string{"natIP": "34.1.2.3"}},
						}},
						"tags": map[string]interface{}{"items": []string{"web"}},
					}},
				},
				"zones/europe-west1-b": map[string]interface{}{},
			},
		})
	})

	ext, ok := DefaultRegistry(client).Lookup("gce_instance")
	require.True(t, ok)
	assert.Equal(t, "compute.googleapis.com", ext.UsedAPI)

	found, err := ext.Extract(context.Background(), testExecution(), "p1", metrics.GCPService{Name: "gce_instance"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "123", found[0].ID)
	assert.Equal(t, []string{"vm-1.us-central1-a.c.p1.internal"}, found[0].DNSNames)
	assert.Equal(t, []string{"10.0.0.2", "34.1.2.3"}, found[0].IPAddresses)
	assert.Equal(t, []string{"web"}, found[0].Tags)
}

func TestCloudSQLExtractor(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{
					"name":            "orders",
					"databaseVersion": "POSTGRES_14",
					"ipAddresses":     []interface{}{map[string]string{"ipAddress": "10.1.1.1"}},
					"settings":        map[string]interface{}{"userLabels": map[string]string{"team": "core"}},
				},
				map[string]interface{}{"name": "legacy", "databaseVersion": "MYSQL_5_7"},
			},
		})
	})

	ext, ok := DefaultRegistry(client).Lookup("cloudsql_database")
	require.True(t, ok)

	found, err := ext.Extract(context.Background(), testExecution(), "p1", metrics.GCPService{Name: "cloudsql_database"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "p1:orders", found[0].ID)
	assert.Equal(t, []int{5432}, found[0].ListenPorts)
	assert.Equal(t, []string{"team:core"}, found[0].Tags)
	assert.Equal(t, []int{3306}, found[1].ListenPorts)
}

func TestExtractorError(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	ext, _ := DefaultRegistry(client).Lookup("gce_instance")
	_, err := ext.Extract(context.Background(), testExecution(), "p1", metrics.GCPService{})
	assert.ErrorIs(t, err, core.ErrRequestFailed)
}
