package topology

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/entities"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

func testExecution() *core.ExecutionContext {
	return core.NewExecutionContext(core.DefaultConfig(), "exec", "tok", &logger.NoOpLogger{})
}

func static(found []entities.Entity, err error) entities.ExtractFunc {
	return func(context.Context, *core.ExecutionContext, string, metrics.GCPService) ([]entities.Entity, error) {
		return found, err
	}
}

func TestResolve(t *testing.T) {
	var panicked atomic.Bool
	registry := entities.Registry{
		"gce_instance": {UsedAPI: "compute.googleapis.com", Extract: static([]entities.Entity{{ID: "1"}}, nil)},
		"cloudsql_database": {UsedAPI: "sqladmin.googleapis.com", Extract: static(nil, nil)},
		"failing": {UsedAPI: "x.googleapis.com", Extract: static(nil, errors.New("boom"))},
		"panicking": {UsedAPI: "y.googleapis.com", Extract: func(context.Context, *core.ExecutionContext, string, metrics.GCPService) ([]entities.Entity, error) {
			panicked.Store(true)
			panic("extractor bug")
		}},
		"disabled": {UsedAPI: "disabled.googleapis.com", Extract: func(context.Context, *core.ExecutionContext, string, metrics.GCPService) ([]entities.Entity, error) {
			t.Error("disabled extractor must not run")
			return nil, nil
		}},
	}
	services := []metrics.GCPService{
		{Name: "gce_instance", FeatureSet: "default_metrics"},
		{Name: "cloudsql_database", FeatureSet: "default_metrics"},
		{Name: "failing", FeatureSet: "default_metrics"},
		{Name: "panicking", FeatureSet: "default_metrics"},
		{Name: "disabled", FeatureSet: "default_metrics"},
		{Name: "no_extractor", FeatureSet: "default_metrics"},
	}

	topo := NewResolver(registry, 2).Resolve(context.Background(), testExecution(), "p1", services,
		metrics.NewAPISet("disabled.googleapis.com"))

	assert.True(t, panicked.Load())
	require.Len(t, topo, 2)
	assert.Len(t, topo[metrics.ServiceKey{Name: "gce_instance", FeatureSet: "default_metrics"}], 1)

	sql, ok := topo[metrics.ServiceKey{Name: "cloudsql_database", FeatureSet: "default_metrics"}]
	assert.True(t, ok, "successful empty discovery stays in the map")
	assert.Empty(t, sql)

	_, ok = topo[metrics.ServiceKey{Name: "failing", FeatureSet: "default_metrics"}]
	assert.False(t, ok)
	_, ok = topo[metrics.ServiceKey{Name: "no_extractor", FeatureSet: "default_metrics"}]
	assert.False(t, ok)
}

func TestBuildEntityIndexIsOrderIndependent(t *testing.T) {
	gce := metrics.ServiceKey{Name: "gce_instance", FeatureSet: "default_metrics"}
	sql := metrics.ServiceKey{Name: "cloudsql_database", FeatureSet: "default_metrics"}

	first := Topology{
		gce: {
			{ID: "1", DNSNames: []string{"b", "a"}, IPAddresses: []string{"10.0.0.2", "10.0.0.1"}, Tags: []string{"z", "y"}, ListenPorts: []int{443, 80}},
			{ID: "2", IPAddresses: []string{"10.0.0.3"}},
		},
		sql: {{ID: "p:db", ListenPorts: []int{5432}}},
	}
	second := Topology{
		sql: {{ID: "p:db", ListenPorts: []int{5432}}},
		gce: {
			{ID: "2", IPAddresses: []string{"10.0.0.3"}},
			{ID: "1", DNSNames: []string{"a", "b"}, IPAddresses: []string{"10.0.0.1", "10.0.0.2"}, Tags: []string{"y", "z"}, ListenPorts: []int{80, 443}},
		},
	}

	a := BuildEntityIndex(first)
	b := BuildEntityIndex(second)
	assert.Equal(t, a, b)
	require.Contains(t, a, "1")
	assert.Equal(t, []string{"a", "b"}, a["1"].DNSNames)
	assert.Equal(t, []int{80, 443}, a["1"].ListenPorts)
	assert.Equal(t, a["1"].Dimensions(), b["1"].Dimensions())
}

func TestBuildEntityIndexDoesNotMutateInput(t *testing.T) {
	key := metrics.ServiceKey{Name: "gce_instance"}
	topo := Topology{key: {{ID: "1", Tags: []string{"b", "a"}}}}
	BuildEntityIndex(topo)
	assert.Equal(t, []string{"b", "a"}, topo[key][0].Tags)
}
