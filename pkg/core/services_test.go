package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gcp-monitor/pkg/logger"
)

const computeExtension = `
technology:
  name: Google Compute Engine
gcp:
  - service: gce_instance
    featureSet: default_metrics
    dimensions:
      - key: instance_name
        value: label:metric.labels.instance_name
    metrics:
      - key: cloud.gcp.compute_googleapis_com.instance.cpu.utilization
        value: metric:compute.googleapis.com/instance/cpu/utilization
        type: gauge
        gcpOptions:
          samplingPeriod: 120
          valueType: DOUBLE
          metricKind: GAUGE
          unit: "10^2.%"
  - service: gce_instance
    featureSet: agent
    metrics:
      - key: cloud.gcp.agent_googleapis_com.memory.percent_used
        value: metric:agent.googleapis.com/memory/percent_used
`

const sqlExtension = `
technology: Google Cloud SQL
gcp:
  - service: cloudsql_database
    dimensions:
      - key: database_id
    metrics:
      - key: cloud.gcp.cloudsql_googleapis_com.database.up
        value: metric:cloudsql.googleapis.com/database/up
        type: count,delta
`

func writeExtensions(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compute.yaml"), []byte(computeExtension), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql.yml"), []byte(sqlExtension), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("gcp: [\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))
	return dir
}

func TestLoadServicesWithoutActivationLoadsAll(t *testing.T) {
	dir := writeExtensions(t)

	services, err := LoadServices(ServicesConfig{
		ExtensionsDir:  dir,
		ActivationFile: filepath.Join(dir, "missing.yaml"),
	}, &logger.NoOpLogger{})
	require.NoError(t, err)
	require.Len(t, services, 3)

	gce := services[0]
	assert.Equal(t, "gce_instance", gce.Name)
	assert.Equal(t, "default_metrics", gce.FeatureSet)
	assert.Equal(t, "Google Compute Engine", gce.TechnologyName)
	require.Len(t, gce.Metrics, 1)

	m := gce.Metrics[0]
	assert.Equal(t, "compute.googleapis.com/instance/cpu/utilization", m.GoogleMetric)
	assert.Equal(t, "compute.googleapis.com", m.API())
	assert.Equal(t, 120*time.Second, m.SamplePeriod)
	assert.Equal(t, 60*time.Second, m.IngestDelay)
	assert.Equal(t, "DOUBLE", m.ValueType)
	require.Len(t, m.Dimensions, 1)
	assert.Equal(t, "metric.labels.instance_name", m.Dimensions[0].Source)

	assert.Equal(t, "agent", services[1].FeatureSet)
	assert.Equal(t, "gauge", services[1].Metrics[0].Type)

	sql := services[2]
	assert.Equal(t, "Google Cloud SQL", sql.TechnologyName)
	assert.Equal(t, "default_metrics", sql.FeatureSet)
	assert.Equal(t, "resource.labels.database_id", sql.Metrics[0].Dimensions[0].Source)
}

func TestLoadServicesAllowList(t *testing.T) {
	dir := writeExtensions(t)
	activation := `
services:
  - service: gce_instance
    featureSets:
      - agent
    vars:
      filter_conditions: resource.labels.zone = "us-central1-a"
  - service: cloudsql_database
`

	services, err := LoadServices(ServicesConfig{
		ExtensionsDir:  dir,
		ActivationFile: filepath.Join(dir, "missing.yaml"),
		ActivationYAML: activation,
	}, &logger.NoOpLogger{})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "gce_instance/agent", services[0].Key().String())
	assert.Equal(t, `resource.labels.zone = "us-central1-a"`, services[0].Activation.FilterConditions())
}

func TestReadActivationPrefersFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gcp_services.yaml")
	require.NoError(t, os.WriteFile(file, []byte("services:\n  - service: from_file\n    featureSets: [default_metrics]\n"), 0o600))

	act, err := ReadActivation(ServicesConfig{
		ActivationFile: file,
		ActivationYAML: "services:\n  - service: from_env\n",
	})
	require.NoError(t, err)
	require.Len(t, act.Services, 1)
	assert.Equal(t, "from_file", act.Services[0].Service)

	_, err = ReadActivation(ServicesConfig{ActivationYAML: "services: {"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	empty, err := ReadActivation(ServicesConfig{})
	require.NoError(t, err)
	assert.Empty(t, empty.Services)
}

func TestLoadServicesMissingDirectory(t *testing.T) {
	_, err := LoadServices(ServicesConfig{ExtensionsDir: filepath.Join(t.TempDir(), "nope")}, nil)
	assert.Error(t, err)
}

func TestLoadServicesShippedConfig(t *testing.T) {
	services, err := LoadServices(ServicesConfig{
		ExtensionsDir:  filepath.Join("..", "..", "config"),
		ActivationFile: filepath.Join("..", "..", "config", "activation", "gcp_services.yaml"),
	}, &logger.NoOpLogger{})
	require.NoError(t, err)

	keys := make([]string, 0, len(services))
	for _, svc := range services {
		keys = append(keys, svc.Key().String())
		assert.NotEmpty(t, svc.Metrics, svc.Key().String())
	}
	assert.ElementsMatch(t, []string{
		"cloud_function/default_metrics",
		"cloudsql_database/default_metrics",
		"gce_instance/default_metrics",
	}, keys)
}
