package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

const (
	defaultFeatureSet   = "default_metrics"
	defaultSamplePeriod = 60 * time.Second
	defaultIngestDelay  = 60 * time.Second
)

// extensionFile is one service definition file in the extensions directory.
type extensionFile struct {
	Technology technologyName `yaml:"technology"`
	GCP        []serviceYAML  `yaml:"gcp"`
}

type serviceYAML struct {
	Service    string              `yaml:"service"`
	FeatureSet string              `yaml:"featureSet"`
	Dimensions []metrics.Dimension `yaml:"dimensions"`
	Metrics    []metricYAML        `yaml:"metrics"`
}

type metricYAML struct {
	Key        string              `yaml:"key"`
	Value      string              `yaml:"value"`
	Type       string              `yaml:"type"`
	Dimensions []metrics.Dimension `yaml:"dimensions"`
	GCPOptions struct {
		SamplingPeriod int    `yaml:"samplingPeriod"`
		IngestDelay    int    `yaml:"ingestDelay"`
		ValueType      string `yaml:"valueType"`
		MetricKind     string `yaml:"metricKind"`
		Unit           string `yaml:"unit"`
	} `yaml:"gcpOptions"`
}

// technologyName accepts either `technology: Name` or `technology: {name: Name}`.
type technologyName string

func (t *technologyName) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = technologyName(node.Value)
		return nil
	case yaml.MappingNode:
		var v struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		if v.Name == "" {
			v.Name = "N/A"
		}
		*t = technologyName(v.Name)
		return nil
	default:
		return fmt.Errorf("unsupported technology node at line %d", node.Line)
	}
}

// ActivationConfig is the parsed activation YAML.
type ActivationConfig struct {
	Services []ActivationService `yaml:"services"`
}

// ActivationService enables feature sets of one service.
type ActivationService struct {
	Service     string            `yaml:"service"`
	FeatureSets []string          `yaml:"featureSets"`
	Vars        map[string]string `yaml:"vars"`
}

// AllowList returns the enabled "service/featureSet" pairs. Services listing no
// feature set are reported through log and contribute nothing.
func (a ActivationConfig) AllowList(log logger.Logger) map[string]bool {
	allow := make(map[string]bool)
	for _, svc := range a.Services {
		if len(svc.FeatureSets) == 0 {
			log.Error("No feature set in given service", map[string]interface{}{
				"service": svc.Service,
			})
			continue
		}
		for _, fs := range svc.FeatureSets {
			allow[svc.Service+"/"+fs] = true
		}
	}
	return allow
}

// ReadActivation loads the activation config from ActivationFile, falling back
// to the inline ActivationYAML. A missing or empty source yields an empty config.
func ReadActivation(cfg ServicesConfig) (ActivationConfig, error) {
	var activation ActivationConfig

	data, err := os.ReadFile(cfg.ActivationFile)
	if err != nil || len(data) == 0 {
		data = []byte(cfg.ActivationYAML)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return activation, nil
	}
	if err := yaml.Unmarshal(data, &activation); err != nil {
		return activation, fmt.Errorf("failed to parse activation config: %v: %w", err, ErrInvalidConfiguration)
	}
	return activation, nil
}

// LoadServices reads every YAML file in the extensions directory and returns the
// services enabled by the activation config. An empty allow list enables all
// services. Files that cannot be read or parsed are logged and skipped.
func LoadServices(cfg ServicesConfig, log logger.Logger) ([]metrics.GCPService, error) {
	if log == nil {
		log = &logger.NoOpLogger{}
	}

	activation, err := ReadActivation(cfg)
	if err != nil {
		return nil, err
	}
	allow := activation.AllowList(log)
	perService := make(map[string]ActivationService, len(activation.Services))
	for _, svc := range activation.Services {
		perService[svc.Service] = svc
	}

	entries, err := os.ReadDir(cfg.ExtensionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extensions directory %s: %w", cfg.ExtensionsDir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isYAMLFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(cfg.ExtensionsDir, e.Name()))
	}
	sort.Strings(files)

	var services []metrics.GCPService
	for _, path := range files {
		loaded, err := loadExtensionFile(path, allow, perService)
		if err != nil {
			log.Warn("Failed to load configuration file", map[string]interface{}{
				"file":  path,
				"error": err.Error(),
			})
			continue
		}
		services = append(services, loaded...)
	}

	if len(services) == 0 {
		log.Warn("Empty feature sets. GCP services not monitored.")
		return services, nil
	}
	selected := make([]string, 0, len(services))
	for _, svc := range services {
		selected = append(selected, svc.Key().String())
	}
	log.Info("Selected feature sets", map[string]interface{}{
		"feature_sets": strings.Join(selected, ", "),
	})
	return services, nil
}

func loadExtensionFile(path string, allow map[string]bool, perService map[string]ActivationService) ([]metrics.GCPService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ext extensionFile
	if err := yaml.Unmarshal(data, &ext); err != nil {
		return nil, err
	}

	var out []metrics.GCPService
	for _, s := range ext.GCP {
		if s.FeatureSet == "" {
			s.FeatureSet = defaultFeatureSet
		}
		if len(allow) > 0 && !allow[s.Service+"/"+s.FeatureSet] {
			continue
		}
		act := perService[s.Service]
		out = append(out, metrics.GCPService{
			Name:           s.Service,
			TechnologyName: string(ext.Technology),
			FeatureSet:     s.FeatureSet,
			Dimensions:     normalizeDimensions(s.Dimensions),
			Metrics:        buildMetrics(s),
			Activation: metrics.Activation{
				FeatureSets: act.FeatureSets,
				Vars:        act.Vars,
			},
		})
	}
	return out, nil
}

func buildMetrics(s serviceYAML) []metrics.Metric {
	out := make([]metrics.Metric, 0, len(s.Metrics))
	serviceDims := normalizeDimensions(s.Dimensions)
	for _, m := range s.Metrics {
		dims := make([]metrics.Dimension, 0, len(serviceDims)+len(m.Dimensions))
		dims = append(dims, serviceDims...)
		dims = append(dims, normalizeDimensions(m.Dimensions)...)

		metric := metrics.Metric{
			Key:          m.Key,
			GoogleMetric: strings.TrimPrefix(m.Value, "metric:"),
			Type:         m.Type,
			ValueType:    m.GCPOptions.ValueType,
			MetricKind:   m.GCPOptions.MetricKind,
			Unit:         m.GCPOptions.Unit,
			SamplePeriod: defaultSamplePeriod,
			IngestDelay:  defaultIngestDelay,
			Dimensions:   dims,
		}
		if m.GCPOptions.SamplingPeriod > 0 {
			metric.SamplePeriod = time.Duration(m.GCPOptions.SamplingPeriod) * time.Second
		}
		if m.GCPOptions.IngestDelay > 0 {
			metric.IngestDelay = time.Duration(m.GCPOptions.IngestDelay) * time.Second
		}
		if metric.Type == "" {
			metric.Type = "gauge"
		}
		out = append(out, metric)
	}
	return out
}

// normalizeDimensions strips the "label:" prefix and defaults the source to the
// resource label of the same name.
func normalizeDimensions(in []metrics.Dimension) []metrics.Dimension {
	out := make([]metrics.Dimension, 0, len(in))
	for _, d := range in {
		src := strings.TrimPrefix(d.Source, "label:")
		if src == "" {
			src = "resource.labels." + d.Key
		}
		out = append(out, metrics.Dimension{Key: d.Key, Source: src})
	}
	return out
}

func isYAMLFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
