package metrics

import (
	"sort"
	"strings"
	"time"
)

// ServiceKey identifies a service by name and feature set. It is the map key
// used wherever services index topology.
type ServiceKey struct {
	Name       string
	FeatureSet string
}

// String renders the key as "name/featureSet".
func (k ServiceKey) String() string {
	return k.Name + "/" + k.FeatureSet
}

// Dimension maps a source label onto an output dimension key.
// Source is a path such as "resource.labels.instance_id" or "metric.labels.state".
type Dimension struct {
	Key    string `yaml:"key"`
	Source string `yaml:"value"`
}

// Metric is one queryable series definition.
type Metric struct {
	// Key is the output metric key, e.g. "cloud.gcp.compute_googleapis_com.instance.cpu.utilization".
	Key string
	// GoogleMetric is the source metric type, e.g. "compute.googleapis.com/instance/cpu/utilization".
	GoogleMetric string
	// Type is the ingest payload type: "gauge" or "count,delta".
	Type         string
	ValueType    string
	MetricKind   string
	Unit         string
	SamplePeriod time.Duration
	IngestDelay  time.Duration
	Dimensions   []Dimension
}

// API returns the governing API of the metric, the part of GoogleMetric before
// the first "/". A metric without "/" is its own API.
func (m Metric) API() string {
	if i := strings.Index(m.GoogleMetric, "/"); i >= 0 {
		return m.GoogleMetric[:i]
	}
	return m.GoogleMetric
}

// Activation carries the per-service options from the activation config.
type Activation struct {
	FeatureSets []string
	Vars        map[string]string
}

// FilterConditions returns the extra monitoring filter configured for the service.
func (a Activation) FilterConditions() string {
	return a.Vars["filter_conditions"]
}

// GCPService describes a monitored service and the metrics queried for it.
// Values are treated as immutable once loaded.
type GCPService struct {
	Name           string
	TechnologyName string
	FeatureSet     string
	Dimensions     []Dimension
	Metrics        []Metric
	Activation     Activation
}

// Key returns the service identity.
func (s GCPService) Key() ServiceKey {
	return ServiceKey{Name: s.Name, FeatureSet: s.FeatureSet}
}

// RequiredAPIs returns the distinct APIs governing the service's metrics, in
// first-seen order.
func RequiredAPIs(services []GCPService) []string {
	seen := make(map[string]bool)
	var apis []string
	for _, svc := range services {
		for _, m := range svc.Metrics {
			api := m.API()
			if api == "" || seen[api] {
				continue
			}
			seen[api] = true
			apis = append(apis, api)
		}
	}
	return apis
}

// APISet is a set of API names such as "compute.googleapis.com".
type APISet map[string]bool

// NewAPISet builds a set from names.
func NewAPISet(apis ...string) APISet {
	s := make(APISet, len(apis))
	for _, a := range apis {
		s[a] = true
	}
	return s
}

// Has reports whether api is in the set. A nil set is empty.
func (s APISet) Has(api string) bool {
	return s[api]
}

// Sorted returns the members in lexical order.
func (s APISet) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// DisabledAPIs is the outcome of checking required APIs across projects.
type DisabledAPIs struct {
	// FullyDisabled lists projects that cannot be monitored at all.
	FullyDisabled []string          `json:"fully_disabled"`
	ByProject     map[string]APISet `json:"by_project"`
	// Unchecked lists projects whose lookup failed and were assumed enabled.
	Unchecked []string `json:"unchecked,omitempty"`
}

// For returns the disabled APIs of project, never nil.
func (d DisabledAPIs) For(project string) APISet {
	if s, ok := d.ByProject[project]; ok && s != nil {
		return s
	}
	return APISet{}
}
