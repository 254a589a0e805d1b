package entities

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// Entity is a discovered topology node used to enrich metric dimensions.
type Entity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	DNSNames    []string `json:"dns_names,omitempty"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ListenPorts []int    `json:"listen_ports,omitempty"`
}

// Normalize sorts every collection in place so the first element, which
// enrichment picks, does not depend on discovery order.
func (e *Entity) Normalize() {
	sort.Strings(e.DNSNames)
	sort.Strings(e.IPAddresses)
	sort.Strings(e.Tags)
	sort.Ints(e.ListenPorts)
}

// Dimensions returns the dimensions an entity contributes to a matching line.
// Empty collections contribute nothing.
func (e Entity) Dimensions() []metrics.DimensionValue {
	var dims []metrics.DimensionValue
	if e.DisplayName != "" {
		dims = append(dims, metrics.DimensionValue{Name: "entity.name", Value: e.DisplayName})
	}
	if len(e.DNSNames) > 0 {
		dims = append(dims, metrics.DimensionValue{Name: "entity.dns_name", Value: e.DNSNames[0]})
	}
	if len(e.IPAddresses) > 0 {
		dims = append(dims, metrics.DimensionValue{Name: "entity.ip_address", Value: e.IPAddresses[0]})
	}
	if len(e.ListenPorts) > 0 {
		dims = append(dims, metrics.DimensionValue{Name: "entity.listen_port", Value: strconv.Itoa(e.ListenPorts[0])})
	}
	if len(e.Tags) > 0 {
		dims = append(dims, metrics.DimensionValue{Name: "entity.tags", Value: strings.Join(e.Tags, ",")})
	}
	return dims
}

// ExtractFunc discovers the entities of one service in one project.
type ExtractFunc func(ctx context.Context, ec *core.ExecutionContext, project string, service metrics.GCPService) ([]Entity, error)

// Extractor pairs an ExtractFunc with the API it depends on.
type Extractor struct {
	UsedAPI string
	Extract ExtractFunc
}

// Registry maps service names to their topology extractor.
type Registry map[string]Extractor

// Lookup returns the extractor registered for service.
func (r Registry) Lookup(service string) (Extractor, bool) {
	e, ok := r[service]
	return e, ok && e.Extract != nil
}
