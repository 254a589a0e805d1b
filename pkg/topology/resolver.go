package topology

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/internal/pool"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/entities"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// Topology maps each resolved service to the entities discovered for it.
// A service whose extractor succeeded with no entities maps to an empty list.
type Topology map[metrics.ServiceKey][]entities.Entity

// Resolver discovers topology by running the registered extractors of a
// project's services concurrently.
type Resolver struct {
	registry entities.Registry
	limit    int
	tracer   trace.Tracer
}

// NewResolver creates a resolver over registry. limit bounds concurrent
// extractor calls per project; 0 means unbounded.
func NewResolver(registry entities.Registry, limit int) *Resolver {
	return &Resolver{
		registry: registry,
		limit:    limit,
		tracer:   otel.Tracer("gcpmonitor.topology"),
	}
}

// Resolve runs one extractor call per eligible service. Services without an
// extractor or whose extractor API is disabled are skipped. A failing extractor
// is logged and its service left out of the result.
func (r *Resolver) Resolve(ctx context.Context, ec *core.ExecutionContext, project string, services []metrics.GCPService, disabledAPIs metrics.APISet) Topology {
	ctx, span := r.tracer.Start(ctx, "gcpmonitor.topology",
		trace.WithAttributes(attribute.String("gcp.project.id", project)))
	defer span.End()

	log := ec.ProjectLogger(project)

	type job struct {
		service   metrics.GCPService
		extractor entities.Extractor
	}
	var jobs []job
	for _, svc := range services {
		ext, ok := r.registry.Lookup(svc.Name)
		if !ok {
			continue
		}
		if disabledAPIs.Has(ext.UsedAPI) {
			log.Info("Skipping topology, API disabled", map[string]interface{}{
				"service": svc.Name,
				"api":     ext.UsedAPI,
			})
			continue
		}
		jobs = append(jobs, job{service: svc, extractor: ext})
	}

	results := pool.Run(ctx, r.limit, len(jobs), func(ctx context.Context, i int) ([]entities.Entity, error) {
		j := jobs[i]
		return j.extractor.Extract(ctx, ec, project, j.service)
	})

	topology := make(Topology, len(jobs))
	failed := 0
	for _, res := range results {
		svc := jobs[res.Index].service
		if res.Err != nil {
			failed++
			log.Warn("Failed to fetch topology", map[string]interface{}{
				"service":    svc.Name,
				"error_type": core.ErrorType(res.Err),
				"error":      res.Err.Error(),
			})
			continue
		}
		found := res.Value
		if found == nil {
			found = []entities.Entity{}
		}
		topology[svc.Key()] = append(topology[svc.Key()], found...)
	}

	span.SetAttributes(
		attribute.Int("topology.services", len(topology)),
		attribute.Int("topology.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "some extractors failed")
	}
	return topology
}

// BuildEntityIndex sorts the collections of every entity and indexes them by
// id. Services are visited in key order, so when two services report the same
// id the result does not depend on map iteration.
func BuildEntityIndex(topology Topology) map[string]entities.Entity {
	keys := make([]metrics.ServiceKey, 0, len(topology))
	for k := range topology {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].FeatureSet < keys[j].FeatureSet
	})

	index := make(map[string]entities.Entity)
	for _, k := range keys {
		for _, e := range topology[k] {
			e.DNSNames = append([]string(nil), e.DNSNames...)
			e.IPAddresses = append([]string(nil), e.IPAddresses...)
			e.Tags = append([]string(nil), e.Tags...)
			e.ListenPorts = append([]int(nil), e.ListenPorts...)
			e.Normalize()
			index[e.ID] = e
		}
	}
	return index
}
