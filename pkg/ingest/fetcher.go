package ingest

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/internal/pool"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/entities"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/topology"
)

// MetricSource fetches the data points of one metric of one service.
type MetricSource interface {
	FetchMetric(ctx context.Context, ec *core.ExecutionContext, project string, service metrics.GCPService, metric metrics.Metric) ([]metrics.IngestLine, error)
}

// Task is one (service, metric) pair to fetch.
type Task struct {
	Service metrics.GCPService
	Metric  metrics.Metric
}

// Plan is the outcome of applying the skip rules to a project's services.
type Plan struct {
	Tasks []Task
	// SkippedServices had topology with no entities.
	SkippedServices []metrics.ServiceKey
	// SkippedAPIs are the disabled APIs that caused metrics to be skipped.
	SkippedAPIs metrics.APISet
}

// BuildPlan decides which metrics to fetch. A service present in topo with no
// entities is skipped entirely; otherwise every metric whose API is disabled
// is skipped and the rest become tasks.
func BuildPlan(services []metrics.GCPService, disabledAPIs metrics.APISet, topo topology.Topology) Plan {
	plan := Plan{SkippedAPIs: metrics.APISet{}}
	for _, svc := range services {
		if found, ok := topo[svc.Key()]; ok && len(found) == 0 {
			plan.SkippedServices = append(plan.SkippedServices, svc.Key())
			continue
		}
		for _, m := range svc.Metrics {
			if api := m.API(); disabledAPIs.Has(api) {
				plan.SkippedAPIs[api] = true
				continue
			}
			plan.Tasks = append(plan.Tasks, Task{Service: svc, Metric: m})
		}
	}
	return plan
}

// Fetcher runs the metric fetch fan-out of a project.
type Fetcher struct {
	source MetricSource
	limit  int
	tracer trace.Tracer
}

// NewFetcher creates a fetcher over source. limit bounds concurrent fetches
// per project; 0 means unbounded.
func NewFetcher(source MetricSource, limit int) *Fetcher {
	return &Fetcher{
		source: source,
		limit:  limit,
		tracer: otel.Tracer("gcpmonitor.ingest"),
	}
}

// Fetch fetches every planned metric concurrently and returns the flattened,
// entity-enriched lines. A failing fetch is logged and contributes nothing.
func (f *Fetcher) Fetch(ctx context.Context, ec *core.ExecutionContext, project string, services []metrics.GCPService, disabledAPIs metrics.APISet, topo topology.Topology) []metrics.IngestLine {
	log := ec.ProjectLogger(project)

	plan := BuildPlan(services, disabledAPIs, topo)
	for _, key := range plan.SkippedServices {
		log.Info("Skipping service, no entities found in topology", map[string]interface{}{
			"service": key.String(),
		})
	}

	results := pool.Run(ctx, f.limit, len(plan.Tasks), func(ctx context.Context, i int) ([]metrics.IngestLine, error) {
		task := plan.Tasks[i]
		ctx, span := f.tracer.Start(ctx, "gcpmonitor.fetch_metric", trace.WithAttributes(
			attribute.String("gcp.project.id", project),
			attribute.String("gcp.service", task.Service.Name),
			attribute.String("gcp.metric", task.Metric.GoogleMetric),
		))
		defer span.End()

		lines, err := f.source.FetchMetric(ctx, ec, project, task.Service, task.Metric)
		if err != nil {
			span.RecordError(err)
		}
		return lines, err
	})

	if len(plan.SkippedAPIs) > 0 {
		log.Info("Skipped metrics of disabled APIs", map[string]interface{}{
			"apis": strings.Join(plan.SkippedAPIs.Sorted(), ", "),
		})
	}

	index := topology.BuildEntityIndex(topo)
	var lines []metrics.IngestLine
	for _, res := range results {
		if res.Err != nil {
			task := plan.Tasks[res.Index]
			log.Warn("Failed to finish task", map[string]interface{}{
				"metric":     task.Metric.GoogleMetric,
				"service":    task.Service.Key().String(),
				"error_type": core.ErrorType(res.Err),
				"error":      res.Err.Error(),
			})
			continue
		}
		for _, line := range res.Value {
			lines = append(lines, enrich(line, index))
		}
	}
	return lines
}

func enrich(line metrics.IngestLine, index map[string]entities.Entity) metrics.IngestLine {
	if line.EntityID == "" {
		return line
	}
	e, ok := index[line.EntityID]
	if !ok {
		return line
	}
	return line.WithDimensions(e.Dimensions()...)
}
