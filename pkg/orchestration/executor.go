package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/topology"
)

// processProject runs topology, fetch and push for one project and records
// the phase times and line counts into the execution registry.
func (o *Orchestrator) processProject(ctx context.Context, ec *core.ExecutionContext, project string, services []metrics.GCPService, disabled metrics.APISet) (ProjectOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "gcpmonitor.project",
		trace.WithAttributes(attribute.String("gcp.project.id", project)),
	)
	defer span.End()

	log := ec.ProjectLogger(project)
	outcome := ProjectOutcome{Project: project}

	fetchStart := time.Now()
	var topo topology.Topology
	if !ec.ScopingProjectSupport {
		topo = o.deps.Resolver.Resolve(ctx, ec, project, services, disabled)
	}
	lines := o.deps.Fetcher.Fetch(ctx, ec, project, services, disabled, topo)
	fetchTime := time.Since(fetchStart)
	ec.Registry.FetchGCPDataExecutionTime.Update(project, fetchTime.Seconds())
	outcome.Lines = len(lines)

	log.Debug("Fetched project metrics", map[string]interface{}{
		"lines":         len(lines),
		"fetch_seconds": fetchTime.Seconds(),
	})

	pushStart := time.Now()
	result := o.deps.Pusher.Push(ctx, ec, project, lines)
	pushTime := time.Since(pushStart)
	ec.Registry.PushToDynatraceExecutionTime.Update(project, pushTime.Seconds())
	ec.Registry.RecordPush(project, result.Ok, result.Invalid, result.Dropped)
	outcome.Push = result

	log.Info("Finished project", map[string]interface{}{
		"lines":         len(lines),
		"lines_ok":      result.Ok,
		"lines_invalid": result.Invalid,
		"lines_dropped": result.Dropped,
		"fetch_seconds": fetchTime.Seconds(),
		"push_seconds":  pushTime.Seconds(),
	})
	span.SetAttributes(
		attribute.Int("lines", len(lines)),
		attribute.Int("lines.dropped", result.Dropped),
	)
	return outcome, nil
}
