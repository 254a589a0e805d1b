package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/internal/pool"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

const defaultHistorySize = 20

// Orchestrator drives monitoring runs
type Orchestrator struct {
	config *core.Config
	deps   Dependencies
	logger logger.Logger
	tracer trace.Tracer

	history      []ExecutionRecord
	historySize  int
	historyMutex sync.RWMutex
}

// NewOrchestrator creates an orchestrator. Tokens, Projects, Resolver, Fetcher
// and Pusher are required; DisabledAPIs is required unless scoping-project
// mode is on.
func NewOrchestrator(config *core.Config, deps Dependencies, log logger.Logger) (*Orchestrator, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if log == nil {
		log = &logger.NoOpLogger{}
	}

	required := []struct {
		name    string
		missing bool
	}{
		{"tokens", deps.Tokens == nil},
		{"projects", deps.Projects == nil},
		{"disabled_apis", deps.DisabledAPIs == nil && !config.Execution.ScopingProjectSupport},
		{"resolver", deps.Resolver == nil},
		{"fetcher", deps.Fetcher == nil},
		{"pusher", deps.Pusher == nil},
	}
	for _, dep := range required {
		if dep.missing {
			return nil, fmt.Errorf("orchestrator dependency %s: %w", dep.name, core.ErrMissingConfiguration)
		}
	}

	return &Orchestrator{
		config:      config,
		deps:        deps,
		logger:      log,
		tracer:      otel.Tracer("gcpmonitor.orchestration"),
		historySize: defaultHistorySize,
	}, nil
}

// Run performs one execution. Only a token failure is returned as an error;
// every other problem is logged and isolated to the work it affects.
func (o *Orchestrator) Run(ctx context.Context, executionID string, services []metrics.GCPService) error {
	startTime := time.Now()

	ctx, span := o.tracer.Start(ctx, "gcpmonitor.run")
	defer span.End()

	token, err := o.deps.Tokens.AcquireToken(ctx)
	if err == nil && token == "" {
		err = core.ErrTokenUnavailable
	}
	if err != nil {
		o.logger.Error("Failed to acquire authorization token, aborting execution", map[string]interface{}{
			"error": err.Error(),
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "token unavailable")
		o.recordExecution(ExecutionRecord{ExecutionID: executionID, StartTime: startTime, Duration: time.Since(startTime), Error: err.Error()})
		return err
	}

	ec := core.NewExecutionContext(o.config, executionID, token, o.logger)
	ec.StartTime = startTime
	span.SetAttributes(attribute.String("execution.id", ec.ExecutionID))
	log := ec.Logger

	o.resolveOwner(ctx, ec)
	o.resolveCredentials(ctx, ec)

	if len(services) == 0 && o.deps.LoadServices != nil {
		services, err = o.deps.LoadServices()
		if err != nil {
			log.Error("Failed to load services", map[string]interface{}{"error": err.Error()})
		}
	}
	if len(services) == 0 {
		log.Warn("No services configured, nothing will be fetched")
	}

	projects, disabled := o.selectProjects(ctx, ec, services)
	setup := time.Since(startTime)
	ec.Registry.RecordSetup(projects, setup.Seconds())
	log.Info("Setup finished", map[string]interface{}{
		"projects":      len(projects),
		"services":      len(services),
		"setup_seconds": setup.Seconds(),
	})

	results := pool.Run(ctx, o.config.Execution.MaxConcurrentProjects, len(projects), func(ctx context.Context, i int) (ProjectOutcome, error) {
		return o.processProject(ctx, ec, projects[i], services, disabled.For(projects[i]))
	})

	record := ExecutionRecord{
		ExecutionID: ec.ExecutionID,
		StartTime:   startTime,
		Projects:    make([]ProjectOutcome, 0, len(results)),
	}
	totalLines := 0
	for _, r := range results {
		outcome := r.Value
		outcome.Project = projects[r.Index]
		if r.Err != nil {
			record.FailedProjects++
			outcome.Error = r.Err.Error()
			ec.ProjectLogger(outcome.Project).Error("Failed to process project", map[string]interface{}{
				"error_type": core.ErrorType(r.Err),
				"error":      r.Err.Error(),
			})
		}
		totalLines += outcome.Lines
		record.Projects = append(record.Projects, outcome)
	}

	record.Duration = time.Since(startTime)
	log.Info("Execution finished", map[string]interface{}{
		"projects":         len(projects),
		"failed_projects":  record.FailedProjects,
		"lines":            totalLines,
		"duration_seconds": record.Duration.Seconds(),
	})
	ec.Registry.LogSummary(log)

	if ec.SelfMonitoringEnabled {
		o.flushSelfMonitoring(ctx, ec)
	}

	span.SetAttributes(
		attribute.Int("projects", len(projects)),
		attribute.Int("projects.failed", record.FailedProjects),
		attribute.Int("lines", totalLines),
	)
	o.recordExecution(record)
	return nil
}

func (o *Orchestrator) resolveOwner(ctx context.Context, ec *core.ExecutionContext) {
	if o.deps.Owner == nil {
		return
	}
	project, err := o.deps.Owner.OwnerProject(ctx)
	if err != nil {
		ec.Logger.Warn("Unable to resolve owner project", map[string]interface{}{"error": err.Error()})
		return
	}
	ec.OwnerProjectID = project
}

func (o *Orchestrator) resolveCredentials(ctx context.Context, ec *core.ExecutionContext) {
	if o.deps.Credentials == nil || (ec.DynatraceURL != "" && ec.DynatraceAccessKey != "") {
		return
	}
	url, key, err := o.deps.Credentials.ResolveDynatraceCredentials(ctx, ec.Token, ec.OwnerProjectID, ec.DynatraceURL, ec.DynatraceAccessKey)
	if err != nil {
		ec.Logger.Error("Unable to resolve Dynatrace credentials", map[string]interface{}{"error": err.Error()})
		return
	}
	ec.DynatraceURL, ec.DynatraceAccessKey = url, key
}

// selectProjects lists the accessible projects and, outside scoping-project
// mode, drops the ones with the monitoring API disabled.
func (o *Orchestrator) selectProjects(ctx context.Context, ec *core.ExecutionContext, services []metrics.GCPService) ([]string, metrics.DisabledAPIs) {
	projects, err := o.deps.Projects.ListAccessibleProjects(ctx, ec.Token)
	if err != nil {
		ec.Logger.Error("Failed to list accessible projects", map[string]interface{}{"error": err.Error()})
		return nil, metrics.DisabledAPIs{}
	}
	if ec.ScopingProjectSupport || len(projects) == 0 {
		return projects, metrics.DisabledAPIs{}
	}

	disabled, err := o.deps.DisabledAPIs.DisabledAPIs(ctx, ec.Token, projects, metrics.RequiredAPIs(services))
	if err != nil {
		ec.Logger.Warn("Failed to check disabled APIs, assuming all enabled", map[string]interface{}{"error": err.Error()})
		return projects, metrics.DisabledAPIs{}
	}

	skip := metrics.NewAPISet(disabled.FullyDisabled...)
	kept := make([]string, 0, len(projects))
	for _, p := range projects {
		if !skip.Has(p) {
			kept = append(kept, p)
		}
	}
	return kept, disabled
}

// flushSelfMonitoring writes the registry to every sink. Sink failures are
// logged and never fail the run.
func (o *Orchestrator) flushSelfMonitoring(ctx context.Context, ec *core.ExecutionContext) {
	interval := sfm.Interval{StartTime: ec.StartTime, EndTime: time.Now()}
	series := ec.Registry.GenerateTimeSeries(ec.SFMMeta(), interval)

	for _, sink := range o.deps.Sinks {
		if err := sink.EnsureDescriptors(ctx, ec); err != nil {
			ec.Logger.Error("Failed to ensure self monitoring descriptors", map[string]interface{}{
				"sink":  fmt.Sprintf("%T", sink),
				"error": err.Error(),
			})
			continue
		}
		if err := sink.Push(ctx, ec, series); err != nil {
			ec.Logger.Error("Failed to push self monitoring series", map[string]interface{}{
				"sink":  fmt.Sprintf("%T", sink),
				"error": err.Error(),
			})
			continue
		}
		ec.Logger.Debug("Self monitoring series pushed", map[string]interface{}{
			"sink":   fmt.Sprintf("%T", sink),
			"series": len(series),
		})
	}
}

// GetExecutionHistory returns recent runs, oldest first
func (o *Orchestrator) GetExecutionHistory() []ExecutionRecord {
	o.historyMutex.RLock()
	defer o.historyMutex.RUnlock()

	historyCopy := make([]ExecutionRecord, len(o.history))
	copy(historyCopy, o.history)
	return historyCopy
}

// LastExecution returns the most recent run, if any
func (o *Orchestrator) LastExecution() (ExecutionRecord, bool) {
	o.historyMutex.RLock()
	defer o.historyMutex.RUnlock()

	if len(o.history) == 0 {
		return ExecutionRecord{}, false
	}
	return o.history[len(o.history)-1], true
}

func (o *Orchestrator) recordExecution(record ExecutionRecord) {
	o.historyMutex.Lock()
	defer o.historyMutex.Unlock()

	o.history = append(o.history, record)
	if len(o.history) > o.historySize {
		o.history = o.history[1:]
	}
}
