package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

// ExecutionContext is the per-run state shared by every project task. All
// fields are read-only once the run starts; only the Registry is mutated.
type ExecutionContext struct {
	ExecutionID string
	StartTime   time.Time
	// Interval is the query window length of one execution.
	Interval time.Duration

	Token          string
	OwnerProjectID string
	FunctionName   string

	DynatraceURL       string
	DynatraceAccessKey string

	SelfMonitoringEnabled  bool
	ScopingProjectSupport  bool
	PrintMetricIngestInput bool

	Registry *sfm.Registry
	Logger   logger.Logger
}

// NewExecutionContext builds a context from configuration with a fresh registry.
// An empty executionID is replaced with a random one.
func NewExecutionContext(cfg *Config, executionID, token string, log logger.Logger) *ExecutionContext {
	if executionID == "" {
		executionID = uuid.New().String()
	}
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &ExecutionContext{
		ExecutionID:            executionID,
		StartTime:              time.Now(),
		Interval:               cfg.Execution.QueryInterval,
		Token:                  token,
		OwnerProjectID:         cfg.ProjectID,
		FunctionName:           cfg.FunctionName,
		DynatraceURL:           cfg.Dynatrace.URL,
		DynatraceAccessKey:     cfg.Dynatrace.AccessKey,
		SelfMonitoringEnabled:  cfg.Execution.SelfMonitoringEnabled,
		ScopingProjectSupport:  cfg.Execution.ScopingProjectSupport,
		PrintMetricIngestInput: cfg.Execution.PrintMetricIngestInput,
		Registry:               sfm.NewRegistry(),
		Logger:                 log.WithField("execution_id", executionID),
	}
}

// SFMMeta returns the identity self-monitoring series are tagged with.
func (ec *ExecutionContext) SFMMeta() sfm.Meta {
	return sfm.Meta{
		ProjectID:    ec.OwnerProjectID,
		FunctionName: ec.FunctionName,
		TenantURL:    ec.DynatraceURL,
	}
}

// ProjectLogger returns the execution logger scoped to project.
func (ec *ExecutionContext) ProjectLogger(project string) logger.Logger {
	return ec.Logger.WithField("project_id", project)
}
