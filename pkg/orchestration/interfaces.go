package orchestration

import (
	"context"
	"time"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/dynatrace"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
	"github.com/itsneelabh/gcp-monitor/pkg/topology"
)

// TokenSource acquires the authorization token of a run.
type TokenSource interface {
	AcquireToken(ctx context.Context) (string, error)
}

// OwnerResolver finds the project the monitor runs in.
type OwnerResolver interface {
	OwnerProject(ctx context.Context) (string, error)
}

// ProjectLister enumerates the projects the token can read.
type ProjectLister interface {
	ListAccessibleProjects(ctx context.Context, token string) ([]string, error)
}

// DisabledAPIsLookup reports disabled APIs per project.
type DisabledAPIsLookup interface {
	DisabledAPIs(ctx context.Context, token string, projects, requiredAPIs []string) (metrics.DisabledAPIs, error)
}

// CredentialResolver fills Dynatrace credentials missing from configuration.
type CredentialResolver interface {
	ResolveDynatraceCredentials(ctx context.Context, token, project, url, key string) (string, string, error)
}

// ConnectivityChecker runs the token diagnostic.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context, url, key string) bool
}

// ServiceLoader returns the configured services.
type ServiceLoader func() ([]metrics.GCPService, error)

// TopologyResolver builds the service topology of a project.
type TopologyResolver interface {
	Resolve(ctx context.Context, ec *core.ExecutionContext, project string, services []metrics.GCPService, disabledAPIs metrics.APISet) topology.Topology
}

// MetricFetcher collects the ingest lines of a project.
type MetricFetcher interface {
	Fetch(ctx context.Context, ec *core.ExecutionContext, project string, services []metrics.GCPService, disabledAPIs metrics.APISet, topo topology.Topology) []metrics.IngestLine
}

// IngestPusher sends a project's lines downstream.
type IngestPusher interface {
	Push(ctx context.Context, ec *core.ExecutionContext, project string, lines []metrics.IngestLine) dynatrace.PushResult
}

// SelfMonitoringSink receives the flushed self-monitoring series.
type SelfMonitoringSink interface {
	EnsureDescriptors(ctx context.Context, ec *core.ExecutionContext) error
	Push(ctx context.Context, ec *core.ExecutionContext, series []sfm.TimeSeries) error
}

// Runner executes one monitoring run.
type Runner interface {
	Run(ctx context.Context, executionID string, services []metrics.GCPService) error
}

// Dependencies are the collaborators of an Orchestrator. Owner, Credentials,
// Connectivity and Sinks are optional.
type Dependencies struct {
	Tokens       TokenSource
	Owner        OwnerResolver
	Projects     ProjectLister
	DisabledAPIs DisabledAPIsLookup
	Credentials  CredentialResolver
	Connectivity ConnectivityChecker
	LoadServices ServiceLoader
	Resolver     TopologyResolver
	Fetcher      MetricFetcher
	Pusher       IngestPusher
	Sinks        []SelfMonitoringSink
}

// ProjectOutcome is the result of one project task.
type ProjectOutcome struct {
	Project string               `json:"project"`
	Lines   int                  `json:"lines"`
	Push    dynatrace.PushResult `json:"push"`
	Error   string               `json:"error,omitempty"`
}

// ExecutionRecord is kept in the orchestrator's history for each run.
type ExecutionRecord struct {
	ExecutionID    string           `json:"execution_id"`
	StartTime      time.Time        `json:"start_time"`
	Duration       time.Duration    `json:"duration"`
	Projects       []ProjectOutcome `json:"projects"`
	FailedProjects int              `json:"failed_projects"`
	Error          string           `json:"error,omitempty"`
}
