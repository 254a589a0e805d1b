package gcpmonitor

import (
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/orchestration"
)

// Type aliases so callers of the facade rarely need the sub packages
type (
	Config          = core.Config
	Option          = core.Option
	Logger          = logger.Logger
	GCPService      = metrics.GCPService
	ExecutionRecord = orchestration.ExecutionRecord
	TokenSource     = orchestration.TokenSource
)

// Re-exported configuration helpers
var (
	NewConfig                 = core.NewConfig
	DefaultConfig             = core.DefaultConfig
	WithProjectID             = core.WithProjectID
	WithDynatrace             = core.WithDynatrace
	WithQueryInterval         = core.WithQueryInterval
	WithSelfMonitoring        = core.WithSelfMonitoring
	WithScopingProjectSupport = core.WithScopingProjectSupport
	WithConcurrency           = core.WithConcurrency
	WithRedisURL              = core.WithRedisURL
	WithExtensionsDir         = core.WithExtensionsDir
	WithLogLevel              = core.WithLogLevel
	WithEnvFiles              = core.WithEnvFiles
)
