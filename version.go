package gcpmonitor

// Version information for the monitor. The values are overridden at build
// time with -ldflags "-X github.com/itsneelabh/gcp-monitor.Version=...".
var (
	// Version is the current release
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
