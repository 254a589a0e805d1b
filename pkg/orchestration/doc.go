// Package orchestration drives monitoring executions.
//
// An Orchestrator performs one run: it acquires a token, selects the projects
// to monitor, processes each project concurrently with failures isolated per
// project, and flushes the run's self-monitoring registry to the configured
// sinks. A Scheduler repeats runs at the configured query interval.
package orchestration
