// Package ingest implements the per-project metric fetch fan-out.
//
// BuildPlan applies the skip rules, Fetcher runs one bounded concurrent fetch
// per planned (service, metric) pair, and the results are flattened and
// enriched with the dimensions of the topology entity they reference.
package ingest
