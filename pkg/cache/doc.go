// Package cache provides the TTL store used to memoize slow GCP lookups
// between executions, backed by Redis when REDIS_URL is set and by process
// memory otherwise.
package cache
