// Package dynatrace is the client side of a Dynatrace environment: the token
// connectivity check run before the first execution and the batched metrics
// ingest used by every project task.
//
// The Pusher wraps the ingest endpoint in a circuit breaker. Once open, the
// remaining batches are dropped without a request and counted as such.
package dynatrace
