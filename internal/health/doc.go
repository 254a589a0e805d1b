// Package health serves the liveness endpoint polled by the hosting platform
// and a /status document describing the latest execution.
package health
