// Package gcp talks to the Google Cloud REST APIs the monitor depends on:
// Resource Manager for project discovery, Service Usage for enabled APIs,
// Cloud Monitoring for time series and self-monitoring output, and Secret
// Manager for credential fallback.
//
// All calls go through Client, which adds the bearer token, traces the request
// through an otelhttp transport and turns non-2xx responses into
// *core.HTTPStatusError. Nothing here retries.
package gcp
