// Package metrics holds the plain data the harvester moves around: service and
// metric definitions loaded from configuration, and the ingest lines produced
// from fetched time series.
//
// GCPService values are keyed by ServiceKey, a comparable (name, feature set)
// pair, so they can index topology maps without relying on pointer identity.
package metrics
