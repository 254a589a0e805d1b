// Package entities defines topology entities and the extractor registry that
// discovers them. The registry is a plain map injected at construction, so
// callers can add or replace extractors per deployment.
package entities
