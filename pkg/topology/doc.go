// Package topology resolves the entities behind a project's services and
// indexes them by id for enrichment.
package topology
