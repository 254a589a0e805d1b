package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/compute/metadata"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

// OwnerProjectResolver finds the project the monitor itself runs in.
type OwnerProjectResolver struct {
	configured string
	onGCE      func() bool
	lookup     func(ctx context.Context) (string, error)
}

// NewOwnerProjectResolver prefers the configured project and falls back to the
// metadata server when running on GCP.
func NewOwnerProjectResolver(configured string) *OwnerProjectResolver {
	return &OwnerProjectResolver{
		configured: configured,
		onGCE:      metadata.OnGCE,
		lookup:     metadata.ProjectIDWithContext,
	}
}

// OwnerProject returns the owner project id.
func (r *OwnerProjectResolver) OwnerProject(ctx context.Context) (string, error) {
	if r.configured != "" {
		return r.configured, nil
	}
	if !r.onGCE() {
		return "", fmt.Errorf("GCP_PROJECT is not set and not running on GCP: %w", core.ErrMissingConfiguration)
	}
	project, err := r.lookup(ctx)
	if err != nil {
		return "", fmt.Errorf("metadata server project lookup: %w", err)
	}
	return project, nil
}
