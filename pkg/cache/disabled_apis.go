package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// DisabledAPIsLookup checks which required APIs each project has disabled.
type DisabledAPIsLookup interface {
	DisabledAPIs(ctx context.Context, token string, projects, requiredAPIs []string) (metrics.DisabledAPIs, error)
}

type disabledEntry struct {
	Required           string   `json:"required"`
	Disabled           []string `json:"disabled"`
	MonitoringDisabled bool     `json:"monitoring_disabled"`
}

// CachedDisabledAPIs memoizes per-project lookups for a TTL. Projects whose
// lookup failed are never cached.
type CachedDisabledAPIs struct {
	next   DisabledAPIsLookup
	store  Store
	ttl    time.Duration
	logger logger.Logger
}

// NewCachedDisabledAPIs wraps next with store
func NewCachedDisabledAPIs(next DisabledAPIsLookup, store Store, ttl time.Duration, log logger.Logger) *CachedDisabledAPIs {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &CachedDisabledAPIs{next: next, store: store, ttl: ttl, logger: log}
}

// DisabledAPIs serves cached projects from the store and looks up the rest.
func (c *CachedDisabledAPIs) DisabledAPIs(ctx context.Context, token string, projects, requiredAPIs []string) (metrics.DisabledAPIs, error) {
	required := requiredKey(requiredAPIs)
	out := metrics.DisabledAPIs{ByProject: make(map[string]metrics.APISet, len(projects))}
	cached := make(map[string]disabledEntry, len(projects))
	var missing []string

	for _, project := range projects {
		var e disabledEntry
		err := c.store.Get(ctx, key(project), &e)
		switch {
		case err == nil && e.Required == required:
			cached[project] = e
		case err != nil && !errors.Is(err, core.ErrCacheMiss):
			c.logger.Warn("Disabled APIs cache read failed", map[string]interface{}{
				"project_id": project,
				"error":      err.Error(),
			})
			missing = append(missing, project)
		default:
			missing = append(missing, project)
		}
	}

	if len(missing) > 0 {
		fresh, err := c.next.DisabledAPIs(ctx, token, missing, requiredAPIs)
		if err != nil {
			return metrics.DisabledAPIs{}, err
		}
		unchecked := metrics.NewAPISet(fresh.Unchecked...)
		fully := metrics.NewAPISet(fresh.FullyDisabled...)
		for _, project := range missing {
			e := disabledEntry{
				Required:           required,
				Disabled:           fresh.For(project).Sorted(),
				MonitoringDisabled: fully.Has(project),
			}
			cached[project] = e
			if unchecked.Has(project) {
				continue
			}
			if err := c.store.Set(ctx, key(project), e, c.ttl); err != nil {
				c.logger.Warn("Disabled APIs cache write failed", map[string]interface{}{
					"project_id": project,
					"error":      err.Error(),
				})
			}
		}
		out.Unchecked = fresh.Unchecked
	}

	c.logger.Debug("Disabled APIs resolved", map[string]interface{}{
		"cached":    len(projects)-len(missing),
		"looked_up": len(missing),
	})

	for _, project := range projects {
		e := cached[project]
		out.ByProject[project] = metrics.NewAPISet(e.Disabled...)
		if e.MonitoringDisabled {
			out.FullyDisabled = append(out.FullyDisabled, project)
		}
	}
	return out, nil
}

func key(project string) string {
	return "disabled_apis:" + project
}

func requiredKey(apis []string) string {
	sorted := append([]string(nil), apis...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
