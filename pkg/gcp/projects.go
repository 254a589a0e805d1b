package gcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/itsneelabh/gcp-monitor/internal/pool"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// MonitoringAPI must be enabled for a project to be monitored at all.
const MonitoringAPI = "monitoring.googleapis.com"

type projectsPage struct {
	Projects []struct {
		ProjectID      string `json:"projectId"`
		LifecycleState string `json:"lifecycleState"`
	} `json:"projects"`
	NextPageToken string `json:"nextPageToken"`
}

// ListAccessibleProjects returns the ids of every ACTIVE project the token can see.
func (c *Client) ListAccessibleProjects(ctx context.Context, token string) ([]string, error) {
	endpoint := c.endpoints.ResourceManager + "/v1/projects"
	var projects []string
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("filter", "lifecycleState:ACTIVE")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page projectsPage
		if err := c.GetJSON(ctx, token, endpoint, q, &page); err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		for _, p := range page.Projects {
			if p.LifecycleState != "" && p.LifecycleState != "ACTIVE" {
				continue
			}
			projects = append(projects, p.ProjectID)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Info("Accessible projects listed", map[string]interface{}{
		"count": len(projects),
	})
	return projects, nil
}

type servicesPage struct {
	Services []struct {
		Name   string `json:"name"`
		Config struct {
			Name string `json:"name"`
		} `json:"config"`
		State string `json:"state"`
	} `json:"services"`
	NextPageToken string `json:"nextPageToken"`
}

// EnabledAPIs lists the enabled services of project.
func (c *Client) EnabledAPIs(ctx context.Context, token, project string) (metrics.APISet, error) {
	endpoint := fmt.Sprintf("%s/v1/projects/%s/services", c.endpoints.ServiceUsage, url.PathEscape(project))
	enabled := metrics.APISet{}
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("filter", "state:ENABLED")
		q.Set("pageSize", "200")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page servicesPage
		if err := c.GetJSON(ctx, token, endpoint, q, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Services {
			name := s.Config.Name
			if name == "" {
				name = s.Name[strings.LastIndex(s.Name, "/")+1:]
			}
			enabled[name] = true
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return enabled, nil
}

// DisabledAPIs checks requiredAPIs, plus the monitoring API, in every project
// concurrently. A project whose monitoring API is disabled is reported as fully
// disabled. A project whose lookup fails is logged and kept with no disabled APIs.
func (c *Client) DisabledAPIs(ctx context.Context, token string, projects, requiredAPIs []string) (metrics.DisabledAPIs, error) {
	required := append([]string{MonitoringAPI}, requiredAPIs...)

	results := pool.Run(ctx, c.MaxConcurrentProjectLookups, len(projects), func(ctx context.Context, i int) (metrics.APISet, error) {
		enabled, err := c.EnabledAPIs(ctx, token, projects[i])
		if err != nil {
			return nil, err
		}
		disabled := metrics.APISet{}
		for _, api := range required {
			if !enabled.Has(api) {
				disabled[api] = true
			}
		}
		return disabled, nil
	})

	out := metrics.DisabledAPIs{ByProject: make(map[string]metrics.APISet, len(projects))}
	for _, r := range results {
		project := projects[r.Index]
		if r.Err != nil {
			c.logger.Warn("Failed to check enabled APIs", map[string]interface{}{
				"project_id": project,
				"error":      r.Err.Error(),
			})
			out.ByProject[project] = metrics.APISet{}
			out.Unchecked = append(out.Unchecked, project)
			continue
		}
		out.ByProject[project] = r.Value
		if r.Value.Has(MonitoringAPI) {
			out.FullyDisabled = append(out.FullyDisabled, project)
		}
	}

	if len(out.FullyDisabled) > 0 {
		c.logger.Info("Projects with monitoring API disabled are skipped", map[string]interface{}{
			"projects": strings.Join(out.FullyDisabled, ", "),
		})
	}
	return out, nil
}
