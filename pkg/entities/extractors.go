package entities

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/gcp"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

// APIClient is the part of gcp.Client the built-in extractors need.
type APIClient interface {
	GetJSON(ctx context.Context, token, rawURL string, query url.Values, out interface{}) error
	Endpoints() gcp.Endpoints
}

// DefaultRegistry returns the built-in extractors.
func DefaultRegistry(client APIClient) Registry {
	return Registry{
		"gce_instance": {
			UsedAPI: "compute.googleapis.com",
			Extract: computeInstances(client),
		},
		"cloudsql_database": {
			UsedAPI: "sqladmin.googleapis.com",
			Extract: cloudSQLInstances(client),
		},
	}
}

type computeAggregatedPage struct {
	Items map[string]struct {
		Instances []struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			Zone              string `json:"zone"`
			NetworkInterfaces []struct {
				NetworkIP     string `json:"networkIP"`
				AccessConfigs []struct {
					NatIP string `json:"natIP"`
				} `json:"accessConfigs"`
			} `json:"networkInterfaces"`
			Tags struct {
				Items []string `json:"items"`
			} `json:"tags"`
		} `json:"instances"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func computeInstances(client APIClient) ExtractFunc {
	return func(ctx context.Context, ec *core.ExecutionContext, project string, _ metrics.GCPService) ([]Entity, error) {
		endpoint := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/instances", client.Endpoints().Compute, url.PathEscape(project))

		var out []Entity
		pageToken := ""
		for {
			q := url.Values{}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var page computeAggregatedPage
			if err := client.GetJSON(ctx, ec.Token, endpoint, q, &page); err != nil {
				return nil, err
			}
			for _, scope := range page.Items {
				for _, inst := range scope.Instances {
					zone := inst.Zone[strings.LastIndex(inst.Zone, "/")+1:]
					e := Entity{
						ID:          inst.ID,
						DisplayName: inst.Name,
						Tags:        append([]string(nil), inst.Tags.Items...),
					}
					if zone != "" {
						e.DNSNames = []string{fmt.Sprintf("%s.%s.c.%s.internal", inst.Name, zone, project)}
					}
					for _, nic := range inst.NetworkInterfaces {
						if nic.NetworkIP != "" {
							e.IPAddresses = append(e.IPAddresses, nic.NetworkIP)
						}
						for _, ac := range nic.AccessConfigs {
							if ac.NatIP != "" {
								e.IPAddresses = append(e.IPAddresses, ac.NatIP)
							}
						}
					}
					out = append(out, e)
				}
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
		return out, nil
	}
}

type sqlInstancesPage struct {
	Items []struct {
		Name            string `json:"name"`
		DatabaseVersion string `json:"databaseVersion"`
		IPAddresses     []struct {
			IPAddress string `json:"ipAddress"`
		} `json:"ipAddresses"`
		Settings struct {
			UserLabels map[string]string `json:"userLabels"`
		} `json:"settings"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func cloudSQLInstances(client APIClient) ExtractFunc {
	return func(ctx context.Context, ec *core.ExecutionContext, project string, _ metrics.GCPService) ([]Entity, error) {
		endpoint := fmt.Sprintf("%s/v1/projects/%s/instances", client.Endpoints().SQLAdmin, url.PathEscape(project))

		var out []Entity
		pageToken := ""
		for {
			q := url.Values{}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var page sqlInstancesPage
			if err := client.GetJSON(ctx, ec.Token, endpoint, q, &page); err != nil {
				return nil, err
			}
			for _, inst := range page.Items {
				e := Entity{
					ID:          project + ":" + inst.Name,
					DisplayName: inst.Name,
				}
				for _, ip := range inst.IPAddresses {
					if ip.IPAddress != "" {
						e.IPAddresses = append(e.IPAddresses, ip.IPAddress)
					}
				}
				for k, v := range inst.Settings.UserLabels {
					e.Tags = append(e.Tags, k+":"+v)
				}
				if port := defaultPort(inst.DatabaseVersion); port > 0 {
					e.ListenPorts = []int{port}
				}
				out = append(out, e)
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
		return out, nil
	}
}

func defaultPort(databaseVersion string) int {
	switch {
	case strings.HasPrefix(databaseVersion, "MYSQL"):
		return 3306
	case strings.HasPrefix(databaseVersion, "POSTGRES"):
		return 5432
	case strings.HasPrefix(databaseVersion, "SQLSERVER"):
		return 1433
	default:
		return 0
	}
}
