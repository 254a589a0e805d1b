package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/itsneelabh/gcp-monitor/internal/utils"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

// timeSeriesChunkSize is the per-request limit of timeSeries.create.
const timeSeriesChunkSize = 200

// MonitoringSink writes self-monitoring series to Cloud Monitoring in the
// owner project.
type MonitoringSink struct {
	client *Client
}

// NewMonitoringSink creates a sink using client.
func NewMonitoringSink(client *Client) *MonitoringSink {
	return &MonitoringSink{client: client}
}

type descriptorsPage struct {
	MetricDescriptors []struct {
		Type string `json:"type"`
	} `json:"metricDescriptors"`
	NextPageToken string `json:"nextPageToken"`
}

// EnsureDescriptors creates the self-monitoring metric descriptors that do not
// exist yet in the owner project.
func (s *MonitoringSink) EnsureDescriptors(ctx context.Context, ec *core.ExecutionContext) error {
	endpoint := fmt.Sprintf("%s/v3/projects/%s/metricDescriptors", s.client.endpoints.Monitoring, url.PathEscape(ec.OwnerProjectID))

	existing := make(map[string]bool)
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("filter", fmt.Sprintf("metric.type = starts_with(%q)", sfm.MetricPrefix))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page descriptorsPage
		if err := s.client.GetJSON(ctx, ec.Token, endpoint, q, &page); err != nil {
			return fmt.Errorf("failed to list self monitoring descriptors: %w", err)
		}
		for _, d := range page.MetricDescriptors {
			existing[d.Type] = true
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	var errs []error
	for _, d := range sfm.Descriptors() {
		if existing[d.Type] {
			continue
		}
		if err := s.client.PostJSON(ctx, ec.Token, endpoint, d, nil); err != nil {
			errs = append(errs, fmt.Errorf("failed to create descriptor %s: %w", d.Type, err))
			continue
		}
		ec.Logger.Info("Created self monitoring metric descriptor", map[string]interface{}{
			"type": d.Type,
		})
	}
	return errors.Join(errs...)
}

// Push writes series in chunks. A failing chunk does not stop the rest.
func (s *MonitoringSink) Push(ctx context.Context, ec *core.ExecutionContext, series []sfm.TimeSeries) error {
	endpoint := fmt.Sprintf("%s/v3/projects/%s/timeSeries", s.client.endpoints.Monitoring, url.PathEscape(ec.OwnerProjectID))

	var errs []error
	for _, chunk := range utils.Chunks(series, timeSeriesChunkSize) {
		body := map[string]interface{}{"timeSeries": chunk}
		if err := s.client.PostJSON(ctx, ec.Token, endpoint, body, nil); err != nil {
			ec.Logger.Warn("Failed to push self monitoring time series", map[string]interface{}{
				"error":  err.Error(),
				"series": len(chunk),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
