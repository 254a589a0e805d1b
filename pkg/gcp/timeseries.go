package gcp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
)

type labeled struct {
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels"`
}

type typedValue struct {
	DoubleValue       *float64 `json:"doubleValue"`
	Int64Value        *string  `json:"int64Value"`
	BoolValue         *bool    `json:"boolValue"`
	DistributionValue *struct {
		Count string  `json:"count"`
		Mean  float64 `json:"mean"`
		Range *struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"range"`
	} `json:"distributionValue"`
}

type timeSeriesPage struct {
	TimeSeries []struct {
		Metric   labeled `json:"metric"`
		Resource labeled `json:"resource"`
		Points   []struct {
			Interval struct {
				StartTime string `json:"startTime"`
				EndTime   string `json:"endTime"`
			} `json:"interval"`
			Value typedValue `json:"value"`
		} `json:"points"`
	} `json:"timeSeries"`
	NextPageToken string `json:"nextPageToken"`
}

// entityIDLabels are the resource labels that identify a topology entity, in priority order.
var entityIDLabels = []string{"instance_id", "database_id"}

// FetchMetric lists the time series of metric in project for the execution window
// and converts every point into an ingest line.
func (c *Client) FetchMetric(ctx context.Context, ec *core.ExecutionContext, project string, service metrics.GCPService, metric metrics.Metric) ([]metrics.IngestLine, error) {
	endpoint := fmt.Sprintf("%s/v3/projects/%s/timeSeries", c.endpoints.Monitoring, url.PathEscape(project))

	end := ec.StartTime.Add(-metric.IngestDelay)
	start := end.Add(-ec.Interval)
	period := metric.SamplePeriod
	if period <= 0 {
		period = time.Minute
	}

	filter := fmt.Sprintf("metric.type = %q", metric.GoogleMetric)
	if cond := service.Activation.FilterConditions(); cond != "" {
		filter += " AND " + cond
	}

	var lines []metrics.IngestLine
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("filter", filter)
		q.Set("interval.startTime", start.UTC().Format(time.RFC3339))
		q.Set("interval.endTime", end.UTC().Format(time.RFC3339))
		q.Set("aggregation.alignmentPeriod", fmt.Sprintf("%ds", int(period.Seconds())))
		q.Set("aggregation.perSeriesAligner", aligner(metric))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page timeSeriesPage
		ec.Registry.GCPMetricRequestCount.Increment(project)
		if err := c.GetJSON(ctx, ec.Token, endpoint, q, &page); err != nil {
			return nil, err
		}

		for _, ts := range page.TimeSeries {
			dims := []metrics.DimensionValue{
				{Name: "gcp.project.id", Value: project},
				{Name: "gcp.resource.type", Value: ts.Resource.Type},
			}
			if region := regionOf(ts.Resource.Labels); region != "" {
				dims = append(dims, metrics.DimensionValue{Name: "gcp.region", Value: region})
			}
			for _, d := range metric.Dimensions {
				if v := labelValue(d.Source, ts.Metric.Labels, ts.Resource.Labels); v != "" {
					dims = append(dims, metrics.DimensionValue{Name: d.Key, Value: v})
				}
			}
			entityID := ""
			for _, l := range entityIDLabels {
				if v := ts.Resource.Labels[l]; v != "" {
					entityID = v
					break
				}
			}

			for _, p := range ts.Points {
				line := metrics.IngestLine{
					ProjectID:  project,
					Service:    service.Key(),
					MetricKey:  metric.Key,
					MetricType: metric.Type,
					Dimensions: dims,
					EntityID:   entityID,
				}
				if t, err := time.Parse(time.RFC3339Nano, p.Interval.EndTime); err == nil {
					line.Timestamp = t
				}
				if !applyValue(&line, p.Value) {
					continue
				}
				lines = append(lines, line)
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return lines, nil
}

func aligner(m metrics.Metric) string {
	switch {
	case strings.EqualFold(m.ValueType, "BOOL"):
		return "ALIGN_COUNT_TRUE"
	case strings.EqualFold(m.MetricKind, "CUMULATIVE"), strings.EqualFold(m.MetricKind, "DELTA"):
		return "ALIGN_DELTA"
	default:
		return "ALIGN_NEXT_OLDER"
	}
}

// applyValue copies the point value onto line, reporting false for empty values.
func applyValue(line *metrics.IngestLine, v typedValue) bool {
	switch {
	case v.DoubleValue != nil:
		line.Value = *v.DoubleValue
	case v.Int64Value != nil:
		n, err := strconv.ParseInt(*v.Int64Value, 10, 64)
		if err != nil {
			return false
		}
		line.Value = float64(n)
	case v.BoolValue != nil:
		if *v.BoolValue {
			line.Value = 1
		}
	case v.DistributionValue != nil:
		count, _ := strconv.ParseInt(v.DistributionValue.Count, 10, 64)
		if count == 0 {
			return false
		}
		s := &metrics.Summary{
			Min:   v.DistributionValue.Mean,
			Max:   v.DistributionValue.Mean,
			Sum:   v.DistributionValue.Mean * float64(count),
			Count: count,
		}
		if r := v.DistributionValue.Range; r != nil {
			s.Min, s.Max = r.Min, r.Max
		}
		line.Summary = s
	default:
		return false
	}
	return true
}

// labelValue resolves a dimension source such as "resource.labels.zone".
func labelValue(source string, metricLabels, resourceLabels map[string]string) string {
	switch {
	case strings.HasPrefix(source, "metric.labels."):
		return metricLabels[strings.TrimPrefix(source, "metric.labels.")]
	case strings.HasPrefix(source, "resource.labels."):
		return resourceLabels[strings.TrimPrefix(source, "resource.labels.")]
	default:
		if v, ok := resourceLabels[source]; ok {
			return v
		}
		return metricLabels[source]
	}
}

func regionOf(labels map[string]string) string {
	if r := labels["region"]; r != "" {
		return r
	}
	if z := labels["zone"]; z != "" {
		if i := strings.LastIndex(z, "-"); i > 0 {
			return z[:i]
		}
		return z
	}
	return labels["location"]
}
