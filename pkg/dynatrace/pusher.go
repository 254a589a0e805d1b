package dynatrace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/internal/utils"
	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/metrics"
	"github.com/itsneelabh/gcp-monitor/pkg/sfm"
)

// DefaultBatchSize is the number of lines sent per ingest request.
const DefaultBatchSize = 1000

// PushResult counts the outcome of pushing one project's lines.
type PushResult struct {
	Ok      int
	Invalid int
	Dropped int
}

// Total is the number of lines the result accounts for.
func (r PushResult) Total() int {
	return r.Ok + r.Invalid + r.Dropped
}

type ingestResponse struct {
	LinesOk      int `json:"linesOk"`
	LinesInvalid int `json:"linesInvalid"`
	Error        *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BreakerSettings tune the circuit breaker around the ingest endpoint.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// PusherOptions configure a Pusher.
type PusherOptions struct {
	Options
	BatchSize int
	Breaker   BreakerSettings
}

// DefaultPusherOptions returns the defaults used by the monitor.
func DefaultPusherOptions() PusherOptions {
	return PusherOptions{
		Options:   DefaultOptions(),
		BatchSize: DefaultBatchSize,
		Breaker: BreakerSettings{
			ConsecutiveFailures: 3,
			OpenTimeout:         30 * time.Second,
		},
	}
}

// Pusher sends MINT lines to the Dynatrace metrics ingest endpoint.
type Pusher struct {
	*Client
	batchSize int
	breaker   *gobreaker.CircuitBreaker
}

// NewPusher creates a pusher. The circuit breaker is shared by every push of
// the pusher's lifetime, so a failing tenant fails fast across executions.
func NewPusher(opts PusherOptions) *Pusher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Breaker.ConsecutiveFailures == 0 {
		opts.Breaker.ConsecutiveFailures = 3
	}
	client := NewClient(opts.Options)
	threshold := opts.Breaker.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynatrace-ingest",
		MaxRequests: 1,
		Timeout:     opts.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			client.logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &Pusher{Client: client, batchSize: opts.BatchSize, breaker: breaker}
}

// Push sends lines in batches and reports how many were accepted, rejected as
// invalid or dropped. Request outcomes are recorded into the execution's
// request count and connectivity accumulators. Push never returns an error;
// every failure is accounted for as dropped lines.
func (p *Pusher) Push(ctx context.Context, ec *core.ExecutionContext, project string, lines []metrics.IngestLine) PushResult {
	var result PushResult
	if len(lines) == 0 {
		return result
	}
	log := ec.ProjectLogger(project)

	ctx, span := p.tracer.Start(ctx, "gcpmonitor.push",
		trace.WithAttributes(
			attribute.String("gcp.project.id", project),
			attribute.Int("lines", len(lines)),
		),
	)
	defer span.End()

	if ec.DynatraceURL == "" {
		log.Error("Dynatrace URL is not configured, dropping lines", map[string]interface{}{"lines": len(lines)})
		result.Dropped = len(lines)
		span.SetStatus(codes.Error, "no dynatrace url")
		return result
	}

	encoded := make([]string, 0, len(lines))
	for _, line := range lines {
		text := line.Format()
		if ec.PrintMetricIngestInput {
			log.Info("Metric ingest line", map[string]interface{}{"line": text})
		}
		encoded = append(encoded, text)
	}

	batches := utils.Chunks(encoded, p.batchSize)
	log.Info("Pushing metrics to Dynatrace", map[string]interface{}{
		"lines":   len(encoded),
		"batches": len(batches),
	})

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			result.Dropped += len(batch)
			continue
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.send(ctx, ec, batch)
		})
		if err != nil {
			result.Dropped += len(batch)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				log.Warn("Dynatrace ingest circuit open, dropping batch", map[string]interface{}{"batch": i, "lines": len(batch)})
				continue
			}
			span.RecordError(err)
			log.Error("Failed to push batch to Dynatrace", map[string]interface{}{
				"batch":      i,
				"lines":      len(batch),
				"error_type": core.ErrorType(err),
				"error":      err.Error(),
			})
			continue
		}

		resp := out.(ingestResponse)
		accepted := resp.LinesOk + resp.LinesInvalid
		if accepted > len(batch) {
			accepted = len(batch)
		}
		result.Ok += resp.LinesOk
		result.Invalid += resp.LinesInvalid
		result.Dropped += len(batch) - accepted
		if resp.Error != nil && resp.Error.Message != "" {
			log.Warn("Dynatrace reported ingest problems", map[string]interface{}{
				"batch":         i,
				"lines_invalid": resp.LinesInvalid,
				"message":       resp.Error.Message,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("lines.ok", result.Ok),
		attribute.Int("lines.invalid", result.Invalid),
		attribute.Int("lines.dropped", result.Dropped),
	)
	if result.Dropped > 0 {
		span.SetStatus(codes.Error, "lines dropped")
	}
	return result
}

// send posts one batch. A 400 with a parseable body is a partial success;
// anything else outside 2xx counts against the breaker.
func (p *Pusher) send(ctx context.Context, ec *core.ExecutionContext, batch []string) (ingestResponse, error) {
	endpoint := strings.TrimRight(ec.DynatraceURL, "/") + "/api/v2/metrics/ingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(strings.Join(batch, "\n")))
	if err != nil {
		return ingestResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", apiTokenHeader(ec.DynatraceAccessKey))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		ec.Registry.Connectivity.Update(sfm.ConnectivityOther)
		return ingestResponse{}, fmt.Errorf("%v: %w", err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	ec.Registry.DynatraceRequestCount.Increment(resp.StatusCode)
	ec.Registry.Connectivity.Update(sfm.ConnectivityFromStatus(resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ingestResponse{}, err
	}

	var parsed ingestResponse
	decodeErr := json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil {
			// Accepted without a body: assume everything landed.
			return ingestResponse{LinesOk: len(batch)}, nil
		}
		return parsed, nil
	case resp.StatusCode == http.StatusBadRequest && decodeErr == nil && parsed.LinesOk+parsed.LinesInvalid > 0:
		return parsed, nil
	default:
		return ingestResponse{}, &core.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: string(body)}
	}
}
