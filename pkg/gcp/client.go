package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
)

const tracerName = "gcpmonitor.gcp"

// Endpoints are the base URLs of the Google APIs the client talks to.
type Endpoints struct {
	ResourceManager string
	ServiceUsage    string
	Monitoring      string
	SecretManager   string
	Compute         string
	SQLAdmin        string
}

// DefaultEndpoints returns the public Google API endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ResourceManager: "https://cloudresourcemanager.googleapis.com",
		ServiceUsage:    "https://serviceusage.googleapis.com",
		Monitoring:      "https://monitoring.googleapis.com",
		SecretManager:   "https://secretmanager.googleapis.com",
		Compute:         "https://compute.googleapis.com",
		SQLAdmin:        "https://sqladmin.googleapis.com",
	}
}

// Client is a thin JSON REST client shared by every Google API collaborator.
// Requests carry the execution's bearer token; failures are returned, never retried.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	endpoints  Endpoints
	tracer     trace.Tracer

	// MaxConcurrentProjectLookups bounds the per-project Service Usage calls. 0 is unbounded.
	MaxConcurrentProjectLookups int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the API base URLs, mainly for tests.
func WithEndpoints(e Endpoints) ClientOption {
	return func(c *Client) { c.endpoints = e }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client with an otelhttp instrumented transport.
func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:                      &logger.NoOpLogger{},
		endpoints:                   DefaultEndpoints(),
		tracer:                      otel.Tracer(tracerName),
		MaxConcurrentProjectLookups: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the configured base URLs.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// GetJSON issues an authorized GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, token, rawURL string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, token, rawURL, nil, out)
}

// PostJSON issues an authorized POST with a JSON body and decodes the response into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, token, rawURL string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, token, rawURL, payload, out)
}

func (c *Client) do(ctx context.Context, method, token, rawURL string, payload []byte, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "gcp."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", rawURL)),
	)
	defer span.End()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("%s %s: %v: %w", method, rawURL, err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &core.HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        rawURL,
			Body:       truncate(string(data), 512),
		}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return statusErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
