package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Execution errors
	ErrTokenUnavailable = errors.New("authorization token unavailable")
	ErrNoServices       = errors.New("no services configured")
	ErrTaskPanicked     = errors.New("task panicked")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// HTTP/Network errors
	ErrRequestFailed    = errors.New("request failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timeout")
	ErrCircuitOpen      = errors.New("circuit breaker open")

	// Cache errors
	ErrCacheMiss = errors.New("cache miss")
)

// MonitorError provides structured error information with context
// It implements the error interface and supports error wrapping
type MonitorError struct {
	Op      string // Operation that failed (e.g., "gcp.ListProjects")
	Kind    string // Error kind (e.g., "gcp", "dynatrace", "config")
	ID      string // Optional ID of the entity involved (project, metric)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *MonitorError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *MonitorError) Unwrap() error {
	return e.Err
}

// NewMonitorError creates a new MonitorError
func NewMonitorError(op, kind string, err error) *MonitorError {
	return &MonitorError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// HTTPStatusError reports a non-success response from a remote API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Unwrap lets callers match any status error with errors.Is(err, ErrRequestFailed).
func (e *HTTPStatusError) Unwrap() error {
	return ErrRequestFailed
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// ErrorType names the dynamic type of err for log fields, e.g. "*core.HTTPStatusError".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
