package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitorError(t *testing.T) {
	err := NewMonitorError("gcp.ListProjects", "gcp", ErrConnectionFailed)
	assert.Equal(t, "gcp.ListProjects: connection failed", err.Error())
	assert.ErrorIs(t, err, ErrConnectionFailed)

	err.ID = "p1"
	assert.Equal(t, "gcp.ListProjects [p1]: connection failed", err.Error())

	assert.Equal(t, "dynatrace error", (&MonitorError{Kind: "dynatrace"}).Error())
	assert.Equal(t, "custom", (&MonitorError{Message: "custom"}).Error())
}

func TestHTTPStatusError(t *testing.T) {
	err := fmt.Errorf("push: %w", &HTTPStatusError{StatusCode: 503, URL: "https://x", Body: "busy"})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "unexpected status 503 from https://x: busy")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &HTTPStatusError{StatusCode: 429}, true},
		{"server error", &HTTPStatusError{StatusCode: 502}, true},
		{"client error", &HTTPStatusError{StatusCode: 400}, false},
		{"timeout", fmt.Errorf("wrapped: %w", ErrTimeout), true},
		{"connection", ErrConnectionFailed, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(fmt.Errorf("x: %w", ErrMissingConfiguration)))
	assert.True(t, IsConfigurationError(ErrInvalidConfiguration))
	assert.False(t, IsConfigurationError(ErrTokenUnavailable))
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, "*core.HTTPStatusError", ErrorType(&HTTPStatusError{}))
}
