package gcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

// CloudPlatformScope is the OAuth scope requested for every API call.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource acquires access tokens from Application Default Credentials.
// The underlying source is resolved on first use and then reused; oauth2
// caches and refreshes the token itself.
type TokenSource struct {
	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewTokenSource creates a token source backed by Application Default Credentials.
func NewTokenSource() *TokenSource {
	return &TokenSource{}
}

// NewStaticTokenSource always returns token. Used for tests and local runs.
func NewStaticTokenSource(token string) *TokenSource {
	return &TokenSource{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})}
}

// AcquireToken returns a bearer token. Any failure, including an empty token,
// wraps core.ErrTokenUnavailable.
func (t *TokenSource) AcquireToken(ctx context.Context) (string, error) {
	src, err := t.source(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTokenUnavailable, err)
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTokenUnavailable, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", core.ErrTokenUnavailable
	}
	return tok.AccessToken, nil
}

func (t *TokenSource) source(ctx context.Context) (oauth2.TokenSource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.src != nil {
		return t.src, nil
	}
	// The token source outlives the calling request, so it must not inherit its cancellation.
	src, err := google.DefaultTokenSource(context.WithoutCancel(ctx), CloudPlatformScope)
	if err != nil {
		return nil, err
	}
	t.src = oauth2.ReuseTokenSource(nil, src)
	return t.src, nil
}
