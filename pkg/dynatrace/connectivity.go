package dynatrace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
)

// RequiredTokenScopes must all be granted to the access key.
var RequiredTokenScopes = []string{"metrics.ingest", "extensions.read"}

const (
	tokenLookupTimeout = 2 * time.Second
	tokenPrefix        = "dt0c01."
	structuredLength   = 96
	invalidTokenMarker = "Invalid Token"
)

// TokenMetadata is the subset of the token lookup response that matters here.
type TokenMetadata struct {
	Name    string   `json:"name"`
	Revoked bool     `json:"revoked"`
	Scopes  []string `json:"scopes"`
}

// MissingScopes returns the required scopes the token does not hold.
func (m TokenMetadata) MissingScopes() []string {
	held := make(map[string]bool, len(m.Scopes))
	for _, s := range m.Scopes {
		held[s] = true
	}
	var missing []string
	for _, s := range RequiredTokenScopes {
		if !held[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

// Valid reports whether the token is named, not revoked and fully scoped.
func (m TokenMetadata) Valid() bool {
	return m.Name != "" && !m.Revoked && len(m.MissingScopes()) == 0
}

// LookupToken fetches the metadata of key from the environment at url.
func (c *Client) LookupToken(ctx context.Context, url, key string) (TokenMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenLookupTimeout)
	defer cancel()

	endpoint := strings.TrimRight(url, "/") + "/api/v1/tokens/lookup"
	payload, err := json.Marshal(map[string]string{"token": key})
	if err != nil {
		return TokenMetadata{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", apiTokenHeader(key))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("%v: %w", err, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenMetadata{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TokenMetadata{}, &core.HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: string(body)}
	}

	var meta TokenMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return TokenMetadata{}, fmt.Errorf("failed to decode token metadata: %w", err)
	}
	return meta, nil
}

// CheckConnectivity reports whether key is usable against url. It never
// fails; every problem is logged and reported as false.
func (c *Client) CheckConnectivity(ctx context.Context, url, key string) bool {
	if url == "" || key == "" {
		c.logger.Error("Dynatrace URL or access key is not configured")
		return false
	}

	masked := ObfuscateAccessKey(key)
	meta, err := c.LookupToken(ctx, url, key)
	if err != nil {
		c.logger.Error("Unable to look up Dynatrace token", map[string]interface{}{
			"url":   url,
			"token": masked,
			"error": err.Error(),
		})
		return false
	}

	switch {
	case meta.Name == "":
		c.logger.Error("Dynatrace token lookup returned no token", map[string]interface{}{
			"url":   url,
			"token": masked,
		})
		return false
	case meta.Revoked:
		c.logger.Error("Dynatrace token is revoked", map[string]interface{}{
			"url":   url,
			"token": masked,
		})
		return false
	}
	if missing := meta.MissingScopes(); len(missing) > 0 {
		c.logger.Error("Dynatrace token is missing required scopes", map[string]interface{}{
			"url":            url,
			"token":          masked,
			"missing_scopes": strings.Join(missing, ", "),
		})
		return false
	}

	c.logger.Info("Dynatrace token is valid", map[string]interface{}{
		"url":        url,
		"token":      masked,
		"token_name": meta.Name,
	})
	return true
}

// CheckConnectivity runs the connectivity check with a default client.
func CheckConnectivity(ctx context.Context, url, key string) bool {
	return NewClient(DefaultOptions()).CheckConnectivity(ctx, url, key)
}

// ObfuscateAccessKey renders key safe for logs. A structured 96 character
// token keeps its prefix and public segment; any other key of at least 7
// characters keeps its first and last three characters.
func ObfuscateAccessKey(key string) string {
	if strings.HasPrefix(key, tokenPrefix) && len(key) == structuredLength {
		parts := strings.Split(key, ".")
		return tokenPrefix + parts[1]
	}
	if len(key) >= 7 {
		return key[:3] + strings.Repeat("*", len(key)-6) + key[len(key)-3:]
	}
	return invalidTokenMarker
}
