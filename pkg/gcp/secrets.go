package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

type secretAccess struct {
	Payload struct {
		Data string `json:"data"`
	} `json:"payload"`
}

// SecretValue reads the latest version of secret name in project.
func (c *Client) SecretValue(ctx context.Context, token, project, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/projects/%s/secrets/%s/versions/latest:access",
		c.endpoints.SecretManager, url.PathEscape(project), url.PathEscape(name))

	var resp secretAccess
	if err := c.GetJSON(ctx, token, endpoint, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ResolveDynatraceCredentials returns url and key, reading whichever is empty
// from the DYNATRACE_URL and DYNATRACE_ACCESS_KEY secrets of project.
func (c *Client) ResolveDynatraceCredentials(ctx context.Context, token, project, dtURL, key string) (string, string, error) {
	var err error
	if dtURL == "" {
		if dtURL, err = c.SecretValue(ctx, token, project, "DYNATRACE_URL"); err != nil {
			return "", "", err
		}
	}
	if key == "" {
		if key, err = c.SecretValue(ctx, token, project, "DYNATRACE_ACCESS_KEY"); err != nil {
			return "", "", err
		}
	}
	return strings.TrimRight(dtURL, "/"), key, nil
}
