// Package deploy calls the external deployment collaborator that owns live
// infrastructure. Calls are fire-and-forget from the caller's perspective:
// failures are logged, never fatal to the lifecycle transition.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client interface {
	ReleaseDeployment(ctx context.Context, tenantID, apiID, version string) error
}

type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("deploy base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/deployments/release"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

func (c *HTTPClient) ReleaseDeployment(ctx context.Context, tenantID, apiID, version string) error {
	body, err := json.Marshal(map[string]string{
		"tenantId": tenantID,
		"apiId":    apiID,
		"version":  version,
	})
	if err != nil {
		return fmt.Errorf("deploy marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("deploy build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("deploy collaborator returned %s", resp.Status)
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("deploy release failed: %w", lastErr)
}

// NoopClient stands in when no deployment collaborator is configured.
type NoopClient struct{}

func (NoopClient) ReleaseDeployment(ctx context.Context, tenantID, apiID, version string) error {
	return nil
}
