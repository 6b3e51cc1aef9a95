package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.duodoo.tech/fedlogin/domain"
	"go.duodoo.tech/fedlogin/dto"
)

// Client is a thin HTTP client for the fedlogin admin API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Client for the given server endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateProvider registers a provider configuration. The payload carries
// the client secret; the returned config has it redacted.
func (c *Client) CreateProvider(ctx context.Context, payload *dto.ProviderConfigPayload) (*domain.ProviderConfig, error) {
	var created domain.ProviderConfig
	if err := c.do(ctx, http.MethodPost, "/admin/providers", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProvider replaces a provider configuration's settings.
func (c *Client) UpdateProvider(ctx context.Context, id string, payload *dto.ProviderConfigPayload) (*domain.ProviderConfig, error) {
	var updated domain.ProviderConfig
	if err := c.do(ctx, http.MethodPut, "/admin/providers/"+id, payload, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ActivateProvider promotes a configuration to active.
func (c *Client) ActivateProvider(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/providers/"+id+"/activate", nil, nil)
}

// TestProvider runs a connectivity check against the provider.
func (c *Client) TestProvider(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/providers/"+id+"/test", nil, nil)
}

// ListProviders lists the tenant's provider configurations.
func (c *Client) ListProviders(ctx context.Context) ([]*domain.ProviderConfig, error) {
	var configs []*domain.ProviderConfig
	if err := c.do(ctx, http.MethodGet, "/admin/providers", nil, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, string(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
