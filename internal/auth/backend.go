package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BackendClient reads persisted auth configs from the project backend.
type BackendClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBackendClient returns a client for the API at baseURL. A nil client
// gets a 10 second timeout.
func NewBackendClient(baseURL string, client *http.Client, logger *slog.Logger) *BackendClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type configsResponse struct {
	Success bool              `json:"success"`
	Data    []json.RawMessage `json:"data"`
	Error   string            `json:"error,omitempty"`
}

// FetchConfig returns the config for domain. An entry whose domain matches
// exactly is preferred over the first entry. Entries that fail to parse or
// validate are logged and skipped.
func (c *BackendClient) FetchConfig(ctx context.Context, domain string) (Config, error) {
	endpoint := c.baseURL + "/api/auth/configs?domain=" + url.QueryEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var body configsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("backend reported failure: %s", body.Error)
	}

	var first Config
	for _, raw := range body.Data {
		cfg, err := ParseConfig(raw)
		if err != nil {
			c.logger.Warn("skipping backend auth config", "domain", domain, "error", err)
			continue
		}
		if strings.EqualFold(cfg.Domain(), domain) {
			return cfg, nil
		}
		if first == nil {
			first = cfg
		}
	}
	if first == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoConfig, domain)
	}
	return WithDomain(first, domain), nil
}
