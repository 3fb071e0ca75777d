// Package traefik reads the active routing table from a Traefik reverse
// proxy: the admin API's live routers, router rules declared on workload
// labels, and static dynamic-config files. Hostnames inside router rules
// are what drives record synchronization.
package traefik

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gitlab.bluewillows.net/root/dnssync/pkg/httputil"
)

// Router is one entry of Traefik's HTTP routing table.
type Router struct {
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Service string `json:"service"`
	Status  string `json:"status"`
}

// Client polls the Traefik admin API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates an admin API client for the given endpoint, e.g.
// "http://traefik:8080".
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: httputil.DefaultClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRouters fetches the current HTTP routing table.
func (c *Client) GetRouters(ctx context.Context) ([]Router, error) {
	url := c.endpoint + "/api/http/routers"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying traefik api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("traefik api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var routers []Router
	if err := json.NewDecoder(resp.Body).Decode(&routers); err != nil {
		return nil, fmt.Errorf("decoding traefik routers: %w", err)
	}

	c.logger.Debug("fetched traefik routers",
		slog.Int("count", len(routers)),
	)
	return routers, nil
}
