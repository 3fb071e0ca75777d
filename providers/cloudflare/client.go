// Package cloudflare implements the provider contract for Cloudflare DNS.
//
// Cloudflare records carry a real provider id and support full-overwrite
// updates. Proxied records always report TTL 1 ("automatic"), which is
// why TTL divergence is ignored for them during comparison.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"gitlab.bluewillows.net/root/dnssync/pkg/httputil"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// DefaultAPIEndpoint is the base URL for Cloudflare API v4.
const DefaultAPIEndpoint = "https://api.cloudflare.com/client/v4"

// perPage is the list page size; the list walks the page chain until
// result_info reports the last page.
const perPage = 100

// apiError represents an error from the Cloudflare API.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultInfo carries the pagination state of a list response.
type resultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// apiResponse is the standard Cloudflare API response envelope.
type apiResponse struct {
	Success    bool            `json:"success"`
	Errors     []apiError      `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info"`
}

// zoneResult represents a zone from the Cloudflare API.
type zoneResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// recordData is the typed payload Cloudflare uses for SRV and CAA records.
type recordData struct {
	Priority *int   `json:"priority,omitempty"`
	Weight   *int   `json:"weight,omitempty"`
	Port     *int   `json:"port,omitempty"`
	Target   string `json:"target,omitempty"`
	Flags    *int   `json:"flags,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Value    string `json:"value,omitempty"`
}

// dnsRecord is the Cloudflare wire format for a DNS record.
type dnsRecord struct {
	ID       string      `json:"id,omitempty"`
	Type     string      `json:"type"`
	Name     string      `json:"name"`
	Content  string      `json:"content,omitempty"`
	TTL      int         `json:"ttl"`
	Proxied  *bool       `json:"proxied,omitempty"`
	Comment  string      `json:"comment,omitempty"`
	Priority *int        `json:"priority,omitempty"`
	Data     *recordData `json:"data,omitempty"`
}

// Client is a Cloudflare DNS API client.
type Client struct {
	apiEndpoint string
	token       string
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets a custom logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIEndpoint sets a custom API endpoint (useful for testing).
func WithAPIEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.apiEndpoint = endpoint
	}
}

// NewClient creates a new Cloudflare API client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		apiEndpoint: DefaultAPIEndpoint,
		token:       token,
		httpClient:  httputil.DefaultClient(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs an HTTP request against the Cloudflare API and
// decodes the response envelope.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiEndpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", provider.ErrAuth, resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}

	if !apiResp.Success {
		if len(apiResp.Errors) > 0 {
			e := apiResp.Errors[0]
			// 81053 = record with that host already exists
			// 81058 = an identical record already exists
			if e.Code == 81053 || e.Code == 81058 {
				return nil, provider.ErrConflict
			}
			return nil, fmt.Errorf("API error: %s (code %d)", e.Message, e.Code)
		}
		return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	return &apiResp, nil
}

// VerifyToken checks that the configured token is valid.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/user/tokens/verify", nil)
	return err
}

// ZoneIDByName resolves a zone name to its id.
func (c *Client) ZoneIDByName(ctx context.Context, zone string) (string, error) {
	params := url.Values{}
	params.Set("name", zone)
	params.Set("status", "active")

	resp, err := c.doRequest(ctx, http.MethodGet, "/zones?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	var zones []zoneResult
	if err := json.Unmarshal(resp.Result, &zones); err != nil {
		return "", fmt.Errorf("parsing zones response: %w", err)
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("%w: %s", provider.ErrZoneNotFound, zone)
	}

	c.logger.Debug("resolved zone",
		slog.String("zone", zone),
		slog.String("zone_id", zones[0].ID),
	)
	return zones[0].ID, nil
}

// ListRecords fetches all DNS records in the zone, walking the page
// chain until result_info reports the final page.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]dnsRecord, error) {
	var all []dnsRecord

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", fmt.Sprintf("%d", page))
		params.Set("per_page", fmt.Sprintf("%d", perPage))

		path := fmt.Sprintf("/zones/%s/dns_records?%s", zoneID, params.Encode())
		resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("listing records page %d: %w", page, err)
		}

		var records []dnsRecord
		if err := json.Unmarshal(resp.Result, &records); err != nil {
			return nil, fmt.Errorf("parsing records response: %w", err)
		}
		all = append(all, records...)

		if resp.ResultInfo == nil || page >= resp.ResultInfo.TotalPages {
			break
		}
	}

	c.logger.Debug("listed records",
		slog.String("zone_id", zoneID),
		slog.Int("count", len(all)),
	)
	return all, nil
}

// CreateRecord creates a DNS record and returns the stored result.
func (c *Client) CreateRecord(ctx context.Context, zoneID string, rec dnsRecord) (*dnsRecord, error) {
	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, rec)
	if err != nil {
		return nil, err
	}

	var created dnsRecord
	if err := json.Unmarshal(resp.Result, &created); err != nil {
		return nil, fmt.Errorf("parsing create response: %w", err)
	}
	return &created, nil
}

// UpdateRecord overwrites an existing record by id.
func (c *Client) UpdateRecord(ctx context.Context, zoneID, recordID string, rec dnsRecord) (*dnsRecord, error) {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	resp, err := c.doRequest(ctx, http.MethodPut, path, rec)
	if err != nil {
		return nil, err
	}

	var updated dnsRecord
	if err := json.Unmarshal(resp.Result, &updated); err != nil {
		return nil, fmt.Errorf("parsing update response: %w", err)
	}
	return &updated, nil
}

// DeleteRecord deletes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	return err
}
