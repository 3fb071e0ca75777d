// Package digitalocean implements the provider contract for DigitalOcean
// DNS.
//
// The wire format differs from the canonical model in two ways: record
// names are zone-relative with "@" denoting the apex, and CNAME content
// carries a trailing dot. Both translations happen at the read/write
// boundary so the rest of the system only ever sees fully-qualified
// names.
package digitalocean

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"gitlab.bluewillows.net/root/dnssync/pkg/httputil"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// DefaultAPIEndpoint is the base URL for the DigitalOcean API v2.
const DefaultAPIEndpoint = "https://api.digitalocean.com/v2"

// perPage is the list page size; pagination follows links.pages.next.
const perPage = 100

// domainRecord is the DigitalOcean wire format for a DNS record.
type domainRecord struct {
	ID       int64  `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"` // zone-relative, "@" for apex
	Data     string `json:"data"`
	TTL      int    `json:"ttl,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Weight   *int   `json:"weight,omitempty"`
	Port     *int   `json:"port,omitempty"`
	Flags    *int   `json:"flags,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// listResponse is the paginated records list envelope.
type listResponse struct {
	DomainRecords []domainRecord `json:"domain_records"`
	Links         struct {
		Pages struct {
			Next string `json:"next"`
		} `json:"pages"`
	} `json:"links"`
}

// recordResponse wraps a single-record create/update response.
type recordResponse struct {
	DomainRecord domainRecord `json:"domain_record"`
}

// apiError is the DigitalOcean error envelope.
type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Client is a DigitalOcean DNS API client.
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

// NewClient creates a new DigitalOcean API client.
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

// doRequest performs an HTTP request and decodes the response body into
// out when it is non-nil.
func (c *Client) doRequest(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", provider.ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return provider.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var e apiError
		if json.Unmarshal(respBody, &e) == nil && e.Message != "" {
			return fmt.Errorf("API error: %s (%s)", e.Message, e.ID)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response JSON: %w", err)
		}
	}
	return nil
}

// DomainExists verifies that the domain is registered with the account.
func (c *Client) DomainExists(ctx context.Context, domain string) error {
	url := fmt.Sprintf("%s/domains/%s", c.apiEndpoint, domain)
	err := c.doRequest(ctx, http.MethodGet, url, nil, nil)
	if provider.IsNotFound(err) {
		return fmt.Errorf("%w: %s", provider.ErrZoneNotFound, domain)
	}
	return err
}

// ListRecords fetches all records for the domain, following the
// links.pages.next chain.
func (c *Client) ListRecords(ctx context.Context, domain string) ([]domainRecord, error) {
	url := fmt.Sprintf("%s/domains/%s/records?per_page=%d", c.apiEndpoint, domain, perPage)

	var all []domainRecord
	for url != "" {
		var page listResponse
		if err := c.doRequest(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, fmt.Errorf("listing records: %w", err)
		}
		all = append(all, page.DomainRecords...)
		url = page.Links.Pages.Next
	}

	c.logger.Debug("listed records",
		slog.String("domain", domain),
		slog.Int("count", len(all)),
	)
	return all, nil
}

// CreateRecord creates a record and returns the stored result.
func (c *Client) CreateRecord(ctx context.Context, domain string, rec domainRecord) (*domainRecord, error) {
	url := fmt.Sprintf("%s/domains/%s/records", c.apiEndpoint, domain)

	var out recordResponse
	if err := c.doRequest(ctx, http.MethodPost, url, rec, &out); err != nil {
		return nil, err
	}
	return &out.DomainRecord, nil
}

// UpdateRecord overwrites a record by id.
func (c *Client) UpdateRecord(ctx context.Context, domain string, recordID int64, rec domainRecord) (*domainRecord, error) {
	url := fmt.Sprintf("%s/domains/%s/records/%d", c.apiEndpoint, domain, recordID)

	var out recordResponse
	if err := c.doRequest(ctx, http.MethodPut, url, rec, &out); err != nil {
		return nil, err
	}
	return &out.DomainRecord, nil
}

// DeleteRecord deletes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, domain string, recordID int64) error {
	url := fmt.Sprintf("%s/domains/%s/records/%d", c.apiEndpoint, domain, recordID)
	return c.doRequest(ctx, http.MethodDelete, url, nil, nil)
}
