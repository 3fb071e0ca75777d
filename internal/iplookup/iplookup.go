// Package iplookup resolves the host's public IP for apex A/AAAA records
// whose content is deferred until sync time. It asks OpenDNS for the
// caller's address over DNS first and falls back to an HTTPS echo
// service, caching the last known answers.
package iplookup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnssync/pkg/httputil"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

const (
	// myIPName is the magic OpenDNS name that resolves to the caller's
	// public address.
	myIPName = "myip.opendns.com."

	resolverV4 = "resolver1.opendns.com:53"
	resolverV6 = "[2620:119:35::35]:53"

	fallbackV4 = "https://api.ipify.org"
	fallbackV6 = "https://api64.ipify.org"

	queryTimeout = 5 * time.Second
)

// Resolver looks up and caches the host's public IPv4 and IPv6
// addresses. It implements provider.IPResolver.
type Resolver struct {
	dnsClient  *dns.Client
	httpClient *http.Client
	resolverV4 string
	resolverV6 string
	fallbackV4 string
	fallbackV6 string
	cacheTTL   time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	cachedV4   string
	cachedV6   string
	resolvedV4 time.Time
	resolvedV6 time.Time
}

// Option is a functional option for configuring the Resolver.
type Option func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for the HTTPS fallback.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithCacheTTL sets how long a resolved address is reused before being
// looked up again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithEndpoints overrides the DNS resolvers and HTTPS fallbacks (useful
// for testing).
func WithEndpoints(dnsV4, dnsV6, httpV4, httpV6 string) Option {
	return func(r *Resolver) {
		if dnsV4 != "" {
			r.resolverV4 = dnsV4
		}
		if dnsV6 != "" {
			r.resolverV6 = dnsV6
		}
		if httpV4 != "" {
			r.fallbackV4 = httpV4
		}
		if httpV6 != "" {
			r.fallbackV6 = httpV6
		}
	}
}

// New creates a public-IP resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		dnsClient:  &dns.Client{Timeout: queryTimeout},
		httpClient: httputil.DefaultClient(),
		resolverV4: resolverV4,
		resolverV6: resolverV6,
		fallbackV4: fallbackV4,
		fallbackV6: fallbackV6,
		cacheTTL:   5 * time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PublicIPv4 returns the host's public IPv4 address.
func (r *Resolver) PublicIPv4(ctx context.Context) (string, error) {
	return r.lookup(ctx, false)
}

// PublicIPv6 returns the host's public IPv6 address.
func (r *Resolver) PublicIPv6(ctx context.Context) (string, error) {
	return r.lookup(ctx, true)
}

// CachedIPv4 returns the last resolved IPv4 address without performing a
// lookup. Empty until the first successful resolution.
func (r *Resolver) CachedIPv4() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cachedV4
}

func (r *Resolver) lookup(ctx context.Context, v6 bool) (string, error) {
	r.mu.Lock()
	cached, resolvedAt := r.cachedV4, r.resolvedV4
	if v6 {
		cached, resolvedAt = r.cachedV6, r.resolvedV6
	}
	r.mu.Unlock()

	if cached != "" && time.Since(resolvedAt) < r.cacheTTL {
		return cached, nil
	}

	ip, err := r.queryDNS(ctx, v6)
	if err != nil {
		r.logger.Debug("dns ip lookup failed, trying https fallback",
			slog.Bool("ipv6", v6),
			slog.String("error", err.Error()),
		)
		ip, err = r.queryHTTP(ctx, v6)
	}
	if err != nil {
		if cached != "" {
			// A stale answer beats failing the whole record.
			return cached, nil
		}
		return "", fmt.Errorf("resolving public IP: %w", err)
	}

	r.mu.Lock()
	if v6 {
		r.cachedV6, r.resolvedV6 = ip, time.Now()
	} else {
		r.cachedV4, r.resolvedV4 = ip, time.Now()
	}
	r.mu.Unlock()

	r.logger.Debug("resolved public IP",
		slog.Bool("ipv6", v6),
		slog.String("ip", ip),
	)
	return ip, nil
}

func (r *Resolver) queryDNS(ctx context.Context, v6 bool) (string, error) {
	qtype, server := dns.TypeA, r.resolverV4
	if v6 {
		qtype, server = dns.TypeAAAA, r.resolverV6
	}

	msg := new(dns.Msg)
	msg.SetQuestion(myIPName, qtype)
	msg.RecursionDesired = true

	reply, _, err := r.dnsClient.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns query returned %s", dns.RcodeToString[reply.Rcode])
	}

	for _, ans := range reply.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			return rr.A.String(), nil
		case *dns.AAAA:
			return rr.AAAA.String(), nil
		}
	}
	return "", fmt.Errorf("dns query returned no address records")
}

func (r *Resolver) queryHTTP(ctx context.Context, v6 bool) (string, error) {
	url := r.fallbackV4
	if v6 {
		url = r.fallbackV6
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip echo service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("ip echo service returned %q", ip)
	}
	if v6 && parsed.To4() != nil {
		return "", fmt.Errorf("ip echo service returned IPv4 %q for IPv6 lookup", ip)
	}
	return ip, nil
}

// Ensure Resolver implements provider.IPResolver at compile time.
var _ provider.IPResolver = (*Resolver)(nil)
