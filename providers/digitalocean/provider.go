package digitalocean

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// apexName is the wire name DigitalOcean uses for the zone root.
const apexName = "@"

// Provider implements provider.Provider for DigitalOcean DNS.
type Provider struct {
	name     string
	domain   string
	client   *Client
	cache    *provider.Cache
	resolver provider.IPResolver
	logger   *slog.Logger

	initMu      sync.Mutex
	initialized bool
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithResolver sets the public-IP resolver used for deferred apex records.
func WithResolver(resolver provider.IPResolver) Option {
	return func(p *Provider) {
		p.resolver = resolver
	}
}

// WithClient sets a custom API client (useful for testing).
func WithClient(client *Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a new DigitalOcean provider instance.
func New(name string, cfg *Config, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		name:   name,
		domain: cfg.Domain,
		cache:  provider.NewCache(cfg.CacheMaxAge),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = NewClient(cfg.Token, WithClientLogger(p.logger))
	}
	return p, nil
}

// Name returns the provider instance name.
func (p *Provider) Name() string { return p.name }

// Type returns "digitalocean".
func (p *Provider) Type() string { return "digitalocean" }

// Domain returns the managed domain name.
func (p *Provider) Domain() string { return p.domain }

// Init verifies the domain exists and the token can see it. Idempotent.
func (p *Provider) Init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.initialized {
		return nil
	}

	if err := p.client.DomainExists(ctx, p.domain); err != nil {
		return provider.WrapError(p.name, "init", err)
	}
	p.initialized = true

	p.logger.Info("digitalocean domain verified",
		slog.String("provider", p.name),
		slog.String("domain", p.domain),
	)
	return nil
}

func (p *Provider) ensureInit(ctx context.Context) error {
	return p.Init(ctx)
}

// Ping checks connectivity and credentials.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.DomainExists(ctx, p.domain)
}

// ListRecords fetches the complete remote record set, translated to
// fully-qualified names.
func (p *Provider) ListRecords(ctx context.Context) ([]provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	wire, err := p.client.ListRecords(ctx, p.domain)
	if err != nil {
		return nil, provider.WrapError(p.name, "list", err)
	}

	records := make([]provider.Record, 0, len(wire))
	for _, w := range wire {
		if rec, ok := p.fromWire(w); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// RefreshCache replaces the cache with a fresh full fetch.
func (p *Provider) RefreshCache(ctx context.Context) error {
	records, err := p.ListRecords(ctx)
	if err != nil {
		return err
	}
	p.cache.ReplaceAll(records)
	p.logger.Debug("record cache refreshed",
		slog.String("provider", p.name),
		slog.Int("records", len(records)),
	)
	return nil
}

// Records returns the cached record set, refreshing when forced or stale.
func (p *Provider) Records(ctx context.Context, force bool) ([]provider.Record, error) {
	if force || p.cache.Stale() {
		if err := p.RefreshCache(ctx); err != nil {
			return nil, err
		}
	}
	return p.cache.Snapshot(), nil
}

// FindCached looks up a cached record by type and name.
func (p *Provider) FindCached(rtype, name string) (provider.Record, bool) {
	return p.cache.Find(rtype, name)
}

// Validate fills defaults and enforces DigitalOcean constraints. The
// proxied flag has no DigitalOcean equivalent and is cleared so it never
// forces a spurious update.
func (p *Provider) Validate(desired *provider.RecordConfig) error {
	desired.Proxied = nil
	return provider.ValidateRecord(desired, provider.Constraints{MinTTL: MinTTL})
}

// NeedsUpdate applies the shared divergence policy.
func (p *Provider) NeedsUpdate(existing provider.Record, desired provider.RecordConfig) bool {
	return provider.NeedsUpdate(existing, desired)
}

// CreateRecord creates one record and upserts it into the cache.
func (p *Provider) CreateRecord(ctx context.Context, desired provider.RecordConfig) (*provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	created, err := p.client.CreateRecord(ctx, p.domain, p.toWire(desired))
	if err != nil {
		return nil, provider.WrapError(p.name, "create", err)
	}

	rec, _ := p.fromWire(*created)
	p.cache.Upsert(rec)

	p.logger.Info("created record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
		slog.String("content", rec.Content),
	)
	return &rec, nil
}

// UpdateRecord overwrites an existing record and refreshes the cache entry.
func (p *Provider) UpdateRecord(ctx context.Context, existing provider.Record, desired provider.RecordConfig) (*provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(existing.ID, 10, 64)
	if err != nil {
		return nil, provider.WrapError(p.name, "update", fmt.Errorf("invalid record id %q", existing.ID))
	}

	updated, err := p.client.UpdateRecord(ctx, p.domain, id, p.toWire(desired))
	if err != nil {
		return nil, provider.WrapError(p.name, "update", err)
	}

	rec, _ := p.fromWire(*updated)
	p.cache.Upsert(rec)

	p.logger.Info("updated record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
		slog.String("content", rec.Content),
	)
	return &rec, nil
}

// DeleteRecord deletes a record by id and drops the cache entry.
func (p *Provider) DeleteRecord(ctx context.Context, rec provider.Record) error {
	if err := p.ensureInit(ctx); err != nil {
		return err
	}

	id, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		return provider.WrapError(p.name, "delete", fmt.Errorf("invalid record id %q", rec.ID))
	}

	if err := p.client.DeleteRecord(ctx, p.domain, id); err != nil {
		return provider.WrapError(p.name, "delete", err)
	}
	p.cache.Remove(rec.Type, rec.Name)

	p.logger.Info("deleted record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
	)
	return nil
}

// EnsureRecords reconciles the desired set: classify, then apply all
// creates followed by all updates, sequentially.
func (p *Provider) EnsureRecords(ctx context.Context, desired []provider.RecordConfig) (*provider.BatchResult, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}
	if _, err := p.Records(ctx, false); err != nil {
		return nil, err
	}

	plan := provider.Classify(ctx, desired, p, p.resolver, p.logger)
	return provider.ApplySequential(ctx, plan, p, p.logger), nil
}

// RelativeName translates a fully-qualified hostname to the zone-relative
// wire name, with "@" for the apex.
func RelativeName(fqdn, zone string) string {
	h := provider.NormalizeName(fqdn)
	z := provider.NormalizeName(zone)
	if h == z {
		return apexName
	}
	return strings.TrimSuffix(h, "."+z)
}

// AbsoluteName translates a zone-relative wire name back to the
// fully-qualified hostname.
func AbsoluteName(rel, zone string) string {
	z := provider.NormalizeName(zone)
	if rel == apexName || rel == "" {
		return z
	}
	return provider.NormalizeName(rel) + "." + z
}

// fromWire maps a DigitalOcean record to the canonical shape. Unmanaged
// record types (NS, SOA) are skipped.
func (p *Provider) fromWire(w domainRecord) (provider.Record, bool) {
	switch w.Type {
	case provider.TypeA, provider.TypeAAAA, provider.TypeCNAME, provider.TypeTXT,
		provider.TypeMX, provider.TypeSRV, provider.TypeCAA:
	default:
		return provider.Record{}, false
	}

	rec := provider.Record{
		ID:       strconv.FormatInt(w.ID, 10),
		Type:     w.Type,
		Name:     AbsoluteName(w.Name, p.domain),
		Content:  strings.TrimSuffix(w.Data, "."),
		TTL:      w.TTL,
		Priority: w.Priority,
		Weight:   w.Weight,
		Port:     w.Port,
		Flags:    w.Flags,
		Tag:      w.Tag,
	}
	return rec, true
}

// toWire maps a desired record to the DigitalOcean wire format: names go
// zone-relative and CNAME content gains its trailing dot.
func (p *Provider) toWire(cfg provider.RecordConfig) domainRecord {
	data := cfg.Content
	if cfg.Type == provider.TypeCNAME && !strings.HasSuffix(data, ".") {
		data += "."
	}

	return domainRecord{
		Type:     cfg.Type,
		Name:     RelativeName(cfg.Name, p.domain),
		Data:     data,
		TTL:      cfg.TTL,
		Priority: cfg.Priority,
		Weight:   cfg.Weight,
		Port:     cfg.Port,
		Flags:    cfg.Flags,
		Tag:      cfg.Tag,
	}
}

// Factory returns a provider.Factory for the registry.
func Factory(resolver provider.IPResolver, logger *slog.Logger) provider.Factory {
	return func(name string, settings map[string]string) (provider.Provider, error) {
		cfg, err := ConfigFromMap(name, settings)
		if err != nil {
			return nil, err
		}
		return New(name, cfg, WithResolver(resolver), WithLogger(logger))
	}
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)
