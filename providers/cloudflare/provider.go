package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// Provider implements provider.Provider for Cloudflare DNS.
type Provider struct {
	name     string
	domain   string
	client   *Client
	cache    *provider.Cache
	resolver provider.IPResolver
	logger   *slog.Logger

	// initMu guards zone resolution; Init is the single place the zone
	// id is established (no scattered lazy re-init).
	initMu sync.Mutex
	zoneID string
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

// New creates a new Cloudflare provider instance.
func New(name string, cfg *Config, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		name:   name,
		domain: cfg.Zone,
		zoneID: cfg.ZoneID,
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

// Type returns "cloudflare".
func (p *Provider) Type() string { return "cloudflare" }

// Domain returns the managed zone name.
func (p *Provider) Domain() string { return p.domain }

// Init resolves the zone id. Idempotent.
func (p *Provider) Init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.zoneID != "" {
		return nil
	}

	zoneID, err := p.client.ZoneIDByName(ctx, p.domain)
	if err != nil {
		return provider.WrapError(p.name, "init", err)
	}
	p.zoneID = zoneID

	p.logger.Info("cloudflare zone resolved",
		slog.String("provider", p.name),
		slog.String("zone", p.domain),
		slog.String("zone_id", zoneID),
	)
	return nil
}

// ensureInit is the single guard invoked before any remote operation.
func (p *Provider) ensureInit(ctx context.Context) error {
	return p.Init(ctx)
}

// Ping checks connectivity and credentials.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.VerifyToken(ctx)
}

// ListRecords fetches the complete remote record set.
func (p *Provider) ListRecords(ctx context.Context) ([]provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	wire, err := p.client.ListRecords(ctx, p.zoneID)
	if err != nil {
		return nil, provider.WrapError(p.name, "list", err)
	}

	records := make([]provider.Record, 0, len(wire))
	for _, w := range wire {
		if rec, ok := fromWire(w); ok {
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

// Validate fills defaults and enforces Cloudflare constraints.
func (p *Provider) Validate(desired *provider.RecordConfig) error {
	return provider.ValidateRecord(desired, provider.Constraints{MinTTL: MinTTL, AutoTTL: AutoTTL})
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

	created, err := p.client.CreateRecord(ctx, p.zoneID, toWire(desired))
	if err != nil {
		return nil, provider.WrapError(p.name, "create", err)
	}

	rec, _ := fromWire(*created)
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

	updated, err := p.client.UpdateRecord(ctx, p.zoneID, existing.ID, toWire(desired))
	if err != nil {
		return nil, provider.WrapError(p.name, "update", err)
	}

	rec, _ := fromWire(*updated)
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

	if err := p.client.DeleteRecord(ctx, p.zoneID, rec.ID); err != nil {
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

// fromWire maps a Cloudflare record to the canonical shape. Unmanaged
// record types are skipped.
func fromWire(w dnsRecord) (provider.Record, bool) {
	rec := provider.Record{
		ID:      w.ID,
		Type:    w.Type,
		Name:    w.Name,
		Content: w.Content,
		TTL:     w.TTL,
		Proxied: w.Proxied,
		Comment: w.Comment,
	}

	switch w.Type {
	case provider.TypeA, provider.TypeAAAA, provider.TypeCNAME, provider.TypeTXT:
	case provider.TypeMX:
		rec.Priority = w.Priority
	case provider.TypeSRV:
		if w.Data != nil {
			rec.Priority = w.Data.Priority
			rec.Weight = w.Data.Weight
			rec.Port = w.Data.Port
			rec.Content = w.Data.Target
		}
		if rec.Priority == nil {
			rec.Priority = w.Priority
		}
	case provider.TypeCAA:
		if w.Data != nil {
			rec.Flags = w.Data.Flags
			rec.Tag = w.Data.Tag
			rec.Content = w.Data.Value
		}
	default:
		return provider.Record{}, false
	}

	return rec, true
}

// toWire maps a desired record to the Cloudflare wire format. The
// ownership marker rides along as the record comment, and proxied
// records are forced to automatic TTL.
func toWire(cfg provider.RecordConfig) dnsRecord {
	w := dnsRecord{
		Type:    cfg.Type,
		Name:    cfg.Name,
		Content: cfg.Content,
		TTL:     cfg.TTL,
		Comment: provider.OwnershipMarker,
	}

	if provider.ProxiableType(cfg.Type) {
		w.Proxied = cfg.Proxied
		if cfg.Proxied != nil && *cfg.Proxied {
			w.TTL = AutoTTL
		}
	}

	switch cfg.Type {
	case provider.TypeMX:
		w.Priority = cfg.Priority
	case provider.TypeSRV:
		w.Content = ""
		w.Data = &recordData{
			Priority: cfg.Priority,
			Weight:   cfg.Weight,
			Port:     cfg.Port,
			Target:   cfg.Content,
		}
	case provider.TypeCAA:
		w.Content = ""
		w.Data = &recordData{
			Flags: cfg.Flags,
			Tag:   cfg.Tag,
			Value: cfg.Content,
		}
	}

	return w
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
