// Package engine runs the sync cycle: gather active hostnames from the
// routing table, compute the desired record per hostname, reconcile each
// provider, and clean up orphaned records this tool created.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"gitlab.bluewillows.net/root/dnssync/internal/docker"
	"gitlab.bluewillows.net/root/dnssync/internal/metrics"
	"gitlab.bluewillows.net/root/dnssync/internal/tracker"
	"gitlab.bluewillows.net/root/dnssync/internal/traefik"
	"gitlab.bluewillows.net/root/dnssync/pkg/dnslabel"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// ErrSyncInFlight is returned by Sync when a cycle is already running.
var ErrSyncInFlight = errors.New("sync cycle already in flight")

// WorkloadLister yields labeled workloads; *docker.Client implements it.
type WorkloadLister interface {
	ListWorkloads(ctx context.Context) (docker.Workloads, error)
}

// RouterSource yields the live routing table; *traefik.Client
// implements it.
type RouterSource interface {
	GetRouters(ctx context.Context) ([]traefik.Router, error)
}

// FileRouterSource yields router rules from static config files;
// *traefik.FileDiscovery implements it.
type FileRouterSource interface {
	Routers(ctx context.Context) (map[string]string, error)
}

// IPSource is the public-IP resolver plus its synchronous cache, used
// for apex records; *iplookup.Resolver implements it.
type IPSource interface {
	provider.IPResolver
	CachedIPv4() string
}

// Config holds the engine's record defaults and cleanup policy.
type Config struct {
	// LabelPrefix is the namespace for per-hostname record labels.
	LabelPrefix string

	// DefaultType is the record type for non-apex hostnames without a
	// type label.
	DefaultType string

	// DefaultTTL applies when no ttl label is present.
	DefaultTTL int

	// DefaultProxied is the proxied default for proxiable types.
	DefaultProxied bool

	// CleanupOrphans enables deletion of tracked records whose hostname
	// went inactive.
	CleanupOrphans bool
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		LabelPrefix:    dnslabel.DefaultPrefix,
		DefaultType:    provider.TypeCNAME,
		DefaultTTL:     300,
		CleanupOrphans: true,
	}
}

// Engine drives sync cycles across all registered providers.
type Engine struct {
	workloads WorkloadLister
	routers   RouterSource
	files     FileRouterSource
	providers *provider.Registry
	tracked   *tracker.Tracker
	preserved *tracker.PreservedList
	resolver  IPSource
	config    Config
	logger    *slog.Logger

	inFlight atomic.Bool
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWorkloads sets the container workload source.
func WithWorkloads(lister WorkloadLister) Option {
	return func(e *Engine) {
		e.workloads = lister
	}
}

// WithRouters sets the live routing-table source.
func WithRouters(src RouterSource) Option {
	return func(e *Engine) {
		e.routers = src
	}
}

// WithFileRouters sets the static-file router source.
func WithFileRouters(src FileRouterSource) Option {
	return func(e *Engine) {
		e.files = src
	}
}

// New creates an Engine. At least one of the workload, router, or file
// sources should be set through options or no hostnames will ever be
// found.
func New(providers *provider.Registry, tracked *tracker.Tracker, preserved *tracker.PreservedList, resolver IPSource, opts ...Option) *Engine {
	e := &Engine{
		providers: providers,
		tracked:   tracked,
		preserved: preserved,
		resolver:  resolver,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrySync runs a cycle unless one is already in flight, in which case it
// returns immediately. Event-triggered and timer-triggered syncs both
// come through here so cycles never overlap.
func (e *Engine) TrySync(ctx context.Context) (*Result, error) {
	result, err := e.Sync(ctx)
	if errors.Is(err, ErrSyncInFlight) {
		e.logger.Debug("sync already in flight, skipping")
		return nil, nil
	}
	return result, err
}

// Sync runs one full cycle. Concurrent calls beyond the first return
// ErrSyncInFlight.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	result := NewResult()
	e.logger.Info("starting sync cycle")

	active, err := e.gatherHostnames(ctx, result)
	if err != nil {
		return nil, err
	}
	result.HostnamesActive = len(active)

	activeSet := make(map[string]struct{}, len(active))
	for hostname := range active {
		activeSet[provider.NormalizeName(hostname)] = struct{}{}
	}

	for _, p := range e.providers.All() {
		pr := e.syncProvider(ctx, p, active)

		if e.config.CleanupOrphans && pr.Err == nil {
			e.cleanupOrphans(ctx, p, activeSet, &pr)
		}
		result.Providers = append(result.Providers, pr)
	}

	result.Complete()
	e.recordMetrics(result)

	c := result.Counters()
	e.logger.Info("sync cycle complete",
		slog.Int("workloads", result.WorkloadsScanned),
		slog.Int("hostnames", result.HostnamesActive),
		slog.Int("created", c.Created),
		slog.Int("updated", c.Updated),
		slog.Int("up_to_date", c.UpToDate),
		slog.Int("errors", c.Errors),
		slog.Int("deleted", result.Deleted()),
		slog.Duration("duration", result.Duration()),
	)
	return result, nil
}

// gatherHostnames merges the three hostname sources into a map of
// hostname to the labels governing its record. Hostnames from the admin
// API or config files carry no labels and get pure defaults. A hostname
// whose workload carries the skip label is excluded from every source:
// the same docker-provider router also shows up in the admin API table,
// and re-adding it there would defeat the opt-out.
func (e *Engine) gatherHostnames(ctx context.Context, result *Result) (map[string]map[string]string, error) {
	active := make(map[string]map[string]string)
	skipped := make(map[string]struct{})
	add := func(hostname string, labels map[string]string) {
		if _, optedOut := skipped[provider.NormalizeName(hostname)]; optedOut {
			return
		}
		if _, exists := active[hostname]; !exists {
			active[hostname] = labels
		}
	}

	if e.workloads != nil {
		workloads, err := e.workloads.ListWorkloads(ctx)
		if err != nil {
			return nil, err
		}
		result.WorkloadsScanned = len(workloads)

		for _, w := range workloads {
			if !dnslabel.Skip(w.Labels, e.config.LabelPrefix) {
				continue
			}
			e.logger.Debug("workload opted out of DNS management",
				slog.String("workload", w.Name),
			)
			for _, rule := range traefik.RouterRulesFromLabels(w.Labels) {
				for _, hostname := range dnslabel.HostnamesFromRule(rule) {
					skipped[provider.NormalizeName(hostname)] = struct{}{}
				}
			}
		}

		for _, w := range workloads {
			if dnslabel.Skip(w.Labels, e.config.LabelPrefix) {
				continue
			}
			for _, rule := range traefik.RouterRulesFromLabels(w.Labels) {
				for _, hostname := range dnslabel.HostnamesFromRule(rule) {
					add(hostname, w.Labels)
				}
			}
		}
	}

	if e.routers != nil {
		routers, err := e.routers.GetRouters(ctx)
		if err != nil {
			// The label pass already produced hostnames; a down admin
			// API must not wipe them from the active set and trigger
			// mass cleanup, so the cycle aborts instead.
			return nil, err
		}
		for _, router := range routers {
			for _, hostname := range dnslabel.HostnamesFromRule(router.Rule) {
				add(hostname, nil)
			}
		}
	}

	if e.files != nil {
		rules, err := e.files.Routers(ctx)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			for _, hostname := range dnslabel.HostnamesFromRule(rule) {
				add(hostname, nil)
			}
		}
	}

	return active, nil
}

// syncProvider reconciles one provider's zone against the active
// hostnames inside it.
func (e *Engine) syncProvider(ctx context.Context, p provider.Provider, active map[string]map[string]string) ProviderResult {
	pr := ProviderResult{Provider: p.Name(), Domain: p.Domain()}

	extractCfg := dnslabel.Config{
		Zone:           p.Domain(),
		Prefix:         e.config.LabelPrefix,
		DefaultType:    e.config.DefaultType,
		DefaultTTL:     e.config.DefaultTTL,
		DefaultProxied: e.config.DefaultProxied,
	}
	if e.resolver != nil {
		extractCfg.CachedIPv4 = e.resolver.CachedIPv4()
	}

	var desired []provider.RecordConfig
	for hostname, labels := range active {
		if !provider.InZone(hostname, p.Domain()) {
			continue
		}
		desired = append(desired, dnslabel.FromLabels(labels, extractCfg, hostname))
	}
	if len(desired) == 0 {
		return pr
	}

	batch, err := p.EnsureRecords(ctx, desired)
	if err != nil {
		e.logger.Error("provider sync failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		pr.Err = err
		return pr
	}
	pr.Counters = batch.Counters

	// Written records lead the result slice; those are the ones to
	// register as ours.
	written := batch.Counters.Created + batch.Counters.Updated
	for _, rec := range batch.Records[:written] {
		if err := e.tracked.Track(p.Name(), p.Domain(), rec); err != nil {
			e.logger.Error("failed to persist tracker state",
				slog.String("provider", p.Name()),
				slog.String("name", rec.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return pr
}

func (e *Engine) recordMetrics(result *Result) {
	metrics.SyncsTotal.WithLabelValues(result.Status()).Inc()
	metrics.SyncDuration.Observe(result.Duration().Seconds())
	metrics.WorkloadsScanned.Set(float64(result.WorkloadsScanned))
	metrics.HostnamesActive.Set(float64(result.HostnamesActive))

	for _, pr := range result.Providers {
		if pr.Counters.Created > 0 {
			metrics.RecordsCreatedTotal.WithLabelValues(pr.Provider).Add(float64(pr.Counters.Created))
		}
		if pr.Counters.Updated > 0 {
			metrics.RecordsUpdatedTotal.WithLabelValues(pr.Provider).Add(float64(pr.Counters.Updated))
		}
		if pr.Deleted > 0 {
			metrics.RecordsDeletedTotal.WithLabelValues(pr.Provider).Add(float64(pr.Deleted))
		}
		if pr.Counters.Errors > 0 {
			metrics.RecordsFailedTotal.WithLabelValues(pr.Provider, "ensure").Add(float64(pr.Counters.Errors))
		}
		if pr.DeleteErrors > 0 {
			metrics.RecordsFailedTotal.WithLabelValues(pr.Provider, "delete").Add(float64(pr.DeleteErrors))
		}
	}
}
