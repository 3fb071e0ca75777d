package provider

import (
	"context"
	"log/slog"
)

// BatchCounters aggregates one EnsureRecords run. The four counters
// always sum to the size of the desired input set.
type BatchCounters struct {
	Created  int
	Updated  int
	UpToDate int
	Errors   int
}

// Total returns the sum of all counters.
func (c BatchCounters) Total() int {
	return c.Created + c.Updated + c.UpToDate + c.Errors
}

// Add accumulates another counter set.
func (c *BatchCounters) Add(o BatchCounters) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.UpToDate += o.UpToDate
	c.Errors += o.Errors
}

// BatchResult is the outcome of one EnsureRecords run: the resulting
// records plus counters. Written records (created or updated) come
// first in Records, unchanged records last; callers rely on this to
// know which records the run actually touched.
type BatchResult struct {
	Records  []Record
	Counters BatchCounters
}

// Update pairs an existing record with its desired replacement.
type Update struct {
	Existing Record
	Desired  RecordConfig
}

// Plan is the output of the classify pass.
type Plan struct {
	Creates   []RecordConfig
	Updates   []Update
	Unchanged []Record

	// Errors counts desired records dropped during classification
	// (failed IP resolution or validation). Each removes only that
	// record from the batch.
	Errors int
}

// Planner is the adapter surface the classify pass needs. Every Provider
// satisfies it.
type Planner interface {
	Validate(desired *RecordConfig) error
	FindCached(rtype, name string) (Record, bool)
	NeedsUpdate(existing Record, desired RecordConfig) bool
}

// Classify buckets each desired record into create, update, or unchanged
// against the adapter's cache. Pending apex records are resolved through
// the IP resolver first; a resolution or validation failure excludes only
// that record and is counted, never aborting the rest.
func Classify(ctx context.Context, desired []RecordConfig, p Planner, resolver IPResolver, logger *slog.Logger) Plan {
	if logger == nil {
		logger = slog.Default()
	}

	var plan Plan
	for _, cfg := range desired {
		if cfg.NeedsIPLookup || cfg.Content == PendingContent {
			if err := resolvePending(ctx, &cfg, resolver); err != nil {
				logger.Warn("skipping record, IP resolution failed",
					slog.String("name", cfg.Name),
					slog.String("type", cfg.Type),
					slog.String("error", err.Error()),
				)
				plan.Errors++
				continue
			}
		}

		if err := p.Validate(&cfg); err != nil {
			logger.Warn("skipping record, validation failed",
				slog.String("name", cfg.Name),
				slog.String("type", cfg.Type),
				slog.String("error", err.Error()),
			)
			plan.Errors++
			continue
		}

		existing, found := p.FindCached(cfg.Type, cfg.Name)
		switch {
		case !found:
			plan.Creates = append(plan.Creates, cfg)
		case p.NeedsUpdate(existing, cfg):
			plan.Updates = append(plan.Updates, Update{Existing: existing, Desired: cfg})
		default:
			plan.Unchanged = append(plan.Unchanged, existing)
		}
	}

	return plan
}

// resolvePending replaces the pending sentinel with the current public IP
// for the record's address family.
func resolvePending(ctx context.Context, cfg *RecordConfig, resolver IPResolver) error {
	if resolver == nil {
		return &ValidationError{Name: cfg.Name, Field: "content", Message: "no IP resolver configured"}
	}

	var (
		ip  string
		err error
	)
	if cfg.Type == TypeAAAA {
		ip, err = resolver.PublicIPv6(ctx)
	} else {
		ip, err = resolver.PublicIPv4(ctx)
	}
	if err != nil {
		return err
	}

	cfg.Content = ip
	cfg.NeedsIPLookup = false
	return nil
}

// Applier executes single-record writes for the apply pass.
type Applier interface {
	CreateRecord(ctx context.Context, desired RecordConfig) (*Record, error)
	UpdateRecord(ctx context.Context, existing Record, desired RecordConfig) (*Record, error)
}

// ApplySequential executes a plan one write at a time: all creates, then
// all updates. The batch is explicitly non-transactional; each failure is
// logged and counted and the remaining applies continue. Unchanged
// records pass through into the result unmodified.
//
// Cloudflare and DigitalOcean use this directly; Route53 replaces it with
// a transactional change batch.
func ApplySequential(ctx context.Context, plan Plan, a Applier, logger *slog.Logger) *BatchResult {
	if logger == nil {
		logger = slog.Default()
	}

	result := &BatchResult{}
	result.Counters.Errors = plan.Errors

	for _, cfg := range plan.Creates {
		rec, err := a.CreateRecord(ctx, cfg)
		if err != nil {
			logger.Error("failed to create record",
				slog.String("name", cfg.Name),
				slog.String("type", cfg.Type),
				slog.String("error", err.Error()),
			)
			result.Counters.Errors++
			continue
		}
		result.Records = append(result.Records, *rec)
		result.Counters.Created++
	}

	for _, up := range plan.Updates {
		rec, err := a.UpdateRecord(ctx, up.Existing, up.Desired)
		if err != nil {
			logger.Error("failed to update record",
				slog.String("name", up.Desired.Name),
				slog.String("type", up.Desired.Type),
				slog.String("error", err.Error()),
			)
			result.Counters.Errors++
			continue
		}
		result.Records = append(result.Records, *rec)
		result.Counters.Updated++
	}

	result.Records = append(result.Records, plan.Unchanged...)
	result.Counters.UpToDate = len(plan.Unchanged)

	return result
}
