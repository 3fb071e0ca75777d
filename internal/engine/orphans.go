package engine

import (
	"context"
	"log/slog"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// cleanupOrphans deletes records this tool created whose hostname is no
// longer active. A record is eligible only when all three hold: it is
// tracked for this provider and domain, its normalized name is absent
// from the active set, and it matches no preserved pattern. Untracked
// records are never touched regardless of hostname state. The scan
// works from a freshly fetched record list, never the cache, so records
// changed outside a sync pass are seen.
func (e *Engine) cleanupOrphans(ctx context.Context, p provider.Provider, activeSet map[string]struct{}, pr *ProviderResult) {
	records, err := p.Records(ctx, true)
	if err != nil {
		e.logger.Error("orphan scan failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		pr.DeleteErrors++
		return
	}

	for _, rec := range records {
		name := provider.NormalizeName(rec.Name)

		if !e.tracked.IsTracked(p.Name(), p.Domain(), name, rec.Type) {
			continue
		}
		if _, isActive := activeSet[name]; isActive {
			continue
		}
		if e.preserved != nil && e.preserved.Matches(name) {
			e.logger.Debug("skipping preserved hostname",
				slog.String("provider", p.Name()),
				slog.String("name", name),
			)
			continue
		}

		if err := p.DeleteRecord(ctx, rec); err != nil {
			e.logger.Error("orphan deletion failed",
				slog.String("provider", p.Name()),
				slog.String("name", name),
				slog.String("type", rec.Type),
				slog.String("error", err.Error()),
			)
			pr.DeleteErrors++
			continue
		}

		if err := e.tracked.Untrack(p.Name(), p.Domain(), name, rec.Type); err != nil {
			e.logger.Error("failed to persist tracker state",
				slog.String("provider", p.Name()),
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
		pr.Deleted++

		e.logger.Info("deleted orphan record",
			slog.String("provider", p.Name()),
			slog.String("name", name),
			slog.String("type", rec.Type),
		)
	}
}
