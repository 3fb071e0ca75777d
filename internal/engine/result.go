package engine

import (
	"fmt"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// ProviderResult is one provider's share of a sync cycle.
type ProviderResult struct {
	Provider string
	Domain   string
	Counters provider.BatchCounters
	Deleted  int

	// DeleteErrors counts orphan deletions that failed; each is logged
	// and tolerated.
	DeleteErrors int

	// Err is set when the provider's whole batch could not run.
	Err error
}

// Result is the outcome of one sync cycle.
type Result struct {
	StartTime time.Time
	EndTime   time.Time

	WorkloadsScanned int
	HostnamesActive  int

	Providers []ProviderResult
}

// NewResult starts timing a cycle.
func NewResult() *Result {
	return &Result{StartTime: time.Now()}
}

// Complete stops the clock.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the cycle's wall-clock time.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Counters aggregates all providers' batch counters.
func (r *Result) Counters() provider.BatchCounters {
	var total provider.BatchCounters
	for _, pr := range r.Providers {
		total.Add(pr.Counters)
	}
	return total
}

// Deleted returns the total orphan deletions.
func (r *Result) Deleted() int {
	n := 0
	for _, pr := range r.Providers {
		n += pr.Deleted
	}
	return n
}

// HasErrors reports whether anything in the cycle failed.
func (r *Result) HasErrors() bool {
	for _, pr := range r.Providers {
		if pr.Err != nil || pr.Counters.Errors > 0 || pr.DeleteErrors > 0 {
			return true
		}
	}
	return false
}

// Status summarizes the cycle for metrics: success, partial, or error.
func (r *Result) Status() string {
	failed := 0
	for _, pr := range r.Providers {
		if pr.Err != nil {
			failed++
		}
	}
	switch {
	case len(r.Providers) > 0 && failed == len(r.Providers):
		return "error"
	case r.HasErrors():
		return "partial"
	default:
		return "success"
	}
}

// Summary renders a short human-readable report.
func (r *Result) Summary() string {
	var sb strings.Builder
	c := r.Counters()
	fmt.Fprintf(&sb, "sync complete in %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  workloads scanned: %d\n", r.WorkloadsScanned)
	fmt.Fprintf(&sb, "  active hostnames: %d\n", r.HostnamesActive)
	fmt.Fprintf(&sb, "  created: %d, updated: %d, up-to-date: %d, errors: %d\n",
		c.Created, c.Updated, c.UpToDate, c.Errors)
	fmt.Fprintf(&sb, "  orphans deleted: %d\n", r.Deleted())
	for _, pr := range r.Providers {
		if pr.Err != nil {
			fmt.Fprintf(&sb, "  provider %s failed: %s\n", pr.Provider, pr.Err)
		}
	}
	return sb.String()
}
