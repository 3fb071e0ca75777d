// Package metrics defines the Prometheus collectors exported on the
// health server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal counts completed sync cycles by outcome.
	SyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_syncs_total",
		Help: "Total number of sync cycles, labeled by status (success, partial, error).",
	}, []string{"status"})

	// SyncDuration observes wall-clock time per sync cycle.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dnssync_sync_duration_seconds",
		Help:    "Duration of sync cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// WorkloadsScanned is the workload count seen by the last cycle.
	WorkloadsScanned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dnssync_workloads_scanned",
		Help: "Number of workloads scanned in the last sync cycle.",
	})

	// HostnamesActive is the active hostname count of the last cycle.
	HostnamesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dnssync_hostnames_active",
		Help: "Number of active hostnames in the last sync cycle.",
	})

	// RecordsCreatedTotal counts created records per provider.
	RecordsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_records_created_total",
		Help: "Total DNS records created, labeled by provider.",
	}, []string{"provider"})

	// RecordsUpdatedTotal counts updated records per provider.
	RecordsUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_records_updated_total",
		Help: "Total DNS records updated, labeled by provider.",
	}, []string{"provider"})

	// RecordsDeletedTotal counts orphan deletions per provider.
	RecordsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_records_deleted_total",
		Help: "Total DNS records deleted by orphan cleanup, labeled by provider.",
	}, []string{"provider"})

	// RecordsFailedTotal counts failed record operations.
	RecordsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_records_failed_total",
		Help: "Total failed DNS record operations, labeled by provider and operation.",
	}, []string{"provider", "operation"})

	// CacheRefreshesTotal counts provider record-cache refreshes.
	CacheRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnssync_cache_refreshes_total",
		Help: "Total provider record cache refreshes, labeled by provider.",
	}, []string{"provider"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnssync_build_info",
		Help: "Build information, value is always 1.",
	}, []string{"version", "go_version"})
)

// SetBuildInfo publishes the build version labels.
func SetBuildInfo(version, goVersion string) {
	buildInfo.WithLabelValues(version, goVersion).Set(1)
}
