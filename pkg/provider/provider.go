// Package provider defines the capability contract that all DNS backend
// adapters must implement, plus the record model, record cache, validation
// rules, and the classify/apply batch driver shared by the adapters.
package provider

import (
	"context"
	"strings"
)

// Well-known record types.
const (
	TypeA     = "A"
	TypeAAAA  = "AAAA"
	TypeCNAME = "CNAME"
	TypeTXT   = "TXT"
	TypeMX    = "MX"
	TypeSRV   = "SRV"
	TypeCAA   = "CAA"
)

// PendingContent is the sentinel content for records whose target IP has
// not been resolved yet. A record carrying it alongside NeedsIPLookup is
// resolved during the classify pass and is never sent to a provider.
const PendingContent = "pending"

// ManagedBy identifies records and tracker entries created by this tool.
const ManagedBy = "dnssync"

// OwnershipMarker is stamped on every created or updated record where the
// backend supports free-form comments or tags. Orphan detection uses the
// tracker file as the source of truth; the marker makes ownership visible
// in the provider's own UI.
const OwnershipMarker = "managed-by=" + ManagedBy

// Record is the canonical shape each adapter maps to and from its native
// wire format. Name is always a fully-qualified hostname without a
// trailing dot, regardless of how the backend serializes it.
type Record struct {
	ID       string
	Type     string
	Name     string
	Content  string
	TTL      int
	Proxied  *bool
	Priority *int
	Weight   *int
	Port     *int
	Flags    *int
	Tag      string
	Comment  string
}

// RecordConfig is the desired state for one hostname in one cycle,
// produced by label extraction and consumed by EnsureRecords.
type RecordConfig struct {
	Type     string
	Name     string
	Content  string
	TTL      int
	Proxied  *bool
	Priority *int
	Weight   *int
	Port     *int
	Flags    *int
	Tag      string

	// NeedsIPLookup marks an apex record whose content must be resolved
	// to the current public IP before validation.
	NeedsIPLookup bool
}

// IPResolver supplies the public IP for apex records deferred at
// extraction time.
type IPResolver interface {
	// PublicIPv4 returns the current public IPv4 address.
	PublicIPv4(ctx context.Context) (string, error)

	// PublicIPv6 returns the current public IPv6 address.
	PublicIPv6(ctx context.Context) (string, error)
}

// Provider is the capability contract for one DNS backend zone.
// Implementations keep a per-instance record cache; mutating methods keep
// that cache in sync so later lookups in the same cycle see the write
// without a remote round trip.
//
// All methods except Name, Type, and Domain ensure the adapter is
// initialized (zone resolved and authenticated) before doing anything.
type Provider interface {
	// Name returns the provider instance name (e.g. "public-cf").
	Name() string

	// Type returns the backend type ("cloudflare", "digitalocean", "route53").
	Type() string

	// Domain returns the DNS zone this instance manages.
	Domain() string

	// Init resolves and authenticates the zone. Idempotent; safe to call
	// repeatedly. Fails with ErrAuth or ErrZoneNotFound.
	Init(ctx context.Context) error

	// Records returns the cached record set, refreshing first when forced,
	// stale, or empty.
	Records(ctx context.Context, force bool) ([]Record, error)

	// RefreshCache performs a full paginated fetch and atomically replaces
	// the cache contents.
	RefreshCache(ctx context.Context) error

	// ListRecords fetches the complete remote record set without touching
	// the cache.
	ListRecords(ctx context.Context) ([]Record, error)

	// FindCached looks up a cached record by type and name, applying the
	// backend's name normalization.
	FindCached(rtype, name string) (Record, bool)

	// CreateRecord creates one record and upserts it into the cache.
	CreateRecord(ctx context.Context, desired RecordConfig) (*Record, error)

	// UpdateRecord replaces an existing record with the desired state and
	// updates the cache in place.
	UpdateRecord(ctx context.Context, existing Record, desired RecordConfig) (*Record, error)

	// DeleteRecord removes a record and drops it from the cache.
	DeleteRecord(ctx context.Context, rec Record) error

	// EnsureRecords reconciles the desired set against the backend: a
	// classify pass buckets each record into create/update/unchanged, an
	// apply pass executes the writes. Per-record failures are counted and
	// never abort the batch.
	EnsureRecords(ctx context.Context, desired []RecordConfig) (*BatchResult, error)

	// NeedsUpdate reports whether an existing record diverges from the
	// desired state under the backend's comparison rules.
	NeedsUpdate(existing Record, desired RecordConfig) bool

	// Validate fills type-specific defaults in place and rejects records
	// missing mandatory fields or violating backend constraints.
	Validate(desired *RecordConfig) error

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error
}

// NormalizeName lowercases a hostname and strips the trailing dot. All
// cache lookups and record comparisons go through it.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// ContentEqual compares record content after trailing-dot and case
// normalization. CNAME and similar targets are case-insensitive on the
// wire and backends disagree about the trailing dot.
func ContentEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// InZone reports whether hostname belongs to the given zone (equal to the
// apex or a subdomain of it). Trailing dots and case are ignored.
func InZone(hostname, zone string) bool {
	h := NormalizeName(hostname)
	z := NormalizeName(zone)
	return h == z || strings.HasSuffix(h, "."+z)
}

// IsApex reports whether hostname is the zone root itself.
func IsApex(hostname, zone string) bool {
	return NormalizeName(hostname) == NormalizeName(zone)
}

// ProxiableType reports whether a record type supports the proxied flag.
func ProxiableType(rtype string) bool {
	switch rtype {
	case TypeA, TypeAAAA, TypeCNAME:
		return true
	}
	return false
}

// BoolPtr returns a pointer to b. Convenience for building records.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }
