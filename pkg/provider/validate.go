package provider

import (
	"net"
	"strings"
)

// Type-specific defaults filled in by ValidateRecord.
const (
	DefaultMXPriority  = 10
	DefaultSRVPriority = 1
	DefaultSRVWeight   = 1
	DefaultCAAFlags    = 0
)

// Constraints captures the per-backend limits ValidateRecord enforces.
type Constraints struct {
	// MinTTL is the smallest TTL the backend accepts.
	MinTTL int

	// AutoTTL is a TTL value with special "automatic" meaning that is
	// accepted below MinTTL (Cloudflare uses 1). Zero means none.
	AutoTTL int
}

// ValidateRecord fills type-specific defaults in place and rejects
// records missing mandatory fields or violating backend constraints.
// Every adapter's Validate delegates here with its own Constraints.
func ValidateRecord(desired *RecordConfig, c Constraints) error {
	desired.Type = strings.ToUpper(desired.Type)

	if desired.Name == "" {
		return &ValidationError{Name: desired.Name, Field: "name", Message: "is required"}
	}
	if desired.NeedsIPLookup || desired.Content == PendingContent {
		// The classify pass resolves the sentinel before validating; a
		// leftover means IP resolution failed or was skipped.
		return &ValidationError{Name: desired.Name, Field: "content", Message: "unresolved IP lookup"}
	}

	switch desired.Type {
	case TypeA:
		if desired.Content == "" {
			return &ValidationError{Name: desired.Name, Field: "content", Message: "is required for A records"}
		}
		ip := net.ParseIP(desired.Content)
		if ip == nil || ip.To4() == nil {
			return &ValidationError{Name: desired.Name, Field: "content", Message: "must be an IPv4 address"}
		}
	case TypeAAAA:
		if desired.Content == "" {
			return &ValidationError{Name: desired.Name, Field: "content", Message: "is required for AAAA records"}
		}
		ip := net.ParseIP(desired.Content)
		if ip == nil || ip.To4() != nil {
			return &ValidationError{Name: desired.Name, Field: "content", Message: "must be an IPv6 address"}
		}
	case TypeCNAME, TypeTXT:
		if desired.Content == "" {
			return &ValidationError{Name: desired.Name, Field: "content", Message: "is required for " + desired.Type + " records"}
		}
	case TypeMX:
		if desired.Priority == nil {
			desired.Priority = IntPtr(DefaultMXPriority)
		}
	case TypeSRV:
		if desired.Priority == nil {
			desired.Priority = IntPtr(DefaultSRVPriority)
		}
		if desired.Weight == nil {
			desired.Weight = IntPtr(DefaultSRVWeight)
		}
		if desired.Port == nil {
			return &ValidationError{Name: desired.Name, Field: "port", Message: "is required for SRV records"}
		}
	case TypeCAA:
		if desired.Flags == nil {
			desired.Flags = IntPtr(DefaultCAAFlags)
		}
		if desired.Tag == "" {
			return &ValidationError{Name: desired.Name, Field: "tag", Message: "is required for CAA records"}
		}
	default:
		return &ValidationError{Name: desired.Name, Field: "type", Message: "unsupported record type " + desired.Type}
	}

	if desired.Proxied != nil && !ProxiableType(desired.Type) {
		return &ValidationError{Name: desired.Name, Field: "proxied", Message: "only valid for A, AAAA, and CNAME records"}
	}

	if desired.TTL < c.MinTTL {
		if !(c.AutoTTL > 0 && desired.TTL == c.AutoTTL) {
			return &ValidationError{Name: desired.Name, Field: "ttl", Message: "below backend minimum"}
		}
	}

	return nil
}

// NeedsUpdate is the shared divergence policy: content compared after
// trailing-dot/case normalization, TTL ignored when the record is proxied
// (Cloudflare forces automatic TTL on proxied records), type-specific
// fields compared, proxied compared only for types that support it.
func NeedsUpdate(existing Record, desired RecordConfig) bool {
	if !ContentEqual(existing.Content, desired.Content) {
		return true
	}

	proxied := existing.Proxied != nil && *existing.Proxied
	if desired.Proxied != nil && *desired.Proxied {
		proxied = true
	}
	if !proxied && desired.TTL > 0 && existing.TTL != desired.TTL {
		return true
	}

	if ProxiableType(desired.Type) && desired.Proxied != nil {
		if existing.Proxied == nil || *existing.Proxied != *desired.Proxied {
			return true
		}
	}

	if intDiverges(existing.Priority, desired.Priority) ||
		intDiverges(existing.Weight, desired.Weight) ||
		intDiverges(existing.Port, desired.Port) ||
		intDiverges(existing.Flags, desired.Flags) {
		return true
	}
	if desired.Tag != "" && existing.Tag != desired.Tag {
		return true
	}

	return false
}

// intDiverges reports whether a desired optional field differs from the
// existing one. An unset desired field never forces an update.
func intDiverges(existing, desired *int) bool {
	if desired == nil {
		return false
	}
	return existing == nil || *existing != *desired
}
