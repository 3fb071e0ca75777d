// Package dnslabel turns reverse-proxy routing rules and container labels
// into desired DNS record configurations. All functions are pure; the
// orchestration loop supplies configuration defaults and the cached
// public IP.
package dnslabel

import (
	"regexp"
	"strconv"
	"strings"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// DefaultPrefix is the label namespace consulted for per-hostname
// overrides (dns.type, dns.content, ...).
const DefaultPrefix = "dns."

// hostFuncRegex matches function-style Host(`hostname`) matchers in
// Traefik v2/v3 router rules, possibly repeated within one rule.
var hostFuncRegex = regexp.MustCompile("Host\\(`([^`]+)`\\)")

// hostLegacyRegex matches legacy v1-style "Host:a.com,b.com" matchers.
var hostLegacyRegex = regexp.MustCompile(`Host:([^;\s]+)`)

// HostnamesFromRule extracts every hostname from a routing-rule
// expression. Both grammars are recognized and all matches across both
// are returned, deduplicated in order of appearance.
//
// Examples:
//
//	Host(`a.example.com`) && Host(`b.example.com`)  -> [a.example.com b.example.com]
//	Host:a.example.com,b.example.com                 -> [a.example.com b.example.com]
func HostnamesFromRule(rule string) []string {
	seen := make(map[string]struct{})
	var hosts []string

	add := func(h string) {
		h = strings.TrimSpace(h)
		if h == "" {
			return
		}
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	for _, m := range hostFuncRegex.FindAllStringSubmatch(rule, -1) {
		add(m[1])
	}
	for _, m := range hostLegacyRegex.FindAllStringSubmatch(rule, -1) {
		for _, h := range strings.Split(m[1], ",") {
			add(h)
		}
	}

	return hosts
}

// IsApexDomain reports whether hostname is the zone root itself.
// Both sides are compared after stripping trailing dots.
func IsApexDomain(hostname, zone string) bool {
	return strings.EqualFold(
		strings.TrimSuffix(hostname, "."),
		strings.TrimSuffix(zone, "."),
	)
}

// Skip reports whether the container opted this hostname out of DNS
// management via the skip label. Only the literal "true" skips.
func Skip(labels map[string]string, prefix string) bool {
	return labels[prefix+"skip"] == "true"
}

// Config holds the extraction defaults for one provider zone.
type Config struct {
	// Zone is the provider's DNS zone, used for apex detection and as
	// the default CNAME target.
	Zone string

	// Prefix is the label namespace (DefaultPrefix when empty).
	Prefix string

	// DefaultType is the record type for non-apex hostnames without a
	// type label (typically CNAME).
	DefaultType string

	// DefaultContent overrides the per-type default content when set.
	DefaultContent string

	// DefaultTTL is applied when no ttl label is present.
	DefaultTTL int

	// DefaultProxied is the proxied default for proxiable types.
	DefaultProxied bool

	// CachedIPv4 is the synchronously cached public IPv4, empty when the
	// cache is cold. Apex A records use it directly; without it the
	// record carries the pending sentinel and is resolved during the
	// classify pass.
	CachedIPv4 string
}

// FromLabels builds the desired record for one hostname from its
// container labels and the zone defaults.
//
// Resolution order per field: label override, then type-specific default.
// An apex hostname with a CNAME or A type is forced to A, since a CNAME
// cannot exist at the zone root.
//
// The proxied label preserves the literal semantics of the label surface:
// any present value other than the string "false" (including the empty
// string) enables proxying.
func FromLabels(labels map[string]string, cfg Config, hostname string) provider.RecordConfig {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	get := func(key string) (string, bool) {
		v, ok := labels[prefix+key]
		return v, ok
	}

	apex := IsApexDomain(hostname, cfg.Zone)

	rtype, ok := get("type")
	if !ok || rtype == "" {
		if apex {
			rtype = provider.TypeA
		} else {
			rtype = cfg.DefaultType
		}
	}
	rtype = strings.ToUpper(rtype)

	desired := provider.RecordConfig{
		Type: rtype,
		Name: hostname,
		TTL:  cfg.DefaultTTL,
	}

	if ttlStr, ok := get("ttl"); ok {
		if ttl, err := strconv.Atoi(ttlStr); err == nil {
			desired.TTL = ttl
		}
	}

	if content, ok := get("content"); ok && content != "" {
		desired.Content = content
	} else if apex && (rtype == provider.TypeCNAME || rtype == provider.TypeA) {
		// A CNAME at the apex is invalid; serve the zone root from the
		// public IP instead, deferring the lookup when the cache is cold.
		desired.Type = provider.TypeA
		if cfg.CachedIPv4 != "" {
			desired.Content = cfg.CachedIPv4
		} else {
			desired.Content = provider.PendingContent
			desired.NeedsIPLookup = true
		}
	} else {
		desired.Content = defaultContent(desired.Type, cfg)
		if desired.Content == provider.PendingContent {
			desired.NeedsIPLookup = true
		}
	}

	if provider.ProxiableType(desired.Type) {
		if v, ok := get("proxied"); ok {
			desired.Proxied = provider.BoolPtr(v != "false")
		} else {
			desired.Proxied = provider.BoolPtr(cfg.DefaultProxied)
		}
	}

	if v, ok := get("priority"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			desired.Priority = provider.IntPtr(n)
		}
	}
	switch desired.Type {
	case provider.TypeMX:
		if desired.Priority == nil {
			desired.Priority = provider.IntPtr(provider.DefaultMXPriority)
		}
	case provider.TypeSRV:
		if desired.Priority == nil {
			desired.Priority = provider.IntPtr(provider.DefaultSRVPriority)
		}
		if v, ok := get("weight"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				desired.Weight = provider.IntPtr(n)
			}
		} else {
			desired.Weight = provider.IntPtr(provider.DefaultSRVWeight)
		}
		if v, ok := get("port"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				desired.Port = provider.IntPtr(n)
			}
		}
	case provider.TypeCAA:
		if v, ok := get("flags"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				desired.Flags = provider.IntPtr(n)
			}
		} else {
			desired.Flags = provider.IntPtr(provider.DefaultCAAFlags)
		}
		if v, ok := get("tag"); ok {
			desired.Tag = v
		}
	}

	return desired
}

// defaultContent returns the type-specific default content used when no
// content label is present.
func defaultContent(rtype string, cfg Config) string {
	if cfg.DefaultContent != "" {
		return cfg.DefaultContent
	}
	switch rtype {
	case provider.TypeCNAME:
		// Subdomains alias the zone root unless told otherwise.
		return strings.TrimSuffix(cfg.Zone, ".")
	case provider.TypeA:
		if cfg.CachedIPv4 != "" {
			return cfg.CachedIPv4
		}
		return provider.PendingContent
	}
	return ""
}
