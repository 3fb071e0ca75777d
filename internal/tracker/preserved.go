package tracker

import (
	"strings"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// PreservedList is the allow-list of hostnames orphan cleanup must never
// delete. Patterns are either exact hostnames or "*."-prefixed wildcards
// matching any direct or nested subdomain.
type PreservedList struct {
	exact     map[string]struct{}
	wildcards []string
}

// NewPreservedList builds a list from the configured patterns.
func NewPreservedList(patterns []string) *PreservedList {
	l := &PreservedList{
		exact: make(map[string]struct{}),
	}
	for _, p := range patterns {
		p = provider.NormalizeName(p)
		if p == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(p, "*."); ok {
			l.wildcards = append(l.wildcards, suffix)
			continue
		}
		l.exact[p] = struct{}{}
	}
	return l
}

// Matches reports whether the hostname is preserved.
func (l *PreservedList) Matches(hostname string) bool {
	h := provider.NormalizeName(hostname)
	if _, ok := l.exact[h]; ok {
		return true
	}
	for _, suffix := range l.wildcards {
		if strings.HasSuffix(h, "."+suffix) {
			return true
		}
	}
	return false
}

// Len returns the number of configured patterns.
func (l *PreservedList) Len() int {
	return len(l.exact) + len(l.wildcards)
}
