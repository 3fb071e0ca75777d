package route53

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// Route53 has no per-record payload fields: priority, weight, port, flags
// and tag travel inside the record value as space-separated prefixes. The
// helpers below compose and decompose those composite values.

// composeValue serializes a desired record into its Route53 wire value.
func composeValue(cfg provider.RecordConfig) string {
	switch cfg.Type {
	case provider.TypeTXT:
		return strconv.Quote(cfg.Content)
	case provider.TypeMX:
		return fmt.Sprintf("%d %s", intOr(cfg.Priority, provider.DefaultMXPriority), cfg.Content)
	case provider.TypeSRV:
		return fmt.Sprintf("%d %d %d %s",
			intOr(cfg.Priority, provider.DefaultSRVPriority),
			intOr(cfg.Weight, provider.DefaultSRVWeight),
			intOr(cfg.Port, 0),
			cfg.Content)
	case provider.TypeCAA:
		return fmt.Sprintf("%d %s %s",
			intOr(cfg.Flags, provider.DefaultCAAFlags),
			cfg.Tag,
			strconv.Quote(cfg.Content))
	default:
		return cfg.Content
	}
}

// decomposeValue parses a Route53 wire value back into content plus the
// type-specific fields. Malformed values fall back to the raw string as
// content so the record still surfaces in diffs.
func decomposeValue(rtype, value string) (content string, priority, weight, port, flags *int, tag string) {
	switch rtype {
	case provider.TypeTXT:
		if unquoted, err := strconv.Unquote(value); err == nil {
			return unquoted, nil, nil, nil, nil, ""
		}
		return value, nil, nil, nil, nil, ""

	case provider.TypeMX:
		parts := strings.SplitN(value, " ", 2)
		if len(parts) == 2 {
			if prio, err := strconv.Atoi(parts[0]); err == nil {
				return parts[1], provider.IntPtr(prio), nil, nil, nil, ""
			}
		}
		return value, nil, nil, nil, nil, ""

	case provider.TypeSRV:
		parts := strings.SplitN(value, " ", 4)
		if len(parts) == 4 {
			prio, err1 := strconv.Atoi(parts[0])
			w, err2 := strconv.Atoi(parts[1])
			pt, err3 := strconv.Atoi(parts[2])
			if err1 == nil && err2 == nil && err3 == nil {
				return parts[3], provider.IntPtr(prio), provider.IntPtr(w), provider.IntPtr(pt), nil, ""
			}
		}
		return value, nil, nil, nil, nil, ""

	case provider.TypeCAA:
		parts := strings.SplitN(value, " ", 3)
		if len(parts) == 3 {
			if fl, err := strconv.Atoi(parts[0]); err == nil {
				c := parts[2]
				if unquoted, err := strconv.Unquote(c); err == nil {
					c = unquoted
				}
				return c, nil, nil, nil, provider.IntPtr(fl), parts[1]
			}
		}
		return value, nil, nil, nil, nil, ""

	default:
		return value, nil, nil, nil, nil, ""
	}
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
