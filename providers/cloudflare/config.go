package cloudflare

import (
	"fmt"
	"strings"
	"time"
)

// MinTTL is Cloudflare's minimum record TTL. TTL 1 means "automatic" and
// is what proxied records always carry.
const (
	MinTTL  = 60
	AutoTTL = 1
)

// Config holds Cloudflare-specific configuration.
type Config struct {
	Token       string        // API token (Bearer authentication)
	Zone        string        // Zone name (e.g. "example.com")
	ZoneID      string        // Zone ID; looked up from Zone when empty
	CacheMaxAge time.Duration // Record cache freshness window
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.Token == "" {
		errs = append(errs, "TOKEN is required")
	}
	if c.Zone == "" {
		errs = append(errs, "ZONE is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("cloudflare config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigFromMap builds a Config from the provider-instance settings map.
// Recognized keys: TOKEN, ZONE, ZONE_ID, CACHE_MAX_AGE (Go duration).
func ConfigFromMap(name string, settings map[string]string) (*Config, error) {
	cfg := &Config{
		Token:  settings["TOKEN"],
		Zone:   settings["ZONE"],
		ZoneID: settings["ZONE_ID"],
	}

	if v := settings["CACHE_MAX_AGE"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid CACHE_MAX_AGE %q: %w", name, v, err)
		}
		cfg.CacheMaxAge = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return cfg, nil
}
