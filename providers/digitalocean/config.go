package digitalocean

import (
	"fmt"
	"strings"
	"time"
)

// MinTTL is DigitalOcean's minimum record TTL.
const MinTTL = 30

// Config holds DigitalOcean-specific configuration.
type Config struct {
	Token       string        // API token (Bearer authentication)
	Domain      string        // Managed domain (e.g. "example.com")
	CacheMaxAge time.Duration // Record cache freshness window
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.Token == "" {
		errs = append(errs, "TOKEN is required")
	}
	if c.Domain == "" {
		errs = append(errs, "DOMAIN is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("digitalocean config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigFromMap builds a Config from the provider-instance settings map.
// Recognized keys: TOKEN, DOMAIN (or ZONE), CACHE_MAX_AGE (Go duration).
func ConfigFromMap(name string, settings map[string]string) (*Config, error) {
	cfg := &Config{
		Token:  settings["TOKEN"],
		Domain: settings["DOMAIN"],
	}
	if cfg.Domain == "" {
		cfg.Domain = settings["ZONE"]
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
