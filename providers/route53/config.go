package route53

import (
	"fmt"
	"strconv"
	"time"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

const (
	// MinTTL is the lowest TTL Route53 accepts for a record set.
	MinTTL = 1

	// DefaultTTL is applied when a record carries no explicit TTL.
	DefaultTTL = 300

	// maxChangesPerBatch caps a single ChangeResourceRecordSets call.
	maxChangesPerBatch = 100
)

// Config holds the settings for a Route53 provider instance.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Zone            string
	ZoneID          string
	CacheMaxAge     time.Duration
}

// Validate checks that the required settings are present.
func (c *Config) Validate() error {
	if c.AccessKeyID == "" {
		return fmt.Errorf("access key id is required")
	}
	if c.SecretAccessKey == "" {
		return fmt.Errorf("secret access key is required")
	}
	if c.Zone == "" && c.ZoneID == "" {
		return fmt.Errorf("zone or zone id is required")
	}
	return nil
}

// ConfigFromMap builds a Config from the provider settings map used by
// the registry.
func ConfigFromMap(name string, settings map[string]string) (*Config, error) {
	cfg := &Config{
		AccessKeyID:     settings["ACCESS_KEY_ID"],
		SecretAccessKey: settings["SECRET_ACCESS_KEY"],
		Region:          settings["REGION"],
		Zone:            settings["ZONE"],
		ZoneID:          settings["ZONE_ID"],
		CacheMaxAge:     provider.DefaultCacheMaxAge,
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if raw := settings["CACHE_MAX_AGE"]; raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid CACHE_MAX_AGE %q: %w", name, raw, err)
		}
		cfg.CacheMaxAge = time.Duration(secs) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return cfg, nil
}
