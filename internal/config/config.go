// Package config loads dnssync configuration from a YAML file with
// environment-variable overrides, including the Docker-secrets _FILE
// pattern for credentials.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when neither file nor environment set a value.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultHealthPort   = 8080
	DefaultTrackerPath  = "/var/lib/dnssync/records.json"
	DefaultLabelPrefix  = "dns."
	DefaultTTL          = 300
)

// DockerConfig selects how workloads are discovered.
type DockerConfig struct {
	Host           string `yaml:"host"`
	Mode           string `yaml:"mode"`
	IncludeStopped bool   `yaml:"include_stopped"`
}

// TraefikConfig points at the routing-table sources.
type TraefikConfig struct {
	// Endpoint is the admin API base URL, e.g. "http://traefik:8080".
	// Empty disables API polling.
	Endpoint string `yaml:"endpoint"`

	// FilePaths are dynamic-config files or directories to scan for
	// file-provider routers.
	FilePaths []string `yaml:"file_paths"`

	// FilePattern is the comma-separated glob list for directory scans.
	FilePattern string `yaml:"file_pattern"`
}

// ProviderInstance configures one named provider adapter.
type ProviderInstance struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Settings are adapter-specific keys (TOKEN, ZONE, ...), merged
	// from the file's settings map and DNSSYNC_<NAME>_<KEY> env vars.
	Settings map[string]string `yaml:"settings"`
}

// Config is the complete runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	PollInterval time.Duration `yaml:"poll_interval"`
	HealthPort   int           `yaml:"health_port"`

	LabelPrefix string `yaml:"label_prefix"`
	DefaultTTL  int    `yaml:"default_ttl"`

	TrackerPath        string   `yaml:"tracker_path"`
	CleanupEnabled     bool     `yaml:"cleanup_enabled"`
	PreservedHostnames []string `yaml:"preserved_hostnames"`

	Docker    DockerConfig       `yaml:"docker"`
	Traefik   TraefikConfig      `yaml:"traefik"`
	Providers []ProviderInstance `yaml:"providers"`
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		LogLevel:       "info",
		LogFormat:      "json",
		PollInterval:   DefaultPollInterval,
		HealthPort:     DefaultHealthPort,
		LabelPrefix:    DefaultLabelPrefix,
		DefaultTTL:     DefaultTTL,
		TrackerPath:    DefaultTrackerPath,
		CleanupEnabled: true,
	}

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	loadProviderEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.PollInterval < time.Second {
		errs = append(errs, "poll_interval must be at least 1s")
	}
	if c.HealthPort < 1 || c.HealthPort > 65535 {
		errs = append(errs, "health_port must be a valid port")
	}
	if c.TrackerPath == "" {
		errs = append(errs, "tracker_path is required")
	}
	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}

	seen := make(map[string]struct{})
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "provider: name is required")
			continue
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, "provider "+p.Name+": duplicate name")
		}
		seen[p.Name] = struct{}{}

		switch strings.ToLower(p.Type) {
		case "cloudflare", "digitalocean", "route53":
		case "":
			errs = append(errs, "provider "+p.Name+": type is required")
		default:
			errs = append(errs, "provider "+p.Name+": unknown type "+p.Type)
		}
	}

	switch c.Docker.Mode {
	case "", "auto", "swarm", "standalone":
	default:
		errs = append(errs, "docker.mode must be auto, swarm, or standalone")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseDuration reads either a Go duration string or a bare number of
// seconds.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
