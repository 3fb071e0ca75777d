package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML decoding, with durations as
// strings so both "90s" and bare seconds work.
type fileConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	PollInterval string `yaml:"poll_interval"`
	HealthPort   *int   `yaml:"health_port"`

	LabelPrefix string `yaml:"label_prefix"`
	DefaultTTL  *int   `yaml:"default_ttl"`

	TrackerPath        string   `yaml:"tracker_path"`
	CleanupEnabled     *bool    `yaml:"cleanup_enabled"`
	PreservedHostnames []string `yaml:"preserved_hostnames"`

	Docker    *DockerConfig      `yaml:"docker"`
	Traefik   *TraefikConfig     `yaml:"traefik"`
	Providers []ProviderInstance `yaml:"providers"`
}

// loadFile merges the YAML file at path into cfg. Only values present in
// the file override the defaults.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	if fc.PollInterval != "" {
		d, err := parseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("config file %s: invalid poll_interval: %w", path, err)
		}
		cfg.PollInterval = d
	}
	if fc.HealthPort != nil {
		cfg.HealthPort = *fc.HealthPort
	}
	if fc.LabelPrefix != "" {
		cfg.LabelPrefix = fc.LabelPrefix
	}
	if fc.DefaultTTL != nil {
		cfg.DefaultTTL = *fc.DefaultTTL
	}
	if fc.TrackerPath != "" {
		cfg.TrackerPath = fc.TrackerPath
	}
	if fc.CleanupEnabled != nil {
		cfg.CleanupEnabled = *fc.CleanupEnabled
	}
	if len(fc.PreservedHostnames) > 0 {
		cfg.PreservedHostnames = fc.PreservedHostnames
	}
	if fc.Docker != nil {
		cfg.Docker = *fc.Docker
	}
	if fc.Traefik != nil {
		cfg.Traefik = *fc.Traefik
	}
	if len(fc.Providers) > 0 {
		cfg.Providers = fc.Providers
		for i := range cfg.Providers {
			if cfg.Providers[i].Settings == nil {
				cfg.Providers[i].Settings = make(map[string]string)
			}
		}
	}
	return nil
}
