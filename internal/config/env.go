package config

import (
	"os"
	"strconv"
	"strings"
)

// envPrefix is the prefix of every dnssync environment variable.
const envPrefix = "DNSSYNC_"

// Provider-setting keys recognized in DNSSYNC_<NAME>_<KEY> form, each
// also accepting the _FILE suffix for Docker secrets.
var providerSettingKeys = []string{
	"TOKEN",
	"ZONE",
	"ZONE_ID",
	"DOMAIN",
	"ACCESS_KEY_ID",
	"SECRET_ACCESS_KEY",
	"REGION",
	"CACHE_MAX_AGE",
}

// applyEnv overlays global settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(envPrefix + "POLL_INTERVAL"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(envPrefix + "HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HealthPort = port
		}
	}
	if v := os.Getenv(envPrefix + "LABEL_PREFIX"); v != "" {
		cfg.LabelPrefix = v
	}
	if v := os.Getenv(envPrefix + "DEFAULT_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTTL = ttl
		}
	}
	if v := os.Getenv(envPrefix + "TRACKER_PATH"); v != "" {
		cfg.TrackerPath = v
	}
	if v := os.Getenv(envPrefix + "CLEANUP_ENABLED"); v != "" {
		cfg.CleanupEnabled = parseBool(v, cfg.CleanupEnabled)
	}
	if v := os.Getenv(envPrefix + "PRESERVED_HOSTNAMES"); v != "" {
		cfg.PreservedHostnames = splitList(v)
	}
	if v := os.Getenv(envPrefix + "DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}
	if v := os.Getenv(envPrefix + "DOCKER_MODE"); v != "" {
		cfg.Docker.Mode = v
	}
	if v := os.Getenv(envPrefix + "DOCKER_INCLUDE_STOPPED"); v != "" {
		cfg.Docker.IncludeStopped = parseBool(v, cfg.Docker.IncludeStopped)
	}
	if v := os.Getenv(envPrefix + "TRAEFIK_ENDPOINT"); v != "" {
		cfg.Traefik.Endpoint = v
	}
	if v := os.Getenv(envPrefix + "TRAEFIK_FILE_PATHS"); v != "" {
		cfg.Traefik.FilePaths = splitList(v)
	}
	if v := os.Getenv(envPrefix + "TRAEFIK_FILE_PATTERN"); v != "" {
		cfg.Traefik.FilePattern = v
	}
}

// loadProviderEnv overlays per-instance settings from
// DNSSYNC_<INSTANCE>_<KEY> variables, where the instance name is
// uppercased with dashes mapped to underscores. A <KEY>_FILE variant
// reads the value from the named file (Docker secrets).
func loadProviderEnv(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Settings == nil {
			p.Settings = make(map[string]string)
		}
		prefix := envPrefix + instanceEnvName(p.Name) + "_"
		for _, key := range providerSettingKeys {
			if v := getEnvOrFile(prefix+key, prefix+key+"_FILE"); v != "" {
				p.Settings[key] = v
			}
		}
	}
}

// getEnvOrFile reads a value from a direct variable or, preferentially,
// from the file a companion variable points at.
func getEnvOrFile(directKey, fileKey string) string {
	if path := os.Getenv(fileKey); path != "" {
		if content, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return os.Getenv(directKey)
}

// instanceEnvName maps "internal-dns" to "INTERNAL_DNS".
func instanceEnvName(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// parseBool accepts true/false, 1/0, yes/no, on/off.
func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
