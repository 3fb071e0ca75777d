package traefik

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFilePattern matches the usual dynamic-config file names.
const DefaultFilePattern = "*.yml,*.yaml,*.toml"

// fileConfig is the slice of a Traefik dynamic-config file we read.
// Services, middlewares and TLS sections are deliberately ignored so a
// middleware-only file never contributes hostnames.
type fileConfig struct {
	HTTP *struct {
		Routers map[string]*struct {
			Rule string `yaml:"rule" toml:"rule"`
		} `yaml:"routers" toml:"routers"`
	} `yaml:"http" toml:"http"`
}

// FileDiscovery scans Traefik dynamic-config files for router rules.
// This covers routers declared through Traefik's file provider, which
// never appear on any workload's labels.
type FileDiscovery struct {
	paths   []string
	pattern string
	logger  *slog.Logger
}

// NewFileDiscovery creates a scanner over the given files or
// directories. An empty pattern uses DefaultFilePattern.
func NewFileDiscovery(paths []string, pattern string, logger *slog.Logger) *FileDiscovery {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDiscovery{
		paths:   paths,
		pattern: pattern,
		logger:  logger,
	}
}

// Routers returns the router rules found across all configured paths,
// keyed by router name. Unreadable or malformed files are logged and
// skipped.
func (d *FileDiscovery) Routers(ctx context.Context) (map[string]string, error) {
	patterns := strings.Split(d.pattern, ",")
	for i := range patterns {
		patterns[i] = strings.TrimSpace(patterns[i])
	}

	var files []string
	for _, path := range d.paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				d.logger.Warn("traefik config path does not exist",
					slog.String("path", path),
				)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			found, err := findFiles(path, patterns)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		} else if matchesAny(filepath.Base(path), patterns) {
			files = append(files, path)
		}
	}

	rules := make(map[string]string)
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cfg, err := parseFile(file)
		if err != nil {
			d.logger.Warn("failed to parse traefik config file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			continue
		}
		if cfg.HTTP == nil {
			continue
		}
		for name, router := range cfg.HTTP.Routers {
			if router == nil || router.Rule == "" {
				continue
			}
			rules[name] = router.Rule
		}
	}

	d.logger.Debug("scanned traefik config files",
		slog.Int("files", len(files)),
		slog.Int("routers", len(rules)),
	)
	return rules, nil
}

func findFiles(dir string, patterns []string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if matchesAny(entry.Name(), patterns) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", dir, err)
	}
	return matches, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// parseFile decodes one dynamic-config file, picking the codec by
// extension. Unknown extensions are tried as YAML.
func parseFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var cfg fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return &cfg, nil
}
