// dnssync keeps DNS records in sync with a Traefik routing table. It
// watches Docker for container changes, extracts hostnames from router
// rules, and reconciles records at Cloudflare, DigitalOcean, and Route53.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"gitlab.bluewillows.net/root/dnssync/internal/config"
	"gitlab.bluewillows.net/root/dnssync/internal/docker"
	"gitlab.bluewillows.net/root/dnssync/internal/engine"
	"gitlab.bluewillows.net/root/dnssync/internal/health"
	"gitlab.bluewillows.net/root/dnssync/internal/iplookup"
	"gitlab.bluewillows.net/root/dnssync/internal/metrics"
	"gitlab.bluewillows.net/root/dnssync/internal/tracker"
	"gitlab.bluewillows.net/root/dnssync/internal/traefik"
	"gitlab.bluewillows.net/root/dnssync/internal/watcher"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
	"gitlab.bluewillows.net/root/dnssync/providers/cloudflare"
	"gitlab.bluewillows.net/root/dnssync/providers/digitalocean"
	"gitlab.bluewillows.net/root/dnssync/providers/route53"
)

// Version and BuildDate are set via ldflags during build.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("DNSSYNC_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("dnssync starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := iplookup.New(iplookup.WithLogger(logger))

	providerRegistry := provider.NewRegistry()
	providerRegistry.RegisterFactory("cloudflare", cloudflare.Factory(resolver, logger))
	providerRegistry.RegisterFactory("digitalocean", digitalocean.Factory(resolver, logger))
	providerRegistry.RegisterFactory("route53", route53.Factory(resolver, logger))

	for _, inst := range cfg.Providers {
		if err := providerRegistry.CreateInstance(inst.Name, inst.Type, inst.Settings); err != nil {
			return err
		}
	}

	// Zone resolution and credential checks happen up front; a provider
	// that cannot reach its zone is a startup failure, not something to
	// retry every cycle.
	for _, p := range providerRegistry.All() {
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		err := p.Init(initCtx)
		initCancel()
		if err != nil {
			return fmt.Errorf("initializing provider %s: %w", p.Name(), err)
		}
	}

	tracked, err := tracker.New(cfg.TrackerPath)
	if err != nil {
		return fmt.Errorf("loading tracker state: %w", err)
	}
	logger.Info("tracker state loaded",
		slog.String("path", tracked.Path()),
		slog.Int("records", tracked.Len()),
	)
	preserved := tracker.NewPreservedList(cfg.PreservedHostnames)

	dockerClient, err := docker.NewClient(ctx,
		docker.WithHost(cfg.Docker.Host),
		docker.WithMode(docker.Mode(cfg.Docker.Mode)),
		docker.WithIncludeStopped(cfg.Docker.IncludeStopped),
		docker.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer dockerClient.Close()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConfig(engine.Config{
			LabelPrefix:    cfg.LabelPrefix,
			DefaultType:    provider.TypeCNAME,
			DefaultTTL:     cfg.DefaultTTL,
			CleanupOrphans: cfg.CleanupEnabled,
		}),
		engine.WithWorkloads(dockerClient),
	}
	if cfg.Traefik.Endpoint != "" {
		engineOpts = append(engineOpts, engine.WithRouters(
			traefik.NewClient(cfg.Traefik.Endpoint, traefik.WithLogger(logger)),
		))
	}
	if len(cfg.Traefik.FilePaths) > 0 {
		engineOpts = append(engineOpts, engine.WithFileRouters(
			traefik.NewFileDiscovery(cfg.Traefik.FilePaths, cfg.Traefik.FilePattern, logger),
		))
	}

	eng := engine.New(providerRegistry, tracked, preserved, resolver, engineOpts...)

	triggerSync := func() {
		result, err := eng.TrySync(ctx)
		if err != nil {
			logger.Error("sync failed", slog.String("error", err.Error()))
			return
		}
		if result != nil && result.HasErrors() {
			logger.Warn("sync finished with errors", slog.String("status", result.Status()))
		}
	}

	dockerWatcher := watcher.New(dockerClient, triggerSync,
		watcher.WithLogger(logger),
	)

	healthServer := health.New(cfg.HealthPort, health.WithLogger(logger))
	for _, p := range providerRegistry.All() {
		healthServer.RegisterChecker("provider:"+p.Name(), p.Ping)
	}
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	if err := dockerWatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting docker watcher: %w", err)
	}

	logger.Info("running initial sync")
	triggerSync()

	// Periodic syncs catch missed events and external drift.
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				triggerSync()
			}
		}
	}()

	logger.Info("dnssync initialized",
		slog.Int("providers", providerRegistry.Count()),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("health_port", cfg.HealthPort),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	cancel()
	dockerWatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("dnssync shutdown complete")
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
