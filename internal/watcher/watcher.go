// Package watcher subscribes to Docker events and turns workload changes
// into debounced sync triggers. It reconnects automatically when the
// event stream drops.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"gitlab.bluewillows.net/root/dnssync/internal/docker"
)

// SyncFunc is called when events indicate the desired record set may
// have changed.
type SyncFunc func()

// Config holds watcher timing.
type Config struct {
	// DebounceInterval collapses bursts of events (a stack deploy fires
	// many) into a single sync trigger.
	DebounceInterval time.Duration

	// ReconnectInterval is the backoff before resubscribing after a
	// stream error.
	ReconnectInterval time.Duration
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:  2 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Watcher monitors Docker events and triggers syncs on workload changes.
type Watcher struct {
	dockerClient *docker.Client
	onSync       SyncFunc
	config       Config
	logger       *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	debounce *time.Timer
}

// Option is a functional option for configuring the Watcher.
type Option func(*Watcher)

// WithConfig sets the watcher timing.
func WithConfig(cfg Config) Option {
	return func(w *Watcher) {
		if cfg.DebounceInterval > 0 {
			w.config.DebounceInterval = cfg.DebounceInterval
		}
		if cfg.ReconnectInterval > 0 {
			w.config.ReconnectInterval = cfg.ReconnectInterval
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Docker event watcher. onSync fires after the debounce
// window closes.
func New(dockerClient *docker.Client, onSync SyncFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dockerClient: dockerClient,
		onSync:       onSync,
		config:       DefaultConfig(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching in a background goroutine and returns
// immediately. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.mu.Unlock()

	go w.watchLoop(ctx)

	w.logger.Info("docker event watcher started",
		slog.Duration("debounce", w.config.DebounceInterval),
	)
	return nil
}

// Stop halts the watcher and cancels any pending debounced trigger.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.running = false
	w.logger.Info("docker event watcher stopped")
}

// IsRunning reports whether the watch loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := w.watch(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Warn("event stream error, reconnecting",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", w.config.ReconnectInterval),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.config.ReconnectInterval):
				}
			}
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	isSwarm := w.dockerClient.IsSwarm()

	eventsChan, errChan := w.dockerClient.RawClient().Events(ctx, events.ListOptions{
		Filters: eventFilters(isSwarm),
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case event := <-eventsChan:
			w.handleEvent(event)
		}
	}
}

// eventFilters subscribes only to lifecycle events that can change the
// desired record set.
func eventFilters(isSwarm bool) filters.Args {
	args := filters.NewArgs()
	if isSwarm {
		args.Add("type", string(events.ServiceEventType))
		args.Add("event", "create")
		args.Add("event", "update")
		args.Add("event", "remove")
	} else {
		args.Add("type", string(events.ContainerEventType))
		args.Add("event", "start")
		args.Add("event", "stop")
		args.Add("event", "die")
		args.Add("event", "destroy")
	}
	return args
}

func (w *Watcher) handleEvent(event events.Message) {
	w.logger.Debug("received docker event",
		slog.String("type", string(event.Type)),
		slog.String("action", string(event.Action)),
		slog.String("actor_id", event.Actor.ID),
	)

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.config.DebounceInterval, w.triggerSync)
	w.mu.Unlock()
}

func (w *Watcher) triggerSync() {
	w.logger.Info("triggering sync due to docker event")
	if w.onSync != nil {
		w.onSync()
	}
}

// TriggerNow fires the sync callback immediately, bypassing the
// debounce. Used for the initial sync at startup.
func (w *Watcher) TriggerNow() {
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.mu.Unlock()

	w.triggerSync()
}
