package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"

	"gitlab.bluewillows.net/root/dnssync/internal/docker"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func workloadEvent() events.Message {
	return events.Message{
		Type:   events.ContainerEventType,
		Action: "start",
		Actor:  events.Actor{ID: "abc"},
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	var syncs atomic.Int32
	w := New(nil, func() { syncs.Add(1) },
		WithConfig(Config{DebounceInterval: 20 * time.Millisecond}),
		WithLogger(discard()),
	)

	// A stack deploy fires a burst of events.
	for i := 0; i < 5; i++ {
		w.handleEvent(workloadEvent())
	}

	time.Sleep(100 * time.Millisecond)
	if got := syncs.Load(); got != 1 {
		t.Errorf("sync fired %d times for one burst, want 1", got)
	}
}

func TestTriggerNowBypassesDebounce(t *testing.T) {
	var syncs atomic.Int32
	w := New(nil, func() { syncs.Add(1) },
		WithConfig(Config{DebounceInterval: time.Hour}),
		WithLogger(discard()),
	)

	w.handleEvent(workloadEvent())
	w.TriggerNow()

	if got := syncs.Load(); got != 1 {
		t.Errorf("sync fired %d times, want 1 immediate", got)
	}

	// The pending debounced trigger must have been cancelled.
	time.Sleep(50 * time.Millisecond)
	if got := syncs.Load(); got != 1 {
		t.Errorf("debounced trigger fired after TriggerNow, total %d", got)
	}
}

func TestStopCancelsPendingTrigger(t *testing.T) {
	var syncs atomic.Int32
	w := New(nil, func() { syncs.Add(1) },
		WithConfig(Config{DebounceInterval: 20 * time.Millisecond}),
		WithLogger(discard()),
	)

	w.handleEvent(workloadEvent())
	w.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := syncs.Load(); got != 0 {
		t.Errorf("sync fired %d times after Stop, want 0", got)
	}
	if w.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
}

// droppingEventsAPI fails the event stream immediately, driving the
// watch loop into its reconnect backoff.
type droppingEventsAPI struct {
	client.APIClient
}

func (f *droppingEventsAPI) Info(context.Context) (system.Info, error) {
	return system.Info{Swarm: swarm.Info{LocalNodeState: swarm.LocalNodeStateInactive}}, nil
}

func (f *droppingEventsAPI) Events(context.Context, events.ListOptions) (<-chan events.Message, <-chan error) {
	msgs := make(chan events.Message)
	errs := make(chan error, 1)
	errs <- errors.New("stream dropped")
	return msgs, errs
}

func (f *droppingEventsAPI) Close() error { return nil }

func TestShutdownDuringReconnectBackoff(t *testing.T) {
	dc, err := docker.NewClient(context.Background(),
		docker.WithAPIClient(&droppingEventsAPI{}),
		docker.WithLogger(discard()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	w := New(dc, func() {},
		WithConfig(Config{DebounceInterval: time.Second, ReconnectInterval: time.Minute}),
		WithLogger(discard()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the stream error land so the loop is waiting out the backoff,
	// then cancel; the loop must exit well before the minute is up.
	time.Sleep(50 * time.Millisecond)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if w.IsRunning() {
		t.Fatal("watch loop still running after context cancellation")
	}
}

func TestEventFilters(t *testing.T) {
	swarmArgs := eventFilters(true)
	if got := swarmArgs.Get("type"); len(got) != 1 || got[0] != string(events.ServiceEventType) {
		t.Errorf("swarm type filter = %v", got)
	}
	if got := swarmArgs.Get("event"); len(got) != 3 {
		t.Errorf("swarm event filter = %v, want create/update/remove", got)
	}

	standaloneArgs := eventFilters(false)
	if got := standaloneArgs.Get("type"); len(got) != 1 || got[0] != string(events.ContainerEventType) {
		t.Errorf("standalone type filter = %v", got)
	}
	if got := standaloneArgs.Get("event"); len(got) != 4 {
		t.Errorf("standalone event filter = %v, want start/stop/die/destroy", got)
	}
}
