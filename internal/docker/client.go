// Package docker discovers labeled workloads through the Docker API. It
// supports both Swarm services and standalone containers behind one
// Workload abstraction.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
)

// Mode selects how workloads are discovered.
type Mode string

const (
	// ModeAuto probes the daemon and picks swarm when this node is an
	// active manager, standalone otherwise.
	ModeAuto Mode = "auto"

	// ModeSwarm lists Swarm services and fails when Swarm is inactive.
	ModeSwarm Mode = "swarm"

	// ModeStandalone lists containers and ignores Swarm state.
	ModeStandalone Mode = "standalone"
)

func (m Mode) String() string {
	return string(m)
}

// Client wraps the Docker SDK client with workload discovery.
type Client struct {
	api    client.APIClient
	host   string
	mode   Mode
	swarm  bool
	logger *slog.Logger

	// includeStopped keeps stopped containers in discovery so their
	// records survive brief restarts instead of being cleaned up.
	includeStopped bool
}

// NewClient connects to the Docker daemon and resolves the operation
// mode.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{
		mode:   ModeAuto,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.api == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if c.host != "" {
			clientOpts = append(clientOpts, client.WithHost(c.host))
		}
		api, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating docker client: %w", err)
		}
		c.api = api
	}

	if err := c.resolveMode(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("docker client ready",
		slog.String("mode", c.mode.String()),
		slog.Bool("swarm", c.swarm),
	)
	return c, nil
}

func (c *Client) resolveMode(ctx context.Context) error {
	info, err := c.api.Info(ctx)
	if err != nil {
		return fmt.Errorf("querying docker daemon: %w", err)
	}

	manager := info.Swarm.LocalNodeState == swarm.LocalNodeStateActive && info.Swarm.ControlAvailable

	switch c.mode {
	case ModeSwarm:
		if !manager {
			return fmt.Errorf("swarm mode requested but node is not an active swarm manager")
		}
		c.swarm = true
	case ModeStandalone:
		c.swarm = false
	default:
		c.swarm = manager
		c.mode = ModeStandalone
		if manager {
			c.mode = ModeSwarm
		}
	}
	return nil
}

// IsSwarm reports whether workloads are discovered as Swarm services.
func (c *Client) IsSwarm() bool {
	return c.swarm
}

// RawClient exposes the underlying SDK client for event subscriptions.
func (c *Client) RawClient() client.APIClient {
	return c.api
}

// Close releases the underlying SDK client.
func (c *Client) Close() error {
	return c.api.Close()
}

// ListWorkloads returns the current labeled workloads: Swarm services in
// swarm mode, containers otherwise.
func (c *Client) ListWorkloads(ctx context.Context) (Workloads, error) {
	if c.swarm {
		return c.listServices(ctx)
	}
	return c.listContainers(ctx)
}

func (c *Client) listServices(ctx context.Context) (Workloads, error) {
	services, err := c.api.ServiceList(ctx, types.ServiceListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing swarm services: %w", err)
	}

	workloads := make(Workloads, 0, len(services))
	for _, svc := range services {
		workloads = append(workloads, Workload{
			ID:     svc.ID,
			Name:   svc.Spec.Name,
			Labels: svc.Spec.Labels,
			Type:   WorkloadTypeService,
		})
	}
	return workloads, nil
}

func (c *Client) listContainers(ctx context.Context) (Workloads, error) {
	containers, err := c.api.ContainerList(ctx, container.ListOptions{
		All: c.includeStopped,
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	workloads := make(Workloads, 0, len(containers))
	for _, ctr := range containers {
		workloads = append(workloads, Workload{
			ID:     ctr.ID,
			Name:   containerName(ctr.Names),
			Labels: ctr.Labels,
			Type:   WorkloadTypeContainer,
		})
	}
	return workloads, nil
}

// containerName picks the primary name and strips the API's leading
// slash.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
