package docker

import (
	"log/slog"

	"github.com/docker/docker/client"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHost sets the Docker daemon address, e.g.
// "unix:///var/run/docker.sock" or "tcp://docker.example.com:2376".
// When unset, DOCKER_HOST and the default socket apply.
func WithHost(host string) Option {
	return func(c *Client) {
		c.host = host
	}
}

// WithMode forces the discovery mode instead of auto-detecting it.
func WithMode(mode Mode) Option {
	return func(c *Client) {
		if mode != "" {
			c.mode = mode
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIncludeStopped also discovers stopped containers so their records
// are not treated as orphans across restarts. Standalone mode only.
func WithIncludeStopped(include bool) Option {
	return func(c *Client) {
		c.includeStopped = include
	}
}

// WithAPIClient injects an SDK client, bypassing daemon connection
// (useful for testing).
func WithAPIClient(api client.APIClient) Option {
	return func(c *Client) {
		c.api = api
	}
}
