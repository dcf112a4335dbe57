package docker

import (
	"context"

	"github.com/docker/docker/api/types/network"
)

// InspectNetwork reports whether name exists. A missing network yields an
// error wrapping ErrNotFound.
func (c *Client) InspectNetwork(ctx context.Context, name string) error {
	_, err := c.inner.NetworkInspect(ctx, name, network.InspectOptions{})
	return wrap("inspect network", err)
}

// CreateNetwork creates a bridge network.
func (c *Client) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.inner.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	return wrap("create network", err)
}
