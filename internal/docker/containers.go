package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec describes a long-running service container.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Labels        map[string]string
	Port          int
	Network       string
	RestartPolicy string
	MemoryBytes   int64
	NanoCPUs      int64
}

// ContainerState is the subset of inspect data the orchestrator uses.
type ContainerState struct {
	ID      string
	Name    string
	Image   string
	State   string
	Running bool
	Labels  map[string]string
	Created time.Time
}

// InspectContainer looks a container up by name or id.
// A missing container yields an error wrapping ErrNotFound.
func (c *Client) InspectContainer(ctx context.Context, name string) (*ContainerState, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("container name cannot be empty")
	}
	info, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		return nil, wrap("inspect container", err)
	}

	state := &ContainerState{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.Config != nil {
		state.Image = info.Config.Image
		state.Labels = info.Config.Labels
	}
	if info.State != nil {
		state.Running = info.State.Running
		state.State = info.State.Status
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		state.Created = created
	}
	return state, nil
}

// StopContainer stops a container, waiting up to timeout before killing it.
// Stopping an already stopped container is not an error.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return wrap("stop container", c.inner.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

// RemoveContainer force-removes a container.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	return wrap("remove container", c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}))
}

// CreateContainer creates, but does not start, a container from spec.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{},
	}
	if spec.Port > 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
		if err != nil {
			return "", fmt.Errorf("container port: %w", err)
		}
		config.ExposedPorts[port] = struct{}{}
	}

	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}

	resp, err := c.inner.ContainerCreate(ctx, config, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", wrap("container create", err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return wrap("container start", c.inner.ContainerStart(ctx, id, container.StartOptions{}))
}

// ListContainers returns every container, running or not, carrying all of labels.
func (c *Client) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerState, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, wrap("list containers", err)
	}

	out := make([]ContainerState, 0, len(list))
	for _, ctr := range list {
		var name string
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		out = append(out, ContainerState{
			ID:      ctr.ID,
			Name:    name,
			Image:   ctr.Image,
			State:   ctr.State,
			Running: ctr.State == "running",
			Labels:  ctr.Labels,
			Created: time.Unix(ctr.Created, 0),
		})
	}
	return out, nil
}
