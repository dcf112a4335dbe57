package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/docker"
)

const (
	LabelManaged   = "deployhook.managed"
	LabelBranch    = "deployhook.branch"
	LabelSHA       = "deployhook.sha"
	LabelPR        = "deployhook.pr"
	LabelSubdomain = "deployhook.subdomain"
	LabelKind      = "deployhook.kind"

	RestartUnlessStopped = "unless-stopped"

	DefaultStopTimeout = 10 * time.Second
)

// Runtime is the container-runtime capability the orchestrator drives.
// *docker.Client implements it.
type Runtime interface {
	InspectContainer(ctx context.Context, name string) (*docker.ContainerState, error)
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	ListContainers(ctx context.Context, labels map[string]string) ([]docker.ContainerState, error)
	InspectNetwork(ctx context.Context, name string) error
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
}

// Orchestrator keeps at most one container per container name.
type Orchestrator struct {
	runtime     Runtime
	network     string
	entrypoint  string
	memory      int64
	nanoCPUs    int64
	stopTimeout time.Duration
	logger      *slog.Logger
}

type Options struct {
	Network     string
	Entrypoint  string
	MemoryBytes int64
	NanoCPUs    int64
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func New(runtime Runtime, opts Options) *Orchestrator {
	stop := opts.StopTimeout
	if stop <= 0 {
		stop = DefaultStopTimeout
	}
	return &Orchestrator{
		runtime:     runtime,
		network:     opts.Network,
		entrypoint:  opts.Entrypoint,
		memory:      opts.MemoryBytes,
		nanoCPUs:    opts.NanoCPUs,
		stopTimeout: stop,
		logger:      opts.Logger,
	}
}

// Cleanup stops and removes the named container. A missing container is a
// no-op. A container that is already stopped is only removed.
func (o *Orchestrator) Cleanup(ctx context.Context, name string) error {
	state, err := o.runtime.InspectContainer(ctx, name)
	if errors.Is(err, docker.ErrNotFound) {
		o.logger.Debug("No container to clean up", "container", name)
		return nil
	}
	if err != nil {
		o.logger.Error("Failed to inspect container", "container", name, "error", err)
		return err
	}

	if state.Running {
		o.logger.Info("Stopping container", "container", name)
		if err := o.runtime.StopContainer(ctx, state.ID, o.stopTimeout); err != nil {
			if errors.Is(err, docker.ErrNotFound) {
				return nil
			}
			o.logger.Warn("Stop failed, removing anyway", "container", name, "error", err)
		}
	}

	o.logger.Info("Removing container", "container", name)
	if err := o.runtime.RemoveContainer(ctx, state.ID); err != nil && !errors.Is(err, docker.ErrNotFound) {
		o.logger.Error("Failed to remove container", "container", name, "error", err)
		return err
	}
	return nil
}

// Run replaces info's container with a new one from image. The previous
// container is always removed before the new one is created.
func (o *Orchestrator) Run(ctx context.Context, info *deployment.Info, image string, kind deployment.Kind) error {
	if err := o.Cleanup(ctx, info.ContainerName); err != nil {
		o.logger.Warn("Cleanup before run failed", "container", info.ContainerName, "error", err)
	}

	spec := docker.ContainerSpec{
		Name:          info.ContainerName,
		Image:         image,
		Labels:        Labels(info, kind, o.network, o.entrypoint),
		Port:          kind.Port(),
		Network:       o.network,
		RestartPolicy: RestartUnlessStopped,
		MemoryBytes:   o.memory,
		NanoCPUs:      o.nanoCPUs,
	}

	id, err := o.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container %s: %w", info.ContainerName, err)
	}
	if err := o.runtime.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("start container %s: %w", info.ContainerName, err)
	}

	o.logger.Info("Container started",
		"container", info.ContainerName,
		"image", image,
		"url", info.URL(),
	)
	return nil
}

// EnsureNetwork creates the shared bridge network if it does not exist.
func (o *Orchestrator) EnsureNetwork(ctx context.Context) error {
	err := o.runtime.InspectNetwork(ctx, o.network)
	if err == nil {
		o.logger.Info("Docker network already exists", "network", o.network)
		return nil
	}
	if !errors.Is(err, docker.ErrNotFound) {
		return err
	}

	o.logger.Info("Creating Docker network", "network", o.network)
	if err := o.runtime.CreateNetwork(ctx, o.network, map[string]string{LabelManaged: "true"}); err != nil {
		return err
	}
	return nil
}

// List returns every container this service manages.
func (o *Orchestrator) List(ctx context.Context) ([]docker.ContainerState, error) {
	return o.runtime.ListContainers(ctx, map[string]string{LabelManaged: "true"})
}

// Labels are the reverse-proxy routing labels plus bookkeeping metadata.
func Labels(info *deployment.Info, kind deployment.Kind, network, entrypoint string) map[string]string {
	name := info.ContainerName
	labels := map[string]string{
		"traefik.enable":                                              "true",
		"traefik.http.routers." + name + ".rule":                      "Host(`" + info.Subdomain + "`)",
		"traefik.http.services." + name + ".loadbalancer.server.port": strconv.Itoa(kind.Port()),

		LabelManaged:   "true",
		LabelBranch:    info.Branch,
		LabelSHA:       info.SHA,
		LabelSubdomain: info.Subdomain,
		LabelKind:      string(kind),
	}
	if entrypoint != "" {
		labels["traefik.http.routers."+name+".entrypoints"] = entrypoint
	}
	if network != "" {
		labels["traefik.docker.network"] = network
	}
	if info.IsPullRequest() {
		labels[LabelPR] = strconv.Itoa(info.PRNumber)
	}
	return labels
}
