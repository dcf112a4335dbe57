package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Fetcher recreates the workspace and clones the branch into it.
type Fetcher interface {
	Fetch(ctx context.Context, info *Info) error
}

// Builder installs dependencies, builds, and locates the output directory.
type Builder interface {
	Build(ctx context.Context, info *Info) BuildResult
}

// ImageBuilder packages a build output into an image and returns its tag.
type ImageBuilder interface {
	BuildImage(ctx context.Context, info *Info, outputDir string) (string, error)
}

// Orchestrator replaces and removes containers.
type Orchestrator interface {
	Run(ctx context.Context, info *Info, image string, kind Kind) error
	Cleanup(ctx context.Context, containerName string) error
}

// WorkspaceRemover deletes a workspace directory.
type WorkspaceRemover interface {
	Remove(dir string) error
}

// Deployer runs the fetch, build, image and run pipeline for one Info at a time
// per container name.
type Deployer struct {
	fetcher    Fetcher
	builder    Builder
	images     ImageBuilder
	containers Orchestrator
	workspaces WorkspaceRemover
	locks      *LockManager
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// DeployerOptions wires the Deployer's collaborators. Notifier may be nil.
type DeployerOptions struct {
	Fetcher    Fetcher
	Builder    Builder
	Images     ImageBuilder
	Containers Orchestrator
	Workspaces WorkspaceRemover
	Locks      *LockManager
	Notifier   Notifier
	Logger     *slog.Logger
}

// NewDeployer creates a Deployer.
func NewDeployer(opts DeployerOptions) *Deployer {
	locks := opts.Locks
	if locks == nil {
		locks = NewLockManager()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	return &Deployer{
		fetcher:    opts.Fetcher,
		builder:    opts.Builder,
		images:     opts.Images,
		containers: opts.Containers,
		workspaces: opts.Workspaces,
		locks:      locks,
		notifier:   notifier,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Locks exposes the per-container lock manager so workspace pruning can
// skip directories that a running job owns.
func (d *Deployer) Locks() *LockManager {
	return d.locks
}

// Deploy builds info's commit and replaces its container. The first failing
// stage aborts the job with a *StageError and leaves the workspace in place.
func (d *Deployer) Deploy(ctx context.Context, info *Info) error {
	if err := d.locks.Lock(ctx, info.ContainerName); err != nil {
		return fmt.Errorf("waiting for lock on %s: %w", info.ContainerName, err)
	}
	defer d.locks.Unlock(info.ContainerName)

	ev := Event{ID: uuid.NewString(), Action: ActionDeploy, Info: *info}
	logger := d.logger.With(
		"deployment", ev.ID,
		"container", info.ContainerName,
		"branch", info.Branch,
		"sha", info.ShortSHA(),
	)

	start := d.now()
	logger.Info("Deployment started", "delivery", info.DeliveryID)
	d.emit(ctx, ev, StatusStarted, start)

	image, err := d.deploy(ctx, info, logger)
	ev.Image = image
	ev.Duration = d.now().Sub(start)
	ev.Err = err

	if err != nil {
		ev.Stage = FailedStage(err)
		logger.Error("Deployment failed",
			"stage", ev.Stage,
			"duration_ms", ev.Duration.Milliseconds(),
			"error", err,
		)
		d.emit(ctx, ev, StatusFailed, start)
		return err
	}

	logger.Info("Deployment succeeded",
		"image", image,
		"url", info.URL(),
		"duration_ms", ev.Duration.Milliseconds(),
	)
	d.emit(ctx, ev, StatusSucceeded, start)
	return nil
}

func (d *Deployer) deploy(ctx context.Context, info *Info, logger *slog.Logger) (string, error) {
	if err := d.stage(logger, StageFetch, func() error {
		return d.fetcher.Fetch(ctx, info)
	}); err != nil {
		return "", err
	}

	var result BuildResult
	if err := d.stage(logger, StageBuild, func() error {
		result = d.builder.Build(ctx, info)
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	}); err != nil {
		return "", err
	}
	kind := KindOf(result.OutputDir)
	logger.Info("Build output located", "output_dir", result.OutputDir, "kind", kind, "build_ms", result.DurationMS())

	var image string
	if err := d.stage(logger, StageImage, func() error {
		var err error
		image, err = d.images.BuildImage(ctx, info, result.OutputDir)
		return err
	}); err != nil {
		return "", err
	}

	if err := d.stage(logger, StageRun, func() error {
		return d.containers.Run(ctx, info, image, kind)
	}); err != nil {
		return image, err
	}

	return image, nil
}

// Teardown removes info's container and workspace. No build is performed.
func (d *Deployer) Teardown(ctx context.Context, info *Info) error {
	if err := d.locks.Lock(ctx, info.ContainerName); err != nil {
		return fmt.Errorf("waiting for lock on %s: %w", info.ContainerName, err)
	}
	defer d.locks.Unlock(info.ContainerName)

	ev := Event{ID: uuid.NewString(), Action: ActionTeardown, Info: *info}
	logger := d.logger.With("deployment", ev.ID, "container", info.ContainerName)

	start := d.now()
	logger.Info("Teardown started", "delivery", info.DeliveryID)
	d.emit(ctx, ev, StatusStarted, start)

	err := d.stage(logger, StageCleanup, func() error {
		return d.containers.Cleanup(ctx, info.ContainerName)
	})

	if info.WorkDir != "" && d.workspaces != nil {
		if rmErr := d.workspaces.Remove(info.WorkDir); rmErr != nil {
			logger.Warn("Failed to remove workspace", "work_dir", info.WorkDir, "error", rmErr)
		}
	}

	ev.Duration = d.now().Sub(start)
	ev.Err = err
	if err != nil {
		ev.Stage = StageCleanup
		logger.Error("Teardown failed", "duration_ms", ev.Duration.Milliseconds(), "error", err)
		d.emit(ctx, ev, StatusFailed, start)
		return err
	}

	logger.Info("Teardown complete", "duration_ms", ev.Duration.Milliseconds())
	d.emit(ctx, ev, StatusSucceeded, start)
	return nil
}

func (d *Deployer) stage(logger *slog.Logger, s Stage, fn func() error) error {
	start := d.now()
	err := fn()
	elapsed := d.now().Sub(start).Milliseconds()
	if err != nil {
		return &StageError{Stage: s, Err: err}
	}
	logger.Debug("Stage complete", "stage", s, "duration_ms", elapsed)
	return nil
}

// emit is detached from ctx cancellation; events for cancelled jobs are still delivered.
func (d *Deployer) emit(ctx context.Context, ev Event, status Status, start time.Time) {
	ev.Status = status
	ev.Time = d.now()
	if status == StatusStarted {
		ev.Time = start
	}
	d.notifier.Notify(context.WithoutCancel(ctx), ev)
}
