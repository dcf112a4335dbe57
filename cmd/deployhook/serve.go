package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"deployhook/internal/build"
	"deployhook/internal/config"
	"deployhook/internal/deployment"
	"deployhook/internal/history"
	"deployhook/internal/image"
	"deployhook/internal/metrics"
	"deployhook/internal/notify"
	"deployhook/internal/security"
	"deployhook/internal/server"
	"deployhook/internal/source"
	"deployhook/internal/webhook"
	"deployhook/internal/workspace"
	"deployhook/pkg/cmdutil"

	"github.com/spf13/cobra"
)

const (
	// ShutdownTimeout bounds the drain of in-flight requests and queued jobs.
	ShutdownTimeout = 15 * time.Minute

	// pruneInterval is how often stale workspaces are looked for.
	pruneInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub webhook requests.

Push events for allowed branches and pull request events are queued and deployed as preview
containers. The server drains queued deployments on SIGINT or SIGTERM before exiting.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	for _, warning := range cfg.Warnings {
		logger.Warn("Configuration warning", "warning", warning)
	}
	logger.Info("Starting deployhook", "version", version, "config_file", cfg.File, "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := security.CreateSecureDir(cfg.CacheDir, security.PermDirectory); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	dockerClient, err := connectDocker(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to Docker", "error", err)
		return err
	}
	defer dockerClient.Close()

	orchestrator := newOrchestrator(cfg, dockerClient, logger)
	if err := orchestrator.EnsureNetwork(ctx); err != nil {
		logger.Error("Failed to ensure Docker network", "network", cfg.DockerNetwork, "error", err)
		return fmt.Errorf("failed to ensure network: %w", err)
	}

	workspaces, err := workspace.New(cfg.WorkDir, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	notifiers := deployment.Notifiers{m}

	// Initialize history database
	var hist *history.History
	if cfg.HistoryDB != "" {
		logger.Info("Initializing history database", "db", cfg.HistoryDB)
		hist, err = history.NewHistory(cfg.HistoryDB, logger)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
		notifiers = append(notifiers, hist)
	}
	notifiers = append(notifiers, chatNotifiers(cfg, logger)...)

	statuses, err := notify.NewCommitStatus(cfg.GitHubToken, "", logger)
	if err != nil {
		return err
	}
	if statuses != nil {
		notifiers = append(notifiers, statuses)
	}

	secrets := []string{cfg.WebhookSecret, cfg.GitHubToken}
	gitRunner := security.NewSandboxedRunner(cmdutil.Runner{
		Env: append(os.Environ(), "GIT_TERMINAL_PROMPT=0"),
	})
	buildRunner := security.NewSandboxedRunner(cmdutil.Runner{
		Env: append(os.Environ(),
			"CI=true",
			"npm_config_store_dir="+filepath.Join(cfg.CacheDir, "pnpm-store"),
		),
	})

	deployer := deployment.NewDeployer(deployment.DeployerOptions{
		Fetcher: source.NewFetcher(source.FetcherOptions{
			Remote:     cfg.RepoURL,
			Workspaces: workspaces,
			Runner:     gitRunner,
			Timeout:    cfg.CloneTimeout,
			Secrets:    secrets,
			Logger:     logger,
		}),
		Builder: build.NewRunner(build.Options{
			Runner:         buildRunner,
			InstallCommand: cfg.InstallCommand,
			BuildCommand:   cfg.BuildCommand,
			Timeout:        cfg.BuildTimeout,
			App:            build.AppName(cfg.BuildFilter),
			LogDir:         cfg.LogDir,
			Secrets:        secrets,
			Logger:         logger,
		}),
		Images:     image.NewBuilder(dockerClient, cfg.Registry, logger),
		Containers: orchestrator,
		Workspaces: workspaces,
		Notifier:   notifiers,
		Logger:     logger,
	})

	// Jobs run under their own context so a shutdown signal drains the queue
	// instead of cancelling half-finished deployments.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	queue := deployment.NewQueue(jobCtx, cfg.MaxConcurrentBuilds, logger)
	m.WatchQueue(queue)

	namer := deployment.Namer{
		BaseDomain:    cfg.BaseDomain,
		DefaultBranch: cfg.DefaultBranch,
		WorkRoot:      workspaces.Root(),
	}

	if cfg.WorkspaceTTL > 0 {
		go workspaces.RunPruner(ctx, pruneInterval, workspace.PruneOptions{
			TTL:   cfg.WorkspaceTTL,
			Owner: namer.ContainerForWorkspace,
			Locks: deployer.Locks(),
		})
	}

	opts := server.Options{
		Verifier:         webhook.NewVerifier(cfg.WebhookSecret, logger),
		Classifier:       webhook.NewClassifier(namer, logger),
		Filter:           webhook.NewBranchFilter(cfg.BranchRegex),
		Queue:            queue,
		Deployer:         deployer,
		Metrics:          m,
		WebhookRateLimit: cfg.WebhookRateLimit,
		Logger:           logger,
	}
	if hist != nil {
		opts.History = hist
	}
	srv := server.NewServer(opts)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(cfg.Addr())
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "queue_size", queue.Size(), "pending", queue.Pending())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("Build queue did not drain", "error", err)
		cancelJobs()
		return err
	}
	srv.WaitForJobs()

	logger.Info("Shutdown complete")
	return nil
}

func chatNotifiers(cfg *config.Config, logger *slog.Logger) []deployment.Notifier {
	var out []deployment.Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, notify.NewSlack(cfg.SlackWebhookURL, nil, logger))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscord(cfg.DiscordWebhookURL, nil, logger))
	}
	return out
}
