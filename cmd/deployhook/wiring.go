package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"deployhook/internal/config"
	"deployhook/internal/container"
	"deployhook/internal/docker"
	"deployhook/internal/security"
)

const logFileName = "deployhook.log"

// loadConfig loads and validates configuration, printing every problem.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// setupLogging configures slog for console and file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logDir string, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := security.CreateSecureDir(logDir, security.PermDirectory); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := security.OpenAppendFile(filepath.Join(logDir, logFileName), security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), file, nil
}

// consoleLogger is used by the one-shot commands, which only talk to the terminal.
func consoleLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// connectDocker opens the daemon connection and checks that it answers.
func connectDocker(ctx context.Context, cfg *config.Config) (*docker.Client, error) {
	client, err := docker.New(cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return client, nil
}

func newOrchestrator(cfg *config.Config, runtime container.Runtime, logger *slog.Logger) *container.Orchestrator {
	return container.New(runtime, container.Options{
		Network:     cfg.DockerNetwork,
		Entrypoint:  cfg.TraefikEntrypoint,
		MemoryBytes: cfg.ContainerMemoryBytes(),
		NanoCPUs:    cfg.ContainerNanoCPUs(),
		Logger:      logger,
	})
}
