package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
)

// CloneError reports a failed workspace preparation or clone.
type CloneError struct {
	Branch string
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s: %v", e.Branch, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

// Preparer recreates an empty workspace directory.
type Preparer interface {
	Prepare(dir string) error
}

// CommandRunner runs a timeout-bounded command in a directory.
type CommandRunner interface {
	RunCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*cmdutil.Result, error)
}

// Fetcher shallow-clones one branch of the configured remote per deployment.
type Fetcher struct {
	remote     string
	workspaces Preparer
	runner     CommandRunner
	timeout    time.Duration
	secrets    []string
	logger     *slog.Logger
}

type FetcherOptions struct {
	Remote     string
	Workspaces Preparer
	Runner     CommandRunner
	Timeout    time.Duration
	// Secrets are redacted from clone output before it is logged or returned.
	Secrets []string
	Logger  *slog.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	return &Fetcher{
		remote:     opts.Remote,
		workspaces: opts.Workspaces,
		runner:     opts.Runner,
		timeout:    opts.Timeout,
		secrets:    opts.Secrets,
		logger:     opts.Logger,
	}
}

// CloneArgs is the git invocation for a shallow single-branch clone.
func CloneArgs(remote, branch, dest string) []string {
	return []string{"git", "clone", "--depth", "1", "--branch", branch, "--single-branch", remote, dest}
}

// Fetch recreates info.WorkDir and clones info.Branch into it.
func (f *Fetcher) Fetch(ctx context.Context, info *deployment.Info) error {
	if err := security.ValidateGitRef(info.Branch); err != nil {
		return &CloneError{Branch: info.Branch, Err: err}
	}
	if err := f.workspaces.Prepare(info.WorkDir); err != nil {
		return &CloneError{Branch: info.Branch, Err: err}
	}

	argv := CloneArgs(f.remote, info.Branch, info.WorkDir)
	f.logger.Info("Cloning repository",
		"branch", info.Branch,
		"work_dir", info.WorkDir,
		"container", info.ContainerName,
	)

	result, err := f.runner.RunCommand(ctx, filepath.Dir(info.WorkDir), argv, f.timeout)
	if err == nil && !result.OK() {
		err = errors.New("git clone did not exit cleanly")
	}
	if err != nil {
		var output string
		if result != nil {
			output = cmdutil.Tail(cmdutil.SanitizeOutput(result.Output, f.secrets), 20)
		}
		f.logger.Error("Clone failed", "branch", info.Branch, "error", err, "output", output)
		if output != "" {
			err = fmt.Errorf("%w: %s", err, output)
		}
		return &CloneError{Branch: info.Branch, Err: err}
	}

	f.logger.Info("Clone complete", "branch", info.Branch, "duration_ms", result.Duration.Milliseconds())
	return nil
}
