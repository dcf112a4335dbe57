package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
	"deployhook/pkg/fileutil"
)

// ErrNoOutput is returned when a build succeeds without producing any
// of the candidate output directories.
var ErrNoOutput = errors.New("no output directory found")

// CommandRunner runs a timeout-bounded command in a directory.
type CommandRunner interface {
	RunCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*cmdutil.Result, error)
}

// Runner installs dependencies and builds a cloned workspace.
type Runner struct {
	runner     CommandRunner
	install    []string
	build      []string
	timeout    time.Duration
	candidates []string
	logDir     string
	secrets    []string
	logger     *slog.Logger
	now        func() time.Time
}

type Options struct {
	Runner         CommandRunner
	InstallCommand []string
	BuildCommand   []string
	// Timeout bounds each of the install and build steps.
	Timeout time.Duration
	// App is the monorepo application whose output is preferred.
	App string
	// LogDir receives one log file per build. Empty disables build logs.
	LogDir  string
	Secrets []string
	Logger  *slog.Logger
}

func NewRunner(opts Options) *Runner {
	return &Runner{
		runner:     opts.Runner,
		install:    opts.InstallCommand,
		build:      opts.BuildCommand,
		timeout:    opts.Timeout,
		candidates: Candidates(opts.App),
		logDir:     opts.LogDir,
		secrets:    opts.Secrets,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// AppName derives the application directory from a pnpm filter:
// "@devom/archive" and "archive" both give "archive".
func AppName(filter string) string {
	filter = strings.Trim(filter, "./ ")
	if i := strings.LastIndex(filter, "/"); i >= 0 {
		filter = filter[i+1:]
	}
	return strings.TrimPrefix(filter, "@")
}

// Candidates lists output directories in priority order, app-specific
// standalone output first.
func Candidates(app string) []string {
	generic := []string{".next/standalone", "dist", "out", "build"}
	if app == "" {
		return generic
	}
	base := filepath.Join("apps", app)
	out := make([]string, 0, len(generic)*2)
	for _, dir := range generic {
		out = append(out, filepath.Join(base, dir))
	}
	return append(out, generic...)
}

// Build runs install then build inside info.WorkDir and locates the output.
// Duration covers every step and is recorded on failure too.
func (r *Runner) Build(ctx context.Context, info *deployment.Info) deployment.BuildResult {
	start := r.now()
	logger := r.logger.With("container", info.ContainerName, "work_dir", info.WorkDir)

	buildLog, closeLog := r.openLog(info, logger)
	defer closeLog()

	fail := func(err error) deployment.BuildResult {
		d := r.now().Sub(start)
		logger.Error("Build failed", "error", err, "duration_ms", d.Milliseconds())
		fmt.Fprintf(buildLog, "\n== failed after %s: %v\n", d.Round(time.Millisecond), err)
		return deployment.BuildResult{Error: err.Error(), Duration: d}
	}

	for _, step := range []struct {
		name string
		argv []string
	}{
		{"install", r.install},
		{"build", r.build},
	} {
		logger.Info("Running build step", "step", step.name, "command", cmdutil.FormatCommand(step.argv))
		fmt.Fprintf(buildLog, "\n== %s: %s\n", step.name, cmdutil.FormatCommand(step.argv))

		result, err := r.runner.RunCommand(ctx, info.WorkDir, step.argv, r.timeout)
		if err == nil && !result.OK() {
			err = errors.New("command did not exit cleanly")
		}
		if result != nil {
			buildLog.Write(cmdutil.SanitizeOutput(result.Output, r.secrets))
		}
		if err != nil {
			if result != nil && len(result.Output) > 0 {
				tail := cmdutil.Tail(cmdutil.SanitizeOutput(result.Output, r.secrets), 20)
				err = fmt.Errorf("%w\n%s", err, tail)
			}
			return fail(fmt.Errorf("%s: %w", step.name, err))
		}
		logger.Debug("Build step complete", "step", step.name, "duration_ms", result.Duration.Milliseconds())
	}

	outputDir, ok := fileutil.FirstDir(info.WorkDir, r.candidates)
	if !ok {
		return fail(ErrNoOutput)
	}

	d := r.now().Sub(start)
	logger.Info("Build complete", "output_dir", outputDir, "duration_ms", d.Milliseconds())
	fmt.Fprintf(buildLog, "\n== output %s after %s\n", outputDir, d.Round(time.Millisecond))
	return deployment.BuildResult{Success: true, OutputDir: outputDir, Duration: d}
}

// openLog opens the per-build log file. Failures only disable the file.
func (r *Runner) openLog(info *deployment.Info, logger *slog.Logger) (io.Writer, func()) {
	if r.logDir == "" {
		return io.Discard, func() {}
	}
	dir := filepath.Join(r.logDir, "builds")
	if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
		logger.Warn("Build log disabled", "error", err)
		return io.Discard, func() {}
	}
	path := filepath.Join(dir, LogFileName(info))
	f, err := security.OpenAppendFile(path, security.PermLogFile)
	if err != nil {
		logger.Warn("Build log disabled", "error", err)
		return io.Discard, func() {}
	}
	fmt.Fprintf(f, "== %s %s@%s (%s)\n", r.now().UTC().Format(time.RFC3339), info.Branch, info.ShortSHA(), info.ContainerName)
	return f, func() { f.Close() }
}

// LogFileName is the build log for one commit of one container.
func LogFileName(info *deployment.Info) string {
	return info.ContainerName + "-" + info.ShortSHA() + ".log"
}
