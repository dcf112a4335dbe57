package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deployhook/internal/deployment"
	"deployhook/pkg/cmdutil"
)

// scriptedRunner creates directories when a command runs and can fail a given step.
// exit reports a non-zero exit code without an error.
type scriptedRunner struct {
	creates map[string][]string
	fail    map[string]error
	exit    map[string]int
	calls   [][]string
	dirs    []string
}

func (s *scriptedRunner) RunCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*cmdutil.Result, error) {
	s.calls = append(s.calls, argv)
	s.dirs = append(s.dirs, dir)
	key := strings.Join(argv, " ")
	if err := s.fail[key]; err != nil {
		return &cmdutil.Result{Output: []byte("ERR_PNPM_SOMETHING token=ghp_secret\n"), ExitCode: 1}, err
	}
	if code := s.exit[key]; code != 0 {
		return &cmdutil.Result{Output: []byte("ELIFECYCLE\n"), ExitCode: code}, nil
	}
	for _, d := range s.creates[key] {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return nil, err
		}
	}
	return &cmdutil.Result{Output: []byte("ok\n"), Duration: time.Millisecond}, nil
}

var (
	installCmd = []string{"pnpm", "install", "--frozen-lockfile"}
	buildCmd   = []string{"pnpm", "--filter", "@devom/archive", "build"}
)

func newTestRunner(t *testing.T, s *scriptedRunner, logDir string) (*Runner, *deployment.Info) {
	t.Helper()
	workRoot := t.TempDir()
	n := deployment.Namer{BaseDomain: "example.com", DefaultBranch: "master", WorkRoot: workRoot}
	info := n.ForBranch("feature/x", "abc1234def")
	if err := os.MkdirAll(info.WorkDir, 0755); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(Options{
		Runner:         s,
		InstallCommand: installCmd,
		BuildCommand:   buildCmd,
		Timeout:        time.Minute,
		App:            AppName("@devom/archive"),
		LogDir:         logDir,
		Secrets:        []string{"ghp_secret"},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r, info
}

func TestAppName(t *testing.T) {
	tests := map[string]string{
		"@devom/archive": "archive",
		"archive":        "archive",
		"./apps/docs":    "docs",
		"":               "",
	}
	for in, want := range tests {
		if got := AppName(in); got != want {
			t.Errorf("AppName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCandidates(t *testing.T) {
	got := strings.Join(Candidates("archive"), ",")
	want := "apps/archive/.next/standalone,apps/archive/dist,apps/archive/out,apps/archive/build,.next/standalone,dist,out,build"
	if got != want {
		t.Errorf("Candidates() = %s\nwant %s", got, want)
	}
	if len(Candidates("")) != 4 {
		t.Errorf("Candidates(\"\") = %v", Candidates(""))
	}
}

func TestBuild_OutputResolution(t *testing.T) {
	tests := []struct {
		name    string
		creates []string
		want    string
	}{
		{"standalone only", []string{"apps/archive/.next/standalone"}, "apps/archive/.next/standalone"},
		{"standalone wins over static", []string{"dist", "apps/archive/dist", "apps/archive/.next/standalone"}, "apps/archive/.next/standalone"},
		{"app dist over root dist", []string{"dist", "apps/archive/dist"}, "apps/archive/dist"},
		{"root dist fallback", []string{"dist", "apps/other/dist"}, "dist"},
		{"root build", []string{"build"}, "build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedRunner{creates: map[string][]string{strings.Join(buildCmd, " "): tt.creates}}
			r, info := newTestRunner(t, s, "")

			result := r.Build(context.Background(), info)
			if !result.Success {
				t.Fatalf("Build() failed: %s", result.Error)
			}
			if result.OutputDir != tt.want {
				t.Errorf("OutputDir = %q, want %q", result.OutputDir, tt.want)
			}
			if _, err := os.Stat(filepath.Join(info.WorkDir, result.OutputDir)); err != nil {
				t.Errorf("OutputDir does not exist: %v", err)
			}
		})
	}
}

func TestBuild_RunsInstallThenBuildInWorkspace(t *testing.T) {
	s := &scriptedRunner{creates: map[string][]string{strings.Join(buildCmd, " "): {"dist"}}}
	r, info := newTestRunner(t, s, "")

	r.Build(context.Background(), info)

	if len(s.calls) != 2 {
		t.Fatalf("calls = %v", s.calls)
	}
	if s.calls[0][1] != "install" || s.calls[1][len(s.calls[1])-1] != "build" {
		t.Errorf("unexpected order: %v", s.calls)
	}
	for _, d := range s.dirs {
		if d != info.WorkDir {
			t.Errorf("command ran in %q, want %q", d, info.WorkDir)
		}
	}
}

func TestBuild_Failures(t *testing.T) {
	exit1 := errors.New("command failed: exit status 1")

	tests := []struct {
		name      string
		fail      map[string]error
		exit      map[string]int
		wantErr   string
		wantCalls int
	}{
		{"install fails", map[string]error{strings.Join(installCmd, " "): exit1}, nil, "install", 1},
		{"build fails", map[string]error{strings.Join(buildCmd, " "): exit1}, nil, "build", 2},
		{"build times out", map[string]error{strings.Join(buildCmd, " "): cmdutil.ErrTimeout}, nil, "timed out", 2},
		{"install exits non-zero", nil, map[string]int{strings.Join(installCmd, " "): 2}, "did not exit cleanly", 1},
		{"no output", nil, nil, "no output directory found", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedRunner{fail: tt.fail, exit: tt.exit}
			r, info := newTestRunner(t, s, "")

			result := r.Build(context.Background(), info)
			if result.Success {
				t.Fatal("Build() should fail")
			}
			if result.OutputDir != "" {
				t.Errorf("OutputDir = %q on failure", result.OutputDir)
			}
			if !strings.Contains(result.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to mention %q", result.Error, tt.wantErr)
			}
			if strings.Contains(result.Error, "ghp_secret") {
				t.Errorf("Error leaks secret: %q", result.Error)
			}
			if len(s.calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(s.calls), tt.wantCalls)
			}
		})
	}
}

func TestBuild_WritesLogFile(t *testing.T) {
	logDir := t.TempDir()
	s := &scriptedRunner{fail: map[string]error{strings.Join(buildCmd, " "): errors.New("exit status 1")}}
	r, info := newTestRunner(t, s, logDir)

	r.Build(context.Background(), info)

	data, err := os.ReadFile(filepath.Join(logDir, "builds", LogFileName(info)))
	if err != nil {
		t.Fatalf("build log not written: %v", err)
	}
	log := string(data)
	for _, want := range []string{"== install: pnpm install --frozen-lockfile", "== build:", "ERR_PNPM_SOMETHING", "== failed"} {
		if !strings.Contains(log, want) {
			t.Errorf("build log missing %q:\n%s", want, log)
		}
	}
	if strings.Contains(log, "ghp_secret") {
		t.Error("build log leaks secret")
	}
	if LogFileName(info) != "preview-feature-x-abc1234.log" {
		t.Errorf("LogFileName() = %q", LogFileName(info))
	}
}
