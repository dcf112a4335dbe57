package deployment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct{ err error }

func (f *fakeFetcher) Fetch(ctx context.Context, info *Info) error { return f.err }

type fakeBuilder struct {
	result BuildResult
	calls  int
}

func (f *fakeBuilder) Build(ctx context.Context, info *Info) BuildResult {
	f.calls++
	return f.result
}

type fakeImages struct {
	err error
	dir string
}

func (f *fakeImages) BuildImage(ctx context.Context, info *Info, outputDir string) (string, error) {
	f.dir = outputDir
	if f.err != nil {
		return "", f.err
	}
	return info.ImageTag(""), nil
}

type fakeOrchestrator struct {
	mu         sync.Mutex
	runErr     error
	cleanupErr error
	runs       []Kind
	cleaned    []string
}

func (f *fakeOrchestrator) Run(ctx context.Context, info *Info, image string, kind Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, kind)
	return f.runErr
}

func (f *fakeOrchestrator) Cleanup(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, name)
	return f.cleanupErr
}

type fakeWorkspaces struct {
	removed []string
	err     error
}

func (f *fakeWorkspaces) Remove(dir string) error {
	f.removed = append(f.removed, dir)
	return f.err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

type harness struct {
	fetcher    *fakeFetcher
	builder    *fakeBuilder
	images     *fakeImages
	containers *fakeOrchestrator
	workspaces *fakeWorkspaces
	events     *recorder
	deployer   *Deployer
}

func newHarness() *harness {
	h := &harness{
		fetcher:    &fakeFetcher{},
		builder:    &fakeBuilder{result: BuildResult{Success: true, OutputDir: "/work/preview-feature-x/apps/archive/dist", Duration: time.Second}},
		images:     &fakeImages{},
		containers: &fakeOrchestrator{},
		workspaces: &fakeWorkspaces{},
		events:     &recorder{},
	}
	h.deployer = NewDeployer(DeployerOptions{
		Fetcher:    h.fetcher,
		Builder:    h.builder,
		Images:     h.images,
		Containers: h.containers,
		Workspaces: h.workspaces,
		Notifier:   h.events,
		Logger:     discardLogger(),
	})
	return h
}

func testInfo() *Info {
	n := Namer{BaseDomain: "example.com", DefaultBranch: "master", WorkRoot: "/work"}
	return n.ForBranch("feature/x", "abc1234def5678")
}

func TestDeployer_DeploySuccess(t *testing.T) {
	h := newHarness()
	info := testInfo()

	if err := h.deployer.Deploy(context.Background(), info); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	if got := h.events.statuses(); len(got) != 2 || got[0] != StatusStarted || got[1] != StatusSucceeded {
		t.Fatalf("event statuses = %v", got)
	}
	started, done := h.events.events[0], h.events.events[1]
	if started.ID == "" || started.ID != done.ID {
		t.Errorf("event ids = %q, %q; want same non-empty id", started.ID, done.ID)
	}
	if done.Image != "preview-feature-x:abc1234" {
		t.Errorf("Image = %q", done.Image)
	}
	if done.Action != ActionDeploy || done.Err != nil || done.Stage != "" {
		t.Errorf("unexpected final event %+v", done)
	}
	if h.images.dir != "/work/preview-feature-x/apps/archive/dist" {
		t.Errorf("image built from %q", h.images.dir)
	}
	if len(h.containers.runs) != 1 || h.containers.runs[0] != KindStatic {
		t.Errorf("runs = %v, want one static run", h.containers.runs)
	}
	if h.deployer.Locks().Held(info.ContainerName) {
		t.Error("lock should be released after Deploy")
	}
}

func TestDeployer_StandaloneKind(t *testing.T) {
	h := newHarness()
	h.builder.result.OutputDir = "/work/production/apps/archive/.next/standalone"

	if err := h.deployer.Deploy(context.Background(), testInfo()); err != nil {
		t.Fatal(err)
	}
	if h.containers.runs[0] != KindStandalone {
		t.Errorf("kind = %v, want standalone", h.containers.runs[0])
	}
}

func TestDeployer_StageFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage Stage
		wantBuild bool
		wantRun   bool
	}{
		{"fetch", func(h *harness) { h.fetcher.err = boom }, StageFetch, false, false},
		{"build", func(h *harness) { h.builder.result = BuildResult{Error: "pnpm exited 1"} }, StageBuild, true, false},
		{"image", func(h *harness) { h.images.err = boom }, StageImage, true, false},
		{"run", func(h *harness) { h.containers.runErr = boom }, StageRun, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			err := h.deployer.Deploy(context.Background(), testInfo())
			if err == nil {
				t.Fatal("Deploy() should fail")
			}
			if FailedStage(err) != tt.wantStage {
				t.Errorf("FailedStage() = %q, want %q", FailedStage(err), tt.wantStage)
			}
			if (h.builder.calls > 0) != tt.wantBuild {
				t.Errorf("build called = %v, want %v", h.builder.calls > 0, tt.wantBuild)
			}
			if (len(h.containers.runs) > 0) != tt.wantRun {
				t.Errorf("run called = %v, want %v", len(h.containers.runs) > 0, tt.wantRun)
			}
			if len(h.workspaces.removed) != 0 {
				t.Error("failed deploy should leave the workspace for inspection")
			}

			statuses := h.events.statuses()
			if len(statuses) != 2 || statuses[1] != StatusFailed {
				t.Fatalf("event statuses = %v", statuses)
			}
			last := h.events.events[1]
			if last.Stage != tt.wantStage || last.Err == nil {
				t.Errorf("failed event = %+v", last)
			}
		})
	}
}

func TestDeployer_Teardown(t *testing.T) {
	h := newHarness()
	n := Namer{BaseDomain: "example.com", DefaultBranch: "master", WorkRoot: "/work"}
	info := n.ForPullRequest(42, "feature/x", "abc1234")

	if err := h.deployer.Teardown(context.Background(), info); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if len(h.containers.cleaned) != 1 || h.containers.cleaned[0] != info.ContainerName {
		t.Errorf("cleaned = %v", h.containers.cleaned)
	}
	if len(h.workspaces.removed) != 1 || h.workspaces.removed[0] != info.WorkDir {
		t.Errorf("removed = %v", h.workspaces.removed)
	}
	if h.builder.calls != 0 {
		t.Error("teardown must not build")
	}
	if got := h.events.statuses(); len(got) != 2 || got[1] != StatusSucceeded {
		t.Errorf("statuses = %v", got)
	}
	if h.events.events[1].Action != ActionTeardown {
		t.Errorf("action = %v", h.events.events[1].Action)
	}
}

func TestDeployer_TeardownErrors(t *testing.T) {
	h := newHarness()
	h.workspaces.err = errors.New("permission denied")

	if err := h.deployer.Teardown(context.Background(), testInfo()); err != nil {
		t.Errorf("workspace removal failure should only warn, got %v", err)
	}

	h = newHarness()
	h.containers.cleanupErr = errors.New("daemon unreachable")
	err := h.deployer.Teardown(context.Background(), testInfo())
	if FailedStage(err) != StageCleanup {
		t.Errorf("Teardown() error = %v, want cleanup StageError", err)
	}
	if got := h.events.statuses(); got[len(got)-1] != StatusFailed {
		t.Errorf("statuses = %v", got)
	}
}

func TestDeployer_SerializesSameContainer(t *testing.T) {
	h := newHarness()
	info := testInfo()

	if !h.deployer.Locks().TryLock(info.ContainerName) {
		t.Fatal("TryLock() should succeed")
	}

	done := make(chan error, 1)
	go func() { done <- h.deployer.Deploy(context.Background(), info) }()

	select {
	case <-done:
		t.Fatal("Deploy() should wait for the held lock")
	case <-time.After(50 * time.Millisecond):
	}

	h.deployer.Locks().Unlock(info.ContainerName)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Deploy() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Deploy() did not proceed after unlock")
	}
}

func TestDeployer_LockWaitHonoursContext(t *testing.T) {
	h := newHarness()
	info := testInfo()
	h.deployer.Locks().TryLock(info.ContainerName)
	defer h.deployer.Locks().Unlock(info.ContainerName)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := h.deployer.Deploy(ctx, info); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Deploy() error = %v, want deadline exceeded", err)
	}
	if len(h.events.events) != 0 {
		t.Error("no events should be emitted before the lock is held")
	}
}
