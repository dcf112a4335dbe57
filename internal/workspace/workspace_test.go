package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"deployhook/internal/deployment"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "workspace"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestNew_RejectsEmptyRoot(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Error("New(\"\") should fail")
	}
}

func TestPrepare_RecreatesDirectory(t *testing.T) {
	m := newTestManager(t)
	dir := filepath.Join(m.Root(), "preview-feature-x")

	if err := m.Prepare(dir); err != nil {
		t.Fatalf("Prepare() on missing dir error = %v", err)
	}
	stale := filepath.Join(dir, "node_modules", "stale.js")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.Prepare(dir); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Prepare() left %d entries behind", len(entries))
	}
}

func TestPrepareAndRemove_RefuseOutsideRoot(t *testing.T) {
	m := newTestManager(t)

	for _, dir := range []string{"", m.Root(), filepath.Join(m.Root(), ".."), "/etc", m.Root() + "-sibling"} {
		if err := m.Prepare(dir); err == nil {
			t.Errorf("Prepare(%q) should be refused", dir)
		}
		if err := m.Remove(dir); err == nil {
			t.Errorf("Remove(%q) should be refused", dir)
		}
	}
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	dir := filepath.Join(m.Root(), "pr-42")
	if err := m.Prepare(dir); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove(dir); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Remove() left the workspace behind")
	}
	if err := m.Remove(dir); err != nil {
		t.Errorf("Remove() on missing workspace error = %v", err)
	}
}

func TestPrune(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	for name, mtime := range map[string]time.Time{
		"feature-old": old,
		"pr-7":        old,
		"master":      old,
		"feature-new": now,
	} {
		dir := filepath.Join(m.Root(), name)
		if err := m.Prepare(dir); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(dir, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	namer := deployment.Namer{DefaultBranch: "master", WorkRoot: m.Root()}
	locks := deployment.NewLockManager()
	// A job is running for PR 7.
	if !locks.TryLock("preview-pr-7") {
		t.Fatal("TryLock() failed")
	}

	removed, err := m.Prune(context.Background(), PruneOptions{
		TTL:   24 * time.Hour,
		Owner: namer.ContainerForWorkspace,
		Locks: locks,
		Now:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	sort.Strings(removed)
	if got := strings.Join(removed, ","); got != "feature-old,master" {
		t.Errorf("Prune() removed %s, want feature-old,master", got)
	}
	for _, kept := range []string{"pr-7", "feature-new"} {
		if _, err := os.Stat(filepath.Join(m.Root(), kept)); err != nil {
			t.Errorf("%s should be kept: %v", kept, err)
		}
	}
	if !locks.Held("preview-pr-7") {
		t.Error("Prune() must not release a lock it did not take")
	}
	if locks.Held("production") || locks.Held("preview-feature-old") {
		t.Error("Prune() should release the locks it took")
	}
}

func TestPrune_DisabledTTL(t *testing.T) {
	m := newTestManager(t)
	dir := filepath.Join(m.Root(), "feature-x")
	if err := m.Prepare(dir); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-365 * 24 * time.Hour)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Prune(context.Background(), PruneOptions{})
	if err != nil || len(removed) != 0 {
		t.Errorf("Prune() with zero TTL = %v, %v", removed, err)
	}
}

func TestRunPruner_StopsWithContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunPruner(ctx, 10*time.Millisecond, PruneOptions{TTL: time.Hour})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPruner() did not return after cancel")
	}
}
