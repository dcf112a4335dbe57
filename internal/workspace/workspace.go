package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"deployhook/internal/security"
	"deployhook/pkg/fileutil"
)

// Manager owns the per-branch and per-PR working directories under a common root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// New ensures the workspace root exists and is accessible.
func New(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, security.PermWorkspace); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root, logger: logger}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Prepare deletes dir if present and recreates it empty.
func (m *Manager) Prepare(dir string) error {
	if err := m.check(dir); err != nil {
		return err
	}
	if err := fileutil.RemoveDir(dir); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, security.PermWorkspace); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// Remove deletes dir. A missing directory is not an error.
func (m *Manager) Remove(dir string) error {
	if err := m.check(dir); err != nil {
		return err
	}
	return fileutil.RemoveDir(dir)
}

// check refuses the root itself and anything outside it.
func (m *Manager) check(dir string) error {
	if dir == "" {
		return fmt.Errorf("workspace path cannot be empty")
	}
	clean := filepath.Clean(dir)
	if clean == m.root || !fileutil.IsWithin(m.root, clean) {
		return fmt.Errorf("refusing to touch %s: outside workspace root %s", dir, m.root)
	}
	return nil
}

// Locker is the subset of the deployment lock manager pruning needs.
type Locker interface {
	TryLock(name string) bool
	Unlock(name string)
}

// PruneOptions controls which workspaces are removed.
type PruneOptions struct {
	// TTL is the minimum age of a workspace before it is removed.
	TTL time.Duration

	// Owner maps a workspace directory name to the container name whose
	// lock guards it. When Owner and Locks are set, busy workspaces are skipped.
	Owner func(dir string) string
	Locks Locker

	// Now defaults to time.Now.
	Now func() time.Time
}

// Prune removes workspaces whose modification time is older than opts.TTL
// and returns the names it removed.
func (m *Manager) Prune(ctx context.Context, opts PruneOptions) ([]string, error) {
	if opts.TTL <= 0 {
		return nil, nil
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	entries, err := fileutil.ListDirs(m.root)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}

	cutoff := now().Add(-opts.TTL)
	var removed []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.ModTime.Before(cutoff) {
			continue
		}

		if opts.Owner != nil && opts.Locks != nil {
			owner := opts.Owner(e.Name)
			if !opts.Locks.TryLock(owner) {
				m.logger.Debug("Skipping busy workspace", "workspace", e.Name, "container", owner)
				continue
			}
			err = fileutil.RemoveDir(e.Path)
			opts.Locks.Unlock(owner)
		} else {
			err = fileutil.RemoveDir(e.Path)
		}

		if err != nil {
			m.logger.Warn("Failed to prune workspace", "workspace", e.Name, "error", err)
			continue
		}
		m.logger.Info("Pruned stale workspace", "workspace", e.Name, "age", now().Sub(e.ModTime).Round(time.Second).String())
		removed = append(removed, e.Name)
	}
	return removed, nil
}

// RunPruner prunes every interval until ctx is done.
func (m *Manager) RunPruner(ctx context.Context, interval time.Duration, opts PruneOptions) {
	if opts.TTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Prune(ctx, opts); err != nil && ctx.Err() == nil {
				m.logger.Error("Workspace pruning failed", "error", err)
			}
		}
	}
}
