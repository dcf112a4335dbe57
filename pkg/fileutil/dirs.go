package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DirEntry describes an immediate subdirectory of a root.
type DirEntry struct {
	Name    string
	Path    string
	ModTime time.Time
}

// ListDirs returns the immediate subdirectories of root sorted by name.
// A missing root yields an empty list.
func ListDirs(root string) ([]DirEntry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	dirs := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirEntry{
			Name:    e.Name(),
			Path:    filepath.Join(root, e.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs, nil
}

// RemoveDir removes path and everything below it. A missing path is not an error.
func RemoveDir(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// IsWithin reports whether path is root itself or lies below it.
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !startsWithParent(rel) && !filepath.IsAbs(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
