package fileutil

import (
	"os"
	"path/filepath"
)

// AppName is the directory name used for system-wide configuration.
const AppName = "deployhook"

// SearchPathsOptional returns the first path that is a regular file, or "" if none is.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns standard search paths for a given filename.
// Search order:
// 1. Current directory (./<filename>)
// 2. Config subdirectory (./config/<filename>)
// 3. System-wide config (/etc/deployhook/<filename>)
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join("/etc", AppName, filename),
	}
}

// FindConfigOptional searches for a config file in default locations.
func FindConfigOptional(filename string) string {
	return SearchPathsOptional(DefaultConfigPaths(filename))
}

// FirstDir returns the first candidate, relative to root, that is an existing
// directory. The returned value is the candidate itself, not the joined path.
func FirstDir(root string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if DirExists(filepath.Join(root, c)) {
			return c, true
		}
	}
	return "", false
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// PathExists checks if a path exists (file or directory).
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
