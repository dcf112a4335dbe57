package security

import (
	"fmt"
	"os"
)

const (
	// PermConfigFile is for configuration files containing the webhook secret.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for server and build logs.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the deployment history database.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for log, cache and history directories.
	PermDirectory os.FileMode = 0750

	// PermWorkspace is for cloned workspaces. The Docker daemon reads the
	// build context from here, so group and others need traversal.
	PermWorkspace os.FileMode = 0755

	// PermPublicFile is for generated build-context files (Dockerfile, nginx.conf).
	PermPublicFile os.FileMode = 0644
)

// CreateSecureDir creates a directory (and parents) and forces perm on it,
// bypassing the umask.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// OpenAppendFile opens path for appending, creating it with perm if needed.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions rejects files that others can read or write.
// Used for config files that hold the webhook secret.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o)", path, perm)
	}

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o)", path, perm)
	}

	return nil
}
