package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	scpRemotePattern   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9_./-]+$`)
	remotePathPattern  = regexp.MustCompile(`^/?[a-zA-Z0-9_.-]+(/[a-zA-Z0-9_.-]+)*(\.git)?/?$`)
	branchPattern      = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	containerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ValidateRepoURL ensures a git remote is safe to hand to git clone.
// Accepted forms are scp-like SSH (git@host:owner/repo.git), ssh:// and https://.
func ValidateRepoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.HasPrefix(raw, "-") {
		return fmt.Errorf("repository URL cannot start with '-'")
	}
	if containsShellMetachars(raw) || strings.ContainsAny(raw, " \t") {
		return fmt.Errorf("repository URL contains invalid characters")
	}

	if scpRemotePattern.MatchString(raw) {
		if strings.Contains(raw, "..") {
			return fmt.Errorf("repository URL contains traversal elements")
		}
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "ssh" {
		return fmt.Errorf("only ssh and https remotes are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("repository URL has no host")
	}
	if strings.Contains(u.Path, "..") || !remotePathPattern.MatchString(u.Path) {
		return fmt.Errorf("repository URL contains invalid characters or format")
	}
	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateGitRef applies git's ref-name rules to a branch that is only ever
// passed to git as a single argv element. Unlike ValidateBranchName it
// accepts any character git accepts, such as '+' or non-ASCII letters.
func ValidateGitRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("ref cannot be empty")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("ref cannot start with '-'")
	}
	if strings.Contains(ref, "..") || strings.Contains(ref, "@{") || strings.Contains(ref, "//") {
		return fmt.Errorf("ref contains a forbidden sequence")
	}
	if strings.HasPrefix(ref, "/") || strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".") || strings.HasSuffix(ref, ".lock") {
		return fmt.Errorf("ref has a forbidden prefix or suffix")
	}
	for _, r := range ref {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("ref contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateContainerName checks a name against the Docker container naming rules.
func ValidateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if !containerNameRegex.MatchString(name) {
		return fmt.Errorf("container name %q contains invalid characters", name)
	}
	return nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", path)
	}

	return filepath.Clean(path), nil
}
