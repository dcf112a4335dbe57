package deployment

import (
	"path/filepath"
	"strconv"
	"strings"
)

const (
	productionContainer = "production"
	previewPrefix       = "preview-"
	prPrefix            = "pr-"
)

var branchReplacer = strings.NewReplacer("/", "-", "_", "-")

// NormalizeBranch makes a branch name safe for subdomains and container
// names: "/" and "_" become "-" and the result is lower-cased.
func NormalizeBranch(branch string) string {
	return strings.ToLower(branchReplacer.Replace(branch))
}

// Namer derives container names, subdomains and workspaces. Every result is
// a pure function of its inputs and the Namer's fields.
type Namer struct {
	BaseDomain    string
	DefaultBranch string
	WorkRoot      string
}

// ForBranch names a push deployment.
func (n Namer) ForBranch(branch, sha string) *Info {
	normalized := NormalizeBranch(branch)
	info := &Info{
		Branch:           branch,
		NormalizedBranch: normalized,
		SHA:              sha,
		WorkDir:          filepath.Join(n.WorkRoot, normalized),
	}

	if branch == n.DefaultBranch {
		info.ContainerName = productionContainer
		info.Subdomain = n.BaseDomain
	} else {
		info.ContainerName = previewPrefix + normalized
		info.Subdomain = normalized + "." + n.BaseDomain
	}
	return info
}

// ForPullRequest names a PR preview. The head branch does not affect naming.
func (n Namer) ForPullRequest(number int, headBranch, headSHA string) *Info {
	id := prPrefix + strconv.Itoa(number)
	return &Info{
		Branch:           headBranch,
		NormalizedBranch: NormalizeBranch(headBranch),
		SHA:              headSHA,
		Subdomain:        id + "." + n.BaseDomain,
		ContainerName:    previewPrefix + id,
		WorkDir:          filepath.Join(n.WorkRoot, id),
		PRNumber:         number,
	}
}

// ContainerForWorkspace maps a workspace directory name back to the
// container that owns it.
func (n Namer) ContainerForWorkspace(dir string) string {
	if dir == NormalizeBranch(n.DefaultBranch) {
		return productionContainer
	}
	return previewPrefix + dir
}
