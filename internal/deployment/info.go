package deployment

import (
	"strings"
	"time"
)

// Info describes one deployment target. It is built fresh for every
// webhook event and never persisted.
type Info struct {
	Branch           string
	NormalizedBranch string
	SHA              string
	Subdomain        string
	ContainerName    string
	WorkDir          string

	// PRNumber is zero for push deployments.
	PRNumber   int
	Repository string
	DeliveryID string
}

// ShortSHA returns the first 7 characters of the commit SHA.
func (i *Info) ShortSHA() string {
	if len(i.SHA) <= 7 {
		return i.SHA
	}
	return i.SHA[:7]
}

// ImageTag is {containerName}:{sha7}, prefixed with registry when set.
func (i *Info) ImageTag(registry string) string {
	tag := i.ContainerName + ":" + i.ShortSHA()
	if registry != "" {
		return strings.TrimSuffix(registry, "/") + "/" + tag
	}
	return tag
}

// URL is the public address the reverse proxy serves this deployment on.
func (i *Info) URL() string {
	return "http://" + i.Subdomain
}

// IsPullRequest reports whether the deployment is a PR preview.
func (i *Info) IsPullRequest() bool {
	return i.PRNumber > 0
}

// Kind is the packaging strategy for a build output.
type Kind string

const (
	KindStatic     Kind = "static"
	KindStandalone Kind = "standalone"
)

const standaloneSuffix = ".next/standalone"

// KindOf classifies an output directory. Next.js standalone bundles are
// served by their own node process, everything else by nginx.
func KindOf(outputDir string) Kind {
	if strings.HasSuffix(strings.TrimSuffix(outputDir, "/"), standaloneSuffix) {
		return KindStandalone
	}
	return KindStatic
}

// Port is the container port the proxy routes to.
func (k Kind) Port() int {
	if k == KindStandalone {
		return 3000
	}
	return 80
}

// BuildResult is the outcome of the install and build steps.
// Success implies OutputDir is set and exists inside the workspace.
type BuildResult struct {
	Success   bool
	Error     string
	Duration  time.Duration
	OutputDir string
}

// DurationMS reports the build duration in milliseconds.
func (r BuildResult) DurationMS() int64 {
	return r.Duration.Milliseconds()
}
