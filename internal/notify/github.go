package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"deployhook/internal/deployment"
)

// StatusContext is the commit status context deployhook reports under.
const StatusContext = "deployhook/preview"

// CommitStatus mirrors deploy jobs as GitHub commit statuses.
type CommitStatus struct {
	client *github.Client
	logger *slog.Logger
}

// NewCommitStatus returns nil when token is empty. baseURL overrides the
// GitHub API endpoint; leave it empty for api.github.com.
func NewCommitStatus(token, baseURL string, logger *slog.Logger) (*CommitStatus, error) {
	if token == "" {
		return nil, nil
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	client := github.NewClient(tc)

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	return &CommitStatus{client: client, logger: logger}, nil
}

// Notify implements deployment.Notifier. Teardowns and events without a
// repository or commit are ignored.
func (s *CommitStatus) Notify(ctx context.Context, ev deployment.Event) {
	if s == nil || ev.Action != deployment.ActionDeploy || ev.Info.SHA == "" {
		return
	}
	owner, repo, ok := strings.Cut(ev.Info.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return
	}

	state, description := statusFor(ev)
	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(StatusContext),
	}
	if state != "failure" {
		status.TargetURL = github.String(ev.Info.URL())
	}

	if _, _, err := s.client.Repositories.CreateStatus(ctx, owner, repo, ev.Info.SHA, status); err != nil {
		s.logger.Warn("Failed to create commit status",
			"repository", ev.Info.Repository,
			"sha", ev.Info.ShortSHA(),
			"state", state,
			"error", err,
		)
	}
}

func statusFor(ev deployment.Event) (state, description string) {
	switch ev.Status {
	case deployment.StatusStarted:
		return "pending", "Preview deployment in progress"
	case deployment.StatusSucceeded:
		return "success", "Preview deployed to " + ev.Info.Subdomain
	default:
		desc := "Preview deployment failed"
		if ev.Stage != "" {
			desc += " at " + string(ev.Stage)
		}
		return "failure", desc
	}
}
