package webhook

import (
	"fmt"
	"log/slog"
	"strings"

	"deployhook/internal/deployment"
	"deployhook/internal/security"

	"github.com/google/go-github/v57/github"
)

const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
	EventPing        = "ping"

	branchRefPrefix = "refs/heads/"
)

// Intent is the normalized outcome of classifying one delivery.
// When Skip is set no job should be enqueued.
type Intent struct {
	Event  string
	Action deployment.Action
	Info   *deployment.Info
	Skip   string
}

// Actionable reports whether the intent should produce a job.
func (i *Intent) Actionable() bool {
	return i.Skip == "" && i.Info != nil
}

func skip(event, reason string) *Intent {
	return &Intent{Event: event, Skip: reason}
}

// Classifier turns GitHub payloads into deployment intents.
type Classifier struct {
	namer  deployment.Namer
	logger *slog.Logger
}

func NewClassifier(namer deployment.Namer, logger *slog.Logger) *Classifier {
	return &Classifier{namer: namer, logger: logger}
}

// Classify parses payload according to event. Unsupported events and
// payloads that describe nothing deployable yield a skipped intent, not an
// error. Malformed JSON for a supported event is an error.
func (c *Classifier) Classify(event, delivery string, payload []byte) (*Intent, error) {
	switch event {
	case EventPush, EventPullRequest:
	case EventPing:
		return skip(event, "ping"), nil
	default:
		c.logger.Info("Ignoring unsupported event", "event", event, "delivery", delivery)
		return skip(event, "unsupported event"), nil
	}

	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", event, err)
	}

	var intent *Intent
	switch e := parsed.(type) {
	case *github.PushEvent:
		intent = c.push(e)
	case *github.PullRequestEvent:
		intent = c.pullRequest(e)
	default:
		return nil, fmt.Errorf("unexpected payload type %T for %s", parsed, event)
	}

	if intent.Info != nil {
		intent.Info.DeliveryID = delivery
	}
	return intent, nil
}

func (c *Classifier) push(e *github.PushEvent) *Intent {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, branchRefPrefix) {
		return skip(EventPush, "not a branch ref")
	}
	if e.GetDeleted() {
		return skip(EventPush, "branch deleted")
	}

	branch := strings.TrimPrefix(ref, branchRefPrefix)
	if err := security.ValidateBranchName(branch); err != nil {
		c.logger.Warn("Ignoring push with invalid branch name", "branch", branch, "error", err)
		return skip(EventPush, "invalid branch name")
	}

	info := c.namer.ForBranch(branch, e.GetAfter())
	info.Repository = e.GetRepo().GetFullName()
	return &Intent{Event: EventPush, Action: deployment.ActionDeploy, Info: info}
}

func (c *Classifier) pullRequest(e *github.PullRequestEvent) *Intent {
	var action deployment.Action
	switch e.GetAction() {
	case "opened", "synchronize", "reopened":
		action = deployment.ActionDeploy
	case "closed":
		action = deployment.ActionTeardown
	default:
		return skip(EventPullRequest, "pull request action "+e.GetAction())
	}

	number := e.GetNumber()
	if number == 0 {
		number = e.GetPullRequest().GetNumber()
	}
	if number <= 0 {
		return skip(EventPullRequest, "missing pull request number")
	}

	head := e.GetPullRequest().GetHead()
	branch := head.GetRef()
	if action == deployment.ActionDeploy {
		// The PR is named by number, so the head branch only reaches git.
		if err := security.ValidateGitRef(branch); err != nil {
			c.logger.Warn("Ignoring pull request with invalid head branch", "pr", number, "branch", branch, "error", err)
			return skip(EventPullRequest, "invalid branch name")
		}
	}

	info := c.namer.ForPullRequest(number, branch, head.GetSHA())
	info.Repository = e.GetRepo().GetFullName()
	return &Intent{Event: EventPullRequest, Action: action, Info: info}
}
