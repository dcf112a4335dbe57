package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"deployhook/internal/deployment"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// Chat posts a one-line summary of every finished job to an incoming
// webhook (Slack or Discord).
type Chat struct {
	name   string
	url    string
	field  string
	client *http.Client
	logger *slog.Logger
}

// NewSlack returns a notifier for a Slack incoming webhook URL.
func NewSlack(url string, client *http.Client, logger *slog.Logger) *Chat {
	return newChat("slack", url, "text", client, logger)
}

// NewDiscord returns a notifier for a Discord webhook URL.
func NewDiscord(url string, client *http.Client, logger *slog.Logger) *Chat {
	return newChat("discord", url, "content", client, logger)
}

func newChat(name, url, field string, client *http.Client, logger *slog.Logger) *Chat {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Chat{
		name:   name,
		url:    strings.TrimSpace(url),
		field:  field,
		client: client,
		logger: logger,
	}
}

// Notify implements deployment.Notifier. Started events are ignored.
func (c *Chat) Notify(ctx context.Context, ev deployment.Event) {
	if ev.Status == deployment.StatusStarted {
		return
	}
	if err := c.Send(ctx, Message(ev)); err != nil {
		c.logger.Warn("Failed to send chat notification",
			"notifier", c.name,
			"container", ev.Info.ContainerName,
			"error", err,
		)
	}
}

// Send posts text to the webhook.
func (c *Chat) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{c.field: text})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return fmt.Errorf("%s webhook rejected notification: %s", c.name, summary)
	}
	return nil
}

// Message renders the chat line for a finished job.
func Message(ev deployment.Event) string {
	info := ev.Info
	target := info.Branch
	if info.IsPullRequest() {
		target = fmt.Sprintf("PR #%d (%s)", info.PRNumber, info.Branch)
	}
	secs := ev.Duration.Seconds()

	switch {
	case ev.Status == deployment.StatusFailed:
		msg := fmt.Sprintf("Deployment of %s failed", target)
		if ev.Stage != "" {
			msg += " at " + string(ev.Stage)
		}
		if ev.Err != nil {
			msg += ": " + ev.Err.Error()
		}
		return msg
	case ev.Action == deployment.ActionTeardown:
		return fmt.Sprintf("Removed preview %s for %s", info.ContainerName, target)
	default:
		return fmt.Sprintf("Deployed %s (%s) to %s in %.1fs", target, info.ShortSHA(), info.URL(), secs)
	}
}
