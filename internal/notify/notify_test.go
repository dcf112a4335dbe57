package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"deployhook/internal/deployment"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(status deployment.Status) deployment.Event {
	return deployment.Event{
		ID:     "dep-1",
		Action: deployment.ActionDeploy,
		Status: status,
		Info: deployment.Info{
			Branch:        "feature/x",
			SHA:           "abc1234def5678",
			Subdomain:     "feature-x.example.com",
			ContainerName: "preview-feature-x",
			Repository:    "devom/monorepo",
		},
		Duration: 1500 * time.Millisecond,
	}
}

// capture records JSON bodies posted to it.
type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
	status int
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("invalid JSON body: %v", err)
		}
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.paths = append(c.paths, r.Method+" "+r.URL.Path)
		status := c.status
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMessage(t *testing.T) {
	failed := testEvent(deployment.StatusFailed)
	failed.Stage = deployment.StageBuild
	failed.Err = errors.New("build: exit status 1")

	teardown := testEvent(deployment.StatusSucceeded)
	teardown.Action = deployment.ActionTeardown
	teardown.Info.PRNumber = 42
	teardown.Info.ContainerName = "preview-pr-42"

	tests := []struct {
		name string
		ev   deployment.Event
		want string
	}{
		{"deployed", testEvent(deployment.StatusSucceeded), "Deployed feature/x (abc1234) to http://feature-x.example.com in 1.5s"},
		{"failed", failed, "Deployment of feature/x failed at build: build: exit status 1"},
		{"removed", teardown, "Removed preview preview-pr-42 for PR #42 (feature/x)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.ev); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChat_PayloadField(t *testing.T) {
	tests := []struct {
		name  string
		build func(url string) *Chat
		field string
	}{
		{"slack", func(url string) *Chat { return NewSlack(url, nil, discardLogger()) }, "text"},
		{"discord", func(url string) *Chat { return NewDiscord(url, nil, discardLogger()) }, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &capture{}
			srv := c.server(t)
			chat := tt.build(srv.URL)

			chat.Notify(context.Background(), testEvent(deployment.StatusStarted))
			chat.Notify(context.Background(), testEvent(deployment.StatusSucceeded))

			if len(c.bodies) != 1 {
				t.Fatalf("got %d posts, want 1 (started events are skipped)", len(c.bodies))
			}
			text, _ := c.bodies[0][tt.field].(string)
			if !strings.HasPrefix(text, "Deployed feature/x") {
				t.Errorf("%s = %q", tt.field, text)
			}
		})
	}
}

func TestChat_SendRejected(t *testing.T) {
	c := &capture{status: http.StatusNotFound}
	srv := c.server(t)

	err := NewSlack(srv.URL, nil, discardLogger()).Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "slack webhook rejected") {
		t.Errorf("Send() error = %v, want rejection", err)
	}
}

func TestCommitStatus_Disabled(t *testing.T) {
	s, err := NewCommitStatus("", "", discardLogger())
	if err != nil || s != nil {
		t.Fatalf("NewCommitStatus(empty token) = %v, %v; want nil, nil", s, err)
	}
	// A nil reporter is a valid no-op notifier.
	s.Notify(context.Background(), testEvent(deployment.StatusStarted))
}

func TestCommitStatus_States(t *testing.T) {
	c := &capture{status: http.StatusCreated}
	srv := c.server(t)

	s, err := NewCommitStatus("ghp_test", srv.URL, discardLogger())
	if err != nil {
		t.Fatalf("NewCommitStatus() error = %v", err)
	}

	ctx := context.Background()
	s.Notify(ctx, testEvent(deployment.StatusStarted))
	s.Notify(ctx, testEvent(deployment.StatusSucceeded))
	failed := testEvent(deployment.StatusFailed)
	failed.Stage = deployment.StageImage
	s.Notify(ctx, failed)

	// Skipped: teardown and missing repository.
	teardown := testEvent(deployment.StatusSucceeded)
	teardown.Action = deployment.ActionTeardown
	s.Notify(ctx, teardown)
	noRepo := testEvent(deployment.StatusSucceeded)
	noRepo.Info.Repository = ""
	s.Notify(ctx, noRepo)

	if len(c.bodies) != 3 {
		t.Fatalf("got %d status posts, want 3", len(c.bodies))
	}
	for _, p := range c.paths {
		if p != "POST /repos/devom/monorepo/statuses/abc1234def5678" {
			t.Errorf("request = %q", p)
		}
	}

	wantStates := []string{"pending", "success", "failure"}
	for i, body := range c.bodies {
		if body["state"] != wantStates[i] {
			t.Errorf("status[%d].state = %v, want %s", i, body["state"], wantStates[i])
		}
		if body["context"] != StatusContext {
			t.Errorf("status[%d].context = %v", i, body["context"])
		}
	}
	if c.bodies[1]["target_url"] != "http://feature-x.example.com" {
		t.Errorf("success target_url = %v", c.bodies[1]["target_url"])
	}
	if _, ok := c.bodies[2]["target_url"]; ok {
		t.Error("failure status should not link to the preview")
	}
	if c.bodies[2]["description"] != "Preview deployment failed at image" {
		t.Errorf("failure description = %v", c.bodies[2]["description"])
	}
}
