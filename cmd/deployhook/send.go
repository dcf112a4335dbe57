package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"deployhook/internal/security"
	"deployhook/internal/webhook"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	server  string
	secret  string
	branch  string
	sha     string
	pr      int
	repo    string
	file    string
	timeout time.Duration
}

var sendOpts sendOptions

var sendCmd = &cobra.Command{
	Use:   "send <push|pr-open|pr-close|health>",
	Short: "Send a signed test webhook to a running server",
	Long: `Send a synthetic, correctly signed GitHub webhook to a running deployhook server.

The payload is generated from the flags unless --file points at a recorded delivery.
The health command only queries GET /health.`,
	Example: `  deployhook send push --branch feature/login
  deployhook send pr-open --pr 42 --branch feature/login
  deployhook send pr-close --pr 42
  SERVER_URL=https://hooks.example.com deployhook send health`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"push", "pr-open", "pr-close", "health"},
	RunE:      runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendOpts.server, "server", getEnvOrDefault("SERVER_URL", "http://localhost:3000"), "Server base URL")
	sendCmd.Flags().StringVar(&sendOpts.secret, "secret", os.Getenv("GITHUB_WEBHOOK_SECRET"), "Webhook secret used to sign the payload")
	sendCmd.Flags().StringVar(&sendOpts.branch, "branch", "feature/test-deploy", "Branch name")
	sendCmd.Flags().StringVar(&sendOpts.sha, "sha", "abc1234567890def1234567890abcdef12345678", "Commit SHA")
	sendCmd.Flags().IntVar(&sendOpts.pr, "pr", 1, "Pull request number")
	sendCmd.Flags().StringVar(&sendOpts.repo, "repo", "devom/monorepo", "Repository full name (owner/name)")
	sendCmd.Flags().StringVarP(&sendOpts.file, "file", "f", "", "Send this JSON file instead of a generated payload")
	sendCmd.Flags().DurationVar(&sendOpts.timeout, "timeout", 10*time.Second, "HTTP timeout")
}

func runSend(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: sendOpts.timeout}
	base := strings.TrimRight(sendOpts.server, "/")

	if args[0] == "health" {
		resp, err := client.Get(base + "/health")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(out, "Health check (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil
	}

	if sendOpts.secret == "" {
		return fmt.Errorf("a webhook secret is required (--secret or GITHUB_WEBHOOK_SECRET)")
	}
	if security.IsWeakSecret(sendOpts.secret) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the webhook secret is weak; generate one with `deployhook secret`")
	}

	event, payload, err := buildPayload(args[0], sendOpts)
	if err != nil {
		return err
	}
	if sendOpts.file != "" {
		payload, err = os.ReadFile(sendOpts.file)
		if err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}
	}

	signature := webhook.Sign(payload, sendOpts.secret)
	delivery := uuid.NewString()

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/webhook", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, signature)
	req.Header.Set(webhook.EventHeader, event)
	req.Header.Set(webhook.DeliveryHeader, delivery)

	fmt.Fprintf(out, "Sending %s webhook (%s)\n", event, args[0])
	fmt.Fprintf(out, "  Delivery:  %s\n", delivery)
	fmt.Fprintf(out, "  Signature: %s\n", signature)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(out, "Response (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server rejected webhook with status %d", resp.StatusCode)
	}
	return nil
}

// buildPayload returns the GitHub event name and JSON body for kind.
func buildPayload(kind string, opts sendOptions) (string, []byte, error) {
	repo := &github.Repository{FullName: github.String(opts.repo)}

	var event string
	var payload interface{}
	switch kind {
	case "push":
		event = webhook.EventPush
		payload = &github.PushEvent{
			Ref:   github.String("refs/heads/" + opts.branch),
			After: github.String(opts.sha),
			Repo:  &github.PushEventRepository{FullName: github.String(opts.repo)},
			HeadCommit: &github.HeadCommit{
				ID:      github.String(opts.sha),
				Message: github.String("Test deployment"),
			},
		}
	case "pr-open", "pr-close":
		event = webhook.EventPullRequest
		action := "opened"
		state := "open"
		if kind == "pr-close" {
			action = "closed"
			state = "closed"
		}
		payload = &github.PullRequestEvent{
			Action: github.String(action),
			Number: github.Int(opts.pr),
			Repo:   repo,
			PullRequest: &github.PullRequest{
				Number: github.Int(opts.pr),
				State:  github.String(state),
				Title:  github.String("Test pull request"),
				Head: &github.PullRequestBranch{
					Ref: github.String(opts.branch),
					SHA: github.String(opts.sha),
				},
			},
		}
	default:
		return "", nil, fmt.Errorf("unknown command %q (want push, pr-open, pr-close or health)", kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return event, body, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
