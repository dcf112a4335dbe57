// Package server implements the HTTP endpoint layer of the deployhook
// webhook receiver.
//
// This package provides:
//   - GitHub webhook endpoint handling with HMAC signature verification
//   - Per-IP webhook rate limiting
//   - Health, metrics and deployment history endpoints
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/webhook: signature verification, event classification, branch filtering
//   - internal/deployment: the build queue and the deploy/teardown pipeline
//   - internal/history: SQLite-based deployment history
//   - internal/metrics: Prometheus collectors
//
// The webhook handler never waits for a deployment. Accepted events are
// enqueued and answered with {"status":"received"}; job outcomes are only
// logged.
package server
