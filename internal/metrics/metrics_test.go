package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"deployhook/internal/deployment"
)

type fakeQueue struct{ size, pending int }

func (q fakeQueue) Size() int    { return q.size }
func (q fakeQueue) Pending() int { return q.pending }

func TestMetrics_Notify(t *testing.T) {
	m := New()
	ctx := context.Background()

	ev := deployment.Event{Action: deployment.ActionDeploy, Status: deployment.StatusStarted}
	m.Notify(ctx, ev)
	m.Notify(ctx, ev)
	if got := testutil.ToFloat64(m.inProgress); got != 2 {
		t.Errorf("in progress = %v, want 2", got)
	}

	ev.Status = deployment.StatusSucceeded
	ev.Duration = 42 * time.Second
	m.Notify(ctx, ev)
	ev.Status = deployment.StatusFailed
	m.Notify(ctx, ev)

	if got := testutil.ToFloat64(m.inProgress); got != 0 {
		t.Errorf("in progress = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("deploy", "succeeded")); got != 1 {
		t.Errorf("deploy succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("deploy", "failed")); got != 1 {
		t.Errorf("deploy failed = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.deploymentDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestMetrics_WatchQueue(t *testing.T) {
	m := New()
	m.WatchQueue(fakeQueue{size: 4, pending: 3})

	expected := `
# HELP deployhook_queue_pending Jobs currently holding a build slot
# TYPE deployhook_queue_pending gauge
deployhook_queue_pending 3
# HELP deployhook_queue_size Jobs waiting for a build slot
# TYPE deployhook_queue_size gauge
deployhook_queue_size 4
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"deployhook_queue_size", "deployhook_queue_pending")
	if err != nil {
		t.Error(err)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodPost, "/webhook", http.StatusOK, 20*time.Millisecond)
	m.RateLimited("/webhook")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`deployhook_http_requests_total{method="POST",route="/webhook",status="200"} 1`,
		`deployhook_http_rate_limit_hits_total{route="/webhook"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
