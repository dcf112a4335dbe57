package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/history"
	"deployhook/internal/metrics"
	"deployhook/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second
)

// JobQueue is the build queue as seen by the HTTP layer.
type JobQueue interface {
	Enqueue(name string, job deployment.Job) <-chan error
	Size() int
	Pending() int
}

// Deployer runs the deploy and teardown pipelines.
type Deployer interface {
	Deploy(ctx context.Context, info *deployment.Info) error
	Teardown(ctx context.Context, info *deployment.Info) error
}

// HistoryReader serves /deployments.
type HistoryReader interface {
	GetLatestDeployment(ctx context.Context, container string) (*history.DeploymentRecord, error)
	GetDeploymentHistory(ctx context.Context, container string, limit int) ([]history.DeploymentRecord, error)
}

// Options configures a Server. History and Metrics are optional.
type Options struct {
	Verifier   *webhook.Verifier
	Classifier *webhook.Classifier
	Filter     *webhook.BranchFilter
	Queue      JobQueue
	Deployer   Deployer
	History    HistoryReader
	Metrics    *metrics.Metrics

	// WebhookRateLimit is requests per minute per client IP; 0 disables it.
	WebhookRateLimit int
	Logger           *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	verifier   *webhook.Verifier
	classifier *webhook.Classifier
	filter     *webhook.BranchFilter
	queue      JobQueue
	deployer   Deployer
	history    HistoryReader
	metrics    *metrics.Metrics
	rateLimit  int
	logger     *slog.Logger

	jobs sync.WaitGroup // result watchers of enqueued jobs

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a new server instance
func NewServer(opts Options) *Server {
	return &Server{
		verifier:   opts.Verifier,
		classifier: opts.Classifier,
		filter:     opts.Filter,
		queue:      opts.Queue,
		deployer:   opts.Deployer,
		history:    opts.History,
		metrics:    opts.Metrics,
		rateLimit:  opts.WebhookRateLimit,
		logger:     opts.Logger,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Routes
	r.Get("/", s.HandleRoot)
	r.Get("/health", s.HandleHealth)
	r.Get("/deployments/{containerName}", s.HandleDeployments)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Webhook route with its own rate limit
	if s.rateLimit > 0 {
		r.With(NewWebhookRateLimitMiddleware(s.rateLimit, s.logger, s.metrics)).Post("/webhook", s.HandleWebhook)
	} else {
		r.Post("/webhook", s.HandleWebhook)
	}

	return r
}

// Start binds addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting server", "addr", addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
	s.mu.Lock()
	s.http = httpServer
	s.mu.Unlock()

	return httpServer.ListenAndServe()
}

// WaitForJobs blocks until every enqueued job has reported its outcome.
// This is primarily useful for testing.
func (s *Server) WaitForJobs() {
	s.jobs.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Queued jobs are drained by the queue owner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.http
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
