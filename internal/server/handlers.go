package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"deployhook/internal/deployment"
	"deployhook/internal/history"
	"deployhook/internal/security"
	"deployhook/internal/webhook"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes        = 1 << 20 // 1 MB
	RecentDeploymentsLimit = 10      // Number of recent deployments returned by /deployments
)

// HandleRoot answers the liveness banner.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "deployhook is running"})
}

// HandleHealth reports the build queue load.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"queueSize": s.queue.Size(),
		"pending":   s.queue.Pending(),
	})
}

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	delivery := r.Header.Get(webhook.DeliveryHeader)

	// ContentLength can be -1 if not set; the body reader below enforces the limit too
	if r.ContentLength > MaxPayloadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		s.respondError(w, http.StatusUnsupportedMediaType, "Invalid content type")
		return
	}

	// The raw bytes are what GitHub signed; never re-encode before verifying
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		s.logger.Error("Failed to read request body", "error", err, "delivery", delivery)
		s.respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !s.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader), delivery) {
		s.respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event := r.Header.Get(webhook.EventHeader)
	intent, err := s.classifier.Classify(event, delivery, body)
	if err != nil {
		if isMalformedJSON(err) {
			s.logger.Warn("Failed to parse JSON payload", "error", err, "event", event, "delivery", delivery)
			s.respondError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		s.logger.Error("Failed to classify webhook", "error", err, "event", event, "delivery", delivery)
		s.respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !intent.Actionable() {
		s.logger.Info("Webhook ignored", "event", event, "reason", intent.Skip, "delivery", delivery)
		s.respondReceived(w)
		return
	}

	info := intent.Info
	if intent.Event == webhook.EventPush && !s.filter.Allowed(info.Branch) {
		s.logger.Info("Branch not allowed, skipping",
			"branch", info.Branch,
			"pattern", s.filter.String(),
			"delivery", delivery)
		s.respondReceived(w)
		return
	}

	s.enqueue(intent.Action, info)
	s.respondReceived(w)
}

// enqueue submits the job and logs its outcome when it completes. The
// request is answered before the job runs.
func (s *Server) enqueue(action deployment.Action, info *deployment.Info) {
	job := func(ctx context.Context) error {
		if action == deployment.ActionTeardown {
			return s.deployer.Teardown(ctx, info)
		}
		return s.deployer.Deploy(ctx, info)
	}

	result := s.queue.Enqueue(info.ContainerName, job)
	s.logger.Info("Deployment queued",
		"action", action,
		"container", info.ContainerName,
		"branch", info.Branch,
		"sha", info.ShortSHA(),
		"delivery", info.DeliveryID,
		"queue_size", s.queue.Size())

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := <-result; err != nil {
			s.logger.Error("Deployment job failed",
				"action", action,
				"container", info.ContainerName,
				"stage", deployment.FailedStage(err),
				"error", err)
			return
		}
		s.logger.Info("Deployment job completed", "action", action, "container", info.ContainerName)
	}()
}

// HandleDeployments returns the latest and recent history of a container.
func (s *Server) HandleDeployments(w http.ResponseWriter, r *http.Request) {
	containerName := chi.URLParam(r, "containerName")

	if err := security.ValidateContainerName(containerName); err != nil {
		s.logger.Warn("Invalid container name in history request", "container", containerName, "error", err)
		s.respondError(w, http.StatusBadRequest, "Invalid container name")
		return
	}

	if s.history == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Deployment history is disabled")
		return
	}

	latest, err := s.history.GetLatestDeployment(r.Context(), containerName)
	if err != nil {
		s.logger.Error("Failed to get latest deployment", "error", err, "container", containerName)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch deployment status")
		return
	}
	if latest == nil {
		s.respondError(w, http.StatusNotFound, "No deployments for container")
		return
	}

	recent, err := s.history.GetDeploymentHistory(r.Context(), containerName, RecentDeploymentsLimit)
	if err != nil {
		s.logger.Error("Failed to get deployment history", "error", err, "container", containerName)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch deployment status")
		return
	}

	s.respondJSON(w, http.StatusOK, history.DeploymentStatus{
		Container:         containerName,
		LatestDeployment:  latest,
		RecentDeployments: recent,
	})
}

func (s *Server) respondReceived(w http.ResponseWriter) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, msg string) {
	s.respondJSON(w, statusCode, map[string]string{"error": msg})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func isMalformedJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
