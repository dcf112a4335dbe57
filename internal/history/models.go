package history

import "time"

// Record statuses
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRemoved    = "removed"
)

// DeploymentRecord represents a single deploy or teardown job in the database
type DeploymentRecord struct {
	ID           int64      `json:"id"`
	DeploymentID string     `json:"deployment_id"`
	Container    string     `json:"container"`
	Action       string     `json:"action"`
	Branch       string     `json:"branch"`
	CommitHash   *string    `json:"commit_hash,omitempty"`
	PRNumber     *int       `json:"pr_number,omitempty"`
	DeliveryID   *string    `json:"delivery_id,omitempty"`
	Image        *string    `json:"image,omitempty"`
	Status       string     `json:"status"` // in_progress, success, failed, removed
	Stage        *string    `json:"stage,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// DeploymentStatus is the latest record of a container plus its recent history
type DeploymentStatus struct {
	Container         string             `json:"container"`
	LatestDeployment  *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentDeployments []DeploymentRecord `json:"recent_deployments"`
}
