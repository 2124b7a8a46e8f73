// Package api contains the JSON request/response structs exchanged with the
// managed training service.
package api

import "time"

// AcceleratorConfig names the accelerator attached to a training job.
type AcceleratorConfig struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// SubmitTrainingRequest is the request body for submitting a training job.
type SubmitTrainingRequest struct {
	JobName     string             `json:"job_name"`
	Image       string             `json:"image"`
	Args        []string           `json:"args,omitempty"`
	Region      string             `json:"region"`
	MachineType string             `json:"machine_type"`
	Accelerator *AcceleratorConfig `json:"accelerator,omitempty"`
	Preemptible bool               `json:"preemptible,omitempty"`
	Labels      map[string]string  `json:"labels,omitempty"`
}

// SubmitTrainingResponse is the response body after submitting a training job.
type SubmitTrainingResponse struct {
	JobID string `json:"job_id"`
	// JobURL points a browser at the backend's own view of the job.
	JobURL string `json:"job_url,omitempty"`
}

// Training job states reported by the service.
const (
	TrainingStateQueued    = "QUEUED"
	TrainingStatePreparing = "PREPARING"
	TrainingStateRunning   = "RUNNING"
	TrainingStateSucceeded = "SUCCEEDED"
	TrainingStateFailed    = "FAILED"
	TrainingStateCancelled = "CANCELLED"
)

// TrainingJobResponse is the response body for training job status queries.
type TrainingJobResponse struct {
	JobID     string     `json:"job_id"`
	State     string     `json:"state"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
