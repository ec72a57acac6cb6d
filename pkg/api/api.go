// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the worker agent and the coordinator.
package api

import "time"

// CreateUserRequest is the request body for provisioning a user.
type CreateUserRequest struct {
	Login string `json:"login"`
}

// CreateUserResponse is returned after provisioning a user.
// The raw API key is only ever returned here.
type CreateUserResponse struct {
	ID     string `json:"user_id"`
	Login  string `json:"login"`
	APIKey string `json:"api_key"`
}

// CreateImageRequest is the request body for building a new image.
// Either Dockerfile or RepoURL must be set.
type CreateImageRequest struct {
	Name       string `json:"name"`
	Dockerfile string `json:"dockerfile,omitempty"`
	RepoURL    string `json:"repo_url,omitempty"`
	NoCache    bool   `json:"nocache,omitempty"`
}

// ImageResponse describes an image.
type ImageResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildResponse is returned after an image build.
type BuildResponse struct {
	ID     string   `json:"id"`
	Ref    string   `json:"ref"`
	Output []string `json:"output,omitempty"`
}

// CreatePipelineRequest is the request body for creating a pipeline.
type CreatePipelineRequest struct {
	Name string `json:"name"`
}

// PipelineResponse describes a pipeline.
type PipelineResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// JobResponse describes a job.
type JobResponse struct {
	ID             string    `json:"id"`
	PipelineID     string    `json:"pipeline_id"`
	ImageID        string    `json:"image_id"`
	Command        string    `json:"command"`
	SequenceNumber int       `json:"sequence_number"`
	State          string    `json:"state"`
	CPU            int64     `json:"cpu"`
	Memory         int64     `json:"memory"`
	IO             int64     `json:"io"`
	CreatedAt      time.Time `json:"created_at"`
}

// UpdateJobRequest is the request body for editing an unsubmitted job.
type UpdateJobRequest struct {
	Command string `json:"command,omitempty"`
	ImageID string `json:"image_id,omitempty"`
}

// RearrangeRequest carries the new job ordering for a pipeline.
// The id set must match the pipeline's jobs exactly.
type RearrangeRequest struct {
	JobIDs []string `json:"job_ids"`
}

// SubmitResponse maps job id to the state it ended up in after dispatch.
type SubmitResponse map[string]string

// DepositLogsRequest is the payload sent by the worker to append log lines.
type DepositLogsRequest struct {
	Lines []string `json:"lines"`
}

// LogLine represents a single log line in responses.
type LogLine struct {
	ID        int64     `json:"id"`
	Line      string    `json:"logline"`
	CreatedAt time.Time `json:"created_at"`
}

// GetLogsResponse is the response body for withdrawing logs.
type GetLogsResponse struct {
	Logs []LogLine `json:"logs"`
}

// ContainerUpdateRequest is sent by the worker once its container is up,
// so kill and delete have an execution identity to act on.
type ContainerUpdateRequest struct {
	ContainerID string `json:"container_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// DispatchMessage is the queue payload instructing a worker to execute one
// job. It is sufficient for the worker to fetch inputs and report back
// without any other coordinator call.
type DispatchMessage struct {
	JobID            string `json:"job_id"`
	Image            string `json:"image"`
	Command          string `json:"command"`
	AttachmentsToken string `json:"attachments_token"`
	ResultsToken     string `json:"results_token"`
}

// KillMessage is broadcast on the kill fanout exchange. Delivery is
// best-effort; offline workers will miss it.
type KillMessage struct {
	JobID       string `json:"job_id"`
	ContainerID string `json:"container_id"`
}

// Job states as they appear on the wire.
const (
	StateReady   = "ready"
	StateInQueue = "in_queue"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
	StateKilled  = "killed"
)
