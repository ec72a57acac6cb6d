// Package store contains the database layer for kabuto.
package store

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account that owns images and pipelines.
// All owner-scoped operations must filter by the user's ID.
type User struct {
	ID             uuid.UUID
	Login          string
	RateLimit      int
	RateLimitBurst int
	CreatedAt      time.Time
}

// Image represents a buildable container image owned by a user.
// Ref is the registry reference produced by the build; the name is only
// meaningful within the owner's registry namespace.
type Image struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Name       string
	Dockerfile string
	RepoURL    string
	Ref        string
	CreatedAt  time.Time
}

// Pipeline is an ordered collection of jobs owned by a user.
type Pipeline struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Job is a single unit of remote work. Its owner is derived through the
// pipeline; there is no independent owner column. The two tokens are the
// only credential a worker ever holds and are never derivable from the id.
type Job struct {
	ID               uuid.UUID
	PipelineID       uuid.UUID
	ImageID          uuid.UUID
	Command          string
	SequenceNumber   int
	State            JobState
	AttachmentsToken string
	ResultsToken     string
	AttachmentsPath  string
	ResultsPath      string
	ContainerID      *string
	CPU              int64
	Memory           int64
	IO               int64
	CreatedAt        time.Time
}

// LogLine is one append-only execution log line. IDs are strictly
// increasing within a job and never reused.
type LogLine struct {
	ID        int64
	JobID     uuid.UUID
	Line      string
	CreatedAt time.Time
}

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobStateReady   JobState = "ready"
	JobStateInQueue JobState = "in_queue"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
	JobStateKilled  JobState = "killed"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed || s == JobStateKilled
}

// TokenScope selects which of a job's two bearer tokens a lookup checks.
type TokenScope string

const (
	ScopeAttachments TokenScope = "attachments"
	ScopeResults     TokenScope = "results"
)
