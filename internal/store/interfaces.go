package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an entity does not resolve for the given
// owner or token scope. Callers must not be able to tell "does not exist"
// apart from "exists but not yours".
var ErrNotFound = errors.New("not found")

// ErrSequenceMismatch is returned by ResequenceJobs when the supplied id
// set does not exactly match the pipeline's live jobs.
var ErrSequenceMismatch = errors.New("job ids do not match the pipeline's jobs")

// ErrImageInUse is returned by DeleteImage while jobs still reference the
// image.
var ErrImageInUse = errors.New("image is used by existing jobs")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// UserStore handles account persistence and bearer-key resolution.
type UserStore interface {
	// CreateUser inserts a new user with the hash of its API key.
	CreateUser(ctx context.Context, user *User, hashedKey string) error

	// GetUserByID returns a user by its ID.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByAPIKeyHash resolves a bearer credential to a user.
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error)
}

// ImageStore handles persistence of image definitions.
type ImageStore interface {
	CreateImage(ctx context.Context, img *Image) error
	GetImage(ctx context.Context, id, ownerID uuid.UUID) (*Image, error)
	ListImages(ctx context.Context, ownerID uuid.UUID) ([]Image, error)
	UpdateImage(ctx context.Context, img *Image) error
	DeleteImage(ctx context.Context, id, ownerID uuid.UUID) error
}

// PipelineStore handles persistence of pipelines.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *Pipeline) error
	GetPipeline(ctx context.Context, id, ownerID uuid.UUID) (*Pipeline, error)
	ListPipelines(ctx context.Context, ownerID uuid.UUID) ([]Pipeline, error)
	DeletePipeline(ctx context.Context, tx DBTransaction, id uuid.UUID) error
}

// JobStore handles persistence of jobs and their state transitions.
// Owner-scoped reads always resolve ownership through the pipeline.
type JobStore interface {
	// CreateJob inserts a new job. The sequence number is assigned inside
	// the statement as the count of the pipeline's live jobs unless the
	// job carries an explicit one (SequenceNumber >= 0).
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a job by id, scoped to the owning user via its
	// pipeline.
	GetJob(ctx context.Context, id, ownerID uuid.UUID) (*Job, error)

	// GetJobByToken returns a job by id and exact token match, regardless
	// of owner. A wrong token and a missing job are both ErrNotFound.
	GetJobByToken(ctx context.Context, id uuid.UUID, token string, scope TokenScope) (*Job, error)

	// ListJobs returns all jobs owned by the user.
	ListJobs(ctx context.Context, ownerID uuid.UUID) ([]Job, error)

	// ListPipelineJobs returns a pipeline's jobs in ascending sequence order.
	ListPipelineJobs(ctx context.Context, pipelineID uuid.UUID) ([]Job, error)

	// UpdateJobSpec updates command and image of an unsubmitted job.
	UpdateJobSpec(ctx context.Context, id uuid.UUID, command string, imageID uuid.UUID) error

	// SetJobState unconditionally sets the state.
	SetJobState(ctx context.Context, id uuid.UUID, state JobState) error

	// MarkJobRunning flips ready/in_queue to running. It is a no-op on a
	// job that is already running or terminal, so a late notification can
	// never regress a finished job.
	MarkJobRunning(ctx context.Context, id uuid.UUID) error

	// SetContainerID records the runtime identity reported by the worker.
	SetContainerID(ctx context.Context, id uuid.UUID, containerID string) error

	// RecordResult sets the terminal state and usage counters atomically.
	RecordResult(ctx context.Context, id uuid.UUID, state JobState, cpu, memory, io int64) error

	// DeleteJob removes a job and renumbers the pipeline's remaining jobs
	// to a dense 0..N-1 sequence, in one transaction.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// ResequenceJobs renumbers the pipeline's jobs to match the given
	// order. The id set must match exactly or ErrSequenceMismatch is
	// returned and nothing changes.
	ResequenceJobs(ctx context.Context, pipelineID uuid.UUID, ordered []uuid.UUID) error

	// CountJobsInState returns the number of jobs currently in the given
	// state across all pipelines. Used by the queue-depth gauge.
	CountJobsInState(ctx context.Context, state JobState) (int64, error)
}

// LogStore handles the append-only execution log channel.
type LogStore interface {
	// AppendLogLines appends the lines as one atomic batch.
	AppendLogLines(ctx context.Context, jobID uuid.UUID, lines []string) error

	// GetLogLines returns the job's lines with id > afterID in ascending
	// id order. afterID = 0 returns everything.
	GetLogLines(ctx context.Context, jobID uuid.UUID, afterID int64) ([]LogLine, error)
}
