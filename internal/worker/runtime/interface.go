// Package runtime provides the Runtime interface for job execution backends.
package runtime

import (
	"context"
	"io"
)

// Runtime defines the interface for executing jobs.
// Implementations include Docker and raw process execution.
type Runtime interface {
	// Start begins execution of a job and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a job. InboxDir and
// OutboxDir are host directories surfaced to the job as /inbox and
// /outbox: inputs are read from the first, results are collected from the
// second.
type StartOptions struct {
	Image     string
	Command   string
	Env       map[string]string
	InboxDir  string
	OutboxDir string
}

// ExitResult is the outcome of a finished job, with the resource usage
// counters the backend can provide. Backends that cannot measure a
// counter leave it zero.
type ExitResult struct {
	ExitCode int
	Error    error
	CPU      int64 // cumulative cpu time, nanoseconds
	Memory   int64 // peak memory, bytes
	IO       int64 // bytes read and written
}

// Handle represents a running job execution.
type Handle interface {
	// ID returns the backend's identity for the execution, reported to
	// the coordinator so a kill broadcast can address it.
	ID() string

	// Wait blocks until the job completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the job.
	Stop(ctx context.Context) error

	// StreamLogs returns a follow-reader for the job's stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
