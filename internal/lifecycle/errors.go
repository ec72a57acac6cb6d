package lifecycle

// InvalidStateError reports an operation attempted against a job or
// pipeline whose current state forbids it. It is structured and non-fatal;
// no retry is performed automatically.
type InvalidStateError struct {
	msg string
}

func (e *InvalidStateError) Error() string { return e.msg }

var (
	// ErrDeleteInQueue rejects deletion while a dispatch message is in
	// flight; deleting now would race the worker.
	ErrDeleteInQueue = &InvalidStateError{"cannot delete jobs in queue"}

	// ErrStaleExecution rejects delete/kill of a running job that never
	// reported its container identity; there is nothing to safely kill.
	ErrStaleExecution = &InvalidStateError{"job didn't update properly, try again later"}

	// ErrNotFinished rejects result download before the job is done.
	ErrNotFinished = &InvalidStateError{"job is not finished"}

	// ErrNotRunning rejects kill of a job that is not running.
	ErrNotRunning = &InvalidStateError{"job is not running"}

	// ErrNotEditable rejects edits to a job that has been submitted.
	ErrNotEditable = &InvalidStateError{"job has already been submitted"}
)
