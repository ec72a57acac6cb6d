// Package lifecycle implements the job state machine: creation, dispatch,
// worker callbacks, kill and deletion semantics.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adimian/kabuto/internal/archive"
	"github.com/adimian/kabuto/internal/auth"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"

	"github.com/google/uuid"
)

// Store is the slice of the entity store the lifecycle manager needs.
type Store interface {
	store.JobStore
	store.LogStore
	GetPipeline(ctx context.Context, id, ownerID uuid.UUID) (*store.Pipeline, error)
	DeletePipeline(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error
	GetImage(ctx context.Context, id, ownerID uuid.UUID) (*store.Image, error)
}

// Broker publishes dispatch messages and kill broadcasts.
type Broker interface {
	Send(ctx context.Context, queueName string, payload []byte) error
	Broadcast(ctx context.Context, exchange string, payload []byte) error
}

// Config holds the manager's wiring knobs.
type Config struct {
	// WorkDir is the root for per-job attachment and result directories.
	WorkDir string

	// JobsQueue is the durable dispatch queue name.
	JobsQueue string

	// KillExchange is the fanout exchange for kill broadcasts.
	KillExchange string
}

// Manager drives the job state machine. All mutual exclusion between
// concurrent submits, deletes and worker callbacks happens at the
// datastore; the manager itself holds no locks so it can run in multiple
// coordinator instances.
type Manager struct {
	store  Store
	broker Broker
	cfg    Config
	log    *slog.Logger
}

// New creates a lifecycle manager.
func New(s Store, b Broker, cfg Config, log *slog.Logger) *Manager {
	if cfg.JobsQueue == "" {
		cfg.JobsQueue = "jobs"
	}
	if cfg.KillExchange == "" {
		cfg.KillExchange = "kill"
	}
	return &Manager{store: s, broker: b, cfg: cfg, log: log}
}

// Attachment is one input file staged into a job's attachment directory.
type Attachment struct {
	Name    string
	Content io.Reader
}

// CreateJob attaches a new job to the pipeline: fresh working directories,
// fresh tokens, state ready, sequence number appended after the pipeline's
// live jobs.
func (m *Manager) CreateJob(ctx context.Context, ownerID, pipelineID, imageID uuid.UUID, command string, attachments []Attachment) (*store.Job, error) {
	if _, err := m.store.GetPipeline(ctx, pipelineID, ownerID); err != nil {
		return nil, err
	}
	if _, err := m.store.GetImage(ctx, imageID, ownerID); err != nil {
		return nil, err
	}

	attachmentsToken, err := auth.NewToken()
	if err != nil {
		return nil, err
	}
	resultsToken, err := auth.NewToken()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	jobDir := filepath.Join(m.cfg.WorkDir, "job-"+id.String())
	inbox := filepath.Join(jobDir, "attachments")
	outbox := filepath.Join(jobDir, "results")
	for _, dir := range []string{inbox, outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create working dir: %w", err)
		}
	}

	for _, a := range attachments {
		if err := stageAttachment(inbox, a); err != nil {
			os.RemoveAll(jobDir)
			return nil, err
		}
	}

	job := &store.Job{
		ID:               id,
		PipelineID:       pipelineID,
		ImageID:          imageID,
		Command:          command,
		SequenceNumber:   -1, // assigned by the store
		State:            store.JobStateReady,
		AttachmentsToken: attachmentsToken,
		ResultsToken:     resultsToken,
		AttachmentsPath:  inbox,
		ResultsPath:      outbox,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		os.RemoveAll(jobDir)
		return nil, err
	}
	return job, nil
}

func stageAttachment(inbox string, a Attachment) error {
	name := filepath.Base(filepath.Clean(a.Name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid attachment name %q", a.Name)
	}
	f, err := os.Create(filepath.Join(inbox, name))
	if err != nil {
		return fmt.Errorf("failed to stage attachment %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, a.Content); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return nil
}

// UpdateJob edits the command and/or image of an unsubmitted job.
func (m *Manager) UpdateJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID, command string, imageID uuid.UUID) (*store.Job, error) {
	job, err := m.jobInPipeline(ctx, ownerID, pipelineID, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != store.JobStateReady {
		return nil, ErrNotEditable
	}

	if command != "" {
		job.Command = command
	}
	if imageID != uuid.Nil {
		if _, err := m.store.GetImage(ctx, imageID, ownerID); err != nil {
			return nil, err
		}
		job.ImageID = imageID
	}
	if err := m.store.UpdateJobSpec(ctx, job.ID, job.Command, job.ImageID); err != nil {
		return nil, err
	}
	return job, nil
}

// Submit publishes one dispatch message per job in ascending sequence
// order and flips each job to in_queue as its message goes out. The loop
// is deliberately not atomic: a publish failure leaves earlier jobs
// in_queue, and resubmitting simply republishes them (at-least-once bias;
// a duplicate dispatch is safer than a lost job).
func (m *Manager) Submit(ctx context.Context, ownerID, pipelineID uuid.UUID) (map[uuid.UUID]store.JobState, error) {
	if _, err := m.store.GetPipeline(ctx, pipelineID, ownerID); err != nil {
		return nil, err
	}
	jobs, err := m.store.ListPipelineJobs(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	states := make(map[uuid.UUID]store.JobState, len(jobs))
	for _, job := range jobs {
		img, err := m.store.GetImage(ctx, job.ImageID, ownerID)
		if err != nil {
			return states, err
		}
		payload, err := json.Marshal(api.DispatchMessage{
			JobID:            job.ID.String(),
			Image:            img.Ref,
			Command:          job.Command,
			AttachmentsToken: job.AttachmentsToken,
			ResultsToken:     job.ResultsToken,
		})
		if err != nil {
			return states, err
		}
		if err := m.broker.Send(ctx, m.cfg.JobsQueue, payload); err != nil {
			// Earlier jobs stay in_queue; the caller retries the whole
			// submit.
			return states, err
		}
		if err := m.store.SetJobState(ctx, job.ID, store.JobStateInQueue); err != nil {
			return states, err
		}
		states[job.ID] = store.JobStateInQueue
	}
	return states, nil
}

// DeleteJob removes a job and its working directories. Jobs with a
// dispatch message in flight cannot be deleted; running jobs are killed
// first, which requires a known container identity.
func (m *Manager) DeleteJob(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID) error {
	job, err := m.jobInPipeline(ctx, ownerID, pipelineID, jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case store.JobStateInQueue:
		return ErrDeleteInQueue
	case store.JobStateRunning:
		if job.ContainerID == nil || *job.ContainerID == "" {
			return ErrStaleExecution
		}
		m.broadcastKill(ctx, job)
	}

	if err := m.store.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	m.removeWorkDirs(job)
	return nil
}

// Kill broadcasts a kill instruction for a running job. The broadcast is
// fire-and-forget: there is no confirmation that any worker received or
// acted on it, and the job's state is left for the worker's own result
// callback to resolve.
func (m *Manager) Kill(ctx context.Context, ownerID, jobID uuid.UUID) error {
	job, err := m.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job.State != store.JobStateRunning {
		return ErrNotRunning
	}
	if job.ContainerID == nil || *job.ContainerID == "" {
		return ErrStaleExecution
	}
	m.broadcastKill(ctx, job)
	return nil
}

func (m *Manager) broadcastKill(ctx context.Context, job *store.Job) {
	containerID := ""
	if job.ContainerID != nil {
		containerID = *job.ContainerID
	}
	payload, _ := json.Marshal(api.KillMessage{
		JobID:       job.ID.String(),
		ContainerID: containerID,
	})
	if err := m.broker.Broadcast(ctx, m.cfg.KillExchange, payload); err != nil {
		m.log.Error("kill broadcast failed", "job_id", job.ID, "error", err)
	}
}

// DeletePipeline removes a pipeline and all its jobs. Any job with a
// dispatch message in flight blocks the whole deletion.
func (m *Manager) DeletePipeline(ctx context.Context, ownerID, pipelineID uuid.UUID) error {
	if _, err := m.store.GetPipeline(ctx, pipelineID, ownerID); err != nil {
		return err
	}
	jobs, err := m.store.ListPipelineJobs(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.State == store.JobStateInQueue {
			return ErrDeleteInQueue
		}
	}
	for _, job := range jobs {
		if job.State == store.JobStateRunning && job.ContainerID != nil && *job.ContainerID != "" {
			m.broadcastKill(ctx, &job)
		}
	}
	if err := m.store.DeletePipeline(ctx, nil, pipelineID); err != nil {
		return err
	}
	for _, job := range jobs {
		m.removeWorkDirs(&job)
	}
	return nil
}

// Rearrange applies a new job ordering to the pipeline. The id set must
// match the pipeline's live jobs exactly or nothing changes.
func (m *Manager) Rearrange(ctx context.Context, ownerID, pipelineID uuid.UUID, ordered []uuid.UUID) error {
	if _, err := m.store.GetPipeline(ctx, pipelineID, ownerID); err != nil {
		return err
	}
	return m.store.ResequenceJobs(ctx, pipelineID, ordered)
}

// PackAttachments streams the job's attachment directory as a zip archive
// to w after an exact token match. The first successful fetch flips the
// job to running: the job is considered started the moment its inputs are
// read.
func (m *Manager) PackAttachments(ctx context.Context, jobID uuid.UUID, token string, w io.Writer, remoteAddr string) error {
	job, err := m.authorize(ctx, jobID, token, store.ScopeAttachments, remoteAddr)
	if err != nil {
		return err
	}
	if err := archive.Pack(w, job.AttachmentsPath); err != nil {
		return err
	}
	return m.store.MarkJobRunning(ctx, job.ID)
}

// PostResults records the worker's terminal state and usage counters, and
// extracts the optional results archive into the job's result directory.
// A corrupt archive aborts the whole operation before any state change.
func (m *Manager) PostResults(ctx context.Context, jobID uuid.UUID, token string, results io.ReaderAt, size int64, state store.JobState, cpu, memory, ioUsage int64, remoteAddr string) error {
	job, err := m.authorize(ctx, jobID, token, store.ScopeResults, remoteAddr)
	if err != nil {
		return err
	}
	if !state.Terminal() {
		return &InvalidStateError{fmt.Sprintf("invalid terminal state %q", state)}
	}

	if results != nil {
		if err := archive.Extract(results, size, job.ResultsPath); err != nil {
			return err
		}
	}
	return m.store.RecordResult(ctx, job.ID, state, cpu, memory, ioUsage)
}

// PackResults streams the finished job's result directory as a zip
// archive. Before the job is done this is a structured "not finished"
// error, never a partial or empty archive.
func (m *Manager) PackResults(ctx context.Context, ownerID, jobID uuid.UUID, w io.Writer) error {
	job, err := m.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job.State != store.JobStateDone {
		return ErrNotFinished
	}
	return archive.Pack(w, job.ResultsPath)
}

// RecordContainer stores the container identity reported by the worker so
// kill and delete have something to act on.
func (m *Manager) RecordContainer(ctx context.Context, jobID uuid.UUID, token, containerID, remoteAddr string) error {
	job, err := m.authorize(ctx, jobID, token, store.ScopeResults, remoteAddr)
	if err != nil {
		return err
	}
	return m.store.SetContainerID(ctx, job.ID, containerID)
}

// DepositLogs appends log lines as one atomic batch.
func (m *Manager) DepositLogs(ctx context.Context, jobID uuid.UUID, token string, lines []string, remoteAddr string) error {
	job, err := m.authorize(ctx, jobID, token, store.ScopeResults, remoteAddr)
	if err != nil {
		return err
	}
	return m.store.AppendLogLines(ctx, job.ID, lines)
}

// WithdrawLogs returns the job's log lines with id > afterID, ascending.
func (m *Manager) WithdrawLogs(ctx context.Context, ownerID, jobID uuid.UUID, afterID int64) ([]store.LogLine, error) {
	job, err := m.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	return m.store.GetLogLines(ctx, job.ID, afterID)
}

// authorize resolves a worker callback by job id and exact token match.
// "Job missing" and "token wrong" are indistinguishable to the caller so
// tokens cannot be probed; mismatches are logged with the source address
// for audit.
func (m *Manager) authorize(ctx context.Context, jobID uuid.UUID, token string, scope store.TokenScope, remoteAddr string) (*store.Job, error) {
	job, err := m.store.GetJobByToken(ctx, jobID, token, scope)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Warn("token mismatch",
			"job_id", jobID, "scope", string(scope), "remote_addr", remoteAddr)
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) jobInPipeline(ctx context.Context, ownerID, pipelineID, jobID uuid.UUID) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.PipelineID != pipelineID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (m *Manager) removeWorkDirs(job *store.Job) {
	if job.AttachmentsPath == "" {
		return
	}
	jobDir := filepath.Dir(job.AttachmentsPath)
	if err := os.RemoveAll(jobDir); err != nil {
		m.log.Error("failed to remove working dir", "job_id", job.ID, "error", err)
	}
}
