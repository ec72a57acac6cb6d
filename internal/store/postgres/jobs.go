package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
)

const jobColumns = `id, pipeline_id, image_id, command, sequence_number, state,
	attachments_token, results_token, attachments_path, results_path,
	container_id, cpu_usage, memory_usage, io_usage, created_at`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*store.Job, error) {
	var j store.Job
	err := row.Scan(
		&j.ID, &j.PipelineID, &j.ImageID, &j.Command, &j.SequenceNumber, &j.State,
		&j.AttachmentsToken, &j.ResultsToken, &j.AttachmentsPath, &j.ResultsPath,
		&j.ContainerID, &j.CPU, &j.Memory, &j.IO, &j.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a new job row. When the job carries no explicit
// sequence number (< 0), the number is assigned inside the statement as
// the count of the pipeline's live jobs, so concurrent appends cannot
// observe a stale count outside the insert.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO jobs (id, pipeline_id, image_id, command, sequence_number, state,
			attachments_token, results_token, attachments_path, results_path, created_at)
		VALUES ($1, $2, $3, $4,
			CASE WHEN $5 >= 0 THEN $5
			     ELSE (SELECT COUNT(*) FROM jobs WHERE pipeline_id = $2) END,
			$6, $7, $8, $9, $10, $11)
		RETURNING sequence_number
	`
	return s.db.QueryRowContext(ctx, query,
		job.ID,
		job.PipelineID,
		job.ImageID,
		job.Command,
		job.SequenceNumber,
		job.State,
		job.AttachmentsToken,
		job.ResultsToken,
		job.AttachmentsPath,
		job.ResultsPath,
		job.CreatedAt,
	).Scan(&job.SequenceNumber)
}

// GetJob resolves ownership through the pipeline, never through the job
// itself.
func (s *Store) GetJob(ctx context.Context, id, ownerID uuid.UUID) (*store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE id = $1
		  AND pipeline_id IN (SELECT id FROM pipelines WHERE owner_id = $2)
	`, jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, query, id, ownerID))
}

// GetJobByToken looks up a job by id and exact token match regardless of
// owner. A missing job and a wrong token both come back as ErrNotFound so
// callers cannot probe for job existence.
func (s *Store) GetJobByToken(ctx context.Context, id uuid.UUID, token string, scope store.TokenScope) (*store.Job, error) {
	col := "attachments_token"
	if scope == store.ScopeResults {
		col = "results_token"
	}
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1 AND %s = $2", jobColumns, col)
	return scanJob(s.db.QueryRowContext(ctx, query, id, token))
}

func (s *Store) ListJobs(ctx context.Context, ownerID uuid.UUID) ([]store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE pipeline_id IN (SELECT id FROM pipelines WHERE owner_id = $1)
		ORDER BY created_at ASC
	`, jobColumns)
	return s.queryJobs(ctx, query, ownerID)
}

func (s *Store) ListPipelineJobs(ctx context.Context, pipelineID uuid.UUID) ([]store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE pipeline_id = $1
		ORDER BY sequence_number ASC
	`, jobColumns)
	return s.queryJobs(ctx, query, pipelineID)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) UpdateJobSpec(ctx context.Context, id uuid.UUID, command string, imageID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET command = $1, image_id = $2 WHERE id = $3",
		command, imageID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetJobState(ctx context.Context, id uuid.UUID, state store.JobState) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET state = $1 WHERE id = $2", state, id)
	return err
}

// MarkJobRunning only moves forward. A job that already reached a terminal
// state keeps it even if the notification arrives late.
func (s *Store) MarkJobRunning(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = $1 WHERE id = $2 AND state IN ($3, $4)",
		store.JobStateRunning, id, store.JobStateReady, store.JobStateInQueue)
	return err
}

func (s *Store) SetContainerID(ctx context.Context, id uuid.UUID, containerID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET container_id = $1 WHERE id = $2", containerID, id)
	return err
}

func (s *Store) RecordResult(ctx context.Context, id uuid.UUID, state store.JobState, cpu, memory, io int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = $1, cpu_usage = $2, memory_usage = $3, io_usage = $4
		WHERE id = $5
	`, state, cpu, memory, io, id)
	return err
}

// DeleteJob removes the job and renumbers the pipeline's remaining jobs to
// a dense 0..N-1 sequence, all inside one transaction.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pipelineID uuid.UUID
	err = tx.QueryRowContext(ctx,
		"DELETE FROM jobs WHERE id = $1 RETURNING pipeline_id", id).Scan(&pipelineID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := renumber(ctx, tx, pipelineID); err != nil {
		return err
	}
	return tx.Commit()
}

// ResequenceJobs applies the caller-supplied ordering. The given id set
// must match the pipeline's live jobs exactly; on any mismatch nothing is
// changed and ErrSequenceMismatch is returned.
func (s *Store) ResequenceJobs(ctx context.Context, pipelineID uuid.UUID, ordered []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM jobs WHERE pipeline_id = $1 FOR UPDATE", pipelineID)
	if err != nil {
		return err
	}
	live := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		live[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(ordered) != len(live) {
		return store.ErrSequenceMismatch
	}
	seen := make(map[uuid.UUID]bool, len(ordered))
	for _, id := range ordered {
		if !live[id] || seen[id] {
			return store.ErrSequenceMismatch
		}
		seen[id] = true
	}

	for seq, id := range ordered {
		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET sequence_number = $1 WHERE id = $2", seq, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountJobsInState(ctx context.Context, state store.JobState) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE state = $1", state).Scan(&count)
	return count, err
}

func renumber(ctx context.Context, tx store.DBTransaction, pipelineID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET sequence_number = numbered.rn - 1
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY sequence_number ASC) AS rn
			FROM jobs WHERE pipeline_id = $1
		) AS numbered
		WHERE jobs.id = numbered.id
	`, pipelineID)
	return err
}
