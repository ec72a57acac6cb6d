package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/adimian/kabuto/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func jobRows(job *store.Job) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "pipeline_id", "image_id", "command", "sequence_number", "state",
		"attachments_token", "results_token", "attachments_path", "results_path",
		"container_id", "cpu_usage", "memory_usage", "io_usage", "created_at",
	}).AddRow(
		job.ID, job.PipelineID, job.ImageID, job.Command, job.SequenceNumber, job.State,
		job.AttachmentsToken, job.ResultsToken, job.AttachmentsPath, job.ResultsPath,
		job.ContainerID, job.CPU, job.Memory, job.IO, job.CreatedAt,
	)
}

func TestCreateJob_AppendsSequence(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	job := &store.Job{
		ID:               uuid.New(),
		PipelineID:       uuid.New(),
		ImageID:          uuid.New(),
		Command:          "echo hello",
		SequenceNumber:   -1,
		State:            store.JobStateReady,
		AttachmentsToken: "at",
		ResultsToken:     "rt",
	}

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs(job.ID, job.PipelineID, job.ImageID, job.Command, -1,
			job.State, "at", "rt", "", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number"}).AddRow(2))

	if err := store_.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.SequenceNumber != 2 {
		t.Errorf("got sequence %d, want the store-assigned 2", job.SequenceNumber)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should be defaulted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJob_ScopedThroughPipelineOwner(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	ownerID := uuid.New()
	job := &store.Job{
		ID:         uuid.New(),
		PipelineID: uuid.New(),
		ImageID:    uuid.New(),
		State:      store.JobStateRunning,
		CreatedAt:  time.Now(),
	}

	mock.ExpectQuery(`SELECT .+ FROM jobs\s+WHERE id = \$1\s+AND pipeline_id IN \(SELECT id FROM pipelines WHERE owner_id = \$2\)`).
		WithArgs(job.ID, ownerID).
		WillReturnRows(jobRows(job))

	got, err := store_.GetJob(context.Background(), job.ID, ownerID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.ID != job.ID || got.State != store.JobStateRunning {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectQuery(`SELECT .+ FROM jobs`).
		WillReturnError(sql.ErrNoRows)

	_, err := store_.GetJob(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJobByToken_SelectsScopeColumn(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	job := &store.Job{ID: uuid.New(), PipelineID: uuid.New(), ImageID: uuid.New(), CreatedAt: time.Now()}

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1 AND attachments_token = \$2`).
		WithArgs(job.ID, "tok").
		WillReturnRows(jobRows(job))

	if _, err := store_.GetJobByToken(context.Background(), job.ID, "tok", store.ScopeAttachments); err != nil {
		t.Fatalf("attachments scope: %v", err)
	}

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1 AND results_token = \$2`).
		WithArgs(job.ID, "tok").
		WillReturnRows(jobRows(job))

	if _, err := store_.GetJobByToken(context.Background(), job.ID, "tok", store.ScopeResults); err != nil {
		t.Fatalf("results scope: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJobByToken_MismatchIsNotFound(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1 AND results_token = \$2`).
		WillReturnError(sql.ErrNoRows)

	_, err := store_.GetJobByToken(context.Background(), uuid.New(), "wrong", store.ScopeResults)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkJobRunning_GuardsPriorStates(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs SET state = \$1 WHERE id = \$2 AND state IN \(\$3, \$4\)`).
		WithArgs(store.JobStateRunning, id, store.JobStateReady, store.JobStateInQueue).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store_.MarkJobRunning(context.Background(), id); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordResult(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs\s+SET state = \$1, cpu_usage = \$2, memory_usage = \$3, io_usage = \$4\s+WHERE id = \$5`).
		WithArgs(store.JobStateFailed, int64(1), int64(2), int64(3), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store_.RecordResult(context.Background(), id, store.JobStateFailed, 1, 2, 3); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteJob_RenumbersInTransaction(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	id := uuid.New()
	pipelineID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM jobs WHERE id = \$1 RETURNING pipeline_id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pipeline_id"}).AddRow(pipelineID))
	mock.ExpectExec(`UPDATE jobs SET sequence_number = numbered\.rn - 1`).
		WithArgs(pipelineID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store_.DeleteJob(context.Background(), id); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteJob_Missing(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM jobs WHERE id = \$1 RETURNING pipeline_id`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store_.DeleteJob(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResequenceJobs_AppliesOrdering(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	pipelineID := uuid.New()
	a, b := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs WHERE pipeline_id = \$1 FOR UPDATE`).
		WithArgs(pipelineID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))
	mock.ExpectExec(`UPDATE jobs SET sequence_number = \$1 WHERE id = \$2`).
		WithArgs(0, b).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET sequence_number = \$1 WHERE id = \$2`).
		WithArgs(1, a).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store_.ResequenceJobs(context.Background(), pipelineID, []uuid.UUID{b, a}); err != nil {
		t.Fatalf("ResequenceJobs failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestResequenceJobs_MismatchedSetRollsBack(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	pipelineID := uuid.New()
	a, b := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs WHERE pipeline_id = \$1 FOR UPDATE`).
		WithArgs(pipelineID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))
	mock.ExpectRollback()

	err := store_.ResequenceJobs(context.Background(), pipelineID, []uuid.UUID{a, uuid.New()})
	if !errors.Is(err, store.ErrSequenceMismatch) {
		t.Errorf("expected ErrSequenceMismatch, got %v", err)
	}

	// Duplicate ids are rejected the same way.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs WHERE pipeline_id = \$1 FOR UPDATE`).
		WithArgs(pipelineID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))
	mock.ExpectRollback()

	err = store_.ResequenceJobs(context.Background(), pipelineID, []uuid.UUID{a, a})
	if !errors.Is(err, store.ErrSequenceMismatch) {
		t.Errorf("expected ErrSequenceMismatch for duplicate id, got %v", err)
	}
}

func TestCountJobsInState(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE state = \$1`).
		WithArgs(store.JobStateInQueue).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store_.CountJobsInState(context.Background(), store.JobStateInQueue)
	if err != nil {
		t.Fatalf("CountJobsInState failed: %v", err)
	}
	if n != 7 {
		t.Errorf("got %d, want 7", n)
	}
}
