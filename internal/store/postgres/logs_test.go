package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestAppendLogLines_AtomicBatch(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO execution_logs \(job_id, line\) VALUES \(\$1, \$2\)`).
		WithArgs(jobID, "line one").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO execution_logs \(job_id, line\) VALUES \(\$1, \$2\)`).
		WithArgs(jobID, "line two").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := store_.AppendLogLines(context.Background(), jobID, []string{"line one", "line two"})
	if err != nil {
		t.Fatalf("AppendLogLines failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAppendLogLines_EmptyBatchIsNoop(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	if err := store_.AppendLogLines(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("empty batch failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no statements expected: %v", err)
	}
}

func TestGetLogLines_AfterID(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	jobID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, job_id, line, created_at\s+FROM execution_logs\s+WHERE job_id = \$1 AND id > \$2\s+ORDER BY id ASC`).
		WithArgs(jobID, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "line", "created_at"}).
			AddRow(int64(4), jobID, "later line", now))

	lines, err := store_.GetLogLines(context.Background(), jobID, 3)
	if err != nil {
		t.Fatalf("GetLogLines failed: %v", err)
	}
	if len(lines) != 1 || lines[0].ID != 4 || lines[0].Line != "later line" {
		t.Errorf("got %+v", lines)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
