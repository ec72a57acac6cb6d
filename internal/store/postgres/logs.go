package postgres

import (
	"context"

	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
)

// AppendLogLines inserts the lines as one atomic batch. The bigserial id
// gives every line a strictly increasing, never-reused id.
func (s *Store) AppendLogLines(ctx context.Context, jobID uuid.UUID, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO execution_logs (job_id, line) VALUES ($1, $2)",
			jobID, line); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLogLines returns lines with id > afterID in ascending id order.
// Repeated calls with the same afterID return the same set as long as no
// new lines were deposited.
func (s *Store) GetLogLines(ctx context.Context, jobID uuid.UUID, afterID int64) ([]store.LogLine, error) {
	query := `
		SELECT id, job_id, line, created_at
		FROM execution_logs
		WHERE job_id = $1 AND id > $2
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []store.LogLine
	for rows.Next() {
		var l store.LogLine
		if err := rows.Scan(&l.ID, &l.JobID, &l.Line, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
