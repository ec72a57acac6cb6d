package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreatePipeline(ctx context.Context, p *store.Pipeline) error {
	query := `
		INSERT INTO pipelines (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.CreatedAt)
	return err
}

func (s *Store) GetPipeline(ctx context.Context, id, ownerID uuid.UUID) (*store.Pipeline, error) {
	query := "SELECT id, owner_id, name, created_at FROM pipelines WHERE id = $1 AND owner_id = $2"

	var p store.Pipeline
	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPipelines(ctx context.Context, ownerID uuid.UUID) ([]store.Pipeline, error) {
	query := "SELECT id, owner_id, name, created_at FROM pipelines WHERE owner_id = $1 ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []store.Pipeline
	for rows.Next() {
		var p store.Pipeline
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// DeletePipeline removes the pipeline. Jobs and logs cascade at the schema
// level (ON DELETE CASCADE).
func (s *Store) DeletePipeline(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	executor := s.getExecutor(tx)
	res, err := executor.ExecContext(ctx, "DELETE FROM pipelines WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
