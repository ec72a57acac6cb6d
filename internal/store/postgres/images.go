package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) CreateImage(ctx context.Context, img *store.Image) error {
	query := `
		INSERT INTO images (id, owner_id, name, dockerfile, repo_url, ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		img.ID,
		img.OwnerID,
		img.Name,
		img.Dockerfile,
		img.RepoURL,
		img.Ref,
		img.CreatedAt,
	)
	return err
}

func (s *Store) GetImage(ctx context.Context, id, ownerID uuid.UUID) (*store.Image, error) {
	query := `
		SELECT id, owner_id, name, dockerfile, repo_url, ref, created_at
		FROM images
		WHERE id = $1 AND owner_id = $2
	`
	var img store.Image
	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&img.ID, &img.OwnerID, &img.Name, &img.Dockerfile, &img.RepoURL, &img.Ref, &img.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Store) ListImages(ctx context.Context, ownerID uuid.UUID) ([]store.Image, error) {
	query := `
		SELECT id, owner_id, name, dockerfile, repo_url, ref, created_at
		FROM images
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []store.Image
	for rows.Next() {
		var img store.Image
		if err := rows.Scan(&img.ID, &img.OwnerID, &img.Name, &img.Dockerfile, &img.RepoURL, &img.Ref, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *Store) UpdateImage(ctx context.Context, img *store.Image) error {
	query := `
		UPDATE images
		SET name = $1, dockerfile = $2, repo_url = $3, ref = $4
		WHERE id = $5 AND owner_id = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		img.Name, img.Dockerfile, img.RepoURL, img.Ref, img.ID, img.OwnerID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteImage(ctx context.Context, id, ownerID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM images WHERE id = $1 AND owner_id = $2", id, ownerID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return store.ErrImageInUse
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
