package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/cnab-ingest/internal/domain"
)

// CreateFile inserts a new file row in its initial Uploaded state.
func (s *Store) CreateFile(ctx context.Context, f *domain.File) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO files (id, name, size, blob_key, status, error_message, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Name, f.Size, f.BlobKey, f.Status, f.ErrorMessage, f.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.ID, err)
	}
	return nil
}

// GetFile loads one file by id.
func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	var f domain.File
	err := s.db.QueryRow(ctx, `
		SELECT id, name, size, blob_key, status, error_message, uploaded_at, processed_at
		FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Size, &f.BlobKey, &f.Status, &f.ErrorMessage, &f.UploadedAt, &f.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil, classify("get file", err)
	}
	return &f, nil
}

// ListFiles returns the most recently uploaded files, newest first.
func (s *Store) ListFiles(ctx context.Context, limit int) ([]domain.File, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, size, blob_key, status, error_message, uploaded_at, processed_at
		FROM files ORDER BY uploaded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify("list files", err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.BlobKey, &f.Status,
			&f.ErrorMessage, &f.UploadedAt, &f.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListPendingFiles returns files that never reached a terminal state,
// oldest first. Used on startup to re-enqueue work lost with the in-memory
// queue.
func (s *Store) ListPendingFiles(ctx context.Context) ([]domain.File, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, size, blob_key, status, error_message, uploaded_at, processed_at
		FROM files
		WHERE status IN ($1, $2)
		ORDER BY uploaded_at`,
		domain.StatusUploaded, domain.StatusProcessing)
	if err != nil {
		return nil, classify("list pending files", err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.BlobKey, &f.Status,
			&f.ErrorMessage, &f.UploadedAt, &f.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateFileStatus persists a transition already applied to f in memory.
// The update is guarded on the expected previous status so that two workers
// racing on a redelivered item cannot both move the file: the loser sees
// ErrStatusConflict and reloads.
func (s *Store) UpdateFileStatus(ctx context.Context, f *domain.File, from domain.FileStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE files
		SET status = $1, error_message = $2, processed_at = $3
		WHERE id = $4 AND status = $5`,
		f.Status, f.ErrorMessage, f.ProcessedAt, f.ID, from,
	)
	if err != nil {
		return classify("update file status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: file %s not in status %s", ErrStatusConflict, f.ID, from)
	}
	return nil
}
