package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/cnab-ingest/internal/domain"
)

// CountAttempts returns how many processing attempts exist for a file.
func (s *Store) CountAttempts(ctx context.Context, fileID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM file_processing_attempts WHERE file_id = $1`, fileID,
	).Scan(&n)
	if err != nil {
		return 0, classify("count attempts", err)
	}
	return n, nil
}

// StartAttempt appends a new attempt row and fills in its id. The attempt
// number is the caller's responsibility (prior count + 1).
func (s *Store) StartAttempt(ctx context.Context, a *domain.FileProcessingAttempt) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO file_processing_attempts
			(file_id, attempt_number, status, error_message, message_id, invocation_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.FileID, a.Number, a.Status, a.ErrorMessage, a.MessageID, a.InvocationID, a.StartedAt,
	).Scan(&a.ID)
	if err != nil {
		return classify("start attempt", err)
	}
	return nil
}

// FinishAttempt records the outcome of one attempt. It writes the
// completion fields exactly once; a finished attempt row is otherwise
// immutable.
func (s *Store) FinishAttempt(ctx context.Context, id int64, status domain.FileStatus, errMsg string, completedAt time.Time, duration time.Duration) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE file_processing_attempts
		SET status = $1, error_message = $2, completed_at = $3, duration_ms = $4
		WHERE id = $5 AND completed_at IS NULL`,
		status, domain.TruncateError(errMsg), completedAt, duration.Milliseconds(), id,
	)
	if err != nil {
		return classify("finish attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attempt %d already completed", id)
	}
	return nil
}

// ListAttempts returns all attempts for a file in order.
func (s *Store) ListAttempts(ctx context.Context, fileID string) ([]domain.FileProcessingAttempt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, file_id, attempt_number, status, error_message, message_id,
		       invocation_id, started_at, completed_at, duration_ms
		FROM file_processing_attempts
		WHERE file_id = $1 ORDER BY attempt_number`, fileID)
	if err != nil {
		return nil, classify("list attempts", err)
	}
	defer rows.Close()

	var attempts []domain.FileProcessingAttempt
	for rows.Next() {
		var a domain.FileProcessingAttempt
		var durationMS *int64
		if err := rows.Scan(&a.ID, &a.FileID, &a.Number, &a.Status, &a.ErrorMessage,
			&a.MessageID, &a.InvocationID, &a.StartedAt, &a.CompletedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		if durationMS != nil {
			a.Duration = time.Duration(*durationMS) * time.Millisecond
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
