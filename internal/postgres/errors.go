package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrFileNotFound is returned when a file id has no row.
var ErrFileNotFound = errors.New("file not found")

// ErrStatusConflict is returned when a guarded status update finds the file
// no longer in the expected state, i.e. another worker got there first.
var ErrStatusConflict = errors.New("file status changed concurrently")

// ProcessingError marks a transient persistence failure: constraint
// violations from races, connectivity loss, cancelled transactions. The
// coordinator retries these via redelivery instead of rejecting the file.
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// classify wraps persistence failures that are worth retrying in
// *ProcessingError and passes everything else through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		// Class 23 = integrity constraint violation (duplicate-key races),
		// class 40 = transaction rollback (serialization, deadlock),
		// class 08 = connection exception. All resolve on retry.
		switch pgErr.Code[:2] {
		case "23", "40", "08":
			return &ProcessingError{Op: op, Err: err}
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &ProcessingError{Op: op, Err: err}
	case pgconn.Timeout(err):
		return &ProcessingError{Op: op, Err: err}
	}

	// Network-level failures come through as generic errors from the pool;
	// treat anything not recognized above as retryable as well, since a
	// non-transient schema or SQL defect will simply exhaust the ceiling
	// and surface in the dead-letter queue.
	return &ProcessingError{Op: op, Err: err}
}
