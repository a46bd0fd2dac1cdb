package domain

import (
	"fmt"
	"time"
)

// FileStatus is the closed set of lifecycle states for an uploaded CNAB file.
// The string values are canonical: they are stored verbatim and returned
// verbatim by status queries.
type FileStatus string

const (
	StatusUploaded   FileStatus = "Uploaded"
	StatusProcessing FileStatus = "Processing"
	StatusProcessed  FileStatus = "Processed"
	StatusRejected   FileStatus = "Rejected"
)

// MaxErrorMessageLength bounds the stored error message of a rejected file.
const MaxErrorMessageLength = 1000

// IsTerminal reports whether the status admits no further transitions.
func (s FileStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusRejected
}

// Valid reports whether s is one of the four canonical statuses.
func (s FileStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusRejected:
		return true
	}
	return false
}

// InvalidTransitionError reports an illegal lifecycle transition. It is a
// programming-contract violation, not a business outcome: callers log it
// loudly and never retry.
type InvalidTransitionError struct {
	From FileStatus
	To   FileStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid file status transition: %s -> %s", e.From, e.To)
}

// File is one uploaded CNAB source file and its processing outcome.
// Status is mutated only through TransitionTo; a terminal file is immutable.
type File struct {
	ID           string
	Name         string
	Size         int64
	BlobKey      string
	Status       FileStatus
	ErrorMessage string
	UploadedAt   time.Time
	ProcessedAt  *time.Time
}

// TransitionTo applies one lifecycle transition at instant now.
//
//	Uploaded   -> Processing
//	Processing -> Processed   (clears the error, stamps ProcessedAt)
//	Processing -> Rejected    (stores the truncated error, stamps ProcessedAt)
//
// Any other combination returns *InvalidTransitionError and leaves the file
// unchanged. errMsg is only consulted for the Rejected transition.
func (f *File) TransitionTo(to FileStatus, now time.Time, errMsg string) error {
	switch {
	case f.Status == StatusUploaded && to == StatusProcessing:
		f.Status = StatusProcessing
	case f.Status == StatusProcessing && to == StatusProcessed:
		f.Status = StatusProcessed
		f.ErrorMessage = ""
		t := now
		f.ProcessedAt = &t
	case f.Status == StatusProcessing && to == StatusRejected:
		f.Status = StatusRejected
		f.ErrorMessage = TruncateError(errMsg)
		t := now
		f.ProcessedAt = &t
	default:
		return &InvalidTransitionError{From: f.Status, To: to}
	}
	return nil
}

// TruncateError bounds an error message to MaxErrorMessageLength so storage
// stays predictable regardless of input size.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLength {
		return msg[:MaxErrorMessageLength]
	}
	return msg
}
