// Package jobs defines the work-item transport contract for file
// processing. Delivery is at-least-once: a published item may reach a
// handler more than once, so handlers must be idempotent. Redelivery,
// receive counts and dead-lettering are first-class concepts here rather
// than side effects of a particular queue library.
package jobs

import (
	"context"
	"time"
)

// FileJob is the work item delivered by the queue: a reference to an
// uploaded CNAB file awaiting processing. The JSON shape is the wire
// contract with the upload surface.
type FileJob struct {
	// FileID is the identifier of the file row created at upload time.
	FileID string `json:"fileId"`

	// BlobKey locates the raw file bytes in the blob store.
	BlobKey string `json:"blobKey"`

	// FileName is the original upload name, carried for logging.
	FileName string `json:"fileName"`

	// UploadedAt is when the file was uploaded.
	UploadedAt time.Time `json:"uploadedAt"`
}

// Delivery wraps one job with transport metadata. A fresh MessageID is
// assigned at publish time; ReceiveCount increments on every handoff to a
// handler, including redeliveries.
type Delivery struct {
	MessageID       string
	ReceiveCount    int
	FirstReceivedAt time.Time
	Job             FileJob
}

// Handler processes one delivery. Returning nil acknowledges the item;
// returning an error leaves it unacknowledged, and the queue redelivers it
// after the visibility timeout expires.
type Handler func(ctx context.Context, d *Delivery) error

// Publisher enqueues file jobs.
type Publisher interface {
	Publish(ctx context.Context, job FileJob) error
	Close() error
}

// Consumer dispatches deliveries to a handler with a pool of workers.
type Consumer interface {
	// Start begins consuming. It returns once the workers are running.
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming and waits for in-flight deliveries to finish.
	Stop(ctx context.Context) error
}

// DeadLetter is the payload routed to the dead-letter sink when an item
// exhausts its retry budget.
type DeadLetter struct {
	FileID     string          `json:"fileId"`
	BlobKey    string          `json:"blobKey"`
	Error      DeadLetterError `json:"error"`
	ReceivedAt time.Time       `json:"receivedAt"`
	MovedAt    time.Time       `json:"movedAt"`
}

// DeadLetterError describes why the item was dead-lettered.
type DeadLetterError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// DeadLetterSink receives items removed from normal circulation for manual
// inspection.
type DeadLetterSink interface {
	Send(ctx context.Context, dl DeadLetter) error
}
