// Package notify is the boundary to the notification-delivery subsystem.
// The pipeline only records processing outcomes here; delivering them to
// the uploader is an external concern.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/domain"
)

// Outcome describes a file's terminal processing result.
type Outcome struct {
	FileID       string
	FileName     string
	Status       domain.FileStatus
	ErrorMessage string
	CompletedAt  time.Time
}

// Sink consumes processing outcomes. Implementations must tolerate
// duplicate outcomes for the same file (at-least-once processing upstream).
type Sink interface {
	Notify(ctx context.Context, o Outcome) error
}

// AttemptRecorder is the slice of the relational store the sink needs.
type AttemptRecorder interface {
	RecordNotificationAttempt(ctx context.Context, n *domain.NotificationAttempt) error
}

// StoreSink appends one notification attempt row per outcome and logs it.
type StoreSink struct {
	recorder  AttemptRecorder
	recipient string
	log       zerolog.Logger
}

// NewStoreSink creates a sink recording attempts for the given recipient.
func NewStoreSink(recorder AttemptRecorder, recipient string, log zerolog.Logger) *StoreSink {
	return &StoreSink{recorder: recorder, recipient: recipient, log: log}
}

// Notify implements Sink.
func (s *StoreSink) Notify(ctx context.Context, o Outcome) error {
	attempt := &domain.NotificationAttempt{
		FileID:        o.FileID,
		Type:          "file_" + string(o.Status),
		Recipient:     s.recipient,
		Status:        "pending",
		AttemptCount:  1,
		LastAttemptAt: o.CompletedAt,
	}
	if err := s.recorder.RecordNotificationAttempt(ctx, attempt); err != nil {
		return err
	}

	s.log.Info().
		Str("file_id", o.FileID).
		Str("file_name", o.FileName).
		Str("status", string(o.Status)).
		Msg("Recorded outcome notification")
	return nil
}

// LogSink only logs outcomes; used when no relational sink is wired.
type LogSink struct {
	Log zerolog.Logger
}

// Notify implements Sink.
func (s *LogSink) Notify(ctx context.Context, o Outcome) error {
	s.Log.Info().
		Str("file_id", o.FileID).
		Str("status", string(o.Status)).
		Str("error", o.ErrorMessage).
		Msg("File processing outcome")
	return nil
}

var _ Sink = (*StoreSink)(nil)
var _ Sink = (*LogSink)(nil)
