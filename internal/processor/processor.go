// Package processor contains the retry/idempotency coordinator: the single
// place that decides, per delivered work item, whether a failure is
// terminal, retryable, or dead-letter material. It makes the pipeline safe
// under at-least-once delivery.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/blob"
	"github.com/dvloznov/cnab-ingest/internal/clock"
	"github.com/dvloznov/cnab-ingest/internal/cnab"
	"github.com/dvloznov/cnab-ingest/internal/domain"
	"github.com/dvloznov/cnab-ingest/internal/jobs"
	"github.com/dvloznov/cnab-ingest/internal/metrics"
	"github.com/dvloznov/cnab-ingest/internal/notify"
	"github.com/dvloznov/cnab-ingest/internal/postgres"
)

// FileRepository is the slice of the relational store the coordinator needs
// for file lifecycle bookkeeping.
type FileRepository interface {
	GetFile(ctx context.Context, id string) (*domain.File, error)
	UpdateFileStatus(ctx context.Context, f *domain.File, from domain.FileStatus) error
}

// AttemptRepository records processing attempts.
type AttemptRepository interface {
	CountAttempts(ctx context.Context, fileID string) (int, error)
	StartAttempt(ctx context.Context, a *domain.FileProcessingAttempt) error
	FinishAttempt(ctx context.Context, id int64, status domain.FileStatus, errMsg string, completedAt time.Time, duration time.Duration) error
}

// BatchWriter persists a file's full record set atomically.
type BatchWriter interface {
	SaveFileBatch(ctx context.Context, fileID string, records []cnab.ValidRecord, now time.Time) error
}

// Processor coordinates one work item end to end.
type Processor struct {
	files       FileRepository
	attempts    AttemptRepository
	batch       BatchWriter
	blobs       blob.Fetcher
	deadLetters jobs.DeadLetterSink
	notifier    notify.Sink
	clock       clock.Clock
	maxAttempts int
	timeout     time.Duration
	log         zerolog.Logger
}

// Config wires a Processor.
type Config struct {
	Files       FileRepository
	Attempts    AttemptRepository
	Batch       BatchWriter
	Blobs       blob.Fetcher
	DeadLetters jobs.DeadLetterSink
	Notifier    notify.Sink
	Clock       clock.Clock
	MaxAttempts int
	Timeout     time.Duration
	Log         zerolog.Logger
}

// New creates a Processor.
func New(cfg Config) *Processor {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Processor{
		files:       cfg.Files,
		attempts:    cfg.Attempts,
		batch:       cfg.Batch,
		blobs:       cfg.Blobs,
		deadLetters: cfg.DeadLetters,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		log:         cfg.Log,
	}
}

// Handle implements jobs.Handler. Returning nil acknowledges the work item;
// returning an error leaves it for redelivery after the visibility timeout.
func (p *Processor) Handle(ctx context.Context, d *jobs.Delivery) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	invocationID := uuid.NewString()
	log := p.log.With().
		Str("file_id", d.Job.FileID).
		Str("message_id", d.MessageID).
		Str("invocation_id", invocationID).
		Int("receive_count", d.ReceiveCount).
		Logger()

	f, err := p.files.GetFile(ctx, d.Job.FileID)
	if err != nil {
		if errors.Is(err, postgres.ErrFileNotFound) {
			// Nothing to retry into existence; dropping the item is the only
			// sane move, but it deserves a loud log line.
			log.Error().Err(err).Msg("Work item references unknown file, dropping")
			return nil
		}
		log.Warn().Err(err).Msg("Could not load file, leaving item for redelivery")
		return err
	}

	// Primary idempotency guard: a terminal file means this delivery is a
	// duplicate or a redundant redelivery. Acknowledge and walk away.
	if f.Status.IsTerminal() {
		log.Info().Str("status", string(f.Status)).Msg("File already terminal, acknowledging duplicate delivery")
		return nil
	}

	if f.Status == domain.StatusUploaded {
		if err := p.transition(ctx, f, domain.StatusProcessing, domain.StatusUploaded, ""); err != nil {
			if errors.Is(err, postgres.ErrStatusConflict) {
				// Another worker won the race; let redelivery re-check later.
				log.Info().Msg("Lost status race, leaving item for redelivery")
				return err
			}
			return p.contractViolation(log, err)
		}
	}

	started := p.clock.Now()
	attempt := &domain.FileProcessingAttempt{
		FileID:       f.ID,
		Status:       domain.StatusProcessing,
		MessageID:    d.MessageID,
		InvocationID: invocationID,
		StartedAt:    started,
	}
	prior, err := p.attempts.CountAttempts(ctx, f.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not count attempts, leaving item for redelivery")
		return err
	}
	attempt.Number = prior + 1
	if err := p.attempts.StartAttempt(ctx, attempt); err != nil {
		log.Warn().Err(err).Msg("Could not record attempt, leaving item for redelivery")
		return err
	}
	log = log.With().Int("attempt", attempt.Number).Logger()

	outcome, procErr := p.processOnce(ctx, f, d, attempt, log)
	p.finishAttempt(ctx, attempt, outcome, procErr, started, log)

	switch outcome {
	case domain.StatusProcessed:
		metrics.ProcessingAttempts.WithLabelValues("processed").Inc()
		metrics.FilesCompleted.WithLabelValues("processed").Inc()
		p.notifyOutcome(ctx, f, log)
		log.Info().Msg("File processed")
		return nil

	case domain.StatusRejected:
		metrics.ProcessingAttempts.WithLabelValues("rejected").Inc()
		metrics.FilesCompleted.WithLabelValues("rejected").Inc()
		p.notifyOutcome(ctx, f, log)
		log.Info().Str("reason", f.ErrorMessage).Msg("File rejected")
		return nil

	default:
		// Still Processing: transient failure.
		metrics.ProcessingAttempts.WithLabelValues("retried").Inc()
		if attempt.Number >= p.maxAttempts {
			return p.deadLetter(ctx, f, d, attempt, procErr, log)
		}
		log.Warn().Err(procErr).Msg("Transient failure, leaving item for redelivery")
		return procErr
	}
}

// processOnce runs one attempt: fetch, parse+validate, persist, and the
// matching terminal transition. It returns the file status the attempt
// ended on; StatusProcessing means the attempt failed transiently.
func (p *Processor) processOnce(ctx context.Context, f *domain.File, d *jobs.Delivery, attempt *domain.FileProcessingAttempt, log zerolog.Logger) (domain.FileStatus, error) {
	data, err := p.blobs.Fetch(ctx, d.Job.BlobKey)
	if err != nil {
		return domain.StatusProcessing, err
	}

	records, err := cnab.ParseFile(data)
	if err != nil {
		// Malformed input is never retried: reject with the first failing
		// line and reason only, keeping the stored message bounded.
		if terr := p.transition(ctx, f, domain.StatusRejected, domain.StatusProcessing, err.Error()); terr != nil {
			return domain.StatusProcessing, terr
		}
		return domain.StatusRejected, err
	}

	if err := p.batch.SaveFileBatch(ctx, f.ID, records, p.clock.Now()); err != nil {
		return domain.StatusProcessing, err
	}

	if err := p.transition(ctx, f, domain.StatusProcessed, domain.StatusProcessing, ""); err != nil {
		return domain.StatusProcessing, err
	}
	log.Info().Int("records", len(records)).Msg("Batch committed")
	return domain.StatusProcessed, nil
}

// transition applies a state-machine transition and persists it guarded on
// the expected previous status. The in-memory file is mutated only once the
// store accepts the update; a transient persistence failure leaves it
// accurate for a later transition in the same attempt, such as the
// dead-letter rejection.
func (p *Processor) transition(ctx context.Context, f *domain.File, to, from domain.FileStatus, errMsg string) error {
	next := *f
	if err := next.TransitionTo(to, p.clock.Now(), errMsg); err != nil {
		return err
	}
	if err := p.files.UpdateFileStatus(ctx, &next, from); err != nil {
		return err
	}
	*f = next
	return nil
}

// deadLetter rejects a file whose retry budget is spent and routes the item
// to the dead-letter sink for manual inspection. The original item is
// acknowledged so it stops redelivering.
func (p *Processor) deadLetter(ctx context.Context, f *domain.File, d *jobs.Delivery, attempt *domain.FileProcessingAttempt, cause error, log zerolog.Logger) error {
	msg := "processing failed after retries"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.transition(ctx, f, domain.StatusRejected, domain.StatusProcessing, "system error: "+msg); err != nil {
		// Could not even mark the file rejected; keep the item in
		// circulation rather than silently losing it.
		log.Error().Err(err).Msg("Failed to reject file after exhausted retries")
		return err
	}

	dl := jobs.DeadLetter{
		FileID:  f.ID,
		BlobKey: d.Job.BlobKey,
		Error: jobs.DeadLetterError{
			Code:     classifyCode(cause),
			Message:  domain.TruncateError(msg),
			Attempts: attempt.Number,
		},
		ReceivedAt: d.FirstReceivedAt,
		MovedAt:    p.clock.Now(),
	}
	if err := p.deadLetters.Send(ctx, dl); err != nil {
		log.Error().Err(err).Msg("Failed to route item to dead-letter sink")
	}

	metrics.DeadLetters.Inc()
	metrics.FilesCompleted.WithLabelValues("rejected").Inc()
	p.notifyOutcome(ctx, f, log)
	log.Error().Err(cause).Int("attempts", attempt.Number).Msg("Retry ceiling reached, file dead-lettered")
	return nil
}

func classifyCode(err error) string {
	var pe *postgres.ProcessingError
	switch {
	case errors.As(err, &pe):
		return "storage_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "system_error"
	}
}

// contractViolation handles illegal state transitions: a programming
// defect, logged loudly and never retried.
func (p *Processor) contractViolation(log zerolog.Logger, err error) error {
	var ite *domain.InvalidTransitionError
	if errors.As(err, &ite) {
		log.Error().Err(err).Msg("State machine contract violated, dropping item")
		return nil
	}
	log.Warn().Err(err).Msg("Status update failed, leaving item for redelivery")
	return err
}

func (p *Processor) finishAttempt(ctx context.Context, attempt *domain.FileProcessingAttempt, outcome domain.FileStatus, procErr error, started time.Time, log zerolog.Logger) {
	completed := p.clock.Now()
	duration := completed.Sub(started)
	metrics.ProcessingDuration.Observe(duration.Seconds())

	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := p.attempts.FinishAttempt(ctx, attempt.ID, outcome, msg, completed, duration); err != nil {
		log.Warn().Err(err).Msg("Could not complete attempt record")
	}
}

func (p *Processor) notifyOutcome(ctx context.Context, f *domain.File, log zerolog.Logger) {
	if p.notifier == nil {
		return
	}
	o := notify.Outcome{
		FileID:       f.ID,
		FileName:     f.Name,
		Status:       f.Status,
		ErrorMessage: f.ErrorMessage,
		CompletedAt:  p.clock.Now(),
	}
	if err := p.notifier.Notify(ctx, o); err != nil {
		log.Warn().Err(err).Msg("Could not record outcome notification")
	}
}
