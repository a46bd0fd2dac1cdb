package processor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/cnab-ingest/internal/clock"
	"github.com/dvloznov/cnab-ingest/internal/cnab"
	"github.com/dvloznov/cnab-ingest/internal/domain"
	"github.com/dvloznov/cnab-ingest/internal/jobs"
	"github.com/dvloznov/cnab-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/cnab-ingest/internal/logger"
	"github.com/dvloznov/cnab-ingest/internal/notify"
	"github.com/dvloznov/cnab-ingest/internal/postgres"
	"github.com/dvloznov/cnab-ingest/internal/processor"
)

// ---- fakes -------------------------------------------------------------

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]*domain.File

	// updateErr, when set, is consulted after the status guard and can fail
	// a specific update to model a transient store outage.
	updateErr func(f *domain.File) error
}

func newFakeFiles(files ...*domain.File) *fakeFiles {
	m := make(map[string]*domain.File)
	for _, f := range files {
		copy := *f
		m[f.ID] = &copy
	}
	return &fakeFiles{files: m}
}

func (s *fakeFiles) GetFile(_ context.Context, id string) (*domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", postgres.ErrFileNotFound, id)
	}
	copy := *f
	return &copy, nil
}

func (s *fakeFiles) UpdateFileStatus(_ context.Context, f *domain.File, from domain.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.files[f.ID]
	if !ok {
		return fmt.Errorf("%w: %s", postgres.ErrFileNotFound, f.ID)
	}
	if current.Status != from {
		return fmt.Errorf("%w: file %s not in status %s", postgres.ErrStatusConflict, f.ID, from)
	}
	if s.updateErr != nil {
		if err := s.updateErr(f); err != nil {
			return err
		}
	}
	copy := *f
	s.files[f.ID] = &copy
	return nil
}

func (s *fakeFiles) status(t *testing.T, id string) *domain.File {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		t.Fatalf("file %s missing from fake store", id)
	}
	copy := *f
	return &copy
}

type fakeAttempts struct {
	mu       sync.Mutex
	attempts []*domain.FileProcessingAttempt
	finished []domain.FileStatus
}

func (s *fakeAttempts) CountAttempts(_ context.Context, fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.FileID == fileID {
			n++
		}
	}
	return n, nil
}

func (s *fakeAttempts) StartAttempt(_ context.Context, a *domain.FileProcessingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *a
	copy.ID = int64(len(s.attempts) + 1)
	a.ID = copy.ID
	s.attempts = append(s.attempts, &copy)
	return nil
}

func (s *fakeAttempts) FinishAttempt(_ context.Context, id int64, status domain.FileStatus, errMsg string, completedAt time.Time, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ID == id {
			a.Status = status
			a.ErrorMessage = errMsg
			a.CompletedAt = &completedAt
			a.Duration = duration
			s.finished = append(s.finished, status)
			return nil
		}
	}
	return fmt.Errorf("attempt %d not found", id)
}

func (s *fakeAttempts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

type fakeBlobs struct {
	data []byte
	err  error
}

func (b *fakeBlobs) Fetch(context.Context, string) ([]byte, error) {
	return b.data, b.err
}

type fakeBatch struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (b *fakeBatch) SaveFileBatch(context.Context, string, []cnab.ValidRecord, time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

func (b *fakeBatch) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// ---- helpers -----------------------------------------------------------

func cnabLine(typ, amount string) string {
	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-len(s))
	}
	return typ + "20190301" + amount + "09620676017" + "4753****3153" + "153453" +
		pad("JOAO MACEDO", 14) + pad("BAR DO JOAO", 18)
}

func validFileData(lines int) []byte {
	var buf bytes.Buffer
	for i := 0; i < lines; i++ {
		buf.WriteString(cnabLine("1", "0000010000"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

type env struct {
	files       *fakeFiles
	attempts    *fakeAttempts
	blobs       *fakeBlobs
	batch       *fakeBatch
	deadLetters *inmemory.DeadLetterStore
	clock       *clock.Fixed
	notified    *bytes.Buffer
	proc        *processor.Processor
}

func newEnv(t *testing.T, f *domain.File, blobs *fakeBlobs, batch *fakeBatch, maxAttempts int) *env {
	t.Helper()
	e := &env{
		files:       newFakeFiles(f),
		attempts:    &fakeAttempts{},
		blobs:       blobs,
		batch:       batch,
		deadLetters: inmemory.NewDeadLetterStore(),
		clock:       &clock.Fixed{Instant: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		notified:    &bytes.Buffer{},
	}
	e.proc = processor.New(processor.Config{
		Files:       e.files,
		Attempts:    e.attempts,
		Batch:       e.batch,
		Blobs:       e.blobs,
		DeadLetters: e.deadLetters,
		Notifier:    &notify.LogSink{Log: logger.NewWithWriter(e.notified)},
		Clock:       e.clock,
		MaxAttempts: maxAttempts,
		Log:         logger.NewWithWriter(&bytes.Buffer{}),
	})
	return e
}

func uploadedFile(id string) *domain.File {
	return &domain.File{
		ID:         id,
		Name:       "cnab.txt",
		BlobKey:    "cnab/2024/06/01/" + id,
		Status:     domain.StatusUploaded,
		UploadedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func delivery(f *domain.File) *jobs.Delivery {
	return &jobs.Delivery{
		MessageID: "msg-" + f.ID,
		Job: jobs.FileJob{
			FileID:     f.ID,
			BlobKey:    f.BlobKey,
			FileName:   f.Name,
			UploadedAt: f.UploadedAt,
		},
	}
}

// ---- tests -------------------------------------------------------------

func TestHandle_SuccessfulFile(t *testing.T) {
	f := uploadedFile("file-1")
	e := newEnv(t, f, &fakeBlobs{data: validFileData(3)}, &fakeBatch{}, 3)

	if err := e.proc.Handle(context.Background(), delivery(f)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	got := e.files.status(t, f.ID)
	if got.Status != domain.StatusProcessed {
		t.Errorf("Status = %s, want Processed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}
	if e.batch.callCount() != 1 {
		t.Errorf("batch called %d times, want 1", e.batch.callCount())
	}
	if e.attempts.count() != 1 {
		t.Errorf("attempts recorded = %d, want 1", e.attempts.count())
	}
	if !strings.Contains(e.notified.String(), string(domain.StatusProcessed)) {
		t.Error("terminal outcome was not notified")
	}
}

func TestHandle_TerminalFileIsIdempotentNoop(t *testing.T) {
	for _, status := range []domain.FileStatus{domain.StatusProcessed, domain.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := uploadedFile("file-2")
			f.Status = status
			e := newEnv(t, f, &fakeBlobs{data: validFileData(1)}, &fakeBatch{}, 3)

			if err := e.proc.Handle(context.Background(), delivery(f)); err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}

			if e.batch.callCount() != 0 {
				t.Error("batch must not run for terminal files")
			}
			if e.attempts.count() != 0 {
				t.Error("no attempt may be recorded for terminal files")
			}
			if got := e.files.status(t, f.ID); got.Status != status {
				t.Errorf("Status changed to %s", got.Status)
			}
		})
	}
}

func TestHandle_RejectsFileWithOneBadLine(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 999; i++ {
		buf.WriteString(cnabLine("1", "0000010000"))
		buf.WriteByte('\n')
	}
	buf.WriteString(cnabLine("0", "0000010000")) // invalid type on line 1000
	buf.WriteByte('\n')

	f := uploadedFile("file-3")
	e := newEnv(t, f, &fakeBlobs{data: buf.Bytes()}, &fakeBatch{}, 3)

	if err := e.proc.Handle(context.Background(), delivery(f)); err != nil {
		t.Fatalf("Handle must acknowledge rejected files, got error: %v", err)
	}

	got := e.files.status(t, f.ID)
	if got.Status != domain.StatusRejected {
		t.Fatalf("Status = %s, want Rejected", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "line 1000") {
		t.Errorf("error message %q does not name the failing line", got.ErrorMessage)
	}
	if e.batch.callCount() != 0 {
		t.Error("no write may happen for a file with any invalid line")
	}
	if len(e.deadLetters.List()) != 0 {
		t.Error("parse failures must not be dead-lettered")
	}
}

func TestHandle_RetryCeiling(t *testing.T) {
	const maxAttempts = 3

	f := uploadedFile("file-4")
	batch := &fakeBatch{err: &postgres.ProcessingError{Op: "commit batch tx", Err: errors.New("connection reset")}}
	e := newEnv(t, f, &fakeBlobs{data: validFileData(2)}, batch, maxAttempts)

	d := delivery(f)

	// Attempts below the ceiling leave the item unacknowledged.
	for i := 1; i < maxAttempts; i++ {
		if err := e.proc.Handle(context.Background(), d); err == nil {
			t.Fatalf("attempt %d: expected error to trigger redelivery", i)
		}
		if got := e.files.status(t, f.ID); got.Status != domain.StatusProcessing {
			t.Fatalf("attempt %d: Status = %s, want Processing", i, got.Status)
		}
	}

	// The final attempt rejects, dead-letters and acknowledges.
	if err := e.proc.Handle(context.Background(), d); err != nil {
		t.Fatalf("final attempt must acknowledge, got error: %v", err)
	}

	got := e.files.status(t, f.ID)
	if got.Status != domain.StatusRejected {
		t.Errorf("Status = %s, want Rejected", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "system error:") {
		t.Errorf("error message %q should carry the system-error summary", got.ErrorMessage)
	}

	if e.attempts.count() != maxAttempts {
		t.Errorf("attempts recorded = %d, want exactly %d", e.attempts.count(), maxAttempts)
	}

	dls := e.deadLetters.List()
	if len(dls) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dls))
	}
	dl := dls[0]
	if dl.FileID != f.ID || dl.BlobKey != f.BlobKey {
		t.Errorf("dead letter identifies %s/%s, want %s/%s", dl.FileID, dl.BlobKey, f.ID, f.BlobKey)
	}
	if dl.Error.Attempts != maxAttempts {
		t.Errorf("dead letter attempts = %d, want %d", dl.Error.Attempts, maxAttempts)
	}
	if dl.Error.Code != "storage_error" {
		t.Errorf("dead letter code = %q, want storage_error", dl.Error.Code)
	}
}

func TestHandle_DeadLettersWhenFinalStatusUpdateFails(t *testing.T) {
	f := uploadedFile("file-9")
	e := newEnv(t, f, &fakeBlobs{data: validFileData(1)}, &fakeBatch{}, 1)

	// The batch commits, but persisting the Processed status fails. The
	// attempt is transient and it is the last one, so the file must still
	// reach Rejected via the dead-letter path in this same delivery.
	e.files.updateErr = func(u *domain.File) error {
		if u.Status == domain.StatusProcessed {
			return &postgres.ProcessingError{Op: "update file status", Err: errors.New("connection reset")}
		}
		return nil
	}

	if err := e.proc.Handle(context.Background(), delivery(f)); err != nil {
		t.Fatalf("final attempt must acknowledge, got error: %v", err)
	}

	got := e.files.status(t, f.ID)
	if got.Status != domain.StatusRejected {
		t.Errorf("Status = %s, want Rejected", got.Status)
	}
	if e.attempts.count() != 1 {
		t.Errorf("attempts recorded = %d, want exactly 1", e.attempts.count())
	}
	if len(e.deadLetters.List()) != 1 {
		t.Errorf("dead letters = %d, want 1", len(e.deadLetters.List()))
	}
}

func TestHandle_BlobFetchFailureIsRetryable(t *testing.T) {
	f := uploadedFile("file-5")
	e := newEnv(t, f, &fakeBlobs{err: errors.New("blob store unavailable")}, &fakeBatch{}, 3)

	if err := e.proc.Handle(context.Background(), delivery(f)); err == nil {
		t.Fatal("expected error to leave item for redelivery")
	}

	got := e.files.status(t, f.ID)
	if got.Status != domain.StatusProcessing {
		t.Errorf("Status = %s, want Processing (no terminal decision yet)", got.Status)
	}
	if e.attempts.count() != 1 {
		t.Errorf("attempts recorded = %d, want 1", e.attempts.count())
	}
}

func TestHandle_UnknownFileIsDropped(t *testing.T) {
	f := uploadedFile("file-6")
	e := newEnv(t, f, &fakeBlobs{data: validFileData(1)}, &fakeBatch{}, 3)

	d := delivery(f)
	d.Job.FileID = "no-such-file"

	if err := e.proc.Handle(context.Background(), d); err != nil {
		t.Fatalf("unknown file must be acknowledged, got error: %v", err)
	}
	if e.attempts.count() != 0 {
		t.Error("no attempt may be recorded for unknown files")
	}
}

func TestHandle_AttemptNumbersAreSequential(t *testing.T) {
	f := uploadedFile("file-7")
	batch := &fakeBatch{err: &postgres.ProcessingError{Op: "bulk insert transactions", Err: errors.New("broken pipe")}}
	e := newEnv(t, f, &fakeBlobs{data: validFileData(1)}, batch, 5)

	d := delivery(f)
	for i := 0; i < 3; i++ {
		_ = e.proc.Handle(context.Background(), d)
	}

	e.attempts.mu.Lock()
	defer e.attempts.mu.Unlock()
	for i, a := range e.attempts.attempts {
		if a.Number != i+1 {
			t.Errorf("attempt %d has number %d", i, a.Number)
		}
		if a.MessageID != d.MessageID {
			t.Errorf("attempt %d lost the message correlation id", i)
		}
		if a.InvocationID == "" {
			t.Errorf("attempt %d has no invocation id", i)
		}
	}
}
