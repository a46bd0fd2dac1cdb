package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTransitionTo_LegalTransitions(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("uploaded to processing", func(t *testing.T) {
		f := &File{Status: StatusUploaded}
		if err := f.TransitionTo(StatusProcessing, now, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Status != StatusProcessing {
			t.Errorf("Status = %s, want Processing", f.Status)
		}
		if f.ProcessedAt != nil {
			t.Error("ProcessedAt should not be set yet")
		}
	})

	t.Run("processing to processed clears error", func(t *testing.T) {
		f := &File{Status: StatusProcessing, ErrorMessage: "stale"}
		if err := f.TransitionTo(StatusProcessed, now, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.ErrorMessage != "" {
			t.Errorf("ErrorMessage = %q, want empty", f.ErrorMessage)
		}
		if f.ProcessedAt == nil || !f.ProcessedAt.Equal(now) {
			t.Errorf("ProcessedAt = %v, want %v", f.ProcessedAt, now)
		}
	})

	t.Run("processing to rejected stores truncated error", func(t *testing.T) {
		f := &File{Status: StatusProcessing}
		long := strings.Repeat("x", MaxErrorMessageLength+500)
		if err := f.TransitionTo(StatusRejected, now, long); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.ErrorMessage) != MaxErrorMessageLength {
			t.Errorf("ErrorMessage length = %d, want %d", len(f.ErrorMessage), MaxErrorMessageLength)
		}
		if f.ProcessedAt == nil {
			t.Error("ProcessedAt should be set on rejection")
		}
	})
}

func TestTransitionTo_IllegalTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		from FileStatus
		to   FileStatus
	}{
		{"skip processing", StatusUploaded, StatusProcessed},
		{"reject from uploaded", StatusUploaded, StatusRejected},
		{"reopen processed", StatusProcessed, StatusProcessing},
		{"reopen rejected", StatusRejected, StatusProcessing},
		{"flip terminal states", StatusProcessed, StatusRejected},
		{"backwards", StatusProcessing, StatusUploaded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Status: tt.from}
			err := f.TransitionTo(tt.to, now, "boom")

			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("expected *InvalidTransitionError, got %v", err)
			}
			if ite.From != tt.from || ite.To != tt.to {
				t.Errorf("error reports %s -> %s, want %s -> %s", ite.From, ite.To, tt.from, tt.to)
			}
			if f.Status != tt.from {
				t.Errorf("Status changed to %s on illegal transition", f.Status)
			}
			if f.ErrorMessage != "" {
				t.Errorf("ErrorMessage mutated on illegal transition: %q", f.ErrorMessage)
			}
		})
	}
}

func TestFileStatus_IsTerminal(t *testing.T) {
	if StatusUploaded.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("non-terminal statuses reported terminal")
	}
	if !StatusProcessed.IsTerminal() || !StatusRejected.IsTerminal() {
		t.Error("terminal statuses reported non-terminal")
	}
}

func TestTruncateError(t *testing.T) {
	short := "short message"
	if TruncateError(short) != short {
		t.Error("short message should pass through unchanged")
	}
	long := strings.Repeat("e", MaxErrorMessageLength*2)
	if got := TruncateError(long); len(got) != MaxErrorMessageLength {
		t.Errorf("truncated length = %d, want %d", len(got), MaxErrorMessageLength)
	}
}
