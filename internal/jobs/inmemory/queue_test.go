package inmemory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/jobs"
	"github.com/dvloznov/cnab-ingest/internal/logger"
)

func TestQueue_PublishAndConsume(t *testing.T) {
	q := NewQueue(10, 2, 10*time.Millisecond, zerolog.Nop())
	defer q.Close()

	var mu sync.Mutex
	seen := make(map[string]*jobs.Delivery)
	done := make(chan struct{}, 3)

	handler := func(_ context.Context, d *jobs.Delivery) error {
		mu.Lock()
		seen[d.Job.FileID] = d
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(context.Background(), jobs.FileJob{FileID: id}); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	ids := make(map[string]bool)
	for fileID, d := range seen {
		if d.MessageID == "" {
			t.Errorf("delivery %s has no message id", fileID)
		}
		if d.ReceiveCount != 1 {
			t.Errorf("delivery %s: ReceiveCount = %d, want 1", fileID, d.ReceiveCount)
		}
		if d.FirstReceivedAt.IsZero() {
			t.Errorf("delivery %s: FirstReceivedAt not stamped", fileID)
		}
		if ids[d.MessageID] {
			t.Errorf("message id %s assigned twice", d.MessageID)
		}
		ids[d.MessageID] = true
	}
}

func TestQueue_RedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := NewQueue(10, 1, 5*time.Millisecond, zerolog.Nop())
	defer q.Close()

	type receipt struct {
		messageID    string
		receiveCount int
	}
	receipts := make(chan receipt, 3)

	var mu sync.Mutex
	failures := 0
	handler := func(_ context.Context, d *jobs.Delivery) error {
		receipts <- receipt{d.MessageID, d.ReceiveCount}
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++
			return errors.New("transient")
		}
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Publish(context.Background(), jobs.FileJob{FileID: "retry-me"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got []receipt
	for i := 0; i < 3; i++ {
		select {
		case r := <-receipts:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}

	for i, r := range got {
		if r.receiveCount != i+1 {
			t.Errorf("delivery %d: ReceiveCount = %d, want %d", i+1, r.receiveCount, i+1)
		}
		if r.messageID != got[0].messageID {
			t.Errorf("delivery %d: message id changed across redeliveries", i+1)
		}
	}
}

func TestQueue_AcknowledgedItemIsNotRedelivered(t *testing.T) {
	q := NewQueue(10, 1, 5*time.Millisecond, zerolog.Nop())
	defer q.Close()

	deliveries := make(chan string, 4)
	handler := func(_ context.Context, d *jobs.Delivery) error {
		deliveries <- d.Job.FileID
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Publish(context.Background(), jobs.FileJob{FileID: "once"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-deliveries:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	// Several visibility windows later, nothing else should arrive.
	select {
	case id := <-deliveries:
		t.Fatalf("acknowledged item %q redelivered", id)
	case <-time.After(50 * time.Millisecond):
	}
}

// safeBuffer guards a bytes.Buffer for writes from timer goroutines.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueue_DropAfterStopIsLogged(t *testing.T) {
	buf := &safeBuffer{}
	// The window is wide enough that Close always wins the race against the
	// scheduled redelivery.
	q := NewQueue(10, 1, 100*time.Millisecond, logger.NewWithWriter(buf))

	handled := make(chan struct{}, 1)
	handler := func(_ context.Context, _ *jobs.Delivery) error {
		handled <- struct{}{}
		return errors.New("transient")
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Publish(context.Background(), jobs.FileJob{FileID: "orphan"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	// Close before the visibility window lapses; the scheduled redelivery
	// hits a closed queue and must log the drop.
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "queue closed before redelivery") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("drop was never logged, output: %s", buf.String())
}

func TestQueue_PublishAfterCloseFails(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Publish(context.Background(), jobs.FileJob{FileID: "late"}); err == nil {
		t.Fatal("Publish on closed queue must fail")
	}
}

func TestQueue_StopWaitsForInflightHandler(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	handler := func(_ context.Context, _ *jobs.Delivery) error {
		close(entered)
		<-release
		close(finished)
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Publish(context.Background(), jobs.FileJob{FileID: "slow"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	<-entered

	stopDone := make(chan error, 1)
	go func() {
		stopDone <- q.Stop(context.Background())
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a handler was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after handler finished")
	}

	select {
	case <-finished:
	default:
		t.Fatal("handler never finished")
	}
}
