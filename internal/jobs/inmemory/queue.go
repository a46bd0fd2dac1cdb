// Package inmemory provides channel-backed implementations of the jobs
// transport. Suitable for single-instance deployments and tests; a
// multi-instance deployment would swap in SQS/Pub/Sub behind the same
// interfaces.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/jobs"
)

// Queue is an in-memory at-least-once job queue. A delivery handed to a
// handler is invisible to other workers until the handler returns; a
// handler error schedules redelivery after the visibility timeout, which
// models a queue consumer crashing or timing out mid-item.
type Queue struct {
	deliveries chan *jobs.Delivery
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool

	workerCount int
	visibility  time.Duration
	log         zerolog.Logger
}

// NewQueue creates an in-memory queue. bufferSize bounds how many items can
// be pending before Publish blocks; visibility is the redelivery delay for
// unacknowledged items.
func NewQueue(bufferSize, workerCount int, visibility time.Duration, log zerolog.Logger) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Queue{
		deliveries:  make(chan *jobs.Delivery, bufferSize),
		closeChan:   make(chan struct{}),
		workerCount: workerCount,
		visibility:  visibility,
		log:         log,
	}
}

// Publish implements jobs.Publisher. Each published job gets a fresh
// message id; redeliveries keep theirs.
func (q *Queue) Publish(ctx context.Context, job jobs.FileJob) error {
	return q.enqueue(ctx, &jobs.Delivery{
		MessageID: uuid.NewString(),
		Job:       job,
	})
}

func (q *Queue) enqueue(ctx context.Context, d *jobs.Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.deliveries <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements jobs.Consumer. It launches the worker pool; each worker
// pulls one delivery at a time, so distinct files process fully in
// parallel with no shared mutable state between workers.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case d := <-q.deliveries:
			if d == nil {
				return
			}
			q.deliver(ctx, d, handler)
		}
	}
}

// deliver hands one item to the handler. nil acknowledges and drops the
// item; an error leaves it unacknowledged and schedules redelivery once the
// visibility window lapses.
func (q *Queue) deliver(ctx context.Context, d *jobs.Delivery, handler jobs.Handler) {
	d.ReceiveCount++
	if d.FirstReceivedAt.IsZero() {
		d.FirstReceivedAt = time.Now()
	}

	if err := handler(ctx, d); err != nil {
		time.AfterFunc(q.visibility, func() {
			if qerr := q.enqueue(context.Background(), d); qerr != nil {
				// The queue closed while the item was invisible. Startup
				// re-publishes pending files, but the drop itself should
				// be observable.
				q.log.Debug().
					Err(qerr).
					Str("message_id", d.MessageID).
					Str("file_id", d.Job.FileID).
					Int("receive_count", d.ReceiveCount).
					Msg("Dropped unacknowledged item, queue closed before redelivery")
			}
		})
	}
}

// Stop implements jobs.Consumer. It stops the workers and waits for
// in-flight deliveries, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
