package inmemory

import (
	"context"
	"sync"

	"github.com/dvloznov/cnab-ingest/internal/jobs"
)

// DeadLetterStore collects dead-lettered items in memory for manual
// inspection via the API. Safe for concurrent use.
type DeadLetterStore struct {
	mu    sync.RWMutex
	items []jobs.DeadLetter
}

// NewDeadLetterStore creates an empty dead-letter store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

// Send implements jobs.DeadLetterSink.
func (s *DeadLetterStore) Send(ctx context.Context, dl jobs.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, dl)
	return nil
}

// List returns a copy of every dead-lettered item, oldest first.
func (s *DeadLetterStore) List() []jobs.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.DeadLetter, len(s.items))
	copy(out, s.items)
	return out
}

var _ jobs.DeadLetterSink = (*DeadLetterStore)(nil)
