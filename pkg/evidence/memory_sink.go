package evidence

import (
	"context"
	"errors"
	"sync"
)

// MemorySink buffers events in memory. Used in tests and as a null-durable
// default; it can be told to fail to exercise the degraded path.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
	fail   error
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

// FailWith makes every subsequent Append return err (nil restores success).
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySink) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Len reports the number of persisted events.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// ErrSinkUnavailable is a canned failure for tests.
var ErrSinkUnavailable = errors.New("evidence: sink unavailable")
