package telemetry

import (
	"context"
	"sync"
	"time"
)

// Sink is the external telemetry store: append-only inserts plus a windowed
// read path for aggregation.
type Sink interface {
	// InsertEvents appends a batch of events.
	InsertEvents(ctx context.Context, events []Event) error

	// QueryWindow returns events with Timestamp >= since.
	QueryWindow(ctx context.Context, since time.Time) ([]Event, error)
}

// MemorySink is an in-memory Sink for tests and single-process deployments.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// InsertEvents appends events to the in-memory log.
func (s *MemorySink) InsertEvents(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// QueryWindow returns events newer than since.
func (s *MemorySink) QueryWindow(_ context.Context, since time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for _, e := range s.events {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Len returns the total number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
