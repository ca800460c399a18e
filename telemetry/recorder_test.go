package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/agent"
)

// failingSink fails the first N insert attempts, then delegates to memory.
type failingSink struct {
	mu       sync.Mutex
	failures int
	inner    *MemorySink
	attempts int
}

func (s *failingSink) InsertEvents(ctx context.Context, events []Event) error {
	s.mu.Lock()
	s.attempts++
	shouldFail := s.attempts <= s.failures
	s.mu.Unlock()
	if shouldFail {
		return errors.New("sink unavailable")
	}
	return s.inner.InsertEvents(ctx, events)
}

func (s *failingSink) QueryWindow(ctx context.Context, since time.Time) ([]Event, error) {
	return s.inner.QueryWindow(ctx, since)
}

func routingEvent(ag agent.ID) Event {
	e := NewEvent(EventRoutingDecision)
	e.Agent = ag
	e.Source = "heuristic"
	return e
}

func TestRecorder_FlushOnBufferFull(t *testing.T) {
	sink := NewMemorySink()
	r := NewRecorder(sink, RecorderConfig{MaxBatch: 4, FlushInterval: time.Hour})
	defer r.Shutdown(context.Background())

	for i := 0; i < 4; i++ {
		r.Record(routingEvent(agent.General))
	}

	// Buffer-full flush runs on the background loop.
	assert.Eventually(t, func() bool { return sink.Len() == 4 },
		time.Second, 10*time.Millisecond)
}

func TestRecorder_FlushOnShutdown(t *testing.T) {
	sink := NewMemorySink()
	r := NewRecorder(sink, RecorderConfig{MaxBatch: 100, FlushInterval: time.Hour})

	r.Record(routingEvent(agent.Coder))
	r.Record(routingEvent(agent.Home))
	r.Shutdown(context.Background())

	assert.Equal(t, 2, sink.Len())
}

func TestRecorder_FailedFlushRebuffersBounded(t *testing.T) {
	sink := &failingSink{failures: 1, inner: NewMemorySink()}
	r := NewRecorder(sink, RecorderConfig{MaxBatch: 10, FlushInterval: time.Hour, MaxRequeue: 2})

	for i := 0; i < 5; i++ {
		r.Record(routingEvent(agent.General))
	}

	// First flush fails; only MaxRequeue events survive for retry.
	r.Flush(context.Background())
	assert.Equal(t, 0, sink.inner.Len())

	r.Flush(context.Background())
	assert.Equal(t, 2, sink.inner.Len())

	r.Shutdown(context.Background())
}

func TestRecorder_RecordNeverBlocks(t *testing.T) {
	sink := &failingSink{failures: 1 << 30, inner: NewMemorySink()}
	r := NewRecorder(sink, RecorderConfig{MaxBatch: 8, FlushInterval: time.Hour})
	defer r.Shutdown(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			r.Record(routingEvent(agent.General))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked")
	}
}

func TestMemorySink_QueryWindow(t *testing.T) {
	sink := NewMemorySink()

	old := routingEvent(agent.General)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	recent := routingEvent(agent.Coder)

	require.NoError(t, sink.InsertEvents(context.Background(), []Event{old, recent}))

	events, err := sink.QueryWindow(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, agent.Coder, events[0].Agent)
}
