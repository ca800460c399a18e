// Package store provides the external collaborator implementations behind
// the core's minimal interfaces: conversation history, the telemetry sink
// and the semantic exemplar index.
package store

import (
	"context"
	"sync"
	"time"
)

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore provides ordered message history for context assembly.
type ConversationStore interface {
	// List returns the most recent messages of a thread in chronological
	// order, at most limit of them.
	List(ctx context.Context, threadID string, limit int) ([]Message, error)

	// Append adds a message to the end of a thread.
	Append(ctx context.Context, threadID string, msg Message) error
}

// MemoryConversationStore is an in-memory ConversationStore for tests and
// single-process deployments.
type MemoryConversationStore struct {
	mu      sync.RWMutex
	threads map[string][]Message

	// MaxPerThread bounds history per thread; oldest messages are dropped.
	maxPerThread int
}

// NewMemoryConversationStore creates an empty in-memory store. A
// non-positive maxPerThread defaults to 200.
func NewMemoryConversationStore(maxPerThread int) *MemoryConversationStore {
	if maxPerThread <= 0 {
		maxPerThread = 200
	}
	return &MemoryConversationStore{
		threads:      make(map[string][]Message),
		maxPerThread: maxPerThread,
	}
}

// List returns up to limit of the thread's latest messages, oldest first.
func (s *MemoryConversationStore) List(_ context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append adds a message, trimming the thread to the configured bound.
func (s *MemoryConversationStore) Append(_ context.Context, threadID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.threads[threadID], msg)
	if len(msgs) > s.maxPerThread {
		msgs = msgs[len(msgs)-s.maxPerThread:]
	}
	s.threads[threadID] = msgs
	return nil
}

var _ ConversationStore = (*MemoryConversationStore)(nil)
