package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/internal/strutil"
)

// TopicContext is the tracked state for one conversation.
type TopicContext struct {
	LastAgent    agent.ID
	CurrentTopic string
	UpdatedAt    time.Time
}

// TopicSwitch is the derived judgement on whether a message changes topic.
// It is computed per message and never stored.
type TopicSwitch struct {
	IsSwitch       bool
	SuggestedAgent agent.ID
	Confidence     float64
	Reason         string
}

// TopicTrackerConfig configures conversation-state tracking.
type TopicTrackerConfig struct {
	// StateTTL evicts conversations idle longer than this (default: 30m).
	StateTTL time.Duration

	// CleanupInterval is how often idle state is swept (default: 5m).
	CleanupInterval time.Duration

	Logger *slog.Logger
}

// TopicTracker keeps per-conversation topic state and biases routing
// decisions toward the previous turn's agent when the topic continues.
// Updates are last-writer-wins; concurrent turns in one conversation are
// tolerated, not ordered.
type TopicTracker struct {
	heuristic *HeuristicRouter
	stateTTL  time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	state map[string]TopicContext

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTopicTracker creates a tracker and starts its idle-state sweeper.
func NewTopicTracker(heuristic *HeuristicRouter, cfg TopicTrackerConfig) *TopicTracker {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &TopicTracker{
		heuristic: heuristic,
		stateTTL:  cfg.StateTTL,
		logger:    cfg.Logger,
		state:     make(map[string]TopicContext),
		stopCh:    make(chan struct{}),
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.cleanup()
			case <-t.stopCh:
				return
			}
		}
	}()

	return t
}

// Shutdown stops the background sweeper.
func (t *TopicTracker) Shutdown() {
	t.once.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Classify judges whether the message switches topic relative to the
// conversation's tracked state. With no prior state everything is a switch.
func (t *TopicTracker) Classify(conversationID, message string) TopicSwitch {
	t.mu.RLock()
	ctx, ok := t.state[conversationID]
	t.mu.RUnlock()

	if !ok || time.Since(ctx.UpdatedAt) > t.stateTTL {
		return TopicSwitch{
			IsSwitch:   true,
			Confidence: 0.5,
			Reason:     "no recent conversation state",
		}
	}

	// The heuristic router doubles as a cheap topic classifier: if the new
	// message scores toward the same agent as the last turn, the topic
	// continues.
	pick := t.heuristic.Route(message)
	if pick.Agent == ctx.LastAgent {
		return TopicSwitch{
			IsSwitch:       false,
			SuggestedAgent: ctx.LastAgent,
			Confidence:     pick.Confidence,
			Reason:         fmt.Sprintf("message continues %s topic %q", ctx.LastAgent, ctx.CurrentTopic),
		}
	}

	// A zero-match message carries no topic signal of its own; treat it as
	// continuation of whatever was being discussed.
	if pick.Agent == t.heuristic.registry.Default() && pick.Confidence == 0.5 {
		return TopicSwitch{
			IsSwitch:       false,
			SuggestedAgent: ctx.LastAgent,
			Confidence:     0.6,
			Reason:         fmt.Sprintf("no new topic signal, continuing with %s", ctx.LastAgent),
		}
	}

	return TopicSwitch{
		IsSwitch:       true,
		SuggestedAgent: pick.Agent,
		Confidence:     pick.Confidence,
		Reason:         fmt.Sprintf("topic moved from %s to %s", ctx.LastAgent, pick.Agent),
	}
}

// Bias applies the topic-continuity adjustment to a decision. Continuing the
// tracked agent's topic earns +0.05 confidence (capped at 0.98); a switch
// only annotates the rationale.
func (t *TopicTracker) Bias(d Decision, sw TopicSwitch) Decision {
	if !sw.IsSwitch && sw.SuggestedAgent != "" && d.Agent == sw.SuggestedAgent {
		d.Confidence += 0.05
		if d.Confidence > 0.98 {
			d.Confidence = 0.98
		}
		d.Rationale += " (continuity boost)"
		return d
	}
	if sw.IsSwitch && sw.Reason != "" {
		d.Rationale += " (" + sw.Reason + ")"
	}
	return d
}

// Update records the routed agent and topic for a conversation. It is
// asynchronous and best-effort; callers fire it in the background and a
// failure never fails the request.
func (t *TopicTracker) Update(ctx context.Context, conversationID string, routed agent.ID, message string) {
	select {
	case <-ctx.Done():
		t.logger.Debug("topic update skipped", "conversation", conversationID, "error", ctx.Err())
		return
	default:
	}

	t.mu.Lock()
	t.state[conversationID] = TopicContext{
		LastAgent:    routed,
		CurrentTopic: strutil.Truncate(message, 80),
		UpdatedAt:    time.Now(),
	}
	t.mu.Unlock()
}

// Context returns the tracked state for a conversation, if any.
func (t *TopicTracker) Context(conversationID string) (TopicContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ctx, ok := t.state[conversationID]
	return ctx, ok
}

func (t *TopicTracker) cleanup() {
	cutoff := time.Now().Add(-t.stateTTL)

	t.mu.Lock()
	var removed int
	for id, ctx := range t.state {
		if ctx.UpdatedAt.Before(cutoff) {
			delete(t.state, id)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Debug("topic state swept", "removed", removed)
	}
}
