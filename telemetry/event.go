// Package telemetry provides the append-only event log for routing decisions,
// tool executions and terminal outcomes, plus the rolling per-agent
// aggregation that feeds back into LLM routing.
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/switchboard/agent"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventRoutingDecision   EventType = "routing_decision"
	EventToolExecution     EventType = "tool_execution"
	EventResponseGenerated EventType = "response_generated"
	EventError             EventType = "error"
)

// Event is one append-only telemetry row. Events are never mutated after
// creation.
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	UserID     string        `json:"user_id,omitempty"`
	ThreadID   string        `json:"thread_id,omitempty"`
	MessageID  string        `json:"message_id,omitempty"`
	Agent      agent.ID      `json:"agent,omitempty"`
	Source     string        `json:"source,omitempty"` // routing source or error code
	Tool       string        `json:"tool,omitempty"`
	Success    bool          `json:"success"`
	Cached     bool          `json:"cached,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewEvent creates an event with ID and timestamp populated.
func NewEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// AgentMetrics is the rolling aggregate for one agent, recomputed wholesale
// from the telemetry window; it is never merged in place.
type AgentMetrics struct {
	Agent          agent.ID      `json:"agent"`
	SuccessRate    float64       `json:"success_rate"`
	AvgLatency     time.Duration `json:"avg_latency"`
	TotalRequests  int64         `json:"total_requests"`
	RecentFailures int64         `json:"recent_failures"`
	LastUpdated    time.Time     `json:"last_updated"`
}
