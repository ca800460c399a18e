// Package routing decides which agent handles a message. It composes an
// explicit @mention override, topic-continuity biasing, an optional semantic
// fast path, an LLM classifier raced against a timeout, and a pure heuristic
// keyword router that serves as the ultimate fallback.
package routing

import (
	"time"

	"github.com/hrygo/switchboard/agent"
)

// Source identifies which resolver produced a decision.
const (
	// SourceLLM marks a decision produced by the LLM classifier.
	SourceLLM = "llm"

	// SourceHeuristic marks a decision produced by keyword scoring or
	// topic continuity.
	SourceHeuristic = "heuristic"

	// SourceFallback marks a decision where the heuristic router was the
	// final resolver after an LLM failure or disagreement.
	SourceFallback = "fallback"

	// SourceOverride marks an explicit @mention that bypassed scoring.
	SourceOverride = "override"
)

// Decision is the immutable output of routing one message.
type Decision struct {
	Agent      agent.ID `json:"agent"`
	Confidence float64  `json:"confidence"` // in [0,1]
	Rationale  string   `json:"rationale"`

	// FallbackAgent is an alternate pick worth racing speculatively.
	FallbackAgent agent.ID `json:"fallback_agent,omitempty"`

	// ToolPlan lists up to a few tools the agent will likely need.
	ToolPlan []string `json:"tool_plan,omitempty"`

	Source string `json:"source"`

	// PerformanceContext carries the metrics summary that informed the
	// decision, for telemetry.
	PerformanceContext string `json:"performance_context,omitempty"`
}

// Policy holds the routing weights and budgets. Read-only at request time.
type Policy struct {
	SuccessWeight float64
	LatencyWeight float64
	CostWeight    float64

	// MinLLMConfidence is the floor below which an LLM decision is
	// cross-checked against the heuristic router.
	MinLLMConfidence float64

	// MaxLLMRoutingLatency is the soft budget for the classifier call.
	// Exceeding it is logged, not fatal.
	MaxLLMRoutingLatency time.Duration
}

// DefaultPolicy returns the standard routing policy.
func DefaultPolicy() Policy {
	return Policy{
		SuccessWeight:        0.5,
		LatencyWeight:        0.3,
		CostWeight:           0.2,
		MinLLMConfidence:     0.7,
		MaxLLMRoutingLatency: 1000 * time.Millisecond,
	}
}
