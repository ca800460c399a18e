// Package engine is the library entry point: it wires routing, speculative
// execution, the model fallback chain, tool execution, response caching and
// telemetry into one request pipeline emitting a structured event stream.
package engine

import (
	"time"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/routing"
	"github.com/hrygo/switchboard/tools"
)

// EventType identifies one stream event kind.
type EventType string

const (
	// EventRouting reports the routing decision for the request.
	EventRouting EventType = "routing"

	// EventAgentStart reports that the selected agent began executing.
	EventAgentStart EventType = "agent_start"

	// EventToolStart and EventToolEnd bracket one tool invocation.
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"

	// EventContent carries response text.
	EventContent EventType = "content"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Event is one element of the response stream.
type Event struct {
	Type EventType `json:"type"`

	// Decision accompanies EventRouting.
	Decision *routing.Decision `json:"decision,omitempty"`

	// Agent accompanies EventAgentStart and EventDone.
	Agent agent.ID `json:"agent,omitempty"`

	// Tool and ToolEvent accompany EventToolStart/EventToolEnd.
	Tool      string       `json:"tool,omitempty"`
	ToolEvent *tools.Event `json:"tool_event,omitempty"`

	// Content accompanies EventContent.
	Content string `json:"content,omitempty"`

	// Cached marks a response served from the response cache.
	Cached bool `json:"cached,omitempty"`

	// Quality and Latency accompany EventDone.
	Quality float64       `json:"quality,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`

	// CrossValidated accompanies EventDone after a speculative round.
	CrossValidated bool `json:"cross_validated,omitempty"`

	// Error accompanies EventError.
	Error *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the terminal error payload.
type ErrorInfo struct {
	Message string `json:"message"`

	// Recoverable suggests the caller retry after a pause.
	Recoverable bool `json:"recoverable"`

	Code string `json:"code,omitempty"`
}

// Response is the collected outcome of a request for callers that do not
// consume the stream.
type Response struct {
	Agent          agent.ID         `json:"agent"`
	Content        string           `json:"content"`
	Decision       routing.Decision `json:"decision"`
	Quality        float64          `json:"quality"`
	Cached         bool             `json:"cached"`
	CrossValidated bool             `json:"cross_validated,omitempty"`
	ToolEvents     []tools.Event    `json:"tool_events,omitempty"`
	Latency        time.Duration    `json:"latency"`
}
