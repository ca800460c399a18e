// Package tools provides the uniform tool invocation contract: registered
// tools run behind per-tool timeouts with structured, classified results.
// Failures never propagate past this layer.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/switchboard/llm"
)

// Result is the uniform tool result shape.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Tool is one invokable external capability. Invocations must be
// idempotent-safe to retry within their own timeout; the executor does not
// retry beyond the single timeout race.
type Tool interface {
	// Name is the identifier referenced by agent tool plans and model
	// tool calls.
	Name() string

	// Description is shown to the model when the tool is exposed.
	Description() string

	// Parameters is the JSON Schema of the arguments.
	Parameters() *llm.JSONSchema

	// Invoke runs the tool. A returned error is classified by the
	// executor; tools may also report domain failures via Result.
	Invoke(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Event is the append-only record of one tool invocation.
type Event struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    *Result         `json:"result"`
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// newEvent creates an event with ID and timestamp populated.
func newEvent(tool string, args json.RawMessage) Event {
	return Event{
		ID:        shortuuid.New(),
		Tool:      tool,
		Args:      args,
		Timestamp: time.Now(),
	}
}

// Registry holds the available tools by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry from the given tools.
// Duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one tool.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors renders the named tools for the completion request.
// Unknown names are skipped; nil names renders every registered tool.
func (r *Registry) Descriptors(names []string) []llm.ToolDescriptor {
	if names == nil {
		names = r.order
	}
	out := make([]llm.ToolDescriptor, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, llm.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}
