package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/llm"
	"github.com/hrygo/switchboard/store"
	"github.com/hrygo/switchboard/tools"
)

// InvokeResult is the outcome of executing one agent turn.
type InvokeResult struct {
	Response   string
	Used       llm.UsedModel
	ToolEvents []tools.Event
}

// Invoker executes a routed request against one agent.
type Invoker interface {
	// Invoke runs the full turn: completion, planned tool calls, and the
	// follow-up completion that folds tool results back in. emit receives
	// tool lifecycle events and may be nil.
	Invoke(ctx context.Context, ag agent.ID, message string, history []store.Message, emit func(Event)) (InvokeResult, error)
}

// AgentInvokerConfig configures the production invoker.
type AgentInvokerConfig struct {
	// Chains maps each agent to its prioritized model chain.
	Chains map[agent.ID]llm.Chain

	// MaxTokens and Temperature apply to agent completions.
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7

	Logger *slog.Logger
}

// AgentInvoker executes turns through the model fallback chain and the tool
// execution layer.
type AgentInvoker struct {
	registry    *agent.Registry
	fallback    *llm.FallbackExecutor
	tools       *tools.Executor
	toolReg     *tools.Registry
	chains      map[agent.ID]llm.Chain
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewAgentInvoker creates the production invoker. toolExec and toolReg may
// be nil when no tools are wired; agents then run pure completions.
func NewAgentInvoker(registry *agent.Registry, fallback *llm.FallbackExecutor, toolReg *tools.Registry, toolExec *tools.Executor, cfg AgentInvokerConfig) *AgentInvoker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &AgentInvoker{
		registry:    registry,
		fallback:    fallback,
		tools:       toolExec,
		toolReg:     toolReg,
		chains:      cfg.Chains,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Chain returns the model chain for an agent, falling back to the default
// agent's chain when none is configured.
func (a *AgentInvoker) Chain(ag agent.ID) llm.Chain {
	if chain, ok := a.chains[ag]; ok && len(chain) > 0 {
		return chain
	}
	return a.chains[a.registry.Default()]
}

// Invoke runs the turn against the agent's model chain. Planned tool calls
// within one model turn execute in parallel; their results, failures
// included, are fed back so the model can react in natural language.
func (a *AgentInvoker) Invoke(ctx context.Context, ag agent.ID, message string, history []store.Message, emit func(Event)) (InvokeResult, error) {
	chain := a.Chain(ag)
	if len(chain) == 0 {
		return InvokeResult{}, fmt.Errorf("no model chain configured for agent %s", ag)
	}

	desc, ok := a.registry.Get(ag)
	if !ok {
		return InvokeResult{}, fmt.Errorf("unknown agent %s", ag)
	}

	messages := a.buildMessages(desc, message, history)
	descriptors := a.toolDescriptors(desc)

	var toolEvents []tools.Event
	work := func(ctx context.Context, client *openai.Client, model string) (string, error) {
		toolEvents = toolEvents[:0]
		return a.runTurn(ctx, client, model, messages, descriptors, &toolEvents, emit)
	}

	response, used, err := a.fallback.Execute(ctx, chain, work)
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{Response: response, Used: used, ToolEvents: toolEvents}, nil
}

// Complete runs a plain completion for an agent, without tools. This is the
// cheap path the speculative executor races candidates through.
func (a *AgentInvoker) Complete(ctx context.Context, ag agent.ID, message string) (string, error) {
	chain := a.Chain(ag)
	if len(chain) == 0 {
		return "", fmt.Errorf("no model chain configured for agent %s", ag)
	}
	desc, ok := a.registry.Get(ag)
	if !ok {
		return "", fmt.Errorf("unknown agent %s", ag)
	}

	messages := a.buildMessages(desc, message, nil)
	response, _, err := a.fallback.Execute(ctx, chain,
		func(ctx context.Context, client *openai.Client, model string) (string, error) {
			return a.complete(ctx, client, model, messages, nil)
		})
	return response, err
}

// runTurn performs the completion and, when the model plans tool calls, the
// parallel tool round trip plus the follow-up completion.
func (a *AgentInvoker) runTurn(ctx context.Context, client *openai.Client, model string, messages []openai.ChatCompletionMessage, descriptors []openai.Tool, toolEvents *[]tools.Event, emit func(Event)) (string, error) {
	resp, err := a.chat(ctx, client, model, messages, descriptors)
	if err != nil {
		return "", err
	}

	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return choice.Message.Content, nil
	}

	calls := make([]tools.Call, len(choice.Message.ToolCalls))
	for i, tc := range choice.Message.ToolCalls {
		calls[i] = tools.Call{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		}
		if emit != nil {
			emit(Event{Type: EventToolStart, Tool: tc.Function.Name})
		}
	}

	events := a.tools.ExecuteAll(ctx, calls)
	*toolEvents = append(*toolEvents, events...)

	followup := append(messages, choice.Message)
	for i, ev := range events {
		if emit != nil {
			emit(Event{Type: EventToolEnd, Tool: ev.Tool, ToolEvent: &events[i]})
		}
		payload, err := json.Marshal(ev.Result)
		if err != nil {
			payload = []byte(fmt.Sprintf(`{"success":false,"message":%q}`, err.Error()))
		}
		followup = append(followup, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: calls[i].ID,
			Name:       ev.Tool,
			Content:    string(payload),
		})
	}

	// Tool results joined; one follow-up completion produces the answer.
	return a.complete(ctx, client, model, followup, nil)
}

func (a *AgentInvoker) complete(ctx context.Context, client *openai.Client, model string, messages []openai.ChatCompletionMessage, descriptors []openai.Tool) (string, error) {
	resp, err := a.chat(ctx, client, model, messages, descriptors)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *AgentInvoker) chat(ctx context.Context, client *openai.Client, model string, messages []openai.ChatCompletionMessage, descriptors []openai.Tool) (*openai.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Messages:    messages,
		Tools:       descriptors,
	}
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model %s", model)
	}
	return &resp, nil
}

func (a *AgentInvoker) buildMessages(desc *agent.Descriptor, message string, history []store.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("You are %s. %s", desc.Name, desc.Description),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
}

// toolDescriptors renders the agent's declared tools for the request.
func (a *AgentInvoker) toolDescriptors(desc *agent.Descriptor) []openai.Tool {
	if a.toolReg == nil || a.tools == nil || len(desc.Tools) == 0 {
		return nil
	}
	declared := a.toolReg.Descriptors(desc.Tools)
	out := make([]openai.Tool, len(declared))
	for i, d := range declared {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

var _ Invoker = (*AgentInvoker)(nil)
