package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/internal/strutil"
	"github.com/hrygo/switchboard/llm"
	"github.com/hrygo/switchboard/telemetry"
)

// MetricsProvider supplies the rolling per-agent aggregates embedded in the
// classification prompt. Implemented by telemetry.Aggregator.
type MetricsProvider interface {
	Snapshot() []telemetry.AgentMetrics
}

// ClassifierClient performs one classification completion against a specific
// model. Implementations must be safe for concurrent use.
type ClassifierClient interface {
	Complete(ctx context.Context, cfg llm.ModelConfig, system, user string) (string, error)
}

// LLMRouterConfig configures the classifier-backed router.
type LLMRouterConfig struct {
	// Models is the ordered list of classifier models, fastest first.
	Models []llm.ModelConfig

	// RetryDelay is the pause between classifier attempts (default: 200ms).
	RetryDelay time.Duration

	// Client overrides the completion client, for tests.
	Client ClassifierClient

	Logger *slog.Logger
}

// LLMRouter asks a small fast model for a routing decision and degrades to
// the heuristic router when the model list is exhausted or the response does
// not parse.
type LLMRouter struct {
	registry   *agent.Registry
	heuristic  *HeuristicRouter
	metrics    MetricsProvider
	models     []llm.ModelConfig
	retryDelay time.Duration
	client     ClassifierClient
	logger     *slog.Logger
}

// NewLLMRouter creates an LLM router. metrics may be nil; the prompt then
// omits performance context.
func NewLLMRouter(registry *agent.Registry, heuristic *HeuristicRouter, metrics MetricsProvider, cfg LLMRouterConfig) *LLMRouter {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Client == nil {
		cfg.Client = &openaiClassifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LLMRouter{
		registry:   registry,
		heuristic:  heuristic,
		metrics:    metrics,
		models:     cfg.Models,
		retryDelay: cfg.RetryDelay,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

// Available reports whether any classifier model is configured.
func (r *LLMRouter) Available() bool {
	return len(r.models) > 0
}

// llmDecision is the strict JSON shape the classifier must return.
type llmDecision struct {
	Agent         string   `json:"agent"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale"`
	FallbackAgent string   `json:"fallbackAgent,omitempty"`
	ToolPlan      []string `json:"toolPlan,omitempty"`
}

// Route classifies the message. Every failure path degrades to the heuristic
// router tagged SourceFallback; Route itself never returns an error.
func (r *LLMRouter) Route(ctx context.Context, message string, policy Policy) Decision {
	if !r.Available() {
		return r.degrade(message, "no classifier models configured")
	}

	perfContext := r.performanceContext()
	system := r.buildPrompt(perfContext)
	start := time.Now()

	var lastErr error
	for i, model := range r.models {
		if i > 0 {
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return r.degrade(message, "classifier cancelled: "+ctx.Err().Error())
			}
		}

		raw, err := r.client.Complete(ctx, model, system, message)
		if err != nil {
			lastErr = err
			r.logger.Warn("classifier model failed, trying next",
				"model", model.Model, "attempt", i+1, "error", err)
			continue
		}

		decision, err := r.parse(raw)
		if err != nil {
			lastErr = err
			r.logger.Warn("classifier returned unusable decision",
				"model", model.Model, "raw", strutil.Truncate(raw, 200), "error", err)
			continue
		}

		elapsed := time.Since(start)
		if policy.MaxLLMRoutingLatency > 0 && elapsed > policy.MaxLLMRoutingLatency {
			r.logger.Warn("llm routing exceeded latency budget",
				"elapsed_ms", elapsed.Milliseconds(),
				"budget_ms", policy.MaxLLMRoutingLatency.Milliseconds(),
				"model", model.Model)
		}

		decision.PerformanceContext = perfContext
		r.logger.Debug("llm routing decision",
			"agent", decision.Agent,
			"confidence", decision.Confidence,
			"model", model.Model,
			"elapsed_ms", elapsed.Milliseconds())
		return decision
	}

	reason := "classifier models exhausted"
	if lastErr != nil {
		reason += ": " + lastErr.Error()
	}
	return r.degrade(message, reason)
}

// degrade returns the heuristic decision tagged as the final resolver.
func (r *LLMRouter) degrade(message, reason string) Decision {
	r.logger.Debug("llm routing degraded to heuristic", "reason", reason)
	d := r.heuristic.Route(message)
	d.Source = SourceFallback
	d.Rationale += "; " + reason
	return d
}

// parse validates the classifier's JSON against the closed agent set.
// Any violation is an error so the caller advances or degrades.
func (r *LLMRouter) parse(raw string) (Decision, error) {
	raw = stripCodeFence(raw)

	var d llmDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("decision is not valid JSON: %w", err)
	}

	id, ok := agent.Parse(d.Agent)
	if !ok {
		return Decision{}, fmt.Errorf("unknown agent id %q", d.Agent)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return Decision{}, fmt.Errorf("confidence %v out of range", d.Confidence)
	}

	decision := Decision{
		Agent:      id,
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
		ToolPlan:   d.ToolPlan,
		Source:     SourceLLM,
	}
	if d.FallbackAgent != "" {
		if fb, ok := agent.Parse(d.FallbackAgent); ok {
			decision.FallbackAgent = fb
		}
	}
	return decision, nil
}

// buildPrompt renders the classification system prompt with the descriptor
// table and, when available, the live performance aggregates.
func (r *LLMRouter) buildPrompt(perfContext string) string {
	var b strings.Builder
	b.WriteString("You route user messages to one specialist agent.\n")
	b.WriteString("Respond with ONLY a JSON object, no prose, no code fences:\n")
	b.WriteString(`{"agent": "<id>", "confidence": <0..1>, "rationale": "<one sentence>", "fallbackAgent": "<id, optional>", "toolPlan": ["<tool>", ...]}`)
	b.WriteString("\n\nAgents:\n")

	for _, d := range r.registry.All() {
		fmt.Fprintf(&b, "- %s: %s (capabilities: %s; tools: %s)\n",
			d.ID, d.Description,
			strings.Join(d.Capabilities, ", "),
			strings.Join(d.Tools, ", "))
	}

	if perfContext != "" {
		b.WriteString("\nRecent agent performance (prefer reliable agents on ties):\n")
		b.WriteString(perfContext)
	}
	return b.String()
}

// performanceContext summarizes the metrics snapshot for the prompt.
func (r *LLMRouter) performanceContext() string {
	if r.metrics == nil {
		return ""
	}
	snapshot := r.metrics.Snapshot()
	if len(snapshot) == 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range snapshot {
		fmt.Fprintf(&b, "- %s: %.0f%% success over %d requests, avg %dms",
			m.Agent, m.SuccessRate*100, m.TotalRequests, m.AvgLatency.Milliseconds())
		if m.RecentFailures > 0 {
			fmt.Fprintf(&b, ", %d recent failures", m.RecentFailures)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripCodeFence removes a surrounding markdown fence some models emit
// despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// openaiClassifier is the production ClassifierClient over llm.Service.
// Low temperature and a small token cap keep the JSON decision terse.
type openaiClassifier struct{}

func (c *openaiClassifier) Complete(ctx context.Context, cfg llm.ModelConfig, system, user string) (string, error) {
	svc, err := llm.NewService(&llm.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	return svc.Chat(ctx, []llm.Message{
		llm.SystemPrompt(system),
		llm.UserMessage(user),
	})
}

var _ ClassifierClient = (*openaiClassifier)(nil)
