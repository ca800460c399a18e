package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/cache"
	"github.com/hrygo/switchboard/internal/strutil"
)

// UnifiedConfig configures the composed router.
type UnifiedConfig struct {
	// ForceHeuristic disables the LLM and semantic paths entirely.
	ForceHeuristic bool

	// LLMTimeout bounds the classifier race (default: 1s).
	LLMTimeout time.Duration

	// DecisionCacheSize and DecisionCacheTTL configure the short-lived
	// decision cache in front of the whole chain (default: 500 / 60s).
	DecisionCacheSize int
	DecisionCacheTTL  time.Duration

	Policy Policy
	Logger *slog.Logger
}

// Unified composes the full routing chain: @mention override, decision
// cache, topic continuity, semantic fast path, LLM classifier raced against
// a timeout, and the heuristic router as the final resolver.
type Unified struct {
	registry  *agent.Registry
	heuristic *HeuristicRouter
	llm       *LLMRouter
	semantic  *VectorMatcher
	topics    *TopicTracker

	forceHeuristic bool
	llmTimeout     time.Duration
	policy         Policy
	decisions      *cache.LRU[string, Decision]
	logger         *slog.Logger
}

// NewUnified creates the composed router. llm, semantic and topics may be
// nil; the corresponding steps are skipped.
func NewUnified(registry *agent.Registry, heuristic *HeuristicRouter, llmRouter *LLMRouter, semantic *VectorMatcher, topics *TopicTracker, cfg UnifiedConfig) *Unified {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = time.Second
	}
	if cfg.DecisionCacheSize <= 0 {
		cfg.DecisionCacheSize = 500
	}
	if cfg.DecisionCacheTTL <= 0 {
		cfg.DecisionCacheTTL = time.Minute
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Unified{
		registry:       registry,
		heuristic:      heuristic,
		llm:            llmRouter,
		semantic:       semantic,
		topics:         topics,
		forceHeuristic: cfg.ForceHeuristic,
		llmTimeout:     cfg.LLMTimeout,
		policy:         cfg.Policy,
		decisions:      cache.New[string, Decision](cfg.DecisionCacheSize, cfg.DecisionCacheTTL),
		logger:         cfg.Logger,
	}
}

// Policy returns the active routing policy.
func (u *Unified) Policy() Policy {
	return u.policy
}

// Route produces one decision for the message. It never fails; the heuristic
// router backstops every other path.
func (u *Unified) Route(ctx context.Context, conversationID, message string) Decision {
	start := time.Now()
	d := u.route(ctx, conversationID, message)
	u.logger.Info("routing decision",
		"agent", d.Agent,
		"confidence", d.Confidence,
		"source", d.Source,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"message", strutil.Truncate(message, 60))
	return d
}

func (u *Unified) route(ctx context.Context, conversationID, message string) Decision {
	// Explicit @mention bypasses scoring entirely.
	if d, ok := u.mentionOverride(message); ok {
		return d
	}

	var sw TopicSwitch
	if u.topics != nil {
		sw = u.topics.Classify(conversationID, message)
	}

	// Short-lived decision cache for repeated identical queries. Topic bias
	// is conversation-specific, so the cache holds the unbiased decision.
	key := decisionKey(message)
	if d, ok := u.decisions.Get(key); ok {
		u.logger.Debug("decision cache hit", "agent", d.Agent)
		return u.bias(d, sw)
	}

	d, cacheable := u.resolve(ctx, message, sw)
	if cacheable {
		u.decisions.Set(key, d, 0)
	}
	return u.bias(d, sw)
}

// resolve runs the routing chain. Topic-continuity decisions depend on
// conversation state and are reported as not cacheable.
func (u *Unified) resolve(ctx context.Context, message string, sw TopicSwitch) (Decision, bool) {
	if u.forceHeuristic || u.llm == nil || !u.llm.Available() {
		return u.heuristic.Route(message), true
	}

	// Topic continuity: a confident continuation of the previous agent's
	// topic skips the expensive paths when the heuristic does not strongly
	// disagree.
	if !sw.IsSwitch && sw.SuggestedAgent != "" && sw.SuggestedAgent != u.registry.Default() && sw.Confidence >= 0.6 {
		check := u.heuristic.Route(message)
		if check.Agent == sw.SuggestedAgent || check.Confidence < 0.7 {
			confidence := sw.Confidence + 0.1
			if confidence > 0.95 {
				confidence = 0.95
			}
			d := Decision{
				Agent:      sw.SuggestedAgent,
				Confidence: confidence,
				Rationale:  "topic continuity: " + sw.Reason,
				Source:     SourceHeuristic,
			}
			if check.Agent != sw.SuggestedAgent {
				d.FallbackAgent = check.Agent
			}
			return d, false
		}
	}

	// Optional semantic fast path.
	if u.semantic.Available() {
		if d, ok := u.semantic.Match(ctx, message); ok && d.Confidence >= 0.7 {
			return d, true
		}
	}

	// LLM classification raced against the timeout. The loser is cancelled;
	// its side effects may finish in the background.
	d, timedOut := u.raceLLM(ctx, message)
	if timedOut {
		fb := u.heuristic.Route(message)
		fb.Source = SourceFallback
		fb.Rationale += "; llm routing timed out"
		return fb, false
	}

	// Low-confidence LLM picks are cross-checked against the heuristic.
	if d.Source == SourceLLM && d.Confidence < u.policy.MinLLMConfidence {
		check := u.heuristic.Route(message)
		if check.Agent == d.Agent {
			d.Confidence += 0.15
			if d.Confidence > 1.0 {
				d.Confidence = 1.0
			}
			d.Rationale += " (heuristic agreement)"
		} else if d.Confidence < 0.5 {
			check.Source = SourceFallback
			check.Rationale += "; low-confidence llm pick disagreed"
			return check, true
		}
	}
	return d, true
}

// raceLLM runs the classifier against the configured timeout. The second
// return value reports that the timeout won the race.
func (u *Unified) raceLLM(ctx context.Context, message string) (Decision, bool) {
	raceCtx, cancel := context.WithTimeout(ctx, u.llmTimeout)
	defer cancel()

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- u.llm.Route(raceCtx, message, u.policy)
	}()

	select {
	case d := <-resultCh:
		return d, false
	case <-raceCtx.Done():
		return Decision{}, true
	}
}

// mentionOverride resolves a leading @agent token to a fixed decision.
func (u *Unified) mentionOverride(message string) (Decision, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "@") {
		return Decision{}, false
	}

	token := trimmed[1:]
	if i := strings.IndexAny(token, " \t\n"); i >= 0 {
		token = token[:i]
	}
	id, ok := agent.Parse(token)
	if !ok {
		return Decision{}, false
	}

	desc, _ := u.registry.Get(id)
	toolPlan := desc.Tools
	if len(toolPlan) > maxToolPlan {
		toolPlan = toolPlan[:maxToolPlan]
	}

	return Decision{
		Agent:      id,
		Confidence: 0.99,
		Rationale:  "explicit @" + string(id) + " mention",
		ToolPlan:   toolPlan,
		Source:     SourceOverride,
	}, true
}

func (u *Unified) bias(d Decision, sw TopicSwitch) Decision {
	if u.topics == nil || d.Source == SourceOverride {
		return d
	}
	return u.topics.Bias(d, sw)
}

// RecordOutcome updates topic state after a routed turn. Best-effort; fired
// in the background by the caller.
func (u *Unified) RecordOutcome(ctx context.Context, conversationID string, routed agent.ID, message string) {
	if u.topics == nil {
		return
	}
	u.topics.Update(ctx, conversationID, routed, message)
}

// decisionKey hashes the normalized message for the decision cache.
func decisionKey(message string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(message), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
