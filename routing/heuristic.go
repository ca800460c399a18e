package routing

import (
	"fmt"
	"strings"

	"github.com/hrygo/switchboard/agent"
)

// maxToolPlan caps how many of the winning descriptor's tools go into the
// decision's tool plan.
const maxToolPlan = 3

// matchRatioKeywordCap bounds the keyword-count denominator when computing
// the match ratio. Tunable, not load-bearing.
const matchRatioKeywordCap = 10

// HeuristicRouter scores a message against the capability registry via
// keyword and phrase matching. It is pure and synchronous and never fails,
// which makes it the system's ultimate routing fallback.
type HeuristicRouter struct {
	registry *agent.Registry
}

// NewHeuristicRouter creates a heuristic router over the given registry.
func NewHeuristicRouter(registry *agent.Registry) *HeuristicRouter {
	return &HeuristicRouter{registry: registry}
}

// Route scores the message against every descriptor and returns the best
// match. A zero-match message routes to the default agent at confidence 0.5.
func (h *HeuristicRouter) Route(message string) Decision {
	lowered := strings.ToLower(message)

	var (
		best        *agent.Descriptor
		bestScore   int
		bestMatched int
	)

	for _, d := range h.registry.All() {
		score, matched := scoreKeywords(lowered, d.Keywords)
		// Ties keep the first enumerated descriptor.
		if score > bestScore {
			best = d
			bestScore = score
			bestMatched = matched
		}
	}

	if best == nil || bestScore == 0 {
		return Decision{
			Agent:      h.registry.Default(),
			Confidence: 0.5,
			Rationale:  "no capability keywords matched",
			Source:     SourceHeuristic,
		}
	}

	total := len(best.Keywords)
	if total > matchRatioKeywordCap {
		total = matchRatioKeywordCap
	}
	matchRatio := float64(bestMatched) / float64(total)

	scoreBonus := float64(bestScore) * 0.05
	if scoreBonus > 0.3 {
		scoreBonus = 0.3
	}
	confidence := 0.5 + matchRatio*0.3 + scoreBonus
	if confidence > 0.95 {
		confidence = 0.95
	}

	toolPlan := best.Tools
	if len(toolPlan) > maxToolPlan {
		toolPlan = toolPlan[:maxToolPlan]
	}

	return Decision{
		Agent:         best.ID,
		Confidence:    confidence,
		Rationale:     fmt.Sprintf("matched %d keyword(s) for %s (score %d)", bestMatched, best.Name, bestScore),
		FallbackAgent: h.registry.Default(),
		ToolPlan:      toolPlan,
		Source:        SourceHeuristic,
	}
}

// scoreKeywords sums keyword hits in the lower-cased message. Multi-word
// phrases score 3, single words score 1.
func scoreKeywords(lowered string, keywords []string) (score, matched int) {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" || !strings.Contains(lowered, kw) {
			continue
		}
		matched++
		if strings.Contains(kw, " ") {
			score += 3
		} else {
			score++
		}
	}
	return score, matched
}
