// Package quality scores a text response against the original query for
// usefulness. The score gates response caching and ranks speculative
// execution candidates.
package quality

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hrygo/switchboard/agent"
)

// hedgingPhrases mark responses that dodge the question.
var hedgingPhrases = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i cannot help",
	"i can't help",
	"unable to answer",
	"as an ai",
	"i apologize, but",
	"no information available",
}

// Scorer computes a usefulness score in [0,1] for a response.
type Scorer struct {
	registry *agent.Registry
	md       goldmark.Markdown
}

// NewScorer creates a scorer. The registry supplies agent-domain terminology;
// nil falls back to the default registry.
func NewScorer(registry *agent.Registry) *Scorer {
	if registry == nil {
		registry = agent.DefaultRegistry()
	}
	return &Scorer{
		registry: registry,
		md:       goldmark.New(),
	}
}

// Score rates response against the originating query for the given agent.
//
// Components: base 0.5; word count in [20,500] +0.1, under 10 words -0.2;
// query keyword overlap up to +0.15; terminal punctuation +0.1; agent-domain
// terminology +0.1; structure (list or code fence) +0.05; hedging -0.2.
// The result is clamped to [0,1].
func (s *Scorer) Score(query, response string, ag agent.ID) float64 {
	if strings.TrimSpace(response) == "" {
		return 0
	}

	score := 0.5
	lowerResponse := strings.ToLower(response)
	words := strings.Fields(response)

	switch {
	case len(words) >= 20 && len(words) <= 500:
		score += 0.1
	case len(words) < 10:
		score -= 0.2
	}

	score += 0.15 * s.keywordOverlap(query, lowerResponse)

	if hasTerminalPunctuation(response) {
		score += 0.1
	}

	if s.usesDomainTerminology(lowerResponse, ag) {
		score += 0.1
	}

	if s.isStructured(response) {
		score += 0.05
	}

	if containsAny(lowerResponse, hedgingPhrases) {
		score -= 0.2
	}

	return clamp01(score)
}

// keywordOverlap returns the fraction of significant query words (>3 chars)
// present in the response.
func (s *Scorer) keywordOverlap(query, lowerResponse string) float64 {
	var total, matched int
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len(w) <= 3 {
			continue
		}
		total++
		if strings.Contains(lowerResponse, w) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// usesDomainTerminology checks the response against the agent's declared
// capabilities and keywords.
func (s *Scorer) usesDomainTerminology(lowerResponse string, ag agent.ID) bool {
	desc, ok := s.registry.Get(ag)
	if !ok {
		return false
	}
	for _, term := range desc.Capabilities {
		if strings.Contains(lowerResponse, strings.ToLower(term)) {
			return true
		}
	}
	for _, term := range desc.Keywords {
		if strings.Contains(lowerResponse, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// isStructured detects bullets, numbered lists or code fences by walking the
// markdown AST.
func (s *Scorer) isStructured(response string) bool {
	source := []byte(response)
	root := s.md.Parser().Parse(text.NewReader(source))

	structured := false
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindList, ast.KindFencedCodeBlock, ast.KindCodeBlock:
			structured = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return structured
}

func hasTerminalPunctuation(response string) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return false
	}
	last, _ := lastRune(trimmed)
	switch last {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func lastRune(s string) (rune, int) {
	var r rune
	var size int
	for i, c := range s {
		r = c
		size = i
	}
	return r, size
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
