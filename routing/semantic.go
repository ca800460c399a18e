package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hrygo/switchboard/agent"
)

// Embedder computes an embedding vector for a query.
// Implemented by llm.Service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Exemplar is one labeled query from the exemplar store.
type Exemplar struct {
	Agent      agent.ID
	Query      string
	Similarity float64 // cosine similarity in [0,1]
}

// ExemplarSearcher finds the stored exemplars nearest to a query vector.
// Implemented by the pgvector-backed store.
type ExemplarSearcher interface {
	Nearest(ctx context.Context, vector []float32, limit int) ([]Exemplar, error)
}

// VectorMatcherConfig configures the semantic fast path.
type VectorMatcherConfig struct {
	// Budget bounds the whole embed+search round trip (default: 500ms).
	Budget time.Duration

	// MinSimilarity is the floor for accepting the nearest exemplar
	// (default: 0.85).
	MinSimilarity float64

	// SearchLimit is how many neighbors to fetch (default: 3).
	SearchLimit int

	Logger *slog.Logger
}

// VectorMatcher routes by similarity to labeled exemplar queries. It is an
// optional fast path: any failure, breaker rejection or budget overrun just
// yields no match and routing continues down the chain.
type VectorMatcher struct {
	embedder      Embedder
	searcher      ExemplarSearcher
	budget        time.Duration
	minSimilarity float64
	searchLimit   int
	breaker       *gobreaker.CircuitBreaker[[]Exemplar]
	logger        *slog.Logger
}

// NewVectorMatcher creates a matcher. Either dependency may be nil, which
// disables the fast path entirely.
func NewVectorMatcher(embedder Embedder, searcher ExemplarSearcher, cfg VectorMatcherConfig) *VectorMatcher {
	if cfg.Budget <= 0 {
		cfg.Budget = 500 * time.Millisecond
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.85
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[[]Exemplar](gobreaker.Settings{
		Name:        "semantic-matcher",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &VectorMatcher{
		embedder:      embedder,
		searcher:      searcher,
		budget:        cfg.Budget,
		minSimilarity: cfg.MinSimilarity,
		searchLimit:   cfg.SearchLimit,
		breaker:       breaker,
		logger:        cfg.Logger,
	}
}

// Available reports whether the fast path is wired.
func (m *VectorMatcher) Available() bool {
	return m != nil && m.embedder != nil && m.searcher != nil
}

// Match returns a decision when the nearest exemplar clears the similarity
// floor, and false otherwise. Errors are logged, never returned.
func (m *VectorMatcher) Match(ctx context.Context, message string) (Decision, bool) {
	if !m.Available() {
		return Decision{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, m.budget)
	defer cancel()

	exemplars, err := m.breaker.Execute(func() ([]Exemplar, error) {
		vector, err := m.embedder.Embed(ctx, message)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return m.searcher.Nearest(ctx, vector, m.searchLimit)
	})
	if err != nil {
		m.logger.Debug("semantic match unavailable", "error", err)
		return Decision{}, false
	}
	if len(exemplars) == 0 {
		return Decision{}, false
	}

	best := exemplars[0]
	for _, e := range exemplars[1:] {
		if e.Similarity > best.Similarity {
			best = e
		}
	}
	if best.Similarity < m.minSimilarity || !best.Agent.Valid() {
		return Decision{}, false
	}

	confidence := best.Similarity
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Decision{
		Agent:      best.Agent,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("semantic match to exemplar %q (similarity %.2f)", best.Query, best.Similarity),
		Source:     SourceHeuristic,
	}, true
}
