// Package speculative races multiple candidate agents on one message and
// selects the best response by quality, latency and routing confidence, with
// a pairwise consensus check across qualifying answers.
package speculative

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/quality"
)

// Candidate is one agent worth racing, with the routing confidence that
// nominated it.
type Candidate struct {
	Agent      agent.ID
	Confidence float64
}

// Result is one candidate's attempt. Discarded after the round resolves.
type Result struct {
	Agent      agent.ID
	Response   string
	Latency    time.Duration
	Confidence float64
	Quality    float64
	Success    bool
	Err        error
}

// Outcome is the resolved speculative round.
type Outcome struct {
	Winner         Result
	Results        []Result
	Consensus      float64
	CrossValidated bool
}

// Completer executes one completion for a specific agent.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, ag agent.ID, message string) (string, error)
}

// Config holds the speculative execution knobs.
type Config struct {
	// MaxParallelAgents caps how many candidates race (default: 3).
	MaxParallelAgents int

	// MinConfidenceToRun filters candidates below this routing confidence
	// (default: 0.3).
	MinConfidenceToRun float64

	// Timeout bounds each candidate's completion (default: 15s).
	Timeout time.Duration

	// QualityThreshold excludes weak responses from winner selection
	// (default: 0.7).
	QualityThreshold float64

	Logger *slog.Logger
}

// DefaultConfig returns the standard speculative knobs.
func DefaultConfig() Config {
	return Config{
		MaxParallelAgents:  3,
		MinConfidenceToRun: 0.3,
		Timeout:            15 * time.Second,
		QualityThreshold:   0.7,
	}
}

// Executor runs speculative rounds.
type Executor struct {
	completer Completer
	scorer    *quality.Scorer
	cfg       Config
	logger    *slog.Logger
}

// NewExecutor creates an executor. A nil scorer falls back to the default
// registry's scorer.
func NewExecutor(completer Completer, scorer *quality.Scorer, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxParallelAgents <= 0 {
		cfg.MaxParallelAgents = def.MaxParallelAgents
	}
	if cfg.MinConfidenceToRun <= 0 {
		cfg.MinConfidenceToRun = def.MinConfidenceToRun
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = def.QualityThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if scorer == nil {
		scorer = quality.NewScorer(nil)
	}

	return &Executor{
		completer: completer,
		scorer:    scorer,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// Execute races the candidates and resolves a winner. Given at least one
// candidate it never returns an empty outcome: when every response misses the
// quality bar, the least-bad attempt wins with CrossValidated=false.
func (e *Executor) Execute(ctx context.Context, message string, candidates []Candidate) Outcome {
	selected := e.selectCandidates(candidates)
	if len(selected) == 0 {
		selected = candidates
		if len(selected) > e.cfg.MaxParallelAgents {
			selected = selected[:e.cfg.MaxParallelAgents]
		}
	}
	if len(selected) == 0 {
		return Outcome{}
	}

	results := e.run(ctx, message, selected)

	qualifying := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Success && r.Quality >= e.cfg.QualityThreshold {
			qualifying = append(qualifying, r)
		}
	}

	if len(qualifying) == 0 {
		// Never return empty: surface the least-bad attempt.
		best := results[0]
		for _, r := range results[1:] {
			if r.Quality > best.Quality || (!best.Success && r.Success) {
				best = r
			}
		}
		e.logger.Warn("no speculative candidate met the quality bar",
			"candidates", len(results), "winner", best.Agent, "quality", best.Quality)
		return Outcome{Winner: best, Results: results}
	}

	consensus := Consensus(responsesOf(qualifying))
	winner := e.pickWinner(qualifying)

	e.logger.Info("speculative round resolved",
		"winner", winner.Agent,
		"quality", winner.Quality,
		"consensus", consensus,
		"qualifying", len(qualifying),
		"raced", len(results))

	return Outcome{
		Winner:         winner,
		Results:        results,
		Consensus:      consensus,
		CrossValidated: len(qualifying) > 1 && consensus > 0.5,
	}
}

// selectCandidates filters by minimum confidence and keeps the top
// MaxParallelAgents, highest confidence first.
func (e *Executor) selectCandidates(candidates []Candidate) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= e.cfg.MinConfidenceToRun && c.Agent.Valid() {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Confidence > eligible[j].Confidence
	})
	if len(eligible) > e.cfg.MaxParallelAgents {
		eligible = eligible[:e.cfg.MaxParallelAgents]
	}
	return eligible
}

// run queries every selected candidate concurrently, each bounded by the
// configured timeout. A timed-out or erroring candidate yields a failed
// result with zero quality; abandoned calls finish in the background.
func (e *Executor) run(ctx context.Context, message string, selected []Candidate) []Result {
	results := make([]Result, len(selected))

	g := &errgroup.Group{}
	for i, c := range selected {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runOne(ctx, message, c)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) runOne(ctx context.Context, message string, c Candidate) Result {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	response, err := e.completer.Complete(callCtx, c.Agent, message)
	latency := time.Since(start)

	if err != nil {
		e.logger.Debug("speculative candidate failed",
			"agent", c.Agent, "latency_ms", latency.Milliseconds(), "error", err)
		return Result{
			Agent:      c.Agent,
			Latency:    latency,
			Confidence: c.Confidence,
			Err:        err,
		}
	}

	return Result{
		Agent:      c.Agent,
		Response:   response,
		Latency:    latency,
		Confidence: c.Confidence,
		Quality:    e.scorer.Score(message, response, c.Agent),
		Success:    true,
	}
}

// pickWinner maximizes 0.6*quality + 0.3*(1 - latency/timeout) + 0.1*confidence.
func (e *Executor) pickWinner(qualifying []Result) Result {
	best := qualifying[0]
	bestScore := e.winnerScore(best)
	for _, r := range qualifying[1:] {
		if s := e.winnerScore(r); s > bestScore {
			best = r
			bestScore = s
		}
	}
	return best
}

func (e *Executor) winnerScore(r Result) float64 {
	latencyShare := float64(r.Latency) / float64(e.cfg.Timeout)
	if latencyShare > 1 {
		latencyShare = 1
	}
	return 0.6*r.Quality + 0.3*(1-latencyShare) + 0.1*r.Confidence
}

func responsesOf(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Response
	}
	return out
}
