package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/errclass"
	"github.com/hrygo/switchboard/metrics"
	"github.com/hrygo/switchboard/quality"
	"github.com/hrygo/switchboard/respcache"
	"github.com/hrygo/switchboard/routing"
	"github.com/hrygo/switchboard/speculative"
	"github.com/hrygo/switchboard/store"
	"github.com/hrygo/switchboard/telemetry"
)

// Router produces routing decisions and absorbs per-turn outcomes.
// Implemented by routing.Unified.
type Router interface {
	Route(ctx context.Context, conversationID, message string) routing.Decision
	RecordOutcome(ctx context.Context, conversationID string, routed agent.ID, message string)
}

// SpeculativeRunner races candidate agents on ambiguous decisions.
// Implemented by speculative.Executor.
type SpeculativeRunner interface {
	Execute(ctx context.Context, message string, candidates []speculative.Candidate) speculative.Outcome
}

// Request is one inbound message.
type Request struct {
	UserID    string
	ThreadID  string
	MessageID string
	Message   string
}

// Config configures the engine.
type Config struct {
	// EnableSpeculative turns on the parallel alternate path for
	// ambiguous routing decisions.
	EnableSpeculative bool

	// HistoryLimit is how many prior turns feed context assembly
	// (default: 20).
	HistoryLimit int

	Logger *slog.Logger
}

// Engine runs the request pipeline: cache short-circuit, routing, execution
// (speculative or single-agent with model fallback and tools), quality
// scoring, cache write and telemetry.
type Engine struct {
	router        Router
	invoker       Invoker
	scorer        *quality.Scorer
	cache         *respcache.Cache
	recorder      *telemetry.Recorder
	metrics       *metrics.Metrics
	speculative   SpeculativeRunner
	conversations store.ConversationStore

	enableSpeculative bool
	historyLimit      int
	logger            *slog.Logger

	wg sync.WaitGroup
}

// Deps bundles the engine's collaborators. Router and Invoker are required;
// the rest degrade gracefully to no-ops when nil.
type Deps struct {
	Router        Router
	Invoker       Invoker
	Scorer        *quality.Scorer
	Cache         *respcache.Cache
	Recorder      *telemetry.Recorder
	Metrics       *metrics.Metrics
	Speculative   SpeculativeRunner
	Conversations store.ConversationStore
}

// New creates an engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("engine: router is required")
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("engine: invoker is required")
	}
	if deps.Scorer == nil {
		deps.Scorer = quality.NewScorer(nil)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		router:            deps.Router,
		invoker:           deps.Invoker,
		scorer:            deps.Scorer,
		cache:             deps.Cache,
		recorder:          deps.Recorder,
		metrics:           deps.Metrics,
		speculative:       deps.Speculative,
		conversations:     deps.Conversations,
		enableSpeculative: cfg.EnableSpeculative,
		historyLimit:      cfg.HistoryLimit,
		logger:            cfg.Logger,
	}, nil
}

// Shutdown waits for background topic and telemetry work spawned by handled
// requests.
func (e *Engine) Shutdown() {
	e.wg.Wait()
}

// Handle runs one request and returns the collected response. Stream
// consumers use HandleStream instead.
func (e *Engine) Handle(ctx context.Context, req Request) (*Response, error) {
	var resp Response
	var errInfo *ErrorInfo

	e.run(ctx, req, func(ev Event) {
		switch ev.Type {
		case EventRouting:
			resp.Decision = *ev.Decision
			resp.Cached = ev.Cached
		case EventToolEnd:
			if ev.ToolEvent != nil {
				resp.ToolEvents = append(resp.ToolEvents, *ev.ToolEvent)
			}
		case EventContent:
			resp.Content += ev.Content
		case EventDone:
			resp.Agent = ev.Agent
			resp.Quality = ev.Quality
			resp.Latency = ev.Latency
			resp.CrossValidated = ev.CrossValidated
		case EventError:
			errInfo = ev.Error
		}
	})

	if errInfo != nil {
		return nil, errclass.New(errclass.Code(errInfo.Code), errInfo.Message)
	}
	return &resp, nil
}

// HandleStream runs one request and emits the event stream on the returned
// channel. The channel closes after the terminal done or error event.
func (e *Engine) HandleStream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e.run(ctx, req, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

func (e *Engine) run(ctx context.Context, req Request, emit func(Event)) {
	start := time.Now()
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	// Cache hit short-circuits routing and execution entirely, but still
	// reports through the same event and telemetry shape.
	if e.cache != nil {
		if entry, ok := e.cache.Lookup(req.Message, req.UserID); ok {
			e.observeCache(true)
			d := routing.Decision{
				Agent:      entry.Agent,
				Confidence: 1.0,
				Rationale:  "served from response cache",
				Source:     routing.SourceHeuristic,
			}
			emit(Event{Type: EventRouting, Decision: &d, Cached: true})
			emit(Event{Type: EventContent, Content: entry.Response, Cached: true})
			emit(Event{Type: EventDone, Agent: entry.Agent, Quality: entry.Quality, Latency: time.Since(start), Cached: true})

			e.record(req, telemetry.EventResponseGenerated, func(ev *telemetry.Event) {
				ev.Agent = entry.Agent
				ev.Success = true
				ev.Cached = true
				ev.Latency = time.Since(start)
			})
			e.appendTurn(req, entry.Response)
			return
		}
		e.observeCache(false)
	}

	decision := e.router.Route(ctx, req.ThreadID, req.Message)
	emit(Event{Type: EventRouting, Decision: &decision})

	if e.metrics != nil {
		e.metrics.ObserveRoutingDecision(decision.Agent, decision.Source, time.Since(start))
	}
	e.record(req, telemetry.EventRoutingDecision, func(ev *telemetry.Event) {
		ev.Agent = decision.Agent
		ev.Source = decision.Source
		ev.Confidence = decision.Confidence
		ev.Success = true
		ev.Latency = time.Since(start)
	})

	var (
		response       string
		served         agent.ID
		score          float64
		crossValidated bool
		err            error
	)

	if e.shouldSpeculate(decision) {
		response, served, score, crossValidated, err = e.runSpeculative(ctx, req, decision, emit)
	} else {
		response, served, score, err = e.runSingle(ctx, req, decision, emit)
	}

	elapsed := time.Since(start)

	if err != nil {
		classified := errclass.Classify(err)
		emit(Event{Type: EventError, Error: &ErrorInfo{
			Message:     userMessage(classified),
			Recoverable: classified.Recoverable(),
			Code:        string(classified.Code),
		}})
		e.record(req, telemetry.EventError, func(ev *telemetry.Event) {
			ev.Agent = decision.Agent
			ev.Source = string(classified.Code)
			ev.Latency = elapsed
			ev.Detail = classified.Error()
		})
		e.logger.Error("request failed",
			"agent", decision.Agent,
			"code", classified.Code,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err)
		return
	}

	emit(Event{Type: EventDone, Agent: served, Quality: score, Latency: elapsed, CrossValidated: crossValidated})

	if e.metrics != nil {
		e.metrics.ObserveRequest(served, elapsed)
	}
	e.record(req, telemetry.EventResponseGenerated, func(ev *telemetry.Event) {
		ev.Agent = served
		ev.Success = true
		ev.Confidence = decision.Confidence
		ev.Latency = elapsed
	})

	if e.cache != nil {
		e.cache.Set(req.Message, served, req.UserID, response, score)
	}
	e.appendTurn(req, response)

	// Topic state updates are best-effort and must never fail the request.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.router.RecordOutcome(updateCtx, req.ThreadID, served, req.Message)
	}()
}

// runSingle executes the decision's agent through the fallback chain and
// tool layer.
func (e *Engine) runSingle(ctx context.Context, req Request, decision routing.Decision, emit func(Event)) (string, agent.ID, float64, error) {
	emit(Event{Type: EventAgentStart, Agent: decision.Agent})

	history := e.history(ctx, req.ThreadID)
	result, err := e.invoker.Invoke(ctx, decision.Agent, req.Message, history, func(ev Event) {
		emit(ev)
		e.observeTool(req, ev)
	})
	if err != nil {
		return "", decision.Agent, 0, err
	}
	if e.metrics != nil {
		e.metrics.ObserveModelFallback(result.Used.Index)
	}

	emit(Event{Type: EventContent, Content: result.Response})
	score := e.scorer.Score(req.Message, result.Response, decision.Agent)
	return result.Response, decision.Agent, score, nil
}

// runSpeculative races candidate agents and serves the winner.
func (e *Engine) runSpeculative(ctx context.Context, req Request, decision routing.Decision, emit func(Event)) (string, agent.ID, float64, bool, error) {
	candidates := e.candidates(decision)
	for _, c := range candidates {
		emit(Event{Type: EventAgentStart, Agent: c.Agent})
	}

	outcome := e.speculative.Execute(ctx, req.Message, candidates)
	if e.metrics != nil {
		e.metrics.ObserveSpeculativeRound(outcome.Winner.Agent, outcome.CrossValidated)
	}

	winner := outcome.Winner
	if !winner.Success {
		err := winner.Err
		if err == nil {
			err = fmt.Errorf("speculative round produced no usable response")
		}
		return "", winner.Agent, 0, false, err
	}

	emit(Event{Type: EventContent, Content: winner.Response})
	return winner.Response, winner.Agent, winner.Quality, outcome.CrossValidated, nil
}

// shouldSpeculate judges the decision ambiguous enough to race candidates.
func (e *Engine) shouldSpeculate(d routing.Decision) bool {
	if !e.enableSpeculative || e.speculative == nil {
		return false
	}
	if d.Source == routing.SourceOverride {
		return false
	}
	ambiguous := (d.Confidence >= 0.4 && d.Confidence <= 0.8) ||
		(d.FallbackAgent != "" && d.FallbackAgent != d.Agent) ||
		d.Source == routing.SourceHeuristic
	return ambiguous
}

// candidates derives the speculative candidate list from a decision.
func (e *Engine) candidates(d routing.Decision) []speculative.Candidate {
	candidates := []speculative.Candidate{{Agent: d.Agent, Confidence: d.Confidence}}
	if d.FallbackAgent != "" && d.FallbackAgent != d.Agent {
		candidates = append(candidates, speculative.Candidate{
			Agent:      d.FallbackAgent,
			Confidence: d.Confidence * 0.8,
		})
	}
	if d.Agent != agent.General && d.FallbackAgent != agent.General {
		candidates = append(candidates, speculative.Candidate{
			Agent:      agent.General,
			Confidence: 0.4,
		})
	}
	return candidates
}

func (e *Engine) history(ctx context.Context, threadID string) []store.Message {
	if e.conversations == nil || threadID == "" {
		return nil
	}
	history, err := e.conversations.List(ctx, threadID, e.historyLimit)
	if err != nil {
		e.logger.Warn("history unavailable", "thread", threadID, "error", err)
		return nil
	}
	return history
}

// appendTurn persists the user and assistant messages. Failures are logged,
// never raised.
func (e *Engine) appendTurn(req Request, response string) {
	if e.conversations == nil || req.ThreadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.conversations.Append(ctx, req.ThreadID, store.Message{Role: "user", Content: req.Message}); err != nil {
		e.logger.Warn("conversation append failed", "thread", req.ThreadID, "error", err)
		return
	}
	if err := e.conversations.Append(ctx, req.ThreadID, store.Message{Role: "assistant", Content: response}); err != nil {
		e.logger.Warn("conversation append failed", "thread", req.ThreadID, "error", err)
	}
}

// record emits one telemetry event through the buffered recorder.
func (e *Engine) record(req Request, t telemetry.EventType, fill func(*telemetry.Event)) {
	if e.recorder == nil {
		return
	}
	ev := telemetry.NewEvent(t)
	ev.UserID = req.UserID
	ev.ThreadID = req.ThreadID
	ev.MessageID = req.MessageID
	fill(&ev)
	e.recorder.Record(ev)
}

func (e *Engine) observeTool(req Request, ev Event) {
	if ev.Type != EventToolEnd || ev.ToolEvent == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.ObserveToolCall(ev.ToolEvent.Tool, ev.ToolEvent.Success, ev.ToolEvent.Duration)
	}
	e.record(req, telemetry.EventToolExecution, func(tev *telemetry.Event) {
		tev.Tool = ev.ToolEvent.Tool
		tev.Success = ev.ToolEvent.Success
		tev.Latency = ev.ToolEvent.Duration
	})
}

func (e *Engine) observeCache(hit bool) {
	if e.metrics != nil {
		e.metrics.ObserveCacheHit(hit)
	}
}

// userMessage renders a human-readable terminal error.
func userMessage(c *errclass.Classified) string {
	switch c.Code {
	case errclass.RateLimited:
		return "The assistant is receiving too many requests right now. Please try again in a moment."
	case errclass.Timeout:
		return "The request took too long to complete. Please try again."
	case errclass.Connection:
		return "A provider connection failed. Please try again."
	case errclass.Auth:
		return "The assistant is misconfigured for this provider. Please contact the operator."
	default:
		return "Something went wrong handling your request."
	}
}
