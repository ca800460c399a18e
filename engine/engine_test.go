package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/errclass"
	"github.com/hrygo/switchboard/llm"
	"github.com/hrygo/switchboard/respcache"
	"github.com/hrygo/switchboard/routing"
	"github.com/hrygo/switchboard/speculative"
	"github.com/hrygo/switchboard/store"
	"github.com/hrygo/switchboard/telemetry"
)

type mockRouter struct {
	decision   routing.Decision
	routeCalls atomic.Int64
	outcomes   atomic.Int64
}

func (m *mockRouter) Route(_ context.Context, _, _ string) routing.Decision {
	m.routeCalls.Add(1)
	return m.decision
}

func (m *mockRouter) RecordOutcome(_ context.Context, _ string, _ agent.ID, _ string) {
	m.outcomes.Add(1)
}

type mockInvoker struct {
	response string
	used     llm.UsedModel
	err      error
	calls    atomic.Int64
}

func (m *mockInvoker) Invoke(_ context.Context, _ agent.ID, _ string, _ []store.Message, _ func(Event)) (InvokeResult, error) {
	m.calls.Add(1)
	if m.err != nil {
		return InvokeResult{}, m.err
	}
	return InvokeResult{Response: m.response, Used: m.used}, nil
}

type mockSpeculative struct {
	outcome speculative.Outcome
	calls   atomic.Int64
}

func (m *mockSpeculative) Execute(_ context.Context, _ string, _ []speculative.Candidate) speculative.Outcome {
	m.calls.Add(1)
	return m.outcome
}

const coderQuery = "explain binary search trees in detail"

const coderAnswer = "A binary search tree keeps every node's left subtree smaller and right subtree " +
	"larger, so search, insert and delete code runs in logarithmic time on balanced trees. " +
	"In detail, explain it by walking from the root and comparing keys."

func confidentDecision() routing.Decision {
	return routing.Decision{
		Agent:      agent.Coder,
		Confidence: 0.9,
		Rationale:  "programming question",
		Source:     routing.SourceLLM,
	}
}

func newTestEngine(t *testing.T, deps Deps, cfg Config) *Engine {
	t.Helper()
	e, err := New(deps, cfg)
	require.NoError(t, err)
	return e
}

func TestEngine_HandleFullFlow(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{response: coderAnswer}
	conversations := store.NewMemoryConversationStore(0)

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Conversations: conversations}, Config{})

	resp, err := e.Handle(context.Background(), Request{ThreadID: "t1", Message: coderQuery})
	require.NoError(t, err)
	assert.Equal(t, agent.Coder, resp.Agent)
	assert.Equal(t, coderAnswer, resp.Content)
	assert.False(t, resp.Cached)
	assert.GreaterOrEqual(t, resp.Quality, 0.7)
	assert.Equal(t, int64(1), router.routeCalls.Load())
	assert.Equal(t, int64(1), invoker.calls.Load())

	// Topic update runs in the background.
	e.Shutdown()
	assert.Equal(t, int64(1), router.outcomes.Load())

	msgs, err := conversations.List(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestEngine_CacheHitShortCircuitsRouter(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{response: coderAnswer}
	cache, err := respcache.New(respcache.Config{})
	require.NoError(t, err)

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Cache: cache}, Config{})

	first, err := e.Handle(context.Background(), Request{ThreadID: "t1", Message: coderQuery})
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, int64(1), router.routeCalls.Load())

	second, err := e.Handle(context.Background(), Request{ThreadID: "t2", Message: coderQuery})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, int64(1), router.routeCalls.Load(), "cache hit must not re-invoke the router")
	assert.Equal(t, int64(1), invoker.calls.Load())
	e.Shutdown()
}

func TestEngine_CachedResponseReportsSameTelemetryShape(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{response: coderAnswer}
	cache, err := respcache.New(respcache.Config{})
	require.NoError(t, err)
	sink := telemetry.NewMemorySink()
	recorder := telemetry.NewRecorder(sink, telemetry.RecorderConfig{MaxBatch: 100, FlushInterval: time.Hour})

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Cache: cache, Recorder: recorder}, Config{})

	_, err = e.Handle(context.Background(), Request{ThreadID: "t1", Message: coderQuery})
	require.NoError(t, err)
	_, err = e.Handle(context.Background(), Request{ThreadID: "t1", Message: coderQuery})
	require.NoError(t, err)
	e.Shutdown()
	recorder.Shutdown(context.Background())

	events, err := sink.QueryWindow(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	var cached int
	for _, ev := range events {
		if ev.Type == telemetry.EventResponseGenerated && ev.Cached {
			cached++
		}
	}
	assert.Equal(t, 1, cached, "cache hit must still emit a response event tagged cached")
}

func TestEngine_SpeculativeOnAmbiguousDecision(t *testing.T) {
	router := &mockRouter{decision: routing.Decision{
		Agent:         agent.Researcher,
		Confidence:    0.55,
		FallbackAgent: agent.General,
		Source:        routing.SourceHeuristic,
	}}
	invoker := &mockInvoker{response: "never used"}
	spec := &mockSpeculative{outcome: speculative.Outcome{
		Winner: speculative.Result{
			Agent:    agent.Researcher,
			Response: coderAnswer,
			Quality:  0.8,
			Success:  true,
		},
		CrossValidated: true,
	}}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Speculative: spec},
		Config{EnableSpeculative: true})

	resp, err := e.Handle(context.Background(), Request{ThreadID: "t1", Message: coderQuery})
	require.NoError(t, err)
	assert.Equal(t, int64(1), spec.calls.Load())
	assert.Equal(t, int64(0), invoker.calls.Load())
	assert.Equal(t, agent.Researcher, resp.Agent)
	assert.True(t, resp.CrossValidated)
	assert.Equal(t, 0.8, resp.Quality)
	e.Shutdown()
}

func TestEngine_SpeculativeDisabledUsesSingle(t *testing.T) {
	router := &mockRouter{decision: routing.Decision{
		Agent: agent.Researcher, Confidence: 0.55, Source: routing.SourceHeuristic,
	}}
	invoker := &mockInvoker{response: coderAnswer}
	spec := &mockSpeculative{}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Speculative: spec}, Config{})

	_, err := e.Handle(context.Background(), Request{Message: coderQuery})
	require.NoError(t, err)
	assert.Equal(t, int64(0), spec.calls.Load())
	assert.Equal(t, int64(1), invoker.calls.Load())
	e.Shutdown()
}

func TestEngine_OverrideNeverSpeculates(t *testing.T) {
	router := &mockRouter{decision: routing.Decision{
		Agent: agent.Coder, Confidence: 0.99, Source: routing.SourceOverride,
	}}
	invoker := &mockInvoker{response: coderAnswer}
	spec := &mockSpeculative{}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker, Speculative: spec},
		Config{EnableSpeculative: true})

	_, err := e.Handle(context.Background(), Request{Message: coderQuery})
	require.NoError(t, err)
	assert.Equal(t, int64(0), spec.calls.Load())
	e.Shutdown()
}

func TestEngine_RateLimitErrorIsRecoverable(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{err: errclass.New(errclass.RateLimited, "all models rate limited")}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker}, Config{})

	var errEvent *Event
	for ev := range e.HandleStream(context.Background(), Request{Message: coderQuery}) {
		if ev.Type == EventError {
			copied := ev
			errEvent = &copied
		}
	}
	require.NotNil(t, errEvent)
	assert.True(t, errEvent.Error.Recoverable)
	assert.Equal(t, string(errclass.RateLimited), errEvent.Error.Code)
	assert.NotEmpty(t, errEvent.Error.Message)
	e.Shutdown()
}

func TestEngine_AuthErrorNotRecoverable(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{err: errors.New("invalid api key")}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker}, Config{})

	_, err := e.Handle(context.Background(), Request{Message: coderQuery})
	require.Error(t, err)
	assert.False(t, errclass.IsRecoverable(err))
	e.Shutdown()
}

func TestEngine_StreamEventOrder(t *testing.T) {
	router := &mockRouter{decision: confidentDecision()}
	invoker := &mockInvoker{response: coderAnswer}

	e := newTestEngine(t, Deps{Router: router, Invoker: invoker}, Config{})

	var types []EventType
	for ev := range e.HandleStream(context.Background(), Request{Message: coderQuery}) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventRouting, EventAgentStart, EventContent, EventDone}, types)
	e.Shutdown()
}

func TestEngine_RequiresRouterAndInvoker(t *testing.T) {
	_, err := New(Deps{Invoker: &mockInvoker{}}, Config{})
	assert.Error(t, err)

	_, err = New(Deps{Router: &mockRouter{}}, Config{})
	assert.Error(t, err)
}
