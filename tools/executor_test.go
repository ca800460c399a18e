package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/errclass"
	"github.com/hrygo/switchboard/llm"
)

// fakeTool is a scriptable Tool for executor tests.
type fakeTool struct {
	name   string
	result *Result
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int64
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }

func (f *fakeTool) Parameters() *llm.JSONSchema {
	return &llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"city": {Type: "string", Description: "target city"},
		},
		Required: []string{"city"},
	}
}

func (f *fakeTool) Invoke(ctx context.Context, _ json.RawMessage) (*Result, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, tools ...Tool) *Executor {
	t.Helper()
	registry, err := NewRegistry(tools...)
	require.NoError(t, err)
	return NewExecutor(registry, cfg)
}

func TestExecutor_Success(t *testing.T) {
	tool := &fakeTool{name: "get_weather", result: &Result{Success: true, Data: json.RawMessage(`{"temp":21}`)}}
	e := newTestExecutor(t, ExecutorConfig{}, tool)

	event := e.Execute(context.Background(), Call{Name: "get_weather", Args: json.RawMessage(`{"city":"Oslo"}`)})
	assert.True(t, event.Success)
	assert.NotEmpty(t, event.ID)
	assert.Empty(t, event.ErrorCode)
	assert.JSONEq(t, `{"temp":21}`, string(event.Result.Data))
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{})

	event := e.Execute(context.Background(), Call{Name: "teleport"})
	assert.False(t, event.Success)
	assert.Equal(t, string(errclass.NotFound), event.ErrorCode)
	assert.Contains(t, event.Result.Message, "teleport")
}

func TestExecutor_TimeoutClassified(t *testing.T) {
	tool := &fakeTool{name: "slow_tool", delay: time.Second}
	e := newTestExecutor(t, ExecutorConfig{
		Timeouts: map[string]time.Duration{"slow_tool": 20 * time.Millisecond},
	}, tool)

	event := e.Execute(context.Background(), Call{Name: "slow_tool"})
	assert.False(t, event.Success)
	assert.Equal(t, string(errclass.Timeout), event.ErrorCode)
	assert.Contains(t, event.Result.Message, "timeout")
}

func TestExecutor_ErrorClassifiedNotThrown(t *testing.T) {
	tool := &fakeTool{name: "flaky", err: errors.New("connection refused")}
	e := newTestExecutor(t, ExecutorConfig{}, tool)

	event := e.Execute(context.Background(), Call{Name: "flaky"})
	assert.False(t, event.Success)
	assert.Equal(t, string(errclass.Connection), event.ErrorCode)
	require.NotNil(t, event.Result)
	assert.False(t, event.Result.Success)
}

func TestExecutor_PanicContained(t *testing.T) {
	tool := &fakeTool{name: "unstable", panics: true}
	e := newTestExecutor(t, ExecutorConfig{}, tool)

	var event Event
	assert.NotPanics(t, func() {
		event = e.Execute(context.Background(), Call{Name: "unstable"})
	})
	assert.False(t, event.Success)
	assert.Contains(t, event.Result.Message, "panicked")
}

func TestExecutor_DomainFailureIsStructured(t *testing.T) {
	tool := &fakeTool{name: "control_device", result: &Result{Success: false, Message: "device offline"}}
	e := newTestExecutor(t, ExecutorConfig{}, tool)

	event := e.Execute(context.Background(), Call{Name: "control_device"})
	assert.False(t, event.Success)
	assert.Empty(t, event.ErrorCode)
	assert.Equal(t, "device offline", event.Result.Message)
}

func TestExecutor_ExecuteAllRunsInParallel(t *testing.T) {
	a := &fakeTool{name: "tool_a", delay: 50 * time.Millisecond, result: &Result{Success: true}}
	b := &fakeTool{name: "tool_b", delay: 50 * time.Millisecond, result: &Result{Success: true}}
	c := &fakeTool{name: "tool_c", delay: 50 * time.Millisecond, result: &Result{Success: true}}
	e := newTestExecutor(t, ExecutorConfig{}, a, b, c)

	start := time.Now()
	events := e.ExecuteAll(context.Background(), []Call{
		{Name: "tool_a"}, {Name: "tool_b"}, {Name: "tool_c"},
	})
	elapsed := time.Since(start)

	require.Len(t, events, 3)
	// Sequential execution would take 150ms+.
	assert.Less(t, elapsed, 120*time.Millisecond)
	assert.Equal(t, "tool_a", events[0].Tool)
	assert.Equal(t, "tool_c", events[2].Tool)
	for _, ev := range events {
		assert.True(t, ev.Success)
	}
}

func TestExecutor_ExecuteAllMixedOutcomes(t *testing.T) {
	ok := &fakeTool{name: "works", result: &Result{Success: true}}
	bad := &fakeTool{name: "breaks", err: errors.New("quota exceeded")}
	e := newTestExecutor(t, ExecutorConfig{}, ok, bad)

	events := e.ExecuteAll(context.Background(), []Call{{Name: "works"}, {Name: "breaks"}})
	require.Len(t, events, 2)
	assert.True(t, events[0].Success)
	assert.False(t, events[1].Success)
	assert.Equal(t, string(errclass.RateLimited), events[1].ErrorCode)
}

func TestExecutor_TimeoutTable(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{
		Timeouts: map[string]time.Duration{"get_weather": 3 * time.Second},
	})

	assert.Equal(t, 3*time.Second, e.Timeout("get_weather"), "override wins")
	assert.Equal(t, 30*time.Second, e.Timeout("run_code"))
	assert.Equal(t, defaultTimeout, e.Timeout("never_heard_of_it"))
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	_, err := NewRegistry(&fakeTool{name: "dup"}, &fakeTool{name: "dup"})
	assert.Error(t, err)
}

func TestRegistry_Descriptors(t *testing.T) {
	registry, err := NewRegistry(&fakeTool{name: "one"}, &fakeTool{name: "two"})
	require.NoError(t, err)

	descs := registry.Descriptors([]string{"two", "missing"})
	require.Len(t, descs, 1)
	assert.Equal(t, "two", descs[0].Name)

	payload, err := json.Marshal(descs[0].Parameters)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"object","additionalProperties":false,"required":["city"],`+
			`"properties":{"city":{"type":"string","description":"target city","additionalProperties":false}}}`,
		string(payload))

	all := registry.Descriptors(nil)
	assert.Len(t, all, 2)
}
