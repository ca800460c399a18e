package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/switchboard/errclass"
)

// defaultTimeout applies to tools absent from the timeout table.
const defaultTimeout = 10 * time.Second

// defaultTimeouts is the fixed per-tool timeout table. External-API tools
// get 10-20s, local/DB tools 5-30s, trivial local compute ~1s.
var defaultTimeouts = map[string]time.Duration{
	"web_search":         15 * time.Second,
	"fetch_page":         20 * time.Second,
	"summarize_document": 30 * time.Second,
	"run_code":           30 * time.Second,
	"search_github":      15 * time.Second,
	"read_repo":          15 * time.Second,
	"control_device":     10 * time.Second,
	"get_device_state":   5 * time.Second,
	"run_scene":          10 * time.Second,
	"get_weather":        10 * time.Second,
	"get_forecast":       10 * time.Second,
	"create_event":       10 * time.Second,
	"list_events":        5 * time.Second,
	"update_event":       10 * time.Second,
	"get_quote":          10 * time.Second,
	"get_portfolio":      5 * time.Second,
	"get_spending":       5 * time.Second,
	"play_track":         10 * time.Second,
	"control_playback":   5 * time.Second,
	"manage_playlist":    10 * time.Second,
}

// Call is one planned tool invocation from a model turn.
type Call struct {
	ID   string // provider tool-call id, echoed back in results
	Name string
	Args json.RawMessage
}

// ExecutorConfig configures the tool executor.
type ExecutorConfig struct {
	// Timeouts overrides or extends the built-in per-tool timeout table.
	Timeouts map[string]time.Duration

	Logger *slog.Logger
}

// Executor runs tool calls behind per-tool timeouts. It never lets a tool
// failure escape: every execution yields a structured Event whose Result
// carries a classified failure message when things go wrong.
type Executor struct {
	registry *Registry
	timeouts map[string]time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	timeouts := make(map[string]time.Duration, len(defaultTimeouts)+len(cfg.Timeouts))
	for name, d := range defaultTimeouts {
		timeouts[name] = d
	}
	for name, d := range cfg.Timeouts {
		timeouts[name] = d
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		registry: registry,
		timeouts: timeouts,
		logger:   cfg.Logger,
	}
}

// Timeout returns the budget for a tool name.
func (e *Executor) Timeout(name string) time.Duration {
	if d, ok := e.timeouts[name]; ok {
		return d
	}
	return defaultTimeout
}

// Execute runs one tool call bounded by its timeout. It always returns a
// complete event; errors are folded into the result, never raised.
func (e *Executor) Execute(ctx context.Context, call Call) Event {
	event := newEvent(call.Name, call.Args)

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		event.ErrorCode = string(errclass.NotFound)
		event.Result = &Result{Success: false, Message: fmt.Sprintf("unknown tool %q", call.Name)}
		return event
	}

	timeout := e.Timeout(call.Name)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.invoke(callCtx, tool, call.Args)
	event.Duration = time.Since(start)

	if err != nil {
		classified := errclass.Classify(err)
		if callCtx.Err() == context.DeadlineExceeded {
			classified = errclass.Wrap(errclass.Timeout,
				fmt.Errorf("tool %s exceeded %s timeout", call.Name, timeout))
		}
		event.ErrorCode = string(classified.Code)
		event.Result = &Result{Success: false, Message: classified.Error()}
		e.logger.Warn("tool execution failed",
			"tool", call.Name,
			"code", classified.Code,
			"duration_ms", event.Duration.Milliseconds(),
			"error", err)
		return event
	}

	if result == nil {
		result = &Result{Success: true}
	}
	event.Result = result
	event.Success = result.Success

	e.logger.Debug("tool executed",
		"tool", call.Name,
		"success", result.Success,
		"duration_ms", event.Duration.Milliseconds())
	return event
}

// invoke races the tool against its context so a stuck tool cannot hold the
// turn past its timeout. The abandoned invocation finishes in the background.
func (e *Executor) invoke(ctx context.Context, tool Tool, args json.RawMessage) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Invoke(ctx, args)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteAll runs a turn's planned calls in parallel and joins the events in
// call order. Individual failures surface as failed events, never as errors.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []Event {
	if len(calls) == 0 {
		return nil
	}

	events := make([]Event, len(calls))
	g := &errgroup.Group{}
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			events[i] = e.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return events
}
