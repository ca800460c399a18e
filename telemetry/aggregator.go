package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/switchboard/agent"
)

// AggregatorConfig configures the rolling aggregation.
type AggregatorConfig struct {
	// Window is the telemetry window to aggregate over (default: 24h).
	Window time.Duration

	// RefreshInterval is how often the snapshot is recomputed
	// (default: 5m).
	RefreshInterval time.Duration

	Logger *slog.Logger
}

// Aggregator periodically recomputes per-agent metrics from the telemetry
// window. Snapshots are replaced wholesale, never merged in place, so
// readers always see a consistent view.
type Aggregator struct {
	sink     Sink
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot map[agent.ID]AgentMetrics

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAggregator creates an aggregator. Call Start to begin periodic refresh.
func NewAggregator(sink Sink, cfg AggregatorConfig) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Aggregator{
		sink:     sink,
		window:   cfg.Window,
		interval: cfg.RefreshInterval,
		logger:   cfg.Logger,
		snapshot: make(map[agent.ID]AgentMetrics),
		stopCh:   make(chan struct{}),
	}
}

// Start performs an initial refresh and begins the periodic loop.
func (a *Aggregator) Start(ctx context.Context) {
	a.Refresh(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Refresh(context.Background())
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic refresh.
func (a *Aggregator) Stop() {
	a.once.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Refresh recomputes the snapshot from the sink. Failures keep the previous
// snapshot and are logged, not raised.
func (a *Aggregator) Refresh(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	since := time.Now().Add(-a.window)
	events, err := a.sink.QueryWindow(queryCtx, since)
	if err != nil {
		a.logger.Warn("metrics aggregation query failed, keeping previous snapshot", "error", err)
		return
	}

	fresh := computeMetrics(events, time.Now())

	a.mu.Lock()
	a.snapshot = fresh
	a.mu.Unlock()

	a.logger.Debug("agent metrics refreshed", "agents", len(fresh), "events", len(events))
}

// Snapshot returns the current per-agent metrics, ordered by agent id.
func (a *Aggregator) Snapshot() []AgentMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]AgentMetrics, 0, len(a.snapshot))
	for _, m := range a.snapshot {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Agent < result[j].Agent })
	return result
}

// ForAgent returns the metrics for one agent, if present in the snapshot.
func (a *Aggregator) ForAgent(id agent.ID) (AgentMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.snapshot[id]
	return m, ok
}

// computeMetrics derives per-agent aggregates from a window of events.
// Only terminal outcome events count toward the success rate; recent
// failures count error events in the last hour.
func computeMetrics(events []Event, now time.Time) map[agent.ID]AgentMetrics {
	type acc struct {
		successes      int64
		failures       int64
		latencySum     time.Duration
		latencyCount   int64
		recentFailures int64
	}

	accs := make(map[agent.ID]*acc)
	recentCutoff := now.Add(-time.Hour)

	for _, e := range events {
		if e.Agent == "" {
			continue
		}
		if e.Type != EventResponseGenerated && e.Type != EventError {
			continue
		}

		a, ok := accs[e.Agent]
		if !ok {
			a = &acc{}
			accs[e.Agent] = a
		}

		if e.Type == EventResponseGenerated && e.Success {
			a.successes++
		} else {
			a.failures++
			if e.Timestamp.After(recentCutoff) {
				a.recentFailures++
			}
		}
		if e.Latency > 0 {
			a.latencySum += e.Latency
			a.latencyCount++
		}
	}

	result := make(map[agent.ID]AgentMetrics, len(accs))
	for id, a := range accs {
		total := a.successes + a.failures
		m := AgentMetrics{
			Agent:          id,
			TotalRequests:  total,
			RecentFailures: a.recentFailures,
			LastUpdated:    now,
		}
		if total > 0 {
			m.SuccessRate = float64(a.successes) / float64(total)
		}
		if a.latencyCount > 0 {
			m.AvgLatency = a.latencySum / time.Duration(a.latencyCount)
		}
		result[id] = m
	}
	return result
}
