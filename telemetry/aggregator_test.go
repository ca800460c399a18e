package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/agent"
)

func outcomeEvent(ag agent.ID, success bool, latency time.Duration, age time.Duration) Event {
	t := EventResponseGenerated
	if !success {
		t = EventError
	}
	e := NewEvent(t)
	e.Agent = ag
	e.Success = success
	e.Latency = latency
	e.Timestamp = time.Now().Add(-age)
	return e
}

func TestComputeMetrics_SuccessRateAndLatency(t *testing.T) {
	now := time.Now()
	events := []Event{
		outcomeEvent(agent.Coder, true, 100*time.Millisecond, time.Minute),
		outcomeEvent(agent.Coder, true, 300*time.Millisecond, time.Minute),
		outcomeEvent(agent.Coder, false, 0, time.Minute),
		outcomeEvent(agent.Weather, true, 50*time.Millisecond, time.Minute),
	}

	metrics := computeMetrics(events, now)

	coder := metrics[agent.Coder]
	assert.InDelta(t, 2.0/3.0, coder.SuccessRate, 1e-9)
	assert.Equal(t, int64(3), coder.TotalRequests)
	assert.Equal(t, 200*time.Millisecond, coder.AvgLatency)
	assert.Equal(t, int64(1), coder.RecentFailures)

	weather := metrics[agent.Weather]
	assert.Equal(t, 1.0, weather.SuccessRate)
	assert.Equal(t, int64(1), weather.TotalRequests)
}

func TestComputeMetrics_RecentFailuresWindow(t *testing.T) {
	events := []Event{
		outcomeEvent(agent.Home, false, 0, 2*time.Hour), // outside recent window
		outcomeEvent(agent.Home, false, 0, 10*time.Minute),
	}

	metrics := computeMetrics(events, time.Now())
	home := metrics[agent.Home]
	assert.Equal(t, int64(2), home.TotalRequests)
	assert.Equal(t, int64(1), home.RecentFailures)
}

func TestComputeMetrics_IgnoresNonOutcomeEvents(t *testing.T) {
	e := NewEvent(EventRoutingDecision)
	e.Agent = agent.General

	metrics := computeMetrics([]Event{e}, time.Now())
	assert.Empty(t, metrics)
}

func TestAggregator_RefreshAndSnapshot(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.InsertEvents(context.Background(), []Event{
		outcomeEvent(agent.Finance, true, 80*time.Millisecond, time.Minute),
		outcomeEvent(agent.Finance, false, 0, time.Minute),
	}))

	a := NewAggregator(sink, AggregatorConfig{Window: 24 * time.Hour, RefreshInterval: time.Hour})
	a.Refresh(context.Background())

	snapshot := a.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, agent.Finance, snapshot[0].Agent)
	assert.InDelta(t, 0.5, snapshot[0].SuccessRate, 1e-9)

	m, ok := a.ForAgent(agent.Finance)
	require.True(t, ok)
	assert.Equal(t, int64(2), m.TotalRequests)

	_, ok = a.ForAgent(agent.Music)
	assert.False(t, ok)
}

func TestAggregator_WindowExcludesOldEvents(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.InsertEvents(context.Background(), []Event{
		outcomeEvent(agent.Music, false, 0, 48*time.Hour),
	}))

	a := NewAggregator(sink, AggregatorConfig{Window: 24 * time.Hour})
	a.Refresh(context.Background())
	assert.Empty(t, a.Snapshot())
}

func TestAggregator_SnapshotReplacedWholesale(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.InsertEvents(context.Background(), []Event{
		outcomeEvent(agent.Coder, true, time.Millisecond, 30*time.Hour),
		outcomeEvent(agent.Home, true, time.Millisecond, time.Minute),
	}))

	a := NewAggregator(sink, AggregatorConfig{Window: 24 * time.Hour})
	a.Refresh(context.Background())

	// Coder's only event is outside the window, so it must not linger
	// from any previous snapshot state.
	snapshot := a.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, agent.Home, snapshot[0].Agent)
}
