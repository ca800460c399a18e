package speculative

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/agent"
)

// mockCompleter serves scripted responses per agent, with optional delay.
type mockCompleter struct {
	responses map[agent.ID]string
	errs      map[agent.ID]error
	delays    map[agent.ID]time.Duration
}

func (m *mockCompleter) Complete(ctx context.Context, ag agent.ID, _ string) (string, error) {
	if d, ok := m.delays[ag]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := m.errs[ag]; ok {
		return "", err
	}
	return m.responses[ag], nil
}

const weatherQuery = "what is the weather forecast today"

const strongWeatherA = "The weather forecast shows sunny conditions today with gentle winds and " +
	"mild temperatures across the region, so expect pleasant weather throughout the afternoon " +
	"and evening hours today."

const strongWeatherB = "The weather forecast shows sunny conditions today with gentle winds and " +
	"mild temperatures across the region, so expect pleasant weather throughout the morning " +
	"and evening hours today."

func TestExecutor_WinnerAndCrossValidation(t *testing.T) {
	completer := &mockCompleter{
		responses: map[agent.ID]string{
			agent.Weather: strongWeatherA,
			agent.General: strongWeatherB,
		},
		delays: map[agent.ID]time.Duration{agent.Researcher: time.Second},
	}
	e := NewExecutor(completer, nil, Config{Timeout: 100 * time.Millisecond})

	outcome := e.Execute(context.Background(), weatherQuery, []Candidate{
		{Agent: agent.Weather, Confidence: 0.7},
		{Agent: agent.General, Confidence: 0.6},
		{Agent: agent.Researcher, Confidence: 0.5}, // times out
	})

	require.Len(t, outcome.Results, 3)
	assert.Equal(t, agent.Weather, outcome.Winner.Agent)
	assert.True(t, outcome.Winner.Success)
	assert.GreaterOrEqual(t, outcome.Winner.Quality, 0.7)
	assert.True(t, outcome.CrossValidated, "two near-identical answers must cross-validate")
	assert.Greater(t, outcome.Consensus, 0.5)

	var timedOut *Result
	for i := range outcome.Results {
		if outcome.Results[i].Agent == agent.Researcher {
			timedOut = &outcome.Results[i]
		}
	}
	require.NotNil(t, timedOut)
	assert.False(t, timedOut.Success)
	assert.Zero(t, timedOut.Quality)
	assert.Error(t, timedOut.Err)
}

func TestExecutor_NeverEmptyWhenAllFail(t *testing.T) {
	completer := &mockCompleter{
		errs: map[agent.ID]error{
			agent.Weather: errors.New("provider down"),
			agent.General: errors.New("provider down"),
		},
	}
	e := NewExecutor(completer, nil, Config{Timeout: 100 * time.Millisecond})

	outcome := e.Execute(context.Background(), weatherQuery, []Candidate{
		{Agent: agent.Weather, Confidence: 0.7},
		{Agent: agent.General, Confidence: 0.6},
	})

	require.Len(t, outcome.Results, 2)
	assert.False(t, outcome.Winner.Success)
	assert.False(t, outcome.CrossValidated)
}

func TestExecutor_BelowThresholdReturnsLeastBad(t *testing.T) {
	completer := &mockCompleter{
		responses: map[agent.ID]string{
			agent.Weather: "Maybe sunny",
			agent.General: "No idea",
		},
	}
	e := NewExecutor(completer, nil, Config{Timeout: 100 * time.Millisecond})

	outcome := e.Execute(context.Background(), weatherQuery, []Candidate{
		{Agent: agent.Weather, Confidence: 0.7},
		{Agent: agent.General, Confidence: 0.6},
	})

	assert.True(t, outcome.Winner.Success)
	assert.Less(t, outcome.Winner.Quality, 0.7)
	assert.False(t, outcome.CrossValidated)
	assert.NotEmpty(t, outcome.Winner.Response)
}

func TestExecutor_SelectCandidates(t *testing.T) {
	e := NewExecutor(&mockCompleter{}, nil, Config{})

	selected := e.selectCandidates([]Candidate{
		{Agent: agent.General, Confidence: 0.4},
		{Agent: agent.Coder, Confidence: 0.9},
		{Agent: agent.Weather, Confidence: 0.2}, // below MinConfidenceToRun
		{Agent: agent.Home, Confidence: 0.6},
		{Agent: agent.Music, Confidence: 0.5},
	})

	require.Len(t, selected, 3)
	assert.Equal(t, agent.Coder, selected[0].Agent)
	assert.Equal(t, agent.Home, selected[1].Agent)
	assert.Equal(t, agent.Music, selected[2].Agent)
}

func TestExecutor_AllBelowMinConfidenceStillRuns(t *testing.T) {
	completer := &mockCompleter{
		responses: map[agent.ID]string{agent.General: strongWeatherA},
	}
	e := NewExecutor(completer, nil, Config{Timeout: 100 * time.Millisecond})

	outcome := e.Execute(context.Background(), weatherQuery, []Candidate{
		{Agent: agent.General, Confidence: 0.1},
	})
	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Winner.Success)
}

func TestExecutor_NoCandidates(t *testing.T) {
	e := NewExecutor(&mockCompleter{}, nil, Config{})
	outcome := e.Execute(context.Background(), weatherQuery, nil)
	assert.Empty(t, outcome.Results)
}

func TestExecutor_WinnerScorePrefersFasterOnEqualQuality(t *testing.T) {
	e := NewExecutor(&mockCompleter{}, nil, Config{Timeout: time.Second})

	fast := Result{Quality: 0.8, Latency: 100 * time.Millisecond, Confidence: 0.5}
	slow := Result{Quality: 0.8, Latency: 900 * time.Millisecond, Confidence: 0.5}
	assert.Greater(t, e.winnerScore(fast), e.winnerScore(slow))
}

func TestExecutor_HigherQualityBeatsComparableLatency(t *testing.T) {
	e := NewExecutor(&mockCompleter{}, nil, Config{Timeout: 15 * time.Second})

	better := Result{Quality: 0.8, Latency: 400 * time.Millisecond, Confidence: 0.5}
	worse := Result{Quality: 0.75, Latency: 350 * time.Millisecond, Confidence: 0.5}
	assert.Greater(t, e.winnerScore(better), e.winnerScore(worse))
}

func TestConsensus_SingleResponseIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Consensus([]string{"anything at all"}))
	assert.Equal(t, 1.0, Consensus(nil))
}

func TestConsensus_OrderIndependent(t *testing.T) {
	a := "the weather forecast shows sunny conditions today"
	b := "sunny conditions appear in the weather forecast today"
	c := "completely unrelated words about cooking dinner recipes"

	assert.InDelta(t, Consensus([]string{a, b, c}), Consensus([]string{c, a, b}), 1e-9)
	assert.InDelta(t, Consensus([]string{a, b}), Consensus([]string{b, a}), 1e-9)
}

func TestConsensus_IdenticalResponses(t *testing.T) {
	r := "the weather forecast shows sunny conditions today"
	assert.InDelta(t, 1.0, Consensus([]string{r, r}), 1e-9)
}

func TestConsensus_DisjointResponses(t *testing.T) {
	c := Consensus([]string{
		"alpha bravo charlie deltas echoes",
		"foxtrot golfing hotels indias juliet",
	})
	assert.Equal(t, 0.0, c)
}
