package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/switchboard/agent"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	exemplars []Exemplar
	err       error
}

func (f *fakeSearcher) Nearest(_ context.Context, _ []float32, _ int) ([]Exemplar, error) {
	return f.exemplars, f.err
}

func TestVectorMatcher_MatchAboveFloor(t *testing.T) {
	m := NewVectorMatcher(&fakeEmbedder{}, &fakeSearcher{exemplars: []Exemplar{
		{Agent: agent.Weather, Query: "will it rain today", Similarity: 0.91},
		{Agent: agent.General, Query: "hello", Similarity: 0.40},
	}}, VectorMatcherConfig{})

	d, ok := m.Match(context.Background(), "is it going to rain?")
	assert.True(t, ok)
	assert.Equal(t, agent.Weather, d.Agent)
	assert.InDelta(t, 0.91, d.Confidence, 1e-9)
	assert.Equal(t, SourceHeuristic, d.Source)
}

func TestVectorMatcher_BelowFloorNoMatch(t *testing.T) {
	m := NewVectorMatcher(&fakeEmbedder{}, &fakeSearcher{exemplars: []Exemplar{
		{Agent: agent.Weather, Query: "will it rain", Similarity: 0.6},
	}}, VectorMatcherConfig{})

	_, ok := m.Match(context.Background(), "unrelated question")
	assert.False(t, ok)
}

func TestVectorMatcher_ConfidenceCapped(t *testing.T) {
	m := NewVectorMatcher(&fakeEmbedder{}, &fakeSearcher{exemplars: []Exemplar{
		{Agent: agent.Coder, Query: "fix this bug", Similarity: 0.99},
	}}, VectorMatcherConfig{})

	d, ok := m.Match(context.Background(), "fix this bug please")
	assert.True(t, ok)
	assert.Equal(t, 0.95, d.Confidence)
}

func TestVectorMatcher_ErrorYieldsNoMatch(t *testing.T) {
	m := NewVectorMatcher(&fakeEmbedder{err: errors.New("embed down")}, &fakeSearcher{}, VectorMatcherConfig{})

	_, ok := m.Match(context.Background(), "anything")
	assert.False(t, ok)
}

func TestVectorMatcher_BreakerOpensAfterFailures(t *testing.T) {
	m := NewVectorMatcher(&fakeEmbedder{err: errors.New("embed down")}, &fakeSearcher{}, VectorMatcherConfig{})

	for i := 0; i < 5; i++ {
		_, ok := m.Match(context.Background(), "anything")
		assert.False(t, ok)
	}
	assert.NotPanics(t, func() { m.Match(context.Background(), "still fine") })
}

func TestVectorMatcher_NilDependenciesDisabled(t *testing.T) {
	var m *VectorMatcher
	assert.False(t, m.Available())

	m = NewVectorMatcher(nil, nil, VectorMatcherConfig{})
	_, ok := m.Match(context.Background(), "anything")
	assert.False(t, ok)
}
