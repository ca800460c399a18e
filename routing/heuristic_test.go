package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/switchboard/agent"
)

func TestHeuristicRouter_NoMatchReturnsDefault(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	for _, message := range []string{"asdf qwerty zxcv", "", "???"} {
		d := h.Route(message)
		assert.Equal(t, agent.General, d.Agent, "message %q", message)
		assert.Equal(t, 0.5, d.Confidence)
		assert.Equal(t, SourceHeuristic, d.Source)
		assert.Empty(t, d.ToolPlan)
	}
}

func TestHeuristicRouter_HomeLights(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	d := h.Route("Turn on the living room lights")
	assert.Equal(t, agent.Home, d.Agent)
	assert.GreaterOrEqual(t, d.Confidence, 0.65)
	assert.LessOrEqual(t, d.Confidence, 0.8)
	assert.Contains(t, d.ToolPlan, "control_device")
	assert.Equal(t, agent.General, d.FallbackAgent)
	assert.Equal(t, SourceHeuristic, d.Source)
}

func TestHeuristicRouter_PhraseOutweighsWord(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	// "remind me" is a calendar phrase worth 3 points; a single music word
	// match must not beat it.
	d := h.Route("remind me to listen to that song")
	assert.Equal(t, agent.Calendar, d.Agent)
}

func TestHeuristicRouter_TieKeepsFirstEnumerated(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	// One single-word hit each for researcher and finance; researcher is
	// enumerated first.
	d := h.Route("research the stock")
	assert.Equal(t, agent.Researcher, d.Agent)
}

func TestHeuristicRouter_ConfidenceAlwaysInRange(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	messages := []string{
		"",
		"turn on turn off light thermostat lock dim scene device",
		"code bug debug function compile refactor golang python unit test stack trace",
		"what is the weather forecast will it rain or snow how hot wind umbrella sunny",
		"play pause skip song playlist album volume spotify artist",
	}
	for _, m := range messages {
		d := h.Route(m)
		require.GreaterOrEqual(t, d.Confidence, 0.0, "message %q", m)
		require.LessOrEqual(t, d.Confidence, 1.0, "message %q", m)
	}
}

func TestHeuristicRouter_ToolPlanCapped(t *testing.T) {
	h := NewHeuristicRouter(agent.DefaultRegistry())

	d := h.Route("debug this code bug")
	assert.Equal(t, agent.Coder, d.Agent)
	assert.LessOrEqual(t, len(d.ToolPlan), maxToolPlan)
}

func TestScoreKeywords(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		keywords []string
		score    int
		matched  int
	}{
		{"phrase scores three", "please turn on the fan", []string{"turn on"}, 3, 1},
		{"word scores one", "the light is off", []string{"light"}, 1, 1},
		{"substring counts", "debugging session", []string{"bug"}, 1, 1},
		{"no hits", "hello there", []string{"thermostat"}, 0, 0},
		{"mixed", "turn on the light", []string{"turn on", "light", "lock"}, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, matched := scoreKeywords(tt.message, tt.keywords)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.matched, matched)
		})
	}
}
