// Package agent provides the capability registry: the closed set of agent
// identifiers and their immutable descriptors, loaded once at startup.
package agent

import (
	"fmt"
	"sort"
	"strings"
)

// ID identifies a specialist agent. The set of valid identifiers is closed;
// every ID listed in All must have a descriptor registered at startup.
type ID string

const (
	// General is the default conversational agent and the routing fallback.
	General ID = "general"

	// Coder handles programming, debugging and code review requests.
	Coder ID = "coder"

	// Researcher handles open-ended research and factual lookups.
	Researcher ID = "researcher"

	// Home controls smart-home devices.
	Home ID = "home"

	// Weather answers weather and forecast questions.
	Weather ID = "weather"

	// Calendar manages schedules, events and reminders.
	Calendar ID = "calendar"

	// Finance handles stocks, budgets and market questions.
	Finance ID = "finance"

	// Music controls playback and playlist management.
	Music ID = "music"
)

// All returns every valid agent ID in enumeration order.
// The order is significant: heuristic routing ties keep the first enumerated.
func All() []ID {
	return []ID{General, Coder, Researcher, Home, Weather, Calendar, Finance, Music}
}

// Valid reports whether id is a member of the closed identifier set.
func (id ID) Valid() bool {
	for _, a := range All() {
		if a == id {
			return true
		}
	}
	return false
}

// Parse converts a free-form string to an ID.
// Returns General and false if the string is not a valid identifier.
func Parse(s string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if id.Valid() {
		return id, true
	}
	return General, false
}

// Descriptor describes one agent's capabilities for routing.
// Descriptors are immutable after registry construction.
type Descriptor struct {
	ID           ID       `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Keywords     []string `json:"keywords"` // single- and multi-word phrases
	Tools        []string `json:"tools"`
}

// Registry is the static table of agent descriptors.
// It is built once at startup and read-only afterwards.
type Registry struct {
	descriptors map[ID]*Descriptor
	order       []ID
}

// NewRegistry builds a registry from descriptors and validates completeness:
// every ID in All must have exactly one descriptor, and no descriptor may use
// an identifier outside the closed set.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[ID]*Descriptor, len(descriptors)),
	}

	for i := range descriptors {
		d := descriptors[i]
		if !d.ID.Valid() {
			return nil, fmt.Errorf("descriptor %q: unknown agent id", d.ID)
		}
		if _, dup := r.descriptors[d.ID]; dup {
			return nil, fmt.Errorf("descriptor %q: duplicate agent id", d.ID)
		}
		r.descriptors[d.ID] = &d
	}

	var missing []string
	for _, id := range All() {
		if _, ok := r.descriptors[id]; !ok {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("registry incomplete: missing descriptors for %s", strings.Join(missing, ", "))
	}

	r.order = All()
	return r, nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id ID) (*Descriptor, bool) {
	d, ok := r.descriptors[id]
	return d, ok
}

// All returns descriptors in enumeration order.
func (r *Registry) All() []*Descriptor {
	result := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.descriptors[id])
	}
	return result
}

// Default returns the fallback agent ID.
func (r *Registry) Default() ID {
	return General
}

// DefaultRegistry returns the built-in descriptor table.
// Panics on an invalid table; the table is static so this is a programmer error.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultDescriptors())
	if err != nil {
		panic("agent: invalid built-in descriptor table: " + err.Error())
	}
	return r
}

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:           General,
			Name:         "General Assistant",
			Description:  "Everyday conversation, summaries and anything no specialist covers.",
			Capabilities: []string{"conversation", "summarization", "general knowledge"},
			Keywords:     []string{"hello", "help", "explain", "summarize", "what is", "tell me"},
			Tools:        []string{"web_search"},
		},
		{
			ID:           Coder,
			Name:         "Code Assistant",
			Description:  "Programming help: writing, debugging and reviewing code.",
			Capabilities: []string{"programming", "debugging", "code review"},
			Keywords: []string{
				"code", "bug", "debug", "function", "compile", "error message",
				"refactor", "pull request", "unit test", "stack trace", "golang", "python",
			},
			Tools: []string{"run_code", "search_github", "read_repo"},
		},
		{
			ID:           Researcher,
			Name:         "Research Assistant",
			Description:  "In-depth research, fact finding and source comparison.",
			Capabilities: []string{"research", "fact checking", "analysis"},
			Keywords: []string{
				"research", "find out", "compare", "sources", "study",
				"analyze", "in depth", "paper", "evidence",
			},
			Tools: []string{"web_search", "fetch_page", "summarize_document"},
		},
		{
			ID:           Home,
			Name:         "Smart Home Controller",
			Description:  "Controls lights, thermostats, locks and other smart devices.",
			Capabilities: []string{"device control", "automation", "scenes"},
			Keywords: []string{
				"turn on", "turn off", "light", "thermostat",
				"lock", "dim", "scene", "device",
			},
			Tools: []string{"control_device", "get_device_state", "run_scene"},
		},
		{
			ID:           Weather,
			Name:         "Weather Agent",
			Description:  "Current conditions and forecasts.",
			Capabilities: []string{"weather", "forecasts"},
			Keywords: []string{
				"weather", "forecast", "rain", "snow", "sunny", "umbrella",
				"how hot", "how cold", "wind",
			},
			Tools: []string{"get_weather", "get_forecast"},
		},
		{
			ID:           Calendar,
			Name:         "Calendar Agent",
			Description:  "Schedules, events and reminders.",
			Capabilities: []string{"scheduling", "events", "reminders"},
			Keywords: []string{
				"schedule", "meeting", "appointment", "remind me", "calendar",
				"tomorrow at", "book", "reschedule", "cancel meeting",
			},
			Tools: []string{"create_event", "list_events", "update_event"},
		},
		{
			ID:           Finance,
			Name:         "Finance Agent",
			Description:  "Stocks, markets, budgets and spending.",
			Capabilities: []string{"markets", "budgeting", "portfolio"},
			Keywords: []string{
				"stock", "price", "market", "portfolio", "budget", "spend",
				"invest", "crypto", "ticker", "exchange rate",
			},
			Tools: []string{"get_quote", "get_portfolio", "get_spending"},
		},
		{
			ID:           Music,
			Name:         "Music Agent",
			Description:  "Playback control and playlist management.",
			Capabilities: []string{"playback", "playlists", "discovery"},
			Keywords: []string{
				"play", "pause", "skip", "song", "playlist", "album",
				"volume", "spotify", "artist",
			},
			Tools: []string{"play_track", "control_playback", "manage_playlist"},
		},
	}
}
