// Package respcache caches full responses keyed by normalized query and
// agent. Writes are gated twice: a cacheability policy excludes personalized
// and time-sensitive queries, and a minimum quality score keeps weak answers
// out. A hit short-circuits the whole routing and execution pipeline.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/cache"
)

// Entry is one cached response. Entries are overwritten wholesale, never
// updated in place.
type Entry struct {
	Response  string
	Agent     agent.ID
	Quality   float64
	CreatedAt time.Time
}

// Config configures the response cache.
type Config struct {
	// Capacity bounds the entry count (default: 2000).
	Capacity int

	// MinQuality is the score floor for storing a response (default: 0.7).
	MinQuality float64

	// DefaultTTL applies to agents absent from the TTL table
	// (default: 15m).
	DefaultTTL time.Duration

	// TTLs overrides the per-agent TTL table. A zero TTL disables caching
	// for that agent.
	TTLs map[agent.ID]time.Duration

	// PolicyExpr overrides the cacheability predicate.
	PolicyExpr string

	// UserScoped keys entries per user when true.
	UserScoped bool

	Logger *slog.Logger
}

// defaultTTLs tiers expiry by how fast each agent's answers go stale.
// Weather is disabled outright; finance and calendar are short-lived;
// stable knowledge domains keep entries for an hour.
var defaultTTLs = map[agent.ID]time.Duration{
	agent.Weather:    0,
	agent.Finance:    2 * time.Minute,
	agent.Calendar:   5 * time.Minute,
	agent.Home:       0,
	agent.Music:      5 * time.Minute,
	agent.General:    time.Hour,
	agent.Coder:      time.Hour,
	agent.Researcher: 30 * time.Minute,
}

// Cache is the response cache.
type Cache struct {
	entries    *cache.LRU[string, Entry]
	policy     *Policy
	minQuality float64
	defaultTTL time.Duration
	ttls       map[agent.ID]time.Duration
	userScoped bool
	logger     *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a response cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 2000
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = 0.7
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	policy, err := NewPolicy(cfg.PolicyExpr)
	if err != nil {
		return nil, err
	}

	ttls := make(map[agent.ID]time.Duration, len(defaultTTLs)+len(cfg.TTLs))
	for id, d := range defaultTTLs {
		ttls[id] = d
	}
	for id, d := range cfg.TTLs {
		ttls[id] = d
	}

	return &Cache{
		entries:    cache.New[string, Entry](cfg.Capacity, cfg.DefaultTTL),
		policy:     policy,
		minQuality: cfg.MinQuality,
		defaultTTL: cfg.DefaultTTL,
		ttls:       ttls,
		userScoped: cfg.UserScoped,
		logger:     cfg.Logger,
	}, nil
}

// Get returns an unexpired entry for the query, if present.
func (c *Cache) Get(message string, ag agent.ID, userID string) (Entry, bool) {
	e, ok := c.entries.Get(c.key(message, ag, userID))
	if ok {
		c.hits.Add(1)
		return e, true
	}
	c.misses.Add(1)
	return Entry{}, false
}

// Set stores a response when it clears both gates: the cacheability policy
// and the quality floor. Returns whether the entry was stored.
func (c *Cache) Set(message string, ag agent.ID, userID, response string, quality float64) bool {
	if quality < c.minQuality {
		return false
	}

	personalized, timeSensitive := Traits(message, ag)
	if !c.policy.Cacheable(message, ag, personalized, timeSensitive) {
		c.logger.Debug("response not cacheable",
			"agent", ag, "personalized", personalized, "time_sensitive", timeSensitive)
		return false
	}

	ttl := c.TTL(ag)
	if ttl <= 0 {
		return false
	}

	c.entries.Set(c.key(message, ag, userID), Entry{
		Response:  response,
		Agent:     ag,
		Quality:   quality,
		CreatedAt: time.Now(),
	}, ttl)
	return true
}

// Lookup finds an entry for the query under any agent, so a hit can
// short-circuit the pipeline before routing runs. The agent set is closed
// and small, so this is a bounded probe.
func (c *Cache) Lookup(message, userID string) (Entry, bool) {
	for _, ag := range agent.All() {
		if e, ok := c.entries.Get(c.key(message, ag, userID)); ok {
			c.hits.Add(1)
			return e, true
		}
	}
	c.misses.Add(1)
	return Entry{}, false
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(message string, ag agent.ID, userID string) bool {
	return c.entries.Remove(c.key(message, ag, userID))
}

// TTL returns the expiry for an agent's responses; zero means disabled.
func (c *Cache) TTL(ag agent.ID) time.Duration {
	if ttl, ok := c.ttls[ag]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Stats reports hit/miss counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Stats returns a point-in-time counter snapshot.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses, Size: c.entries.Size()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// key hashes the normalized message, agent and optional user scope.
func (c *Cache) key(message string, ag agent.ID, userID string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(message), " "))
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(ag))
	if c.userScoped && userID != "" {
		h.Write([]byte{0})
		h.Write([]byte(userID))
	}
	return hex.EncodeToString(h.Sum(nil))
}
