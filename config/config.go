// Package config loads the application configuration from file and
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hrygo/switchboard/agent"
	"github.com/hrygo/switchboard/llm"
)

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ModelEntry is one chain entry as declared in configuration.
type ModelEntry struct {
	Model    string `mapstructure:"model"`
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// RoutingConfig configures the unified router.
type RoutingConfig struct {
	ForceHeuristic       bool          `mapstructure:"force_heuristic"`
	LLMTimeout           time.Duration `mapstructure:"llm_timeout"`
	MinLLMConfidence     float64       `mapstructure:"min_llm_confidence"`
	MaxLLMRoutingLatency time.Duration `mapstructure:"max_llm_routing_latency"`
	Classifiers          []ModelEntry  `mapstructure:"classifiers"`

	// Embedder enables the semantic fast path when set together with a
	// postgres store.
	Embedder ModelEntry `mapstructure:"embedder"`
}

// SpeculativeConfig configures the parallel alternate path.
type SpeculativeConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallelAgents  int           `mapstructure:"max_parallel_agents"`
	MinConfidenceToRun float64       `mapstructure:"min_confidence_to_run"`
	Timeout            time.Duration `mapstructure:"timeout"`
	QualityThreshold   float64       `mapstructure:"quality_threshold"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Capacity   int     `mapstructure:"capacity"`
	MinQuality float64 `mapstructure:"min_quality"`
	PolicyExpr string  `mapstructure:"policy_expr"`
	UserScoped bool    `mapstructure:"user_scoped"`
}

// StoreConfig configures persistence. Empty values select the in-memory
// implementations.
type StoreConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Config is the application configuration.
type Config struct {
	Server      ServerConfig            `mapstructure:"server"`
	Routing     RoutingConfig           `mapstructure:"routing"`
	Speculative SpeculativeConfig       `mapstructure:"speculative"`
	Cache       CacheConfig             `mapstructure:"cache"`
	Store       StoreConfig             `mapstructure:"store"`
	Chains      map[string][]ModelEntry `mapstructure:"chains"`
	Default     []ModelEntry            `mapstructure:"default_chain"`
}

// Load reads configuration from the given file (optional) and the
// SWITCHBOARD_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("switchboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("routing.llm_timeout", time.Second)
	v.SetDefault("routing.min_llm_confidence", 0.7)
	v.SetDefault("routing.max_llm_routing_latency", time.Second)
	v.SetDefault("speculative.max_parallel_agents", 3)
	v.SetDefault("speculative.min_confidence_to_run", 0.3)
	v.SetDefault("speculative.timeout", 15*time.Second)
	v.SetDefault("speculative.quality_threshold", 0.7)
	v.SetDefault("cache.capacity", 2000)
	v.SetDefault("cache.min_quality", 0.7)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// AgentChains converts the configured chains to the typed per-agent map,
// rejecting unknown agent identifiers. Agents without an entry fall back to
// the default chain.
func (c *Config) AgentChains() (map[agent.ID]llm.Chain, error) {
	chains := make(map[agent.ID]llm.Chain, len(c.Chains)+1)
	for name, entries := range c.Chains {
		id, ok := agent.Parse(name)
		if !ok {
			return nil, fmt.Errorf("chain for unknown agent %q", name)
		}
		chains[id] = toChain(entries)
	}
	if len(c.Default) > 0 {
		if _, ok := chains[agent.General]; !ok {
			chains[agent.General] = toChain(c.Default)
		}
	}
	return chains, nil
}

// ClassifierModels converts the configured classifier list.
func (c *Config) ClassifierModels() []llm.ModelConfig {
	return toChain(c.Routing.Classifiers)
}

func toChain(entries []ModelEntry) llm.Chain {
	chain := make(llm.Chain, len(entries))
	for i, e := range entries {
		chain[i] = llm.ModelConfig{
			Model:    e.Model,
			Provider: e.Provider,
			APIKey:   e.APIKey,
			BaseURL:  e.BaseURL,
		}
	}
	return chain
}
