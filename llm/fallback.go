package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/switchboard/errclass"
)

// ModelConfig identifies one backend model for an agent.
type ModelConfig struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	APIKey   string `json:"-"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Chain is an ordered, non-empty list of backend models for one agent,
// highest priority first. Read-only per request.
type Chain []ModelConfig

// UsedModel reports which chain entry actually served a request.
// Index 0 is the common case; a higher index means a fallback occurred.
type UsedModel struct {
	Index  int
	Config ModelConfig
}

// WorkFunc is the unit of work executed against one chain entry.
// The executor constructs a fresh client per attempt.
type WorkFunc func(ctx context.Context, client *openai.Client, model string) (string, error)

// ClientFactory builds a provider client for a model configuration.
type ClientFactory func(ModelConfig) *openai.Client

// FallbackConfig configures the fallback executor.
type FallbackConfig struct {
	// ClientFactory overrides client construction (default: NewClient).
	ClientFactory ClientFactory

	// RetryDelay is the pause before advancing the chain after a rate
	// limit (default: 500ms).
	RetryDelay time.Duration

	// RequestsPerSecond throttles outbound provider calls across the
	// executor. Zero disables throttling.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// FallbackExecutor executes a completion against a prioritized model chain,
// advancing to the next backend on rate-limit classification.
type FallbackExecutor struct {
	clientFactory ClientFactory
	retryDelay    time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewFallbackExecutor creates a fallback executor with defaults applied.
func NewFallbackExecutor(cfg FallbackConfig) *FallbackExecutor {
	factory := cfg.ClientFactory
	if factory == nil {
		factory = NewClient
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &FallbackExecutor{
		clientFactory: factory,
		retryDelay:    delay,
		limiter:       limiter,
		logger:        logger,
	}
}

// Execute runs work against the chain in priority order.
//
// A rate-limit classified failure advances to the next entry after a short
// pause. Any other failure aborts immediately with a provider-qualified
// error. Exhausting the chain on rate limits yields an error naming every
// attempted provider/model and the last underlying message.
func (e *FallbackExecutor) Execute(ctx context.Context, chain Chain, work WorkFunc) (string, UsedModel, error) {
	if len(chain) == 0 {
		// Callers are expected to fail fast upstream; guard anyway.
		return "", UsedModel{}, errclass.New(errclass.Validation, "model chain is empty")
	}

	var attempted []string
	var lastErr error

	for i, mc := range chain {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return "", UsedModel{}, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		client := e.clientFactory(mc)
		result, err := work(ctx, client, mc.Model)
		if err == nil {
			used := UsedModel{Index: i, Config: mc}
			if i > 0 {
				e.logger.Warn("fallback model served request",
					"provider", mc.Provider,
					"model", mc.Model,
					"chain_index", i)
			}
			return result, used, nil
		}

		attempted = append(attempted, mc.Provider+"/"+mc.Model)

		if !errclass.IsRateLimited(err) {
			// Non-rate-limit errors do not advance the chain.
			return "", UsedModel{}, fmt.Errorf("provider %s model %s: %w", mc.Provider, mc.Model, err)
		}

		lastErr = err
		e.logger.Warn("model rate limited, advancing fallback chain",
			"provider", mc.Provider,
			"model", mc.Model,
			"chain_index", i,
			"remaining", len(chain)-i-1,
			"error", err)

		if i < len(chain)-1 {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return "", UsedModel{}, ctx.Err()
			}
		}
	}

	return "", UsedModel{}, errclass.Wrap(errclass.RateLimited,
		fmt.Errorf("all models rate limited (attempted %s): %v",
			strings.Join(attempted, ", "), lastErr))
}
