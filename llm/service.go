// Package llm provides the completion service over OpenAI-compatible
// providers and the model fallback executor used for rate-limit resilience.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ToolDescriptor represents a function/tool exposed to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  *JSONSchema
}

// Service is the single-model completion surface. The routing classifier
// uses Chat, the semantic matcher uses Embed; agent turns go through the
// fallback executor instead, which drives raw clients per chain entry.
type Service interface {
	// Chat performs a synchronous completion.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Embed computes an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config represents completion service configuration.
type Config struct {
	Provider    string // openai, deepseek, openrouter, ollama, ...
	Model       string
	APIKey      string
	BaseURL     string
	EmbedModel  string  // embedding model (default: text-embedding-3-small)
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 120)
}

type service struct {
	client      *openai.Client
	model       string
	provider    string
	embedModel  string
	maxTokens   int
	temperature float32
	timeout     int
}

// NewService creates a completion service for one provider/model pair.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}

	client := NewClient(ModelConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}

	return &service{
		client:      client,
		model:       cfg.Model,
		provider:    cfg.Provider,
		embedModel:  embedModel,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

// NewClient builds an OpenAI-compatible client for a model configuration.
// Each call returns a fresh client: the fallback executor relies on this to
// avoid shared mutable client state across chain attempts.
func NewClient(cfg ModelConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return openai.NewClientWithConfig(clientConfig)
}

// defaultBaseURL returns the well-known endpoint for a provider,
// or empty to keep the client default.
func defaultBaseURL(provider string) string {
	switch provider {
	case "deepseek":
		return "https://api.deepseek.com"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "siliconflow":
		return "https://api.siliconflow.cn/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm: chat request failed", "provider", s.provider, "model", s.model, "error", err)
		return "", fmt.Errorf("llm chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model %s", s.model)
	}

	slog.Debug("llm: chat response",
		"model", s.model,
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())

	return resp.Choices[0].Message.Content, nil
}

func (s *service) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("llm embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case "system":
			msg.Role = openai.ChatMessageRoleSystem
		case "assistant":
			msg.Role = openai.ChatMessageRoleAssistant
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		out[i] = msg
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt builds a system-role message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
