// Package llmclient is the engine's planner/sub-call LLM boundary: one
// small synchronous Complete call, behind an interface, with concrete
// Anthropic and OpenAI adapters. The engine's query loop calls Complete
// once per iteration and blocks for the full response — unlike the
// streaming providers elsewhere in the host codebase, the planner loop
// needs the whole message before it can look for FINAL/FINAL_VAR markers
// or extract repl code blocks, so streaming buys nothing here.
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role identifies the speaker of one Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation sent to Complete.
type Message struct {
	Role    Role
	Content string
}

// Request is one planner or sub-call completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// TokenUsage accumulates input/output token counts across a query's
// planner calls and sub-calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into the receiver in place.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns the combined input and output token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the result of one Complete call.
type Response struct {
	Text  string
	Usage TokenUsage
}

// Client is the engine's view of an LLM provider: one blocking completion
// call. Implementations own their own retry policy.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config selects and configures one Client implementation.
type Config struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	MaxRetries     int
}

// New builds a Client for cfg.Provider ("anthropic" or "openai").
func New(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llmclient: api key is required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "anthropic":
		return newAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model, maxRetries, timeout), nil
	case "openai":
		return newOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, maxRetries, timeout), nil
	default:
		return nil, fmt.Errorf("llmclient: unknown provider %q", cfg.Provider)
	}
}

// isRetryableError classifies transient provider failures — rate limits,
// server errors, timeouts, and connection resets — the same categories
// the host's streaming providers retry on.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// backoff returns the exponential retry delay for attempt (0-indexed),
// base*2^attempt, matching the host providers' retry shape.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}
