package llmclient

import (
	"errors"
	"testing"
	"time"
)

func TestTokenUsageAddAndTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 3, OutputTokens: 7})
	if u.InputTokens != 13 || u.OutputTokens != 12 {
		t.Fatalf("got %+v", u)
	}
	if u.Total() != 25 {
		t.Fatalf("Total() = %d, want 25", u.Total())
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("rate_limit exceeded"), true},
		{errors.New("429 too many requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid api key"), false},
		{errors.New("400 bad request"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isRetryableError(c.err); got != c.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestBackoffDoubles(t *testing.T) {
	base := 100 * time.Millisecond
	if got := backoff(base, 0); got != base {
		t.Errorf("backoff(base, 0) = %v, want %v", got, base)
	}
	if got := backoff(base, 1); got != 2*base {
		t.Errorf("backoff(base, 1) = %v, want %v", got, 2*base)
	}
	if got := backoff(base, 3); got != 8*base {
		t.Errorf("backoff(base, 3) = %v, want %v", got, 8*base)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{Provider: "anthropic"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Config{APIKey: "x", Provider: "cohere"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestNewDefaultsToAnthropic(t *testing.T) {
	client, err := New(Config{APIKey: "x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := client.(*anthropicClient); !ok {
		t.Fatalf("got %T, want *anthropicClient", client)
	}
}

func TestNewBuildsOpenAIClient(t *testing.T) {
	client, err := New(Config{APIKey: "x", Provider: "openai"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := client.(*openAIClient); !ok {
		t.Fatalf("got %T, want *openAIClient", client)
	}
}
