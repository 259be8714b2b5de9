package llmclient

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	timeout      time.Duration
}

func newOpenAIClient(apiKey, baseURL, defaultModel string, maxRetries int, timeout time.Duration) *openAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &openAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		maxRetries:   maxRetries,
		retryDelay:   time.Second,
		timeout:      timeout,
	}
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			break
		}
		if !isRetryableError(err) || attempt == c.maxRetries {
			return nil, fmt.Errorf("openai: completion failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(c.retryDelay, attempt)):
		}
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: completion returned no choices")
	}

	return &Response{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
