package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/alynlabs/alyn/internal/agents/toolcall"
)

// OpenRouterBaseURL is the default OpenAI-compatible endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ErrMissingAPIKey is returned by Complete when the client was built
// without credentials.
var ErrMissingAPIKey = errors.New("llm: api key not configured")

// OpenAIClient talks to any OpenAI-compatible chat endpoint. It retries
// transient failures with linear backoff and never streams.
type OpenAIClient struct {
	client     *openai.Client
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// ClientConfig configures an OpenAIClient.
type ClientConfig struct {
	APIKey  string
	BaseURL string
}

// ClientOption configures optional OpenAIClient behavior.
type ClientOption func(*OpenAIClient)

// WithClientLogger configures the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *OpenAIClient) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// NewOpenAIClient creates a client. An empty API key is allowed for
// delayed configuration; Complete fails until one is set.
func NewOpenAIClient(cfg ClientConfig, opts ...ClientOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     cfg.APIKey,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default().With("component", "llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.APIKey == "" {
		return c
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c.client = openai.NewClientWithConfig(oc)
	return c
}

// Complete performs one chat completion. Retryable failures (rate limits,
// 5xx, timeouts) are retried up to maxRetries with linear backoff.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*AssistantMessage, error) {
	if c.client == nil {
		return nil, ErrMissingAPIKey
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.System, req.Messages),
		Tools:    convertTools(req.Tools),
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
			c.logger.Warn("retrying completion", "attempt", attempt, "error", lastErr)
		}

		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return nil, fmt.Errorf("chat completion: %w", err)
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("chat completion returned no choices")
		}
		return fromChoice(resp.Choices[0].Message), nil
	}
	return nil, fmt.Errorf("chat completion after %d attempts: %w", c.maxRetries, lastErr)
}

func fromChoice(msg openai.ChatCompletionMessage) *AssistantMessage {
	out := &AssistantMessage{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			// Some OpenAI-compatible backends omit call ids; tool-result
			// messages still need one to pair up.
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, toolcall.RawCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func convertMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func convertTools(tools []ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
