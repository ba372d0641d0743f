// Package llm talks to OpenAI-compatible chat APIs for classification hints.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultTimeout   = 20 * time.Second
	DefaultMaxTokens = 1024
)

// Models known to answer the classification prompt well
const (
	ModelGPT4oMini      = "openai/gpt-4o-mini"
	ModelGPT4o          = "openai/gpt-4o"
	ModelClaude35Sonnet = "anthropic/claude-3.5-sonnet"
)

// Client handles communication with OpenAI-compatible APIs
type Client struct {
	client       openai.Client
	defaultModel string
	maxTokens    int64
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL      string
	timeout      time.Duration
	defaultModel string
	maxTokens    int64
	httpClient   *http.Client
}

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.baseURL = url
	}
}

// WithTimeout sets custom HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithDefaultModel sets the model used when a call names none
func WithDefaultModel(model string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaultModel = model
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int64) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.maxTokens = n
		}
	}
}

// WithHTTPClient replaces the HTTP client; the timeout option is then ignored
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// NewClient creates a new OpenAI-compatible client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	cfg := &clientConfig{
		baseURL:      DefaultBaseURL,
		timeout:      DefaultTimeout,
		defaultModel: ModelGPT4oMini,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(cfg.baseURL),
			option.WithHTTPClient(cfg.httpClient),
			option.WithMaxRetries(1),
			option.WithHeader("HTTP-Referer", "https://github.com/rezonia/nfe-engine"),
			option.WithHeader("X-Title", "NF-e Engine"),
		),
		defaultModel: cfg.defaultModel,
		maxTokens:    cfg.maxTokens,
	}
}

// ChatText sends one system and one user message and returns the first choice
func (c *Client) ChatText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   param.NewOpt(c.maxTokens),
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ExtractJSON pulls the JSON payload out of a model answer. Fenced blocks
// win; otherwise the span from the first opening bracket to the last
// matching closing one is returned.
func ExtractJSON(response string) string {
	if body, ok := fenced(response); ok {
		return body
	}

	response = strings.TrimSpace(response)
	start := strings.IndexAny(response, "[{")
	if start == -1 {
		return response
	}
	closer := "]"
	if response[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(response, closer)
	if end < start {
		return response
	}
	return response[start : end+1]
}

func fenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	start += 3
	// skip the language tag, if any
	if nl := strings.Index(s[start:], "\n"); nl != -1 {
		start += nl + 1
	}
	end := strings.Index(s[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(s[start : start+end]), true
}
