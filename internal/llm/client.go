// Package llm wraps the chat-completion endpoint used to answer questions and
// summarize papers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// Role of a chat message.
type Role string

// Message roles understood by the completion endpoint.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptyCompletion is returned when the model produces no choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Message is one role-tagged turn sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Options configures a Client.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client generates chat completions.
type Client struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewClient creates a chat-completion client around an OpenAI client.
func NewClient(client *openai.Client, opts Options) *Client {
	return &Client{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

// Complete sends messages with the configured temperature and token budget and
// returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, c.temperature, c.maxTokens, false)
}

// CompleteJSON is Complete in JSON-object response mode.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	return c.complete(ctx, messages, temperature, maxTokens, true)
}

func (c *Client) complete(ctx context.Context, messages []Message, temperature float64, maxTokens int, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    toParams(messages),
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var content string
	operation := func() error {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
