package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/literaq/paperchat/internal/config"
)

// Client wraps the OpenAI client shared by embedding and chat completion.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client from cfg. An API key is required.
// SDK-level retries are disabled; callers retry rate limits with backoff.
func NewClient(cfg config.OpenAIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., chat completion).
func (c *Client) Client() *openai.Client {
	return c.client
}
