package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicOptions configures the Messages API client.
type AnthropicOptions struct {
	APIKey  string
	BaseURL string
}

const defaultAnthropicMaxTokens = 1000

type anthropicClient struct {
	client *anthropic.Client
}

// NewAnthropic creates a Claude client.
func NewAnthropic(opts AnthropicOptions) Client {
	var clientOpts []anthropic.ClientOption
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(opts.BaseURL))
	}
	return &anthropicClient{client: anthropic.NewClient(opts.APIKey, clientOpts...)}
}

func (c *anthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	turns := mergeTurns(req.Turns)
	messages := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantTextMessage(t.Content))
			continue
		}
		messages = append(messages, anthropic.NewUserTextMessage(t.Content))
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic request has no user turn")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := req.Temperature

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Anthropic message: %w", err)
	}

	if len(resp.Content) == 0 || resp.Content[0].Type != anthropic.MessagesContentTypeText {
		return nil, ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Content[0].GetText())
	if text == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Text:  text,
		Model: string(resp.Model),
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
