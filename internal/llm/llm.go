// Package llm talks to text generation providers. Each persona names a
// provider, a model and optionally its own API key; Router hands out a
// guarded Client for that combination.
package llm

import (
	"context"
	"errors"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrUnknownProvider is returned for a provider name no constructor is registered for.
	ErrUnknownProvider = errors.New("unknown ai provider")
	// ErrNoCredential means neither the persona nor the configuration carries an API key.
	ErrNoCredential = errors.New("no api key for provider")
	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    Role
	Content string
}

// Request is a provider-neutral generation request.
type Request struct {
	Model       string
	System      string
	Turns       []Turn
	Temperature float32
	MaxTokens   int
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is the generated reply.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Client generates one reply for a request.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// mergeTurns folds consecutive turns with the same role into one and drops
// leading assistant turns, for providers that insist on strict alternation
// starting with the user.
func mergeTurns(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if len(out) == 0 && t.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	return out
}
