package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/resilience"
)

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		Provider:    ProviderOpenAI,
		Model:       "default-model",
		Temperature: 0.7,
		MaxTokens:   200,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		OpenAI:      config.ProviderConfig{Token: "global-key"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_CachesPerProviderAndKey(t *testing.T) {
	t.Parallel()

	r := NewRouter(testAIConfig(), discardLogger())
	var built []string
	r.Register(ProviderOpenAI, func(_ context.Context, opts config.ProviderConfig) (Client, error) {
		built = append(built, opts.Token)
		return ClientFunc(func(context.Context, Request) (*Response, error) { return &Response{Text: "ok"}, nil }), nil
	})

	ctx := context.Background()
	a, err := r.Client(ctx, ProviderOpenAI, "")
	require.NoError(t, err)
	b, err := r.Client(ctx, "", "")
	require.NoError(t, err)
	c, err := r.Client(ctx, ProviderOpenAI, "persona-key")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, []string{"global-key", "persona-key"}, built)
}

func TestRouter_Errors(t *testing.T) {
	t.Parallel()

	r := NewRouter(testAIConfig(), discardLogger())
	_, err := r.Client(context.Background(), "llama", "k")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Client(context.Background(), ProviderAnthropic, "")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestGuardedClient_AppliesDefaultsAndRetries(t *testing.T) {
	t.Parallel()

	r := NewRouter(testAIConfig(), discardLogger())
	var calls atomic.Int32
	var seen Request
	r.Register(ProviderOpenAI, func(context.Context, config.ProviderConfig) (Client, error) {
		return ClientFunc(func(_ context.Context, req Request) (*Response, error) {
			seen = req
			if calls.Add(1) == 1 {
				return nil, &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
			}
			return &Response{Text: "hello"}, nil
		}), nil
	})

	c, err := r.Client(context.Background(), ProviderOpenAI, "")
	require.NoError(t, err)
	resp, err := c.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "default-model", seen.Model)
	assert.Equal(t, 200, seen.MaxTokens)
	assert.InDelta(t, 0.7, seen.Temperature, 0.001)
}

func TestGuardedClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	r := NewRouter(testAIConfig(), discardLogger())
	var calls atomic.Int32
	badKey := &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid api key"}
	r.Register(ProviderOpenAI, func(context.Context, config.ProviderConfig) (Client, error) {
		return ClientFunc(func(context.Context, Request) (*Response, error) {
			calls.Add(1)
			return nil, badKey
		}), nil
	})

	c, err := r.Client(context.Background(), ProviderOpenAI, "")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGuardedClient_EmptyCompletionIsNotAFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls.Add(1)
		content := "   "
		if len(body.Messages) > 0 && body.Messages[len(body.Messages)-1].Content == "healthy" {
			content = "hi there"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
	}))
	t.Cleanup(srv.Close)

	cfg := testAIConfig()
	cfg.OpenAI.BaseURL = srv.URL
	r := NewRouter(cfg, discardLogger())

	c, err := r.Client(context.Background(), ProviderOpenAI, "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := c.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "empty please"}}})
		require.ErrorIs(t, err, ErrEmptyResponse)
	}
	assert.EqualValues(t, 10, calls.Load(), "a miss must not be retried")

	gc, ok := c.(*guardedClient)
	require.True(t, ok)
	assert.Equal(t, resilience.StateClosed, gc.policy.Breaker.State())

	resp, err := c.Generate(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "healthy"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("x: %w", ErrNoCredential)))
	assert.False(t, IsRetryable(ErrEmptyResponse))
	assert.False(t, IsRetryable(fmt.Errorf("gemini: %w", ErrEmptyResponse)))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(fmt.Errorf("chat completion failed: %w", &openai.APIError{HTTPStatusCode: http.StatusBadRequest})))
	assert.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: http.StatusBadGateway}))
	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.True(t, retryableStatus(http.StatusServiceUnavailable))
	assert.False(t, retryableStatus(http.StatusBadRequest))
}

func TestOpenAIClient_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "c1", "object": "chat.completion", "model": "served-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " hey you "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 3, "total_tokens": 14}
		}`)
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL, Timeout: 5 * time.Second})
	resp, err := c.Generate(context.Background(), Request{
		Model:  "m",
		System: "be nice",
		Turns: []Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "how are you"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hey you", resp.Text)
	assert.Equal(t, "served-model", resp.Model)
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 3}, resp.Usage)
	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestMergeTurns(t *testing.T) {
	t.Parallel()

	in := []Turn{
		{Role: RoleAssistant, Content: "orphan"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
	}
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "a\nb"},
		{Role: RoleAssistant, Content: "c"},
	}, mergeTurns(in))
}
