package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/metrics"
	"github.com/edgard/personabot/internal/resilience"
)

// Resolver returns the client to use for a persona's provider and key.
type Resolver interface {
	Client(ctx context.Context, provider, apiKey string) (Client, error)
}

// Constructor builds a raw provider client from resolved options.
type Constructor func(ctx context.Context, opts config.ProviderConfig) (Client, error)

// Router caches one guarded client per provider and API key. Each cached
// client owns its own circuit breaker, so a bad key cannot trip the breaker
// of another persona.
type Router struct {
	cfg          config.AIConfig
	logger       *slog.Logger
	constructors map[string]Constructor

	mu      sync.Mutex
	clients map[string]Client
}

// NewRouter registers the built-in providers.
func NewRouter(cfg config.AIConfig, logger *slog.Logger) *Router {
	r := &Router{
		cfg:          cfg,
		logger:       logger.With("component", "llm_router"),
		constructors: make(map[string]Constructor),
		clients:      make(map[string]Client),
	}
	r.Register(ProviderOpenAI, func(_ context.Context, opts config.ProviderConfig) (Client, error) {
		return NewOpenAI(OpenAIOptions{APIKey: opts.Token, BaseURL: opts.BaseURL, Timeout: cfg.Timeout}), nil
	})
	r.Register(ProviderGemini, func(ctx context.Context, opts config.ProviderConfig) (Client, error) {
		return NewGemini(ctx, GeminiOptions{APIKey: opts.Token, BaseURL: opts.BaseURL}, logger)
	})
	r.Register(ProviderAnthropic, func(_ context.Context, opts config.ProviderConfig) (Client, error) {
		return NewAnthropic(AnthropicOptions{APIKey: opts.Token, BaseURL: opts.BaseURL}), nil
	})
	return r
}

// Register installs or replaces the constructor for provider.
func (r *Router) Register(provider string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[provider] = ctor
}

// Client implements Resolver. An empty apiKey falls back to the configured
// default for the provider, and an empty provider to the configured default.
func (r *Router) Client(ctx context.Context, provider, apiKey string) (Client, error) {
	if provider == "" {
		provider = r.cfg.Provider
	}
	opts := r.cfg.ProviderDefaults(provider)
	if apiKey != "" {
		opts.Token = apiKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctor, ok := r.constructors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCredential, provider)
	}

	key := provider + "\x00" + opts.Token
	if c, ok := r.clients[key]; ok {
		return c, nil
	}

	raw, err := ctor(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = r.cfg.MaxRetries + 1
	retry.Retryable = IsRetryable
	retry.Logger = r.logger

	c := &guardedClient{
		provider: provider,
		inner:    raw,
		policy: &resilience.Policy{
			Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        provider,
				Timeout:     r.cfg.Timeout,
				IsFailure:   IsRetryable,
				Logger:      r.logger,
				MaxFailures: 5,
			}),
			Retry: retry,
		},
		defaults: r.cfg,
	}
	r.clients[key] = c
	r.logger.Info("ai client created", "provider", provider)
	return c, nil
}

type guardedClient struct {
	provider string
	inner    Client
	policy   *resilience.Policy
	defaults config.AIConfig
}

func (c *guardedClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.defaults.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.defaults.Temperature
	}

	start := time.Now()
	defer func() {
		metrics.GenerationLatency.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
	}()

	var resp *Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		r, err := c.inner.Generate(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// IsRetryable reports whether err is a transient provider failure: rate
// limits, 5xx answers and transport errors. Client errors such as a bad key
// or unknown model are not. Neither is an empty completion: that is a
// generation miss, handled by the caller, and it never trips the breaker.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNoCredential) ||
		errors.Is(err, ErrUnknownProvider) || errors.Is(err, ErrEmptyResponse) {
		return false
	}

	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return retryableStatus(oaiAPI.HTTPStatusCode)
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return retryableStatus(oaiReq.HTTPStatusCode)
	}
	var gAPI *genai.APIError
	if errors.As(err, &gAPI) {
		return retryableStatus(gAPI.Code)
	}
	var aReq *anthropic.RequestError
	if errors.As(err, &aReq) {
		return retryableStatus(aReq.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
