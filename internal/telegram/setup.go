// Package telegram builds live go-telegram/bot sessions for the identity
// manager, in either webhook or long-polling mode.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/google/uuid"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/logger"
)

// Transport modes.
const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

const stopTimeout = 30 * time.Second

// SessionFactory implements identity.Factory. Every session shares one
// update handler, which resolves the live identity per update itself.
type SessionFactory struct {
	cfg     config.TelegramConfig
	handler bot.HandlerFunc
	logger  *slog.Logger
	// extra options, used by tests to point sessions at a fake API server.
	options []bot.Option
}

// NewSessionFactory creates a factory. handler receives every update of
// every session.
func NewSessionFactory(cfg config.TelegramConfig, handler bot.HandlerFunc, logger *slog.Logger, opts ...bot.Option) *SessionFactory {
	return &SessionFactory{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "telegram_session"),
		options: opts,
	}
}

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, log *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token cannot be empty")
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

// Open constructs a session for persona, registers its inbound route and
// starts its update loop.
func (f *SessionFactory) Open(ctx context.Context, persona database.Persona, token string) (*identity.Handle, error) {
	log := f.logger.With("persona", persona.Name, "mode", f.cfg.Mode)

	opts := []bot.Option{
		bot.WithDefaultHandler(f.handler),
		bot.WithMiddlewares(logger.Middleware(log)),
		bot.WithErrorsHandler(func(err error) {
			log.Warn("Telegram client error", "error", err)
		}),
	}
	if f.cfg.RequestTimeout > 0 {
		opts = append(opts, bot.WithHTTPClient(f.cfg.RequestTimeout, &http.Client{Timeout: f.cfg.RequestTimeout + 10*time.Second}))
	}

	var secret string
	if f.cfg.Mode == ModeWebhook {
		secret = uuid.NewString()
		opts = append(opts, bot.WithWebhookSecretToken(secret))
	}
	opts = append(opts, f.options...)

	b, err := NewTelegramBot(token, log, opts...)
	if err != nil {
		return nil, err
	}

	if f.cfg.Mode == ModeWebhook {
		return f.openWebhook(ctx, b, persona, secret, log)
	}
	return f.openPolling(ctx, b, persona, log)
}

func (f *SessionFactory) openWebhook(ctx context.Context, b *bot.Bot, persona database.Persona, secret string, log *slog.Logger) (*identity.Handle, error) {
	if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:                f.cfg.WebhookURL,
		DropPendingUpdates: f.cfg.DropPendingUpdates,
		SecretToken:        secret,
	}); err != nil {
		return nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	stop := f.run(b.StartWebhook)
	log.Info("Webhook registered", "url", f.cfg.WebhookURL)

	return identity.NewHandle(persona, b, b.WebhookHandler(), func(ctx context.Context) error {
		_, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{})
		stop(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		return nil
	}), nil
}

func (f *SessionFactory) openPolling(ctx context.Context, b *bot.Bot, persona database.Persona, log *slog.Logger) (*identity.Handle, error) {
	if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: f.cfg.DropPendingUpdates}); err != nil {
		return nil, fmt.Errorf("failed to clear webhook before polling: %w", err)
	}

	stop := f.run(b.Start)
	log.Info("Long polling started")

	return identity.NewHandle(persona, b, nil, func(ctx context.Context) error {
		stop(ctx)
		return nil
	}), nil
}

// run starts loop on a context owned by the session and returns a function
// that cancels it and waits for in-flight updates to drain.
func (f *SessionFactory) run(loop func(context.Context)) func(context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop(runCtx)
	}()

	return func(ctx context.Context) {
		cancel()
		wait, waitCancel := context.WithTimeout(ctx, stopTimeout)
		defer waitCancel()
		select {
		case <-done:
		case <-wait.Done():
			f.logger.Warn("Timed out waiting for update loop to stop")
		}
	}
}
