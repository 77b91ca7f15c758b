// Package handlers contains the Telegram update handlers, their
// registration and the dispatcher that routes updates to them.
package handlers

import (
	"context"
	"fmt"
	"runtime/debug"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/metrics"
)

// Recover creates a middleware that turns a panic in a handler into a
// logged error and an apology to the sender. A failure in one update never
// reaches the session's worker.
func Recover(deps HandlerDeps) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, h *identity.Handle, update *models.Update) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log := deps.Logger.With("middleware", "Recover", "update_id", update.ID)
				if update.Message != nil && update.Message.From != nil {
					log = log.With("user_id", update.Message.From.ID)
				}
				log.ErrorContext(ctx, "Panic while handling update",
					"error", fmt.Errorf("panic: %v", r),
					"stack", string(debug.Stack()))
				metrics.Turns.WithLabelValues(metrics.TurnError).Inc()

				if update.Message != nil {
					apologize(ctx, deps, h, update.Message.Chat.ID)
				}
			}()
			next(ctx, h, update)
		}
	}
}

// apologize sends the configured apology text. An empty text means stay silent.
func apologize(ctx context.Context, deps HandlerDeps, h *identity.Handle, chatID int64) {
	text := deps.Config.Chat.Messages.Apology
	if text == "" {
		return
	}
	if _, err := h.Sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		deps.Logger.WarnContext(ctx, "Failed to send apology", "chat_id", chatID, "error", err)
	}
}
