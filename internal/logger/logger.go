// Package logger provides structured logging for PersonaBot on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLogger creates a new slog Logger with the specified level and format
// and installs it as the process default.
// If jsonOutput is true, logs will be formatted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := slog.New(newHandler(os.Stdout, levelStr, jsonOutput))
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(w io.Writer, levelStr string, jsonOutput bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	if jsonOutput {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Middleware creates a logging middleware for the Telegram bot.
// It logs the kind of each incoming update, who sent it and how long handling took.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()
			logEntry := log.With(UpdateAttrs(update)...)

			logEntry.DebugContext(ctx, "Processing update")
			next(ctx, b, update)
			logEntry.InfoContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

// UpdateAttrs describes an update as slog key/value pairs.
func UpdateAttrs(update *models.Update) []any {
	attrs := []any{"update_id", update.ID}

	switch {
	case update.PreCheckoutQuery != nil:
		q := update.PreCheckoutQuery
		attrs = append(attrs,
			"update_type", "pre_checkout_query",
			"query_id", q.ID,
			"payload", q.InvoicePayload,
			"amount", q.TotalAmount)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		p := update.Message.SuccessfulPayment
		attrs = append(attrs,
			"update_type", "successful_payment",
			"chat_id", update.Message.Chat.ID,
			"payload", p.InvoicePayload,
			"amount", p.TotalAmount,
			"currency", p.Currency)
	case update.Message != nil:
		m := update.Message
		attrs = append(attrs,
			"update_type", "message",
			"message_id", m.ID,
			"chat_id", m.Chat.ID,
			"text_preview", Truncate(m.Text, 50))
		if m.From != nil {
			attrs = append(attrs, "user_id", m.From.ID)
		}
	default:
		attrs = append(attrs, "update_type", "other")
	}
	return attrs
}

// Truncate shortens s to at most maxLen bytes on a rune boundary, marking
// the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
