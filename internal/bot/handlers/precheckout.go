package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/identity"
)

// NewPreCheckoutHandler creates a handler that approves every pre-checkout query.
func NewPreCheckoutHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, h *identity.Handle, update *models.Update) {
		q := update.PreCheckoutQuery
		log := deps.Logger.With("handler", "pre_checkout", "query_id", q.ID, "payload", q.InvoicePayload)

		if _, err := h.Sender.AnswerPreCheckoutQuery(ctx, &tgbot.AnswerPreCheckoutQueryParams{
			PreCheckoutQueryID: q.ID,
			OK:                 true,
		}); err != nil {
			log.ErrorContext(ctx, "Failed to answer pre-checkout query", "error", err)
			return
		}
		log.DebugContext(ctx, "Pre-checkout query approved")
	}
}
