package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/identity"
)

type vipHandler struct {
	deps HandlerDeps
}

// NewVIPHandler creates a handler for the /vip command that sends the
// subscription invoice.
func NewVIPHandler(deps HandlerDeps) Handler {
	return vipHandler{deps}.Handle
}

func (v vipHandler) Handle(ctx context.Context, h *identity.Handle, update *models.Update) {
	chatID := update.Message.Chat.ID
	log := v.deps.Logger.With("handler", "vip", "chat_id", chatID, "user_id", update.Message.From.ID)

	if _, err := h.Sender.SendInvoice(ctx, v.deps.invoices().VIPInvoice(chatID)); err != nil {
		log.ErrorContext(ctx, "Failed to send VIP invoice", "error", err)
		apologize(ctx, v.deps, h, chatID)
		return
	}
	log.InfoContext(ctx, "VIP invoice sent")
}
