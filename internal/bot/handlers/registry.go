package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/identity"
)

// Handler processes one classified update on behalf of the live identity.
type Handler func(ctx context.Context, h *identity.Handle, update *models.Update)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// RegisteredHandler represents an update handler together with its middleware.
type RegisteredHandler struct {
	Handler    Handler
	Middleware []Middleware
}

// RegisterAllHandlers returns the handler for every routable update kind.
func RegisterAllHandlers(deps HandlerDeps) map[Kind]RegisteredHandler {
	recoverer := []Middleware{Recover(deps)}

	return map[Kind]RegisteredHandler{
		KindText: {
			Handler:    NewConversationHandler(deps),
			Middleware: recoverer,
		},
		KindVIPCommand: {
			Handler:    NewVIPHandler(deps),
			Middleware: recoverer,
		},
		KindPreCheckout: {
			Handler:    NewPreCheckoutHandler(deps),
			Middleware: recoverer,
		},
		KindPayment: {
			Handler:    NewPaymentHandler(deps),
			Middleware: recoverer,
		},
	}
}
