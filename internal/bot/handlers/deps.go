package handlers

import (
	"log/slog"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/counter"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/fallback"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/llm"
	"github.com/edgard/personabot/internal/payments"
)

// HandlerDeps provides dependencies for Telegram update handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Counter  counter.Store
	Fallback *fallback.Engine
	LLM      llm.Resolver
	Identity identity.Source
}

func (d HandlerDeps) invoices() payments.Invoices {
	return payments.NewInvoices(d.Config.Chat)
}
