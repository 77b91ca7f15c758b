package handlers

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/metrics"
)

// Kind is the class of an inbound update. Every kind routes to exactly one handler.
type Kind int

const (
	KindIgnored Kind = iota
	KindText
	KindVIPCommand
	KindPreCheckout
	KindPayment
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVIPCommand:
		return "vip_command"
	case KindPreCheckout:
		return "pre_checkout"
	case KindPayment:
		return "payment"
	default:
		return "ignored"
	}
}

// Classify decides which handler an update belongs to.
func Classify(update *models.Update) Kind {
	if update == nil {
		return KindIgnored
	}
	if update.PreCheckoutQuery != nil {
		return KindPreCheckout
	}
	msg := update.Message
	if msg == nil || msg.From == nil {
		return KindIgnored
	}
	if msg.SuccessfulPayment != nil {
		return KindPayment
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return KindIgnored
	}
	if command(text) == "vip" {
		return KindVIPCommand
	}
	return KindText
}

// command returns the bot command name of text without the leading slash
// and any @botname suffix, or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Dispatcher is the default update handler of every bot session. It
// classifies the update, resolves the live identity and runs the matching
// handler under its own deadline.
type Dispatcher struct {
	deps     HandlerDeps
	handlers map[Kind]Handler
}

// NewDispatcher wires every registered handler with its middleware.
func NewDispatcher(deps HandlerDeps) *Dispatcher {
	d := &Dispatcher{deps: deps, handlers: make(map[Kind]Handler)}
	for kind, rh := range RegisterAllHandlers(deps) {
		h := rh.Handler
		for i := len(rh.Middleware) - 1; i >= 0; i-- {
			h = rh.Middleware[i](h)
		}
		d.handlers[kind] = h
	}
	return d
}

// Handle implements tgbot.HandlerFunc.
func (d *Dispatcher) Handle(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	log := d.deps.Logger.With("component", "dispatcher")
	if update == nil {
		log.DebugContext(ctx, "Ignoring nil update")
		return
	}

	kind := Classify(update)
	handler, ok := d.handlers[kind]
	if !ok {
		log.DebugContext(ctx, "Ignoring update", "update_id", update.ID, "kind", kind.String())
		return
	}

	h := d.deps.Identity.Current()
	if h == nil {
		log.DebugContext(ctx, "Dropping update, no live identity", "update_id", update.ID, "kind", kind.String())
		if kind == KindText {
			metrics.Turns.WithLabelValues(metrics.TurnDropped).Inc()
		}
		return
	}

	// A turn outlives the session that delivered it so that a persona swap
	// does not cut off replies already being generated.
	timeout := d.deps.Config.Chat.TurnTimeout
	if timeout <= 0 {
		timeout = config.DefaultTurnTimeout
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	handler(runCtx, h, update)
}

// HandlerFunc returns the dispatcher as a go-telegram handler.
func (d *Dispatcher) HandlerFunc() tgbot.HandlerFunc {
	return d.Handle
}
