package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/llm"
	"github.com/edgard/personabot/internal/metrics"
	"github.com/edgard/personabot/internal/tags"
)

type conversationHandler struct {
	deps HandlerDeps
}

// NewConversationHandler creates the handler for plain text messages: one
// generation turn per message, with usage cap, memory and paid offers.
func NewConversationHandler(deps HandlerDeps) Handler {
	return conversationHandler{deps}.Handle
}

// BusyKey is the counter key marking a sender's turn as in flight.
func BusyKey(senderID int64) string {
	return fmt.Sprintf("busy:%d", senderID)
}

func (c conversationHandler) Handle(ctx context.Context, h *identity.Handle, update *models.Update) {
	deps := c.deps
	msg := update.Message
	senderID := msg.From.ID
	log := deps.Logger.With("handler", "conversation", "user_id", senderID, "chat_id", msg.Chat.ID)

	persona, err := deps.Store.GetActivePersona(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load active persona, dropping message", "error", err)
		metrics.Turns.WithLabelValues(metrics.TurnDropped).Inc()
		return
	}
	if persona == nil {
		log.DebugContext(ctx, "No active persona, dropping message")
		metrics.Turns.WithLabelValues(metrics.TurnDropped).Inc()
		return
	}

	acquired, err := deps.Counter.Acquire(ctx, BusyKey(senderID), deps.Config.Chat.BusyTTL)
	switch {
	case err != nil:
		log.WarnContext(ctx, "Busy guard unavailable, continuing without it", "error", err)
	case !acquired:
		log.InfoContext(ctx, "Message from sender already in flight, dropping")
		metrics.Turns.WithLabelValues(metrics.TurnDropped).Inc()
		return
	default:
		defer func() {
			if err := deps.Counter.Delete(context.WithoutCancel(ctx), BusyKey(senderID)); err != nil {
				log.WarnContext(ctx, "Failed to release busy guard", "error", err)
			}
		}()
	}

	outcome, err := c.turn(ctx, log, h, persona, msg)
	if err != nil {
		log.ErrorContext(ctx, "Conversation turn failed", "error", err)
		metrics.Turns.WithLabelValues(metrics.TurnError).Inc()
		apologize(ctx, deps, h, msg.Chat.ID)
		return
	}
	metrics.Turns.WithLabelValues(outcome).Inc()
	log.DebugContext(ctx, "Conversation turn finished", "outcome", outcome)
}

func (c conversationHandler) turn(ctx context.Context, log *slog.Logger, h *identity.Handle, persona *database.Persona, msg *models.Message) (string, error) {
	deps := c.deps
	chat := deps.Config.Chat
	chatID := msg.Chat.ID

	user, err := deps.Store.GetOrCreateUser(ctx, &database.User{
		TelegramID: msg.From.ID,
		Username:   msg.From.Username,
		FullName:   DisplayName(msg.From),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}

	if !user.IsVIP {
		count, err := deps.Store.CountUserMessages(ctx, user.TelegramID)
		if err != nil {
			return "", fmt.Errorf("failed to count user messages: %w", err)
		}
		if count+1 >= chat.FreeMessageLimit+user.Credits {
			log.InfoContext(ctx, "Free message limit reached", "count", count, "credits", user.Credits)
			if err := c.send(ctx, h, chatID, chat.Messages.Upsell); err != nil {
				return "", err
			}
			return metrics.TurnCapped, nil
		}
	}

	if err := deps.Store.SaveMessage(ctx, &database.Message{
		UserID:  user.TelegramID,
		Role:    database.RoleUser,
		Content: msg.Text,
	}); err != nil {
		return "", fmt.Errorf("failed to save user message: %w", err)
	}

	catalog, err := deps.Store.ListMedia(ctx)
	if err != nil {
		log.WarnContext(ctx, "Failed to load catalog, offering nothing", "error", err)
		catalog = nil
	}
	history, err := deps.Store.GetRecentMessages(ctx, user.TelegramID, chat.HistorySize)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	resp, genErr := c.generate(ctx, persona, llm.Request{
		Model:  persona.AIModel,
		System: buildSystemPrompt(persona, chat.Messages, catalog, user.Memory),
		Turns:  historyTurns(history),
	})
	if genErr != nil || resp == nil || strings.TrimSpace(resp.Text) == "" {
		if genErr != nil {
			log.WarnContext(ctx, "Generation failed", "provider", persona.AIProvider, "error", genErr)
		}
		return c.fallback(ctx, h, user.TelegramID, chatID)
	}
	deps.Fallback.Reset(ctx, user.TelegramID)

	res := tags.Scan(resp.Text)

	if len(res.Facts) > 0 {
		facts := make(database.Facts, len(user.Memory)+len(res.Facts))
		maps.Copy(facts, user.Memory)
		tags.MergeFacts(facts, res.Facts)
		if err := deps.Store.UpdateUserMemory(ctx, user.TelegramID, facts); err != nil {
			log.WarnContext(ctx, "Failed to store extracted facts", "error", err)
		} else {
			log.InfoContext(ctx, "Stored extracted facts", "count", len(res.Facts))
		}
	}

	if res.HasCustomOrder {
		req := &database.CustomRequest{UserID: user.TelegramID, Description: res.CustomOrder}
		if err := deps.Store.CreateCustomRequest(ctx, req); err != nil {
			log.WarnContext(ctx, "Failed to record custom request", "error", err)
		} else {
			log.InfoContext(ctx, "Custom request recorded", "request_id", req.ID)
		}
	}

	visible := tags.Collapse(res.Text)
	reply := &database.Message{
		UserID:           user.TelegramID,
		Role:             database.RoleAssistant,
		Content:          visible,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if reply.Model == "" {
		reply.Model = persona.AIModel
	}

	if res.HasOffer {
		media, err := deps.Store.GetMediaByTag(ctx, res.Offer)
		switch {
		case errors.Is(err, database.ErrNotFound):
			log.InfoContext(ctx, "Offer tag does not match the catalog, ignoring", "tag", res.Offer)
		case err != nil:
			log.WarnContext(ctx, "Failed to resolve offer tag, ignoring", "tag", res.Offer, "error", err)
		default:
			return c.offer(ctx, log, h, chatID, reply, media)
		}
	}

	if visible == "" {
		return metrics.TurnSilent, nil
	}
	if err := c.persistAndSend(ctx, h, chatID, reply); err != nil {
		return "", err
	}
	return metrics.TurnReplied, nil
}

// generate resolves the persona's client and runs one generation call.
func (c conversationHandler) generate(ctx context.Context, persona *database.Persona, req llm.Request) (*llm.Response, error) {
	client, err := c.deps.LLM.Client(ctx, persona.AIProvider, persona.AIToken)
	if err != nil {
		return nil, err
	}
	return client.Generate(ctx, req)
}

// fallback serves the canned reply for the sender's current fail tier.
func (c conversationHandler) fallback(ctx context.Context, h *identity.Handle, userID, chatID int64) (string, error) {
	text, _ := c.deps.Fallback.Resolve(ctx, userID)
	if text == "" {
		return metrics.TurnSilent, nil
	}
	if err := c.persistAndSend(ctx, h, chatID, &database.Message{
		UserID:  userID,
		Role:    database.RoleAssistant,
		Content: text,
	}); err != nil {
		return "", err
	}
	return metrics.TurnFallback, nil
}

// offer sends the visible text, if any, then the unlock invoice, and records
// both in the history.
func (c conversationHandler) offer(ctx context.Context, log *slog.Logger, h *identity.Handle, chatID int64, reply *database.Message, media *database.MediaContent) (string, error) {
	if reply.Content != "" {
		if err := c.persistAndSend(ctx, h, chatID, reply); err != nil {
			return "", err
		}
	}

	invoices := c.deps.invoices()
	if _, err := h.Sender.SendInvoice(ctx, invoices.PPVInvoice(chatID, media)); err != nil {
		return "", fmt.Errorf("failed to send offer invoice: %w", err)
	}
	log.InfoContext(ctx, "Paid offer sent", "media_id", media.ID, "tag", media.Tag)

	if err := c.deps.Store.SaveMessage(ctx, &database.Message{
		UserID:  reply.UserID,
		Role:    database.RoleAssistant,
		Content: invoices.OfferMarker(media),
	}); err != nil {
		log.WarnContext(ctx, "Failed to record offer marker", "error", err)
	}
	return metrics.TurnOffer, nil
}

func (c conversationHandler) persistAndSend(ctx context.Context, h *identity.Handle, chatID int64, m *database.Message) error {
	if err := c.deps.Store.SaveMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}
	return c.send(ctx, h, chatID, m.Content)
}

func (c conversationHandler) send(ctx context.Context, h *identity.Handle, chatID int64, text string) error {
	if _, err := h.Sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// DisplayName picks the username, then the first name, then User_{id}.
func DisplayName(u *models.User) string {
	switch {
	case u.Username != "":
		return u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return fmt.Sprintf("User_%d", u.ID)
	}
}
