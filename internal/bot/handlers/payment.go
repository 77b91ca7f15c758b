package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/metrics"
	"github.com/edgard/personabot/internal/payments"
)

// ProviderTelegram is the ledger provider name for in-chat payments.
const ProviderTelegram = "telegram"

type paymentHandler struct {
	deps HandlerDeps
}

// errNotDeliverable marks a paid purchase that cannot be handed over as
// stored. The charge stays pending for an operator to resolve.
var errNotDeliverable = errors.New("purchase not deliverable")

// NewPaymentHandler creates the handler for successful payment confirmations.
// A charge is recorded as pending and completed only once the purchase has
// been handed over, so a redelivered confirmation retries a failed delivery
// and is ignored after a successful one.
func NewPaymentHandler(deps HandlerDeps) Handler {
	return paymentHandler{deps}.Handle
}

func (p paymentHandler) Handle(ctx context.Context, h *identity.Handle, update *models.Update) {
	msg := update.Message
	pay := msg.SuccessfulPayment
	log := p.deps.Logger.With("handler", "payment", "user_id", msg.From.ID, "charge_id", pay.TelegramPaymentChargeID, "payload", pay.InvoicePayload)

	kind, err := p.apply(ctx, log, h, msg)
	switch {
	case errors.Is(err, errNotDeliverable):
		log.WarnContext(ctx, "Paid purchase rejected, charge left pending", "error", err)
		apologize(ctx, p.deps, h, msg.Chat.ID)
		return
	case err != nil:
		log.ErrorContext(ctx, "Failed to process payment", "error", err)
		apologize(ctx, p.deps, h, msg.Chat.ID)
		return
	}
	if kind == "" {
		return
	}
	metrics.Payments.WithLabelValues(string(kind)).Inc()

	if thanks := p.deps.Config.Chat.Messages.PaymentThanks; thanks != "" {
		if _, err := h.Sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: msg.Chat.ID, Text: thanks}); err != nil {
			log.WarnContext(ctx, "Failed to send payment thanks", "error", err)
		}
	}
}

// apply records the charge and grants what was bought. It returns an empty
// kind for a charge that was already completed.
func (p paymentHandler) apply(ctx context.Context, log *slog.Logger, h *identity.Handle, msg *models.Message) (payments.Kind, error) {
	deps := p.deps
	pay := msg.SuccessfulPayment

	user, err := deps.Store.GetOrCreateUser(ctx, &database.User{
		TelegramID: msg.From.ID,
		Username:   msg.From.Username,
		FullName:   DisplayName(msg.From),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve payer: %w", err)
	}

	created, err := deps.Store.RecordTransaction(ctx, &database.Transaction{
		ID:       pay.TelegramPaymentChargeID,
		UserID:   user.TelegramID,
		Payload:  pay.InvoicePayload,
		Amount:   pay.TotalAmount,
		Currency: pay.Currency,
		Provider: ProviderTelegram,
		Status:   database.TransactionPending,
	})
	if err != nil {
		return "", err
	}
	if !created {
		existing, err := deps.Store.GetTransaction(ctx, pay.TelegramPaymentChargeID)
		if err != nil {
			return "", err
		}
		if existing.Status == database.TransactionCompleted {
			log.InfoContext(ctx, "Payment already applied, ignoring redelivery")
			return "", nil
		}
		log.InfoContext(ctx, "Retrying delivery for pending charge")
	}

	kind, id := payments.Parse(pay.InvoicePayload)

	// Load and check the goods before granting anything.
	var (
		media  *database.MediaContent
		custom *database.CustomRequest
	)
	switch kind {
	case payments.KindPPV:
		if media, err = deps.Store.GetMedia(ctx, id); err != nil {
			return "", fmt.Errorf("failed to load purchased media %d: %w", id, err)
		}
	case payments.KindCustom:
		if custom, err = deps.Store.GetCustomRequest(ctx, id); err != nil {
			return "", fmt.Errorf("failed to load custom request %d: %w", id, err)
		}
		if custom.UserID != user.TelegramID {
			return "", fmt.Errorf("%w: custom request %d belongs to user %d", errNotDeliverable, id, custom.UserID)
		}
		if custom.ContentRef == "" {
			return "", fmt.Errorf("%w: custom request %d has not been quoted", errNotDeliverable, id)
		}
	}

	extend := time.Duration(0)
	if kind == payments.KindVIP {
		extend = time.Duration(deps.Config.Chat.VIP.Days) * 24 * time.Hour
	}
	if err := deps.Store.GrantVIP(ctx, user.TelegramID, extend); err != nil {
		return "", err
	}

	switch kind {
	case payments.KindPPV:
		if err := deliver(ctx, h, msg.Chat.ID, media.Kind, media.ContentRef, media.Name); err != nil {
			return "", err
		}
		log.InfoContext(ctx, "Purchased media delivered", "media_id", id)
	case payments.KindCustom:
		if err := deliver(ctx, h, msg.Chat.ID, custom.Kind, custom.ContentRef, custom.Description); err != nil {
			return "", err
		}
		if err := deps.Store.SetCustomRequestStatus(ctx, id, database.RequestFulfilled); err != nil {
			log.WarnContext(ctx, "Failed to mark custom request fulfilled", "request_id", id, "error", err)
		}
		log.InfoContext(ctx, "Custom request delivered", "request_id", id)
	case payments.KindUnknown:
		log.WarnContext(ctx, "Payment with unrecognized payload")
	}

	if err := deps.Store.CompleteTransaction(ctx, pay.TelegramPaymentChargeID); err != nil {
		return "", err
	}
	return kind, nil
}

// deliver sends a photo or video by file id or URL with a caption.
func deliver(ctx context.Context, h *identity.Handle, chatID int64, kind, ref, caption string) error {
	file := &models.InputFileString{Data: ref}
	var err error
	switch kind {
	case database.MediaVideo:
		_, err = h.Sender.SendVideo(ctx, &tgbot.SendVideoParams{ChatID: chatID, Video: file, Caption: caption})
	default:
		_, err = h.Sender.SendPhoto(ctx, &tgbot.SendPhotoParams{ChatID: chatID, Photo: file, Caption: caption})
	}
	if err != nil {
		return fmt.Errorf("failed to deliver %s: %w", kind, err)
	}
	return nil
}
