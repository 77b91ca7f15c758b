// Package payments formats and parses invoice payloads and builds the
// invoices the bot sends.
//
// Payloads are plain strings carried through Telegram's payment flow:
// "vip_30_days", "ppv_{mediaID}" and "custom_{requestID}".
package payments

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
)

// Kind classifies a payload.
type Kind string

const (
	KindVIP     Kind = "vip"
	KindPPV     Kind = "ppv"
	KindCustom  Kind = "custom"
	KindUnknown Kind = "unknown"
)

// VIPPayload is the payload of the VIP invoice.
const VIPPayload = "vip_30_days"

const (
	ppvPrefix    = "ppv_"
	customPrefix = "custom_"
)

// PPVPayload returns the unlock payload for a catalog item.
func PPVPayload(mediaID int64) string {
	return ppvPrefix + strconv.FormatInt(mediaID, 10)
}

// CustomPayload returns the payload for a quoted custom request.
func CustomPayload(requestID int64) string {
	return customPrefix + strconv.FormatInt(requestID, 10)
}

// Parse classifies payload and extracts the referenced id for ppv and custom payloads.
func Parse(payload string) (Kind, int64) {
	switch {
	case payload == VIPPayload:
		return KindVIP, 0
	case strings.HasPrefix(payload, ppvPrefix):
		if id, err := strconv.ParseInt(payload[len(ppvPrefix):], 10, 64); err == nil && id > 0 {
			return KindPPV, id
		}
	case strings.HasPrefix(payload, customPrefix):
		if id, err := strconv.ParseInt(payload[len(customPrefix):], 10, 64); err == nil && id > 0 {
			return KindCustom, id
		}
	}
	return KindUnknown, 0
}

// Invoices builds invoice parameters from the chat configuration.
type Invoices struct {
	VIP      config.VIPConfig
	Messages config.MessagesConfig
}

// NewInvoices creates an invoice builder.
func NewInvoices(chat config.ChatConfig) Invoices {
	return Invoices{VIP: chat.VIP, Messages: chat.Messages}
}

func (i Invoices) params(chatID int64, title, description, payload, label string, amount int) *bot.SendInvoiceParams {
	return &bot.SendInvoiceParams{
		ChatID:        chatID,
		Title:         title,
		Description:   description,
		Payload:       payload,
		ProviderToken: i.VIP.ProviderToken,
		Currency:      i.VIP.Currency,
		Prices:        []models.LabeledPrice{{Label: label, Amount: amount}},
	}
}

// VIPInvoice is the subscription invoice sent by the /vip command.
func (i Invoices) VIPInvoice(chatID int64) *bot.SendInvoiceParams {
	return i.params(chatID, i.VIP.Title, i.VIP.Description, VIPPayload, i.VIP.Title, i.VIP.Price)
}

// PPVInvoice is the unlock invoice for a catalog item.
func (i Invoices) PPVInvoice(chatID int64, media *database.MediaContent) *bot.SendInvoiceParams {
	return i.params(chatID, media.Name, i.Messages.OfferDescription, PPVPayload(media.ID), media.Name, media.Price)
}

// CustomInvoice is the invoice for a quoted custom request.
func (i Invoices) CustomInvoice(chatID int64, req *database.CustomRequest) *bot.SendInvoiceParams {
	return i.params(chatID, i.Messages.CustomTitle, truncate(req.Description, 255), CustomPayload(req.ID), i.Messages.CustomTitle, req.Price)
}

// OfferMarker is the assistant-side history line recorded after an offer.
func (i Invoices) OfferMarker(media *database.MediaContent) string {
	if strings.Contains(i.Messages.OfferMarker, "%s") {
		return fmt.Sprintf(i.Messages.OfferMarker, media.Name)
	}
	return i.Messages.OfferMarker + " " + media.Name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the result stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
