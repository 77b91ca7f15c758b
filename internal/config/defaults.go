package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultTelegramMode           = "webhook"
	DefaultTelegramRequestTimeout = 30 * time.Second

	DefaultAIProvider       = "openai"
	DefaultAIModel          = "gryphe/mythomax-l2-13b"
	DefaultAITemperature    = 0.8
	DefaultAIMaxTokens      = 250
	DefaultAITimeout        = 2 * time.Minute
	DefaultAIMaxRetries     = 2
	DefaultOpenAIBaseURL    = "https://openrouter.ai/api/v1"
	DefaultDatabaseDriver   = "sqlite"
	DefaultDatabaseDSN      = "storage.db"
	DefaultRedisURL         = "redis://localhost:6379/0"
	DefaultAdminListen      = ":8080"
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultFreeMessageLimit = 15
	DefaultHistorySize      = 20
	DefaultBusyTTL          = 2 * time.Minute
	DefaultFailTierTTL      = 3600 * time.Second
	DefaultTurnTimeout      = 3 * time.Minute
	DefaultVIPPrice         = 500
	DefaultVIPDays          = 30
	DefaultVIPCurrency      = "XTR"
	DefaultSendInterval     = 50 * time.Millisecond
	DefaultSendTimeout      = 15 * time.Second
)

// DefaultMessages is the stock persona-flavored copy.
var DefaultMessages = MessagesConfig{
	Upsell:     "I'd love to keep talking, but your free messages are used up 💔 Send /vip to unlock unlimited chat with me.",
	Apology:    "Sorry, something went wrong on my side 🙈 Try again in a moment?",
	Distracted: "Sorry, I got distracted for a second 🙈 Can you repeat that?",
	Busy:       "I'm a bit busy right now, I'll be back in 10 minutes 💋",
	Leaving:    "I have to go now, let's talk tomorrow 😘",
	MemoryInstructions: "When the user reveals a personal fact (name, age, city, job, likes), append [MEM: key=value] for each fact. " +
		"When the user asks for personalised content you do not have, append [CUSTOM_REQ: short description]. " +
		"Tags are hidden from the user; never mention them.",
	CatalogHeader:    "You may offer these paid items by writing the exact tag in your reply (at most one per reply):",
	OfferDescription: "Unlock exclusive content",
	OfferMarker:      "(sent a paid offer: %s)",
	CustomTitle:      "Your personal request",
	PaymentThanks:    "Thank you! 💖",
}

// setDefaults sets default values for every known key so that BOT_* environment
// variables can override them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", true)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.mode", DefaultTelegramMode)
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.drop_pending_updates", true)
	v.SetDefault("telegram.request_timeout", DefaultTelegramRequestTimeout)

	v.SetDefault("ai.provider", DefaultAIProvider)
	v.SetDefault("ai.model", DefaultAIModel)
	v.SetDefault("ai.temperature", DefaultAITemperature)
	v.SetDefault("ai.max_tokens", DefaultAIMaxTokens)
	v.SetDefault("ai.timeout", DefaultAITimeout)
	v.SetDefault("ai.max_retries", DefaultAIMaxRetries)
	v.SetDefault("ai.openai.token", "")
	v.SetDefault("ai.openai.base_url", DefaultOpenAIBaseURL)
	v.SetDefault("ai.gemini.token", "")
	v.SetDefault("ai.gemini.base_url", "")
	v.SetDefault("ai.anthropic.token", "")
	v.SetDefault("ai.anthropic.base_url", "")

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.dsn", DefaultDatabaseDSN)
	v.SetDefault("redis.url", DefaultRedisURL)

	v.SetDefault("admin.listen", DefaultAdminListen)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("chat.free_message_limit", DefaultFreeMessageLimit)
	v.SetDefault("chat.history_size", DefaultHistorySize)
	v.SetDefault("chat.busy_ttl", DefaultBusyTTL)
	v.SetDefault("chat.fail_tier_ttl", DefaultFailTierTTL)
	v.SetDefault("chat.turn_timeout", DefaultTurnTimeout)
	v.SetDefault("chat.vip.title", "VIP access")
	v.SetDefault("chat.vip.description", "Unlimited chat with me for 30 days")
	v.SetDefault("chat.vip.price", DefaultVIPPrice)
	v.SetDefault("chat.vip.days", DefaultVIPDays)
	v.SetDefault("chat.vip.currency", DefaultVIPCurrency)
	v.SetDefault("chat.vip.provider_token", "")

	v.SetDefault("chat.messages.upsell", DefaultMessages.Upsell)
	v.SetDefault("chat.messages.apology", DefaultMessages.Apology)
	v.SetDefault("chat.messages.distracted", DefaultMessages.Distracted)
	v.SetDefault("chat.messages.busy", DefaultMessages.Busy)
	v.SetDefault("chat.messages.leaving", DefaultMessages.Leaving)
	v.SetDefault("chat.messages.memory_instructions", DefaultMessages.MemoryInstructions)
	v.SetDefault("chat.messages.catalog_header", DefaultMessages.CatalogHeader)
	v.SetDefault("chat.messages.offer_description", DefaultMessages.OfferDescription)
	v.SetDefault("chat.messages.offer_marker", DefaultMessages.OfferMarker)
	v.SetDefault("chat.messages.custom_title", DefaultMessages.CustomTitle)
	v.SetDefault("chat.messages.payment_thanks", DefaultMessages.PaymentThanks)

	v.SetDefault("broadcast.send_interval", DefaultSendInterval)
	v.SetDefault("broadcast.send_timeout", DefaultSendTimeout)

	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance": map[string]any{"enabled": true, "schedule": "0 0 4 * * *"},
		"vip_expiry":      map[string]any{"enabled": true, "schedule": "0 */10 * * * *"},
	})
}
