// Package config provides configuration loading, validation, and management
// for PersonaBot. Values come from defaults, a YAML file, a .env file and
// BOT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every error returned by LoadConfig.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration parameters for all components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the process-wide platform credential and transport mode.
// A persona without its own token falls back to Token.
type TelegramConfig struct {
	Token              string        `mapstructure:"token"                validate:"required"`
	Mode               string        `mapstructure:"mode"                 validate:"oneof=webhook polling"`
	WebhookURL         string        `mapstructure:"webhook_url"          validate:"required_if=Mode webhook"`
	DropPendingUpdates bool          `mapstructure:"drop_pending_updates"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"      validate:"min=1s,max=5m"`
}

// ProviderConfig holds the default credential for one generation provider.
type ProviderConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// AIConfig holds generation defaults. Personas may override provider,
// model and token.
type AIConfig struct {
	Provider    string         `mapstructure:"provider"    validate:"oneof=openai gemini anthropic"`
	Model       string         `mapstructure:"model"       validate:"required"`
	Temperature float32        `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int            `mapstructure:"max_tokens"  validate:"min=1,max=32000"`
	Timeout     time.Duration  `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	MaxRetries  int            `mapstructure:"max_retries" validate:"min=0,max=10"`
	OpenAI      ProviderConfig `mapstructure:"openai"`
	Gemini      ProviderConfig `mapstructure:"gemini"`
	Anthropic   ProviderConfig `mapstructure:"anthropic"`
}

// DatabaseConfig selects the SQL driver.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn"    validate:"required"`
}

// RedisConfig points at the ephemeral counter store.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AdminConfig configures the HTTP control surface.
type AdminConfig struct {
	Listen          string        `mapstructure:"listen"           validate:"required,hostname_port"`
	Username        string        `mapstructure:"username"         validate:"required"`
	Password        string        `mapstructure:"password"         validate:"required,min=8"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=10m"`
}

// VIPConfig describes the VIP invoice.
type VIPConfig struct {
	Title         string `mapstructure:"title"          validate:"required"`
	Description   string `mapstructure:"description"    validate:"required"`
	Price         int    `mapstructure:"price"          validate:"min=1"`
	Days          int    `mapstructure:"days"           validate:"min=1"`
	Currency      string `mapstructure:"currency"       validate:"required,len=3"`
	ProviderToken string `mapstructure:"provider_token"`
}

// MessagesConfig holds user-facing text. Replies are in the persona's voice.
type MessagesConfig struct {
	Upsell             string `mapstructure:"upsell"              validate:"required"`
	Apology            string `mapstructure:"apology"`
	Distracted         string `mapstructure:"distracted"          validate:"required"`
	Busy               string `mapstructure:"busy"                validate:"required"`
	Leaving            string `mapstructure:"leaving"             validate:"required"`
	MemoryInstructions string `mapstructure:"memory_instructions" validate:"required"`
	CatalogHeader      string `mapstructure:"catalog_header"      validate:"required"`
	OfferDescription   string `mapstructure:"offer_description"   validate:"required"`
	OfferMarker        string `mapstructure:"offer_marker"        validate:"required"`
	CustomTitle        string `mapstructure:"custom_title"        validate:"required"`
	PaymentThanks      string `mapstructure:"payment_thanks"      validate:"required"`
}

// ChatConfig tunes the conversation pipeline.
type ChatConfig struct {
	FreeMessageLimit int            `mapstructure:"free_message_limit" validate:"min=1"`
	HistorySize      int            `mapstructure:"history_size"       validate:"min=1,max=200"`
	BusyTTL          time.Duration  `mapstructure:"busy_ttl"           validate:"min=1s,max=10m"`
	FailTierTTL      time.Duration  `mapstructure:"fail_tier_ttl"      validate:"min=1m,max=48h"`
	TurnTimeout      time.Duration  `mapstructure:"turn_timeout"       validate:"min=1s,max=10m"`
	VIP              VIPConfig      `mapstructure:"vip"`
	Messages         MessagesConfig `mapstructure:"messages"`
}

// BroadcastConfig paces campaign fan-out.
type BroadcastConfig struct {
	SendInterval time.Duration `mapstructure:"send_interval" validate:"min=0,max=1m"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"  validate:"min=1s,max=5m"`
}

// TaskConfig enables one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}
