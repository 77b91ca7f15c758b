package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BOT_TELEGRAM_TOKEN.
const EnvPrefix = "BOT"

// secretKeys have no meaningful default, so AutomaticEnv alone would not
// surface them during Unmarshal.
var secretKeys = []string{
	"telegram.token",
	"ai.openai.token",
	"ai.gemini.token",
	"ai.anthropic.token",
	"admin.password",
	"chat.vip.provider_token",
	"database.dsn",
	"redis.url",
}

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. the YAML file at path (optional, empty path means config.yaml)
// 3. a .env file in the working directory (optional)
// 4. BOT_* environment variables
func LoadConfig(path string) (*Config, error) {
	startTime := time.Now()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to read .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s: %v", ErrConfiguration, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		slog.Info("configuration file not found, using defaults and environment")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	slog.Info("configuration loaded successfully",
		"telegram_mode", cfg.Telegram.Mode,
		"ai_provider", cfg.AI.Provider,
		"ai_model", cfg.AI.Model,
		"db_driver", cfg.Database.Driver,
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	for name, task := range c.Scheduler.Tasks {
		if task.Enabled && strings.TrimSpace(task.Schedule) == "" {
			return fmt.Errorf("scheduler task %q is enabled without a schedule", name)
		}
	}
	return nil
}

// ProviderDefaults returns the configured credential for provider.
func (c *AIConfig) ProviderDefaults(provider string) ProviderConfig {
	switch provider {
	case "openai":
		return c.OpenAI
	case "gemini":
		return c.Gemini
	case "anthropic":
		return c.Anthropic
	}
	return ProviderConfig{}
}
