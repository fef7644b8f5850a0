package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. POMO_SERVER_PORT for server.port.
const EnvPrefix = "POMO"

var defaults = map[string]any{
	"server.port":                     8080,
	"server.log_level":                "info",
	"server.shutdown_timeout_seconds": 10,
	"auth.token_lifetime_minutes":     60,
	"session.default_duration_ms":     int64(25 * 60 * 1000),
	"session.max_duration_ms":         int64(4 * 60 * 60 * 1000),
	"session.broadcast_interval_ms":   1000,
	"session.persist_max_attempts":    3,
	"session.persist_backoff_ms":      50,
	"session.terminal_max_attempts":   8,
	"session.persist_timeout_ms":      2000,
	"session.inbox_size":              16,
	"redis.snapshot_ttl_seconds":      3600,
	"metrics.enabled":                 true,
	"metrics.path":                    "/metrics",
}

// keys without defaults still need explicit env bindings so Unmarshal sees them.
var requiredKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"redis.url",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
