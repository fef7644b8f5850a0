package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/pomo-api/internal/config"
)

// loadAppConfig loads the application configuration from environment variables or config file.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	if cfg.Redis.URL != "" {
		slog.Debug("Redis configuration", "url_present", true)
	}
	return cfg, nil
}
