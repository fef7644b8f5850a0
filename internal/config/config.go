package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Session  SessionConfig  `mapstructure:"session"  validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"                     validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level"                validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// SessionConfig tunes the session engine.
type SessionConfig struct {
	// DefaultDurationMs is the planned duration used when a start request
	// does not name one.
	DefaultDurationMs int64 `mapstructure:"default_duration_ms" validate:"gt=0,ltefield=MaxDurationMs"`
	MaxDurationMs     int64 `mapstructure:"max_duration_ms"     validate:"gt=0"`
	// BroadcastIntervalMs is the heartbeat period for cosmetic countdown
	// updates. Zero disables the heartbeat.
	BroadcastIntervalMs int `mapstructure:"broadcast_interval_ms" validate:"gte=0"`
	PersistMaxAttempts  int `mapstructure:"persist_max_attempts"  validate:"gt=0"`
	PersistBackoffMs    int `mapstructure:"persist_backoff_ms"    validate:"gt=0"`
	TerminalMaxAttempts int `mapstructure:"terminal_max_attempts" validate:"gt=0"`
	PersistTimeoutMs    int `mapstructure:"persist_timeout_ms"    validate:"gt=0"`
	InboxSize           int `mapstructure:"inbox_size"            validate:"gt=0"`
}

// RedisConfig configures the optional snapshot cache. An empty URL disables it.
type RedisConfig struct {
	URL                string `mapstructure:"url"                  validate:"omitempty,url"`
	SnapshotTTLSeconds int    `mapstructure:"snapshot_ttl_seconds" validate:"gt=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}
