// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	TokenSecret  string
	TokenTTL     time.Duration
	HistoryLimit int
	Governor     GovernorConfig
	Session      SessionConfig
	ClientQueue  int
}

// GovernorConfig holds the per-category request spacing intervals.
type GovernorConfig struct {
	AuthInterval     time.Duration
	StandardInterval time.Duration
	HeavyInterval    time.Duration
}

// SessionConfig controls reconnect and typing behavior for channel sessions.
type SessionConfig struct {
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	TypingIdleTimeout    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/chat.db"),
		TokenSecret:  getEnv("TOKEN_SECRET", ""),
		TokenTTL:     getEnvDuration("TOKEN_TTL", 24*time.Hour),
		HistoryLimit: getEnvInt("HISTORY_LIMIT", 50),
		Governor: GovernorConfig{
			AuthInterval:     getEnvDuration("GOVERNOR_AUTH_INTERVAL", time.Second),
			StandardInterval: getEnvDuration("GOVERNOR_STANDARD_INTERVAL", 250*time.Millisecond),
			HeavyInterval:    getEnvDuration("GOVERNOR_HEAVY_INTERVAL", 2*time.Second),
		},
		Session: SessionConfig{
			ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
			MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
			TypingIdleTimeout:    getEnvDuration("TYPING_IDLE_TIMEOUT", time.Second),
		},
		ClientQueue: getEnvInt("CLIENT_QUEUE_SIZE", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Governor.AuthInterval <= 0 || c.Governor.StandardInterval <= 0 || c.Governor.HeavyInterval <= 0 {
		return fmt.Errorf("governor intervals must be > 0")
	}
	if c.Session.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be > 0")
	}
	if c.Session.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be > 0")
	}
	if c.Session.TypingIdleTimeout <= 0 {
		return fmt.Errorf("TYPING_IDLE_TIMEOUT must be > 0")
	}
	if c.ClientQueue <= 0 {
		return fmt.Errorf("CLIENT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
