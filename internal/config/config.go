// Package config provides bridge configuration loaded from environment
// variables and the connection settings file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds vault-bridge process configuration.
type Config struct {
	// Connection settings (named environments) file; empty = search defaults.
	SettingsFile string `envconfig:"BRIDGE_SETTINGS_FILE"`
	// ServiceName identifies the bridge to the queue server.
	ServiceName string `envconfig:"SERVICE_NAME" default:"vault-bridge"`

	// Vault
	VaultPath string `envconfig:"VAULT_PATH" default:"."`

	// Queue keys and polling
	Namespace  string        `envconfig:"BRIDGE_NAMESPACE" default:"obsidian-plugin"`
	PopTimeout time.Duration `envconfig:"BRIDGE_POP_TIMEOUT" default:"30s"`
	IdleDelay  time.Duration `envconfig:"BRIDGE_IDLE_DELAY" default:"1s"`
	// KeyTTL expires unread reply and monitor keys (0 = never).
	KeyTTL time.Duration `envconfig:"BRIDGE_KEY_TTL" default:"0s"`

	// Daily notes command
	DailyNotesFolder   string `envconfig:"DAILY_NOTES_FOLDER"`
	DailyNotesFormat   string `envconfig:"DAILY_NOTES_FORMAT" default:"2006-01-02"`
	DailyNotesTemplate string `envconfig:"DAILY_NOTES_TEMPLATE"`

	// Query engine
	QueryEnabled  bool   `envconfig:"QUERY_ENABLED" default:"true"`
	QueryIndexDSN string `envconfig:"QUERY_INDEX_DSN" default:":memory:"`

	// HTTP health endpoint (BRIDGE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr string `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the bridge.
func (c *Config) ValidateForServe() error {
	if c.VaultPath == "" {
		return fmt.Errorf("%s - VAULT_PATH is required for serve", logPrefix)
	}
	if c.PopTimeout <= 0 {
		return fmt.Errorf("%s - BRIDGE_POP_TIMEOUT must be positive", logPrefix)
	}
	if c.IdleDelay < 0 {
		return fmt.Errorf("%s - BRIDGE_IDLE_DELAY must not be negative", logPrefix)
	}
	if c.KeyTTL < 0 {
		return fmt.Errorf("%s - BRIDGE_KEY_TTL must not be negative", logPrefix)
	}
	if c.QueryEnabled && c.QueryIndexDSN == "" {
		return fmt.Errorf("%s - QUERY_INDEX_DSN is required when QUERY_ENABLED", logPrefix)
	}
	return nil
}

// HTTPListenAddr returns the health endpoint listen address.
func (c *Config) HTTPListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}
