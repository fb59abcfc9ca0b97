// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package config defines Pulseboard's configuration model and its koanf-based
// loader. Precedence, lowest to highest: struct defaults, YAML config file,
// PULSEBOARD_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Pulseboard server and the
// live synchronization layer.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	LiveSync  LiveSyncConfig  `koanf:"livesync"`
	Store     StoreConfig     `koanf:"store"`
	NATS      NATSConfig      `koanf:"nats"`
	Share     ShareConfig     `koanf:"share"`
	Connector ConnectorConfig `koanf:"connector"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8643".
	Addr string `koanf:"addr" validate:"required"`

	// CORSOrigins lists allowed browser origins for the dashboard frontend.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimit is the per-IP request budget per minute for API endpoints.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// LiveSyncConfig holds settings for the live resource synchronization layer.
type LiveSyncConfig struct {
	// PollInterval is the job tracker's fixed polling period.
	PollInterval time.Duration `koanf:"poll_interval" validate:"required"`

	// ReconnectMinDelay and ReconnectMaxDelay bound the transport channel's
	// exponential reconnect backoff.
	ReconnectMinDelay time.Duration `koanf:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `koanf:"reconnect_max_delay"`

	// JobsAPIRateLimit is the jobs API client's request budget per second.
	JobsAPIRateLimit float64 `koanf:"jobs_api_rate_limit" validate:"gt=0"`
}

// StoreConfig holds resource version store settings.
type StoreConfig struct {
	// Path is the badger database directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory runs the store without persistence (tests, ephemeral deploys).
	InMemory bool `koanf:"in_memory"`
}

// NATSConfig holds the optional NATS JetStream event transport settings.
// When disabled, resource events flow over an in-process channel.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url" validate:"required_if=Enabled true"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// ShareConfig holds public shareable-view token settings.
type ShareConfig struct {
	// Secret signs share-link tokens. Required when share links are issued.
	Secret string `koanf:"secret"`

	// TTL is how long a share link stays valid.
	TTL time.Duration `koanf:"ttl"`
}

// ConnectorConfig holds settings for the external data connector service
// that background sync jobs delegate to. An empty BaseURL disables sync job
// runners; the job API then rejects start requests.
type ConnectorConfig struct {
	BaseURL        string        `koanf:"base_url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8643",
			CORSOrigins:     []string{"http://localhost:5173"},
			RateLimit:       300,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		LiveSync: LiveSyncConfig{
			PollInterval:      2 * time.Second,
			ReconnectMinDelay: time.Second,
			ReconnectMaxDelay: 32 * time.Second,
			JobsAPIRateLimit:  10,
		},
		Store: StoreConfig{
			Path:     "/data/pulseboard/versions",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Share: ShareConfig{
			Secret: "",
			TTL:    7 * 24 * time.Hour,
		},
		Connector: ConnectorConfig{
			BaseURL:        "",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LiveSync.ReconnectMinDelay > c.LiveSync.ReconnectMaxDelay {
		return fmt.Errorf("livesync.reconnect_min_delay %s exceeds reconnect_max_delay %s",
			c.LiveSync.ReconnectMinDelay, c.LiveSync.ReconnectMaxDelay)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when store.in_memory is false")
	}
	return nil
}
