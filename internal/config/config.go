// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package config loads DealerPulse configuration via Koanf v2 with layered
// sources: built-in defaults, an optional YAML config file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the DealerPulse server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SecurityConfig holds authentication and origin settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies bearer tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the validity window for tokens minted by this process.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// AllowedOrigins is the websocket origin allow-list. "*" allows any.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// DevMode disables origin checking for local development.
	DevMode bool `koanf:"dev_mode"`
}

// RealtimeConfig holds websocket hub settings.
type RealtimeConfig struct {
	// HeartbeatInterval is how often the hub probes connections.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// LivenessWindow is the maximum gap between liveness responses before
	// a connection is reaped.
	LivenessWindow time.Duration `koanf:"liveness_window"`

	// SendBuffer is the per-client outbound frame buffer. Frames beyond it
	// are dropped (best-effort delivery).
	SendBuffer int `koanf:"send_buffer"`

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// WriteWait is the per-frame write deadline.
	WriteWait time.Duration `koanf:"write_wait"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			TokenTTL:       24 * time.Hour,
			AllowedOrigins: []string{"https://autolytiq.com", "http://localhost:5000"},
			DevMode:        false,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 15 * time.Second,
			LivenessWindow:    30 * time.Second,
			SendBuffer:        256,
			MaxMessageSize:    512 * 1024,
			WriteWait:         10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("security.token_ttl must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive")
	}
	if c.Realtime.LivenessWindow <= c.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime.liveness_window (%s) must exceed heartbeat_interval (%s)",
			c.Realtime.LivenessWindow, c.Realtime.HeartbeatInterval)
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("realtime.send_buffer must be at least 1")
	}
	if c.Realtime.MaxMessageSize < 1 {
		return fmt.Errorf("realtime.max_message_size must be positive")
	}
	return nil
}
