// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package config defines the Widgetsync configuration model and its layered
// loader. Configuration is resolved from three sources with clear precedence:
// environment variables override the optional YAML config file, which
// overrides built-in defaults.
package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Config is the root configuration for the Widgetsync server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Vault     VaultConfig     `koanf:"vault"`
	Registry  RegistryConfig  `koanf:"registry"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds Badger storage settings. All stores (credentials,
// integration definitions, widget instances, cache entries) share a single
// Badger instance under key prefixes.
type DatabaseConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// VaultConfig holds credential encryption settings.
//
// MasterKey is a base64-encoded 32-byte secret. Per-organization data keys
// are derived from it with HKDF, so a leaked ciphertext from one
// organization cannot be decrypted with another organization's derived key.
type VaultConfig struct {
	MasterKey string `koanf:"master_key"`
}

// RegistryConfig holds integration registry settings.
type RegistryConfig struct {
	// DefinitionsPath points at a YAML file of integration definitions
	// seeded into the registry at startup. Optional.
	DefinitionsPath string `koanf:"definitions_path"`
}

// SchedulerConfig holds background refresh scheduler settings.
type SchedulerConfig struct {
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	ScanInterval  time.Duration `koanf:"scan_interval"`
	MaxRetries    int           `koanf:"max_retries"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	DebounceFloor time.Duration `koanf:"debounce_floor"`
}

// FetchConfig holds outbound fetch settings shared by all fetchers.
type FetchConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	MaxItems     int           `koanf:"max_items"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
	// OAuthRefreshMargin is how far before token expiry a proactive
	// refresh is attempted.
	OAuthRefreshMargin time.Duration `koanf:"oauth_refresh_margin"`
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	// RatePerMinute caps webhook deliveries per integration.
	RatePerMinute int   `koanf:"rate_per_minute"`
	MaxBodyBytes  int64 `koanf:"max_body_bytes"`
}

// APIConfig holds API behavior settings.
type APIConfig struct {
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would prevent the
// server from operating correctly. It is called by Load after all layers
// are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		return fmt.Errorf("database.path is required unless database.in_memory is set")
	}
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Vault.MasterKey)
	if err != nil {
		return fmt.Errorf("vault.master_key must be base64: %w", err)
	}
	if len(key) < 32 {
		return fmt.Errorf("vault.master_key must decode to at least 32 bytes, got %d", len(key))
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must not be negative, got %d", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.ScanInterval <= 0 {
		return fmt.Errorf("scheduler.scan_interval must be positive, got %s", c.Scheduler.ScanInterval)
	}
	if c.Scheduler.DebounceFloor < 10*time.Second {
		return fmt.Errorf("scheduler.debounce_floor must be at least 10s, got %s", c.Scheduler.DebounceFloor)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.OAuthRefreshMargin <= 0 {
		return fmt.Errorf("fetch.oauth_refresh_margin must be positive, got %s", c.Fetch.OAuthRefreshMargin)
	}
	return nil
}

// MasterKeyBytes returns the decoded vault master key. Validate must have
// succeeded before calling this.
func (c *Config) MasterKeyBytes() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.Vault.MasterKey)
	return key
}
