// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched, in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/widgetsync/config.yaml",
	"/etc/widgetsync/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "WIDGETSYNC_CONFIG"

// defaultConfig returns a Config with all built-in defaults. These are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8460,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:     "/data/widgetsync",
			InMemory: false,
		},
		Vault: VaultConfig{
			MasterKey: "",
		},
		Registry: RegistryConfig{
			DefinitionsPath: "",
		},
		Scheduler: SchedulerConfig{
			Workers:       4,
			QueueSize:     256,
			ScanInterval:  30 * time.Second,
			MaxRetries:    3,
			RetryBackoff:  2 * time.Second,
			DebounceFloor: 10 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:            20 * time.Second,
			MaxItems:           100,
			MaxBodyBytes:       4 << 20, // 4MB
			OAuthRefreshMargin: 5 * time.Minute,
		},
		Webhook: WebhookConfig{
			RatePerMinute: 60,
			MaxBodyBytes:  1 << 20, // 1MB
		},
		API: APIConfig{
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load resolves configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WIDGETSYNC_SERVER_PORT -> server.port, WIDGETSYNC_VAULT_MASTER_KEY ->
	// vault.master_key, and so on per the mapping table.
	if err := k.Load(env.Provider("WIDGETSYNC_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// supplied through environment variables.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps WIDGETSYNC_* environment variable names to koanf
// config paths.
//
// Examples:
//   - WIDGETSYNC_SERVER_PORT         -> server.port
//   - WIDGETSYNC_VAULT_MASTER_KEY    -> vault.master_key
//   - WIDGETSYNC_SCHEDULER_WORKERS   -> scheduler.workers
//   - WIDGETSYNC_LOG_LEVEL           -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "WIDGETSYNC_"))

	envMappings := map[string]string{
		"server_host":             "server.host",
		"server_port":             "server.port",
		"server_read_timeout":     "server.read_timeout",
		"server_write_timeout":    "server.write_timeout",
		"server_shutdown_timeout": "server.shutdown_timeout",

		"database_path":      "database.path",
		"database_in_memory": "database.in_memory",

		"vault_master_key": "vault.master_key",

		"registry_definitions_path": "registry.definitions_path",

		"scheduler_workers":        "scheduler.workers",
		"scheduler_queue_size":     "scheduler.queue_size",
		"scheduler_scan_interval":  "scheduler.scan_interval",
		"scheduler_max_retries":    "scheduler.max_retries",
		"scheduler_retry_backoff":  "scheduler.retry_backoff",
		"scheduler_debounce_floor": "scheduler.debounce_floor",

		"fetch_timeout":              "fetch.timeout",
		"fetch_max_items":            "fetch.max_items",
		"fetch_max_body_bytes":       "fetch.max_body_bytes",
		"fetch_oauth_refresh_margin": "fetch.oauth_refresh_margin",

		"webhook_rate_per_minute": "webhook.rate_per_minute",
		"webhook_max_body_bytes":  "webhook.max_body_bytes",

		"api_rate_limit_requests": "api.rate_limit_requests",
		"api_rate_limit_window":   "api.rate_limit_window",
		"api_cors_origins":        "api.cors_origins",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if path, ok := envMappings[key]; ok {
		return path
	}
	// Unknown WIDGETSYNC_ variables are ignored rather than guessed at.
	return ""
}
