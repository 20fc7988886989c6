// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

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

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hivewatcher/config.yaml",
	"/etc/hivewatcher/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "hive-watcher",
			Environment: "development",
			Version:     "0.0.0",
			GitBranch:   "unknown",
			GitSHA:      "unknown",
		},
		Tracking: TrackingConfig{
			Enabled:           true,
			BatchSize:         50,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
			MaxRetries:        5,
			MaxAge:            108 * time.Hour, // 4.5 days
		},
		Storage: StorageConfig{
			DataDir:       "data",
			IdleThreshold: 120 * time.Second,
			EvictInterval: 60 * time.Second,
		},
		Source: SourceConfig{
			Topic: "podping",
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   false,
			StoreDir:         "data/nats",
			Port:             4222,
			DurableName:      "", // ephemeral: the start options apply on every boot
			QueueGroup:       "",
			SubscribersCount: 1, // one subscriber keeps arrival order
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxInFlight:     64,
			DedupTTL:        10 * time.Minute,
			DedupCapacity:   10000,
			ShutdownTimeout: 30 * time.Second,
		},
		Outbox: OutboxConfig{
			Enabled:       true,
			Path:          "data/outbox",
			RetryInterval: 30 * time.Second,
			MaxAttempts:   10,
			EntryTTL:      7 * 24 * time.Hour,
			BatchSize:     50,
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            ":9464",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from three layers:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables listed in envMappings
//
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps lowercased environment variable names to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	// Analytics sink
	"mp_token":               "tracking.token",
	"mp_secret":              "tracking.secret",
	"mp_api_url":             "tracking.api_url",
	"tracking_enabled":       "tracking.enabled",
	"mp_batch_size":          "tracking.batch_size",
	"mp_timeout":             "tracking.timeout",
	"mp_requests_per_second": "tracking.requests_per_second",
	"mp_max_retries":         "tracking.max_retries",
	"import_max_age":         "tracking.max_age",

	// Build info
	"version":     "app.version",
	"git_branch":  "app.git_branch",
	"git_sha":     "app.git_sha",
	"node_env":    "app.environment",
	"environment": "app.environment",

	// Partition files
	"data_folder":    "storage.data_dir",
	"idle_threshold": "storage.idle_threshold",
	"evict_interval": "storage.evict_interval",

	// Stream start
	"blocknum":      "source.start_block",
	"months":        "source.months",
	"hours":         "source.hours",
	"minutes":       "source.minutes",
	"nats_subject":  "source.topic",
	"podping_topic": "source.topic",

	// NATS
	"nats_url":         "nats.url",
	"nats_embedded":    "nats.embedded_server",
	"nats_store_dir":   "nats.store_dir",
	"nats_port":        "nats.port",
	"nats_durable":     "nats.durable_name",
	"nats_queue_group": "nats.queue_group",
	"nats_ack_wait":    "nats.ack_wait_timeout",

	// Pipeline
	"max_in_flight":    "pipeline.max_in_flight",
	"dedup_ttl":        "pipeline.dedup_ttl",
	"dedup_capacity":   "pipeline.dedup_capacity",
	"shutdown_timeout": "pipeline.shutdown_timeout",

	// Outbox
	"outbox_enabled":        "outbox.enabled",
	"outbox_path":           "outbox.path",
	"outbox_retry_interval": "outbox.retry_interval",
	"outbox_max_attempts":   "outbox.max_attempts",
	"outbox_ttl":            "outbox.entry_ttl",

	// HTTP
	"http_enabled": "server.enabled",
	"http_addr":    "server.addr",

	// Logging
	"log":        "logging.level",
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
