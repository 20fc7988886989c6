// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

// Package config loads Hivewatcher configuration from built-in defaults, an
// optional YAML file and environment variables, in increasing precedence.
//
//	cfg, err := config.Load()
//
// Environment variables keep the names the service has always used
// (MP_TOKEN, MP_SECRET, DATA_FOLDER, BLOCKNUM, MONTHS, HOURS, LOG, NODE_ENV,
// VERSION, GIT_BRANCH, GIT_SHA) plus newer ones for the NATS source, the
// outbox and the HTTP listener. See envMappings for the full list.
package config

import "time"

// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	App        AppConfig        `koanf:"app"`
	Tracking   TrackingConfig   `koanf:"tracking"`
	Storage    StorageConfig    `koanf:"storage"`
	Source     SourceConfig     `koanf:"source"`
	NATS       NATSConfig       `koanf:"nats"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Outbox     OutboxConfig     `koanf:"outbox"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// AppConfig identifies the build. Fed into the analytics super properties.
type AppConfig struct {
	Name        string `koanf:"name" validate:"required"`
	Environment string `koanf:"environment" validate:"required"`
	Version     string `koanf:"version"`
	GitBranch   string `koanf:"git_branch"`
	GitSHA      string `koanf:"git_sha"`
}

// TrackingConfig configures the analytics sink. Without a token tracking is
// disabled; without a secret old events fall back to the track endpoint.
type TrackingConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Token             string        `koanf:"token"`
	Secret            string        `koanf:"secret"`
	APIURL            string        `koanf:"api_url" validate:"omitempty,url"`
	BatchSize         int           `koanf:"batch_size" validate:"gte=1,lte=50"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"gte=1"`
	MaxRetries        int           `koanf:"max_retries" validate:"gte=0"`
	MaxAge            time.Duration `koanf:"max_age"`
}

// Active reports whether events should reach the remote API at all.
func (t TrackingConfig) Active() bool {
	return t.Enabled && t.Token != ""
}

// StorageConfig configures the NDJSON partition files.
type StorageConfig struct {
	DataDir       string        `koanf:"data_dir" validate:"required"`
	IdleThreshold time.Duration `koanf:"idle_threshold"`
	EvictInterval time.Duration `koanf:"evict_interval"`
}

// SourceConfig selects where the podping stream starts. The first non-zero
// of StartBlock, Months, Hours, Minutes wins.
type SourceConfig struct {
	StartBlock int64  `koanf:"start_block" validate:"gte=0"`
	Months     int    `koanf:"months" validate:"gte=0"`
	Hours      int    `koanf:"hours" validate:"gte=0"`
	Minutes    int    `koanf:"minutes" validate:"gte=0"`
	Topic      string `koanf:"topic" validate:"required"`
}

// NATSConfig configures the JetStream connection the podping feed arrives on.
type NATSConfig struct {
	URL              string        `koanf:"url" validate:"required,nats_url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	Port             int           `koanf:"port" validate:"gte=0,lte=65535"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"gte=1"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// PipelineConfig bounds the intake loop.
type PipelineConfig struct {
	MaxInFlight     int           `koanf:"max_in_flight" validate:"gte=1"`
	DedupTTL        time.Duration `koanf:"dedup_ttl"`
	DedupCapacity   int           `koanf:"dedup_capacity" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// OutboxConfig configures the BadgerDB store of failed deliveries.
type OutboxConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxAttempts   int           `koanf:"max_attempts" validate:"gte=1"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
	BatchSize     int           `koanf:"batch_size" validate:"gte=1"`
}

// ServerConfig configures the health and metrics listener.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal silent disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
