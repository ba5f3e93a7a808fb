// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package config loads and validates the service configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, with later layers overriding earlier ones.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the VidPulse server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Cache      CacheConfig      `koanf:"cache"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Stream     StreamConfig     `koanf:"stream"`
	API        APIConfig        `koanf:"api"`
	Retention  RetentionConfig  `koanf:"retention"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds the DuckDB settings for the historical store.
type DatabaseConfig struct {
	// Path is the database file. Empty selects an in-memory database,
	// which loses all flushed windows on restart.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// AggregatorConfig holds the windowing engine settings. The second-based
// fields mirror the event-time arithmetic, which works in whole seconds.
type AggregatorConfig struct {
	WindowSizeSeconds      int64 `koanf:"window_size_seconds"`
	AllowedLatenessSeconds int64 `koanf:"allowed_lateness_seconds"`

	// GracePeriodSeconds extends how long a closed window still folds
	// late events. Zero selects AllowedLatenessSeconds.
	GracePeriodSeconds int64 `koanf:"grace_period_seconds"`

	SketchThreshold int `koanf:"sketch_threshold"`

	// SnapshotRetentionSeconds is how long flushed windows keep
	// contributing to the live snapshot. Zero selects
	// max(grace, 2*window size).
	SnapshotRetentionSeconds int64 `koanf:"snapshot_retention_seconds"`
}

// CacheConfig holds the snapshot cache settings.
type CacheConfig struct {
	TTLSeconds int64 `koanf:"ttl_seconds"`
}

// DedupConfig holds the idempotency guard settings.
type DedupConfig struct {
	BucketWidthSeconds    int64   `koanf:"bucket_width_seconds"`
	ExpectedKeysPerBucket int     `koanf:"expected_keys_per_bucket"`
	FalsePositiveRate     float64 `koanf:"false_positive_rate"`
}

// ReconcilerConfig holds the flush pipeline settings.
type ReconcilerConfig struct {
	BatchSize      int           `koanf:"batch_size"`
	MaxRetries     int           `koanf:"max_retries"`
	FlushInterval  time.Duration `koanf:"flush_interval"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	StuckThreshold time.Duration `koanf:"stuck_threshold"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
}

// CheckpointConfig holds the Badger checkpoint store settings.
type CheckpointConfig struct {
	// Path is the Badger directory. Empty selects an in-memory store.
	Path string `koanf:"path"`
}

// StreamConfig holds the in-process event bus settings.
type StreamConfig struct {
	BufferSize           int           `koanf:"buffer_size"`
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// APIConfig holds the HTTP surface settings.
type APIConfig struct {
	CORSOrigins             []string      `koanf:"cors_origins"`
	RateLimitRequests       int           `koanf:"rate_limit_requests"`
	RateLimitWindow         time.Duration `koanf:"rate_limit_window"`
	IngestRateLimitRequests int           `koanf:"ingest_rate_limit_requests"`
}

// RetentionConfig holds the historical cleanup settings.
type RetentionConfig struct {
	// Days is how long flushed windows stay in the historical store.
	Days int `koanf:"days"`

	// Schedule is a cron expression for the cleanup job.
	Schedule string `koanf:"schedule"`
}

// LoggingConfig holds the log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// WindowSize returns the tumbling window duration.
func (a AggregatorConfig) WindowSize() time.Duration {
	return time.Duration(a.WindowSizeSeconds) * time.Second
}

// AllowedLateness returns the watermark lag duration.
func (a AggregatorConfig) AllowedLateness() time.Duration {
	return time.Duration(a.AllowedLatenessSeconds) * time.Second
}

// GracePeriod returns the late-fold duration.
func (a AggregatorConfig) GracePeriod() time.Duration {
	return time.Duration(a.GracePeriodSeconds) * time.Second
}

// SnapshotRetention returns the snapshot contribution duration.
func (a AggregatorConfig) SnapshotRetention() time.Duration {
	return time.Duration(a.SnapshotRetentionSeconds) * time.Second
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true, "panic": true,
}

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}

	if c.Database.MaxMemory == "" {
		return fmt.Errorf("database.max_memory must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must not be negative, got %d", c.Database.Threads)
	}

	if c.Aggregator.WindowSizeSeconds <= 0 {
		return fmt.Errorf("aggregator.window_size_seconds must be positive, got %d", c.Aggregator.WindowSizeSeconds)
	}
	if c.Aggregator.AllowedLatenessSeconds < 0 {
		return fmt.Errorf("aggregator.allowed_lateness_seconds must not be negative, got %d", c.Aggregator.AllowedLatenessSeconds)
	}
	if c.Aggregator.GracePeriodSeconds < 0 {
		return fmt.Errorf("aggregator.grace_period_seconds must not be negative, got %d", c.Aggregator.GracePeriodSeconds)
	}
	if c.Aggregator.SketchThreshold < 1 {
		return fmt.Errorf("aggregator.sketch_threshold must be at least 1, got %d", c.Aggregator.SketchThreshold)
	}

	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive, got %d", c.Cache.TTLSeconds)
	}

	if c.Dedup.FalsePositiveRate <= 0 || c.Dedup.FalsePositiveRate >= 1 {
		return fmt.Errorf("dedup.false_positive_rate must be in (0, 1), got %g", c.Dedup.FalsePositiveRate)
	}

	if c.Reconciler.BatchSize < 1 {
		return fmt.Errorf("reconciler.batch_size must be at least 1, got %d", c.Reconciler.BatchSize)
	}
	if c.Reconciler.MaxRetries < 0 {
		return fmt.Errorf("reconciler.max_retries must not be negative, got %d", c.Reconciler.MaxRetries)
	}
	if c.Reconciler.FlushInterval <= 0 {
		return fmt.Errorf("reconciler.flush_interval must be positive, got %s", c.Reconciler.FlushInterval)
	}

	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1, got %d", c.Retention.Days)
	}
	if c.Retention.Schedule == "" {
		return fmt.Errorf("retention.schedule must not be empty")
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
