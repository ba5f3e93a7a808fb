// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

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

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vidpulse/config.yaml",
	"/etc/vidpulse/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. The file and
// environment layers override these.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/vidpulse.duckdb",
			MaxMemory: "512MB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Aggregator: AggregatorConfig{
			WindowSizeSeconds:        300,
			AllowedLatenessSeconds:   60,
			GracePeriodSeconds:       0, // 0 = allowed lateness
			SketchThreshold:          256,
			SnapshotRetentionSeconds: 0, // 0 = max(grace, 2*window)
		},
		Cache: CacheConfig{
			TTLSeconds: 60,
		},
		Dedup: DedupConfig{
			BucketWidthSeconds:    60,
			ExpectedKeysPerBucket: 16384,
			FalsePositiveRate:     0.01,
		},
		Reconciler: ReconcilerConfig{
			BatchSize:      100,
			MaxRetries:     5,
			FlushInterval:  10 * time.Second,
			SweepInterval:  time.Minute,
			StuckThreshold: 5 * time.Minute,
			InitialBackoff: 500 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{
			Path: "/data/checkpoints",
		},
		Stream: StreamConfig{
			BufferSize:           1024,
			RetryMaxRetries:      3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			CloseTimeout:         30 * time.Second,
		},
		API: APIConfig{
			CORSOrigins:             []string{},
			RateLimitRequests:       300,
			RateLimitWindow:         time.Minute,
			IngestRateLimitRequests: 6000,
		},
		Retention: RetentionConfig{
			Days:     90,
			Schedule: "0 3 * * *", // daily, 03:00
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
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

// findConfigFile returns the first config file that exists, or "".
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

// sliceConfigPaths lists the paths parsed as comma-separated slices when
// they arrive as env var strings.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice from the YAML layer.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - WINDOW_SIZE_SECONDS -> aggregator.window_size_seconds
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Aggregator mappings
		"window_size_seconds":        "aggregator.window_size_seconds",
		"allowed_lateness_seconds":   "aggregator.allowed_lateness_seconds",
		"grace_period_seconds":       "aggregator.grace_period_seconds",
		"sketch_threshold":           "aggregator.sketch_threshold",
		"snapshot_retention_seconds": "aggregator.snapshot_retention_seconds",

		// Cache mappings
		"cache_ttl_seconds": "cache.ttl_seconds",

		// Dedup mappings
		"dedup_bucket_width_seconds": "dedup.bucket_width_seconds",
		"dedup_expected_keys":        "dedup.expected_keys_per_bucket",
		"dedup_false_positive_rate":  "dedup.false_positive_rate",

		// Reconciler mappings
		"batch_size":      "reconciler.batch_size",
		"max_retries":     "reconciler.max_retries",
		"flush_interval":  "reconciler.flush_interval",
		"sweep_interval":  "reconciler.sweep_interval",
		"stuck_threshold": "reconciler.stuck_threshold",
		"initial_backoff": "reconciler.initial_backoff",

		// Checkpoint mappings
		"checkpoint_path": "checkpoint.path",

		// Stream mappings
		"stream_buffer_size":            "stream.buffer_size",
		"stream_retry_max_retries":      "stream.retry_max_retries",
		"stream_retry_initial_interval": "stream.retry_initial_interval",
		"stream_retry_max_interval":     "stream.retry_max_interval",
		"stream_close_timeout":          "stream.close_timeout",

		// API mappings
		"cors_origins":               "api.cors_origins",
		"rate_limit_requests":        "api.rate_limit_requests",
		"rate_limit_window":          "api.rate_limit_window",
		"ingest_rate_limit_requests": "api.ingest_rate_limit_requests",

		// Retention mappings
		"retention_days":     "retention.days",
		"retention_schedule": "retention.schedule",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so stray environment variables never
	// pollute the config.
	return ""
}
