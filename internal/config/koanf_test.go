// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}

	if cfg.Database.Path != "/data/vidpulse.duckdb" {
		t.Errorf("Database.Path = %q, want /data/vidpulse.duckdb", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "512MB" {
		t.Errorf("Database.MaxMemory = %q, want 512MB", cfg.Database.MaxMemory)
	}

	if cfg.Aggregator.WindowSizeSeconds != 300 {
		t.Errorf("Aggregator.WindowSizeSeconds = %d, want 300", cfg.Aggregator.WindowSizeSeconds)
	}
	if cfg.Aggregator.AllowedLatenessSeconds != 60 {
		t.Errorf("Aggregator.AllowedLatenessSeconds = %d, want 60", cfg.Aggregator.AllowedLatenessSeconds)
	}
	if got := cfg.Aggregator.WindowSize(); got != 5*time.Minute {
		t.Errorf("WindowSize() = %v, want 5m", got)
	}

	if cfg.Cache.TTLSeconds != 60 {
		t.Errorf("Cache.TTLSeconds = %d, want 60", cfg.Cache.TTLSeconds)
	}

	if cfg.Reconciler.BatchSize != 100 {
		t.Errorf("Reconciler.BatchSize = %d, want 100", cfg.Reconciler.BatchSize)
	}
	if cfg.Reconciler.FlushInterval != 10*time.Second {
		t.Errorf("Reconciler.FlushInterval = %v, want 10s", cfg.Reconciler.FlushInterval)
	}

	if cfg.Retention.Days != 90 {
		t.Errorf("Retention.Days = %d, want 90", cfg.Retention.Days)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"DUCKDB_PATH", "database.path"},
		{"WINDOW_SIZE_SECONDS", "aggregator.window_size_seconds"},
		{"ALLOWED_LATENESS_SECONDS", "aggregator.allowed_lateness_seconds"},
		{"GRACE_PERIOD_SECONDS", "aggregator.grace_period_seconds"},
		{"CACHE_TTL_SECONDS", "cache.ttl_seconds"},
		{"BATCH_SIZE", "reconciler.batch_size"},
		{"MAX_RETRIES", "reconciler.max_retries"},
		{"LOG_LEVEL", "logging.level"},
		{"RETENTION_DAYS", "retention.days"},
		{"PATH", ""},
		{"RANDOM_UNRELATED_VAR", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("WINDOW_SIZE_SECONDS", "60")
	t.Setenv("ALLOWED_LATENESS_SECONDS", "15")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BATCH_SIZE", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Aggregator.WindowSizeSeconds != 60 {
		t.Errorf("WindowSizeSeconds = %d, want 60", cfg.Aggregator.WindowSizeSeconds)
	}
	if cfg.Aggregator.AllowedLatenessSeconds != 15 {
		t.Errorf("AllowedLatenessSeconds = %d, want 15", cfg.Aggregator.AllowedLatenessSeconds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Reconciler.BatchSize != 50 {
		t.Errorf("Reconciler.BatchSize = %d, want 50", cfg.Reconciler.BatchSize)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 4000
aggregator:
  window_size_seconds: 120
logging:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Aggregator.WindowSizeSeconds != 120 {
		t.Errorf("WindowSizeSeconds = %d, want 120", cfg.Aggregator.WindowSizeSeconds)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.Database.MaxMemory != "512MB" {
		t.Errorf("Database.MaxMemory = %q, want default 512MB", cfg.Database.MaxMemory)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 4000
logging:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, env should beat file", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, file should beat default", cfg.Logging.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"HTTP_PORT": "99999"}},
		{"zero window", map[string]string{"WINDOW_SIZE_SECONDS": "0"}},
		{"negative lateness", map[string]string{"ALLOWED_LATENESS_SECONDS": "-5"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"zero batch size", map[string]string{"BATCH_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}

func TestCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.API.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.API.CORSOrigins, want)
	}
	for i := range want {
		if cfg.API.CORSOrigins[i] != want[i] {
			t.Errorf("CORSOrigins[%d] = %q, want %q", i, cfg.API.CORSOrigins[i], want[i])
		}
	}
}
