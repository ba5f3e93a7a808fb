// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package retention prunes flushed windows from the historical store once
// they age past the configured retention horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vidpulse/vidpulse/internal/logging"
	"github.com/vidpulse/vidpulse/internal/metrics"
)

// Deleter is the slice of the historical store the janitor needs.
type Deleter interface {
	DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the cleanup job settings.
type Config struct {
	// Days is the retention horizon. Windows older than this are deleted.
	Days int

	// Schedule is a standard 5-field cron expression.
	// Default: "0 3 * * *" (daily at 03:00).
	Schedule string

	// RunTimeout bounds a single cleanup run. Default: 5m.
	RunTimeout time.Duration
}

// Janitor runs the scheduled cleanup against the historical store.
type Janitor struct {
	cfg   Config
	store Deleter
	cron  *cron.Cron
	nowFn func() time.Time
}

// New creates a janitor. Start must be called to begin scheduling.
func New(cfg Config, store Deleter) *Janitor {
	if cfg.Days < 1 {
		cfg.Days = 90
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	return &Janitor{
		cfg:   cfg,
		store: store,
		cron:  cron.New(),
		nowFn: time.Now,
	}
}

// Start registers the cleanup job and starts the scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, j.cfg.RunTimeout)
		defer cancel()
		j.RunOnce(runCtx)
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.cfg.Schedule, err)
	}

	j.cron.Start()
	logging.Info().
		Str("schedule", j.cfg.Schedule).
		Int("retention_days", j.cfg.Days).
		Msg("Retention janitor started")
	return nil
}

// Stop stops the scheduler. A run already in progress finishes on its own
// timeout.
func (j *Janitor) Stop() error {
	j.cron.Stop()
	return nil
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	cutoff := j.nowFn().UTC().AddDate(0, 0, -j.cfg.Days)

	deleted, err := j.store.DeleteWindowsBefore(ctx, cutoff)
	if err != nil {
		logging.Error().
			Err(err).
			Time("cutoff", cutoff).
			Msg("Retention cleanup failed")
		return
	}

	metrics.RetentionDeleted.Add(float64(deleted))
	logging.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Retention cleanup completed")
}
