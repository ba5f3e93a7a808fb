// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package reconciler drains closed windows from the aggregator into the
// durable store.
//
// Flow per flush tick: close due windows, checkpoint them, commit in batches
// through a circuit breaker with bounded exponential-backoff retries, then
// mark flushed and drop the checkpoints. A slower sweep tick re-collects any
// closed-but-unflushed windows (commit failures, restored checkpoints) so
// nothing is stranded, and escalates windows that stay unflushed past the
// stuck threshold.
//
// Commits carry each window's full accumulated total, so a replayed batch
// after a lost acknowledgement upserts identical rows.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vidpulse/vidpulse/internal/aggregator"
	"github.com/vidpulse/vidpulse/internal/checkpoint"
	"github.com/vidpulse/vidpulse/internal/logging"
	"github.com/vidpulse/vidpulse/internal/metrics"
	"github.com/vidpulse/vidpulse/internal/models"
)

// Committer is the durable-store write surface the reconciler needs.
type Committer interface {
	UpsertWindows(ctx context.Context, records []*models.HistoricalRecord) error
}

// Config holds the reconciler's tuning knobs.
type Config struct {
	// BatchSize caps how many windows one commit transaction carries.
	BatchSize int

	// MaxRetries bounds per-batch commit attempts beyond the first.
	MaxRetries int

	// FlushInterval is how often due windows are closed and committed.
	FlushInterval time.Duration

	// SweepInterval is how often the unflushed backlog is re-collected.
	SweepInterval time.Duration

	// StuckThreshold is how long a window may stay closed-but-unflushed
	// before it is escalated in logs and metrics.
	StuckThreshold time.Duration

	// InitialBackoff seeds the exponential retry backoff.
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 5 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	return c
}

// Reconciler moves closed windows from memory to the durable store.
type Reconciler struct {
	cfg     Config
	agg     *aggregator.Aggregator
	store   Committer
	ckpt    checkpoint.Store
	breaker *gobreaker.CircuitBreaker[struct{}]

	// closedSince tracks when each unflushed window first reached the
	// reconciler, for stuck-window escalation.
	closedSince map[aggregator.WindowKey]time.Time

	nowFn func() time.Time
}

// New creates a reconciler. The checkpoint store may be nil, which disables
// crash-recovery persistence (tests use this).
func New(cfg Config, agg *aggregator.Aggregator, store Committer, ckpt checkpoint.Store) *Reconciler {
	cfg = cfg.withDefaults()

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "historical-store",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Commit circuit breaker state change")
		},
	})

	return &Reconciler{
		cfg:         cfg,
		agg:         agg,
		store:       store,
		ckpt:        ckpt,
		breaker:     breaker,
		closedSince: make(map[aggregator.WindowKey]time.Time),
		nowFn:       time.Now,
	}
}

// Recover loads checkpointed windows into the aggregator. Call once at
// startup before Serve; the recovered windows flow out through the sweep.
func (r *Reconciler) Recover(ctx context.Context) error {
	if r.ckpt == nil {
		return nil
	}

	windows, err := r.ckpt.LoadAll(ctx)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return nil
	}

	r.agg.RestoreClosed(windows)
	logging.Info().Int("windows", len(windows)).Msg("Recovered unflushed windows from checkpoint")
	return nil
}

// Serve runs the flush and sweep loops until the context is canceled.
// Implements suture.Service.
func (r *Reconciler) Serve(ctx context.Context) error {
	flush := time.NewTicker(r.cfg.FlushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain so a clean shutdown loses nothing that can
			// still be committed.
			r.FlushOnce(context.Background())
			return ctx.Err()
		case <-flush.C:
			r.FlushOnce(ctx)
		case <-sweep.C:
			r.SweepOnce(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (r *Reconciler) String() string { return "reconciler" }

// FlushOnce closes due windows, checkpoints them, and commits everything
// currently unflushed.
func (r *Reconciler) FlushOnce(ctx context.Context) {
	closed := r.agg.CloseDue()
	now := r.nowFn()

	for _, w := range closed {
		if _, ok := r.closedSince[w.Key()]; !ok {
			r.closedSince[w.Key()] = now
		}
		r.checkpointWindow(ctx, w)
	}

	r.commitAll(ctx, r.agg.Unflushed())
}

// SweepOnce re-collects the unflushed backlog and escalates stuck windows.
// Restored checkpoint windows and prior commit failures surface here.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	unflushed := r.agg.Unflushed()
	now := r.nowFn()

	stuck := 0
	for _, w := range unflushed {
		since, ok := r.closedSince[w.Key()]
		if !ok {
			r.closedSince[w.Key()] = now
			continue
		}
		if now.Sub(since) >= r.cfg.StuckThreshold {
			stuck++
			logging.Error().
				Str("video_id", w.VideoID).
				Int64("window_start", w.Start).
				Dur("unflushed_for", now.Sub(since)).
				Msg("Window stuck in closed state, commits keep failing")
		}
	}
	metrics.StuckWindows.Set(float64(stuck))

	r.commitAll(ctx, unflushed)
}

func (r *Reconciler) checkpointWindow(ctx context.Context, w *aggregator.WindowAggregate) {
	if r.ckpt == nil {
		return
	}
	if err := r.ckpt.Save(ctx, w); err != nil {
		// Commit still proceeds; the checkpoint only narrows the crash
		// window.
		logging.Warn().Err(err).
			Str("video_id", w.VideoID).
			Int64("window_start", w.Start).
			Msg("Failed to checkpoint closed window")
	}
}

// commitAll commits windows in batches of at most BatchSize.
func (r *Reconciler) commitAll(ctx context.Context, windows []*aggregator.WindowAggregate) {
	for len(windows) > 0 {
		n := r.cfg.BatchSize
		if n > len(windows) {
			n = len(windows)
		}
		batch := windows[:n]
		windows = windows[n:]

		if err := r.commitBatch(ctx, batch); err != nil {
			logging.Error().Err(err).Int("windows", len(batch)).Msg("Window batch commit failed, will retry on next sweep")
			continue
		}

		for _, w := range batch {
			key := w.Key()
			if !r.agg.MarkFlushed(key, w.Folds) {
				// The live window absorbed late events after this copy was
				// taken; it stays closed and the sweep recommits the fuller
				// total. Keep the checkpoint and stuck tracking meanwhile.
				continue
			}
			delete(r.closedSince, key)
			if r.ckpt != nil {
				if err := r.ckpt.Delete(ctx, key); err != nil {
					logging.Warn().Err(err).
						Str("video_id", key.VideoID).
						Int64("window_start", key.Start).
						Msg("Failed to delete window checkpoint after commit")
				}
			}
		}
	}
}

// commitBatch writes one batch through the circuit breaker, retrying with
// exponential backoff up to MaxRetries.
func (r *Reconciler) commitBatch(ctx context.Context, batch []*aggregator.WindowAggregate) error {
	flushedAt := r.nowFn()
	records := make([]*models.HistoricalRecord, 0, len(batch))
	for _, w := range batch {
		records = append(records, w.Record(flushedAt))
	}

	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.CommitRetries.Inc()
		}
		attempt++

		_, err := r.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, r.store.UpsertWindows(ctx, records)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker is shedding load; retrying inside this batch
			// just burns the budget. Leave it for the sweep.
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = 10 * time.Second

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx))
	if err == nil {
		logging.Debug().Int("windows", len(records)).Msg("Committed window batch")
	}
	return err
}
