// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package aggregator maintains per-video, per-window running aggregates over
// the validated engagement event stream.
//
// Concurrency model: ingest calls for different videos proceed independently
// through a sharded concurrent map; calls touching the same video serialize
// on that video's lock, which also orders the write-through cache update
// after the aggregate mutation. The watermark is a single logical clock with
// its own lock, advanced monotonically.
//
// Window lifecycle: open -> closed (watermark passes end, handed to the
// reconciler exactly once) -> flushed (reconciler durably committed).
// Flushed aggregates are retained briefly so point reads keep reflecting
// recent activity, then pruned.
package aggregator

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/vidpulse/vidpulse/internal/cachestore"
	"github.com/vidpulse/vidpulse/internal/dedup"
	"github.com/vidpulse/vidpulse/internal/metrics"
	"github.com/vidpulse/vidpulse/internal/models"
	"github.com/vidpulse/vidpulse/internal/sketch"
)

// Outcome classifies the result of ingesting one event.
type Outcome string

// Ingest outcomes.
const (
	Accepted    Outcome = "accepted"
	Duplicate   Outcome = "duplicate"
	DroppedLate Outcome = "dropped_late"
)

// Config holds the aggregator's tuning knobs.
type Config struct {
	// WindowSize is the tumbling window duration.
	WindowSize time.Duration

	// AllowedLateness is subtracted from the max ingest timestamp to form
	// the watermark.
	AllowedLateness time.Duration

	// GracePeriod is the extra time after a window's end during which late
	// events are still folded into the (closed, unflushed) window.
	// Zero selects AllowedLateness.
	GracePeriod time.Duration

	// SketchThreshold is the per-window cardinality at which unique-user and
	// country tracking switches from exact sets to a fixed-size sketch.
	SketchThreshold int

	// SnapshotRetention is how long a flushed window keeps contributing to
	// the video's cache snapshot before being pruned. Zero selects
	// max(GracePeriod, 2*WindowSize).
	SnapshotRetention time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 5 * time.Minute
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = c.AllowedLateness
	}
	if c.SnapshotRetention <= 0 {
		c.SnapshotRetention = 2 * c.WindowSize
		if c.GracePeriod > c.SnapshotRetention {
			c.SnapshotRetention = c.GracePeriod
		}
	}
	return c
}

// SnapshotCache is the write-through target for per-video snapshots.
// A nil cache is tolerated: cache writes are an optimization, never a
// correctness dependency.
type SnapshotCache interface {
	Put(key string, snapshot *models.Snapshot)
}

// videoState holds all window aggregates for one video. The mutex is the
// per-video critical section: aggregate mutation and the write-through cache
// update happen under it, so cache order matches mutation order.
type videoState struct {
	mu      sync.Mutex
	windows map[int64]*WindowAggregate
}

func newVideoState() *videoState {
	return &videoState{windows: make(map[int64]*WindowAggregate)}
}

func (s *videoState) lock()   { s.mu.Lock() }
func (s *videoState) unlock() { s.mu.Unlock() }

// Aggregator consumes validated events and maintains windowed aggregates.
type Aggregator struct {
	cfg       Config
	videos    *xsync.Map[string, *videoState]
	watermark *Watermark
	guard     dedup.Guard
	cache     SnapshotCache

	// nowFn is replaceable in tests.
	nowFn func() time.Time

	windowSec int64
	graceSec  int64
}

// New creates an aggregator.
func New(cfg Config, guard dedup.Guard, cache SnapshotCache) *Aggregator {
	cfg = cfg.withDefaults()
	return &Aggregator{
		cfg:       cfg,
		videos:    xsync.NewMap[string, *videoState](),
		watermark: NewWatermark(cfg.AllowedLateness),
		guard:     guard,
		cache:     cache,
		nowFn:     time.Now,
		windowSec: int64(cfg.WindowSize / time.Second),
		graceSec:  int64(cfg.GracePeriod / time.Second),
	}
}

// Watermark returns the aggregator's logical clock.
func (a *Aggregator) Watermark() *Watermark {
	return a.watermark
}

// Ingest folds one event into its window aggregate.
//
// An event is dropped-late when its window's end plus the grace period is
// behind the watermark, or when the window was already flushed; it then
// mutates nothing. A duplicate identity key short-circuits before touching
// any aggregate. On acceptance the video's cache snapshot is rewritten in
// the same critical section (write-through), so a reader never observes a
// cache value older than the last accepted event beyond propagation delay.
func (a *Aggregator) Ingest(e *models.Event) Outcome {
	now := a.nowFn()
	if e.IngestTimestamp == 0 {
		e.IngestTimestamp = now.Unix()
	}
	wm := a.watermark.Observe(e.IngestTimestamp)

	start := e.WindowStart(a.cfg.WindowSize)
	end := start + a.windowSec

	// Late check before the guard: a dropped event must not pollute the
	// dedup horizon or any aggregate.
	if wm-a.graceSec > end {
		outcome := DroppedLate
		metrics.EventsIngested.WithLabelValues(string(outcome)).Inc()
		return outcome
	}

	state, _ := a.videos.LoadOrCompute(e.VideoID, func() (*videoState, bool) {
		return newVideoState(), false
	})

	state.lock()
	defer state.unlock()

	if w, ok := state.windows[start]; ok && w.State == WindowFlushed {
		// Window already durably committed; reopening it would violate the
		// overwrite-on-commit invariant.
		metrics.EventsIngested.WithLabelValues(string(DroppedLate)).Inc()
		return DroppedLate
	}

	if a.guard.CheckAndRemember(e.IdentityKey(), e.EventTimestamp) {
		metrics.EventsIngested.WithLabelValues(string(Duplicate)).Inc()
		return Duplicate
	}

	w, ok := state.windows[start]
	if !ok {
		w = NewWindowAggregate(e.VideoID, start, a.windowSec, a.cfg.SketchThreshold)
		state.windows[start] = w
	}
	w.Fold(e, now)

	a.writeSnapshotLocked(e.VideoID, state)

	metrics.EventsIngested.WithLabelValues(string(Accepted)).Inc()
	metrics.EventsByType.WithLabelValues(string(e.EventType)).Inc()
	return Accepted
}

// writeSnapshotLocked recomputes the video's rolling snapshot across all
// retained windows and writes it through to the cache. Caller holds the
// video lock.
func (a *Aggregator) writeSnapshotLocked(videoID string, state *videoState) {
	if a.cache == nil {
		return
	}

	snap := &models.Snapshot{VideoID: videoID}
	users := sketch.NewAdaptive(a.cfg.SketchThreshold)
	countries := sketch.NewAdaptive(a.cfg.SketchThreshold)

	for _, w := range state.windows {
		w.addTo(snap, users, countries)
	}

	snap.UniqueUsers = users.Estimate()
	snap.CountriesReached = countries.Estimate()
	snap.Finalize()

	a.cache.Put(cachestore.Key(videoID), snap)
}

// CloseDue transitions every window whose end is at or before the watermark
// from open to closed and returns deep copies of the newly closed aggregates
// for the reconciler. Copies are taken under the video lock: the ingest path
// may still fold grace-period events into the live aggregate, and the
// reconciler must never read one concurrently. Each window is handed off
// exactly once. It also prunes flushed windows past the snapshot retention
// horizon and evicts expired dedup keys.
func (a *Aggregator) CloseDue() []*WindowAggregate {
	wm := a.watermark.Current()
	var closed []*WindowAggregate
	live := 0

	a.videos.Range(func(videoID string, state *videoState) bool {
		state.lock()
		pruned := false
		for start, w := range state.windows {
			switch {
			case w.State == WindowOpen && w.End() <= wm:
				w.State = WindowClosed
				if !w.Emitted {
					w.Emitted = true
					closed = append(closed, w.Clone())
				}
				metrics.WindowsClosed.Inc()
			case w.State == WindowFlushed && w.End()+int64(a.cfg.SnapshotRetention/time.Second) <= wm:
				delete(state.windows, start)
				pruned = true
			}
		}
		if pruned {
			a.writeSnapshotLocked(videoID, state)
		}
		live += len(state.windows)
		state.unlock()
		return true
	})

	if wm > minWatermark {
		a.guard.EvictBefore(wm - a.graceSec - a.windowSec)
	}

	metrics.OpenWindows.Set(float64(live))
	metrics.DedupKeys.Set(float64(a.guard.Len()))
	if wm > minWatermark {
		metrics.WatermarkLag.Set(time.Since(time.Unix(wm, 0)).Seconds())
	}
	return closed
}

// Unflushed returns retry candidates: deep copies of every closed window
// that has not been flushed yet, taken under the video lock. Used by the
// reconciler's periodic sweep for crash recovery and commit retries.
func (a *Aggregator) Unflushed() []*WindowAggregate {
	var out []*WindowAggregate
	a.videos.Range(func(_ string, state *videoState) bool {
		state.lock()
		for _, w := range state.windows {
			if w.State == WindowClosed {
				out = append(out, w.Clone())
			}
		}
		state.unlock()
		return true
	})
	return out
}

// MarkFlushed transitions a window from closed to flushed after a durable
// commit. folds is the Folds count of the committed copy: when the live
// aggregate has absorbed more events since that copy was taken, the window
// stays closed so the next sweep recommits the fuller total (commits carry
// full totals, so the overwrite converges). The flushed aggregate stays
// retained for snapshot reads until pruned. Returns whether the transition
// happened.
func (a *Aggregator) MarkFlushed(key WindowKey, folds int64) bool {
	state, ok := a.videos.Load(key.VideoID)
	if !ok {
		return false
	}
	state.lock()
	defer state.unlock()

	w, ok := state.windows[key.Start]
	if !ok || w.State != WindowClosed {
		return false
	}
	if w.Folds != folds {
		return false
	}
	w.State = WindowFlushed
	metrics.WindowsFlushed.Inc()
	return true
}

// RestoreClosed reloads checkpointed closed-but-unflushed windows after a
// restart. Restored windows rejoin the normal closed set and are picked up
// by the reconciler's sweep; Emitted stays true so they are not re-emitted
// through the push path.
func (a *Aggregator) RestoreClosed(windows []*WindowAggregate) {
	for _, w := range windows {
		if w == nil || w.State != WindowClosed {
			continue
		}
		w.Emitted = true
		state, _ := a.videos.LoadOrCompute(w.VideoID, func() (*videoState, bool) {
			return newVideoState(), false
		})
		state.lock()
		if _, exists := state.windows[w.Start]; !exists {
			state.windows[w.Start] = w
		}
		state.unlock()
	}
}

// UnflushedInRange returns, for one video, the open or closed (not flushed)
// windows whose start lies in [start, end), excluding any start present in
// skip. The query service uses this to fold the trailing in-flight window
// into a historical range without double-counting a window that already
// reached durable storage.
func (a *Aggregator) UnflushedInRange(videoID string, start, end int64, skip map[int64]struct{}) []*models.HistoricalRecord {
	state, ok := a.videos.Load(videoID)
	if !ok {
		return nil
	}

	state.lock()
	defer state.unlock()

	var out []*models.HistoricalRecord
	for ws, w := range state.windows {
		if ws < start || ws >= end {
			continue
		}
		if w.State == WindowFlushed {
			continue
		}
		if _, dup := skip[ws]; dup {
			continue
		}
		out = append(out, w.Record(w.LastUpdated))
	}
	return out
}

// WindowCount returns how many window aggregates are held in memory.
func (a *Aggregator) WindowCount() int {
	n := 0
	a.videos.Range(func(_ string, state *videoState) bool {
		state.lock()
		n += len(state.windows)
		state.unlock()
		return true
	})
	return n
}

// HasVideo reports whether any in-memory state exists for the video.
func (a *Aggregator) HasVideo(videoID string) bool {
	state, ok := a.videos.Load(videoID)
	if !ok {
		return false
	}
	state.lock()
	defer state.unlock()
	return len(state.windows) > 0
}
