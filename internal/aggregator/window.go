// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package aggregator

import (
	"time"

	"github.com/vidpulse/vidpulse/internal/models"
	"github.com/vidpulse/vidpulse/internal/sketch"
)

// WindowState is the lifecycle position of a window aggregate.
//
// open -> closed: the watermark passed the window's end.
// closed -> flushed: the reconciler durably committed the window.
// There are no other transitions; a flushed window never reopens.
type WindowState int

// Window lifecycle states.
const (
	WindowOpen WindowState = iota
	WindowClosed
	WindowFlushed
)

// String returns the lowercase state name.
func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowClosed:
		return "closed"
	case WindowFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// WindowKey identifies one window aggregate.
type WindowKey struct {
	VideoID string `json:"video_id"`
	Start   int64  `json:"start"`
}

// WindowAggregate is the mutable accumulator for one (video, window).
//
// Counters are monotonically non-decreasing while the window is open or
// closed; the aggregate becomes immutable once flushed. All access is
// serialized by the owning video's lock in the Aggregator.
//
// The struct is JSON-serializable for checkpointing, including the
// cardinality sketches.
type WindowAggregate struct {
	VideoID string `json:"video_id"`
	Start   int64  `json:"start"` // unix seconds, window is [Start, Start+Size)
	Size    int64  `json:"size"`  // seconds

	Views     int64   `json:"views"`
	Likes     int64   `json:"likes"`
	Comments  int64   `json:"comments"`
	Shares    int64   `json:"shares"`
	WatchTime float64 `json:"watch_time"`

	Users     *sketch.Adaptive `json:"users"`
	Countries *sketch.Adaptive `json:"countries"`

	State WindowState `json:"state"`

	// Emitted guards the exactly-once hand-off to the reconciler: a window
	// already emitted is not re-emitted even if late events keep landing in
	// its deduplicated bucket.
	Emitted bool `json:"emitted"`

	// Folds counts accepted events folded into the aggregate. MarkFlushed
	// compares it against the count captured at commit time, so a window
	// that absorbed late events mid-commit stays closed and recommits.
	Folds int64 `json:"folds"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewWindowAggregate creates an open, empty aggregate.
func NewWindowAggregate(videoID string, start, size int64, sketchThreshold int) *WindowAggregate {
	return &WindowAggregate{
		VideoID:   videoID,
		Start:     start,
		Size:      size,
		Users:     sketch.NewAdaptive(sketchThreshold),
		Countries: sketch.NewAdaptive(sketchThreshold),
		State:     WindowOpen,
	}
}

// End returns the exclusive end of the window (unix seconds).
func (w *WindowAggregate) End() int64 {
	return w.Start + w.Size
}

// Key returns the aggregate's identity.
func (w *WindowAggregate) Key() WindowKey {
	return WindowKey{VideoID: w.VideoID, Start: w.Start}
}

// Fold accumulates one accepted event into the aggregate.
// The caller must hold the video lock and must not fold into a flushed window.
func (w *WindowAggregate) Fold(e *models.Event, now time.Time) {
	switch e.EventType {
	case models.EventView:
		w.Views++
		w.WatchTime += e.WatchTime
	case models.EventLike:
		w.Likes++
	case models.EventComment:
		w.Comments++
	case models.EventShare:
		w.Shares++
	}

	if e.UserID != "" {
		w.Users.Add(e.UserID)
	}
	if e.CountryCode != "" {
		w.Countries.Add(e.CountryCode)
	}

	w.Folds++
	w.LastUpdated = now
}

// Clone returns an independent deep copy of the aggregate. The reconciler
// checkpoints and commits clones so it never reads an aggregate the ingest
// path may still be folding into.
func (w *WindowAggregate) Clone() *WindowAggregate {
	c := *w
	c.Users = w.Users.Clone()
	c.Countries = w.Countries.Clone()
	return &c
}

// Record converts the aggregate into the durable row committed at flush time.
// It carries the full accumulated total, which is why reconciliation can use
// overwrite (not add) semantics for redelivered windows.
func (w *WindowAggregate) Record(flushedAt time.Time) *models.HistoricalRecord {
	return &models.HistoricalRecord{
		VideoID:          w.VideoID,
		WindowStart:      time.Unix(w.Start, 0).UTC(),
		Views:            w.Views,
		Likes:            w.Likes,
		Comments:         w.Comments,
		Shares:           w.Shares,
		WatchTime:        w.WatchTime,
		UniqueUsers:      w.Users.Estimate(),
		CountriesReached: w.Countries.Estimate(),
		FlushedAt:        flushedAt,
	}
}

// addTo folds this window's counters into a snapshot under construction,
// merging the cardinality sketches into the supplied accumulators.
func (w *WindowAggregate) addTo(s *models.Snapshot, users, countries *sketch.Adaptive) {
	s.Views += w.Views
	s.Likes += w.Likes
	s.Comments += w.Comments
	s.Shares += w.Shares
	s.WatchTime += w.WatchTime
	_ = users.Merge(w.Users)
	_ = countries.Merge(w.Countries)
	if w.LastUpdated.After(s.LastUpdated) {
		s.LastUpdated = w.LastUpdated
	}
}
