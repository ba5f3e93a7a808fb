// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package aggregator

import (
	"sync"
	"time"
)

// Watermark is the single logical clock that decides when windows close.
//
// It tracks the maximum ingest timestamp observed so far; the watermark is
// that maximum minus the allowed lateness. Both advance monotonically: an
// out-of-order ingest timestamp never regresses the clock.
type Watermark struct {
	mu              sync.Mutex
	maxIngest       int64 // unix seconds, 0 until first observation
	allowedLateness int64 // seconds
	observed        bool
}

// NewWatermark creates a watermark clock with the given allowed lateness.
func NewWatermark(allowedLateness time.Duration) *Watermark {
	return &Watermark{allowedLateness: int64(allowedLateness / time.Second)}
}

// Observe feeds an ingest timestamp into the clock.
// Returns the watermark after the observation.
func (w *Watermark) Observe(ingestTimestamp int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.observed || ingestTimestamp > w.maxIngest {
		w.maxIngest = ingestTimestamp
		w.observed = true
	}
	return w.currentLocked()
}

// Current returns the current watermark (unix seconds).
// Before any observation the watermark is the minimum int64, so no window
// can close on an idle stream.
func (w *Watermark) Current() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLocked()
}

func (w *Watermark) currentLocked() int64 {
	if !w.observed {
		return minWatermark
	}
	return w.maxIngest - w.allowedLateness
}

// minWatermark is the watermark value before any event has been observed.
const minWatermark = int64(-1) << 62
