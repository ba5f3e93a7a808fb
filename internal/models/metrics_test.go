// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package models

import (
	"math"
	"testing"
	"time"
)

func TestEngagementRate(t *testing.T) {
	tests := []struct {
		likes, views int64
		want         float64
	}{
		{0, 0, 0},
		{5, 0, 0}, // zero views never divides
		{1, 2, 0.5},
		{15, 100, 0.15},
		{1, 3, 0.3333333333},
	}
	for _, tt := range tests {
		got := EngagementRate(tt.likes, tt.views).InexactFloat64()
		if math.Abs(got-tt.want) > EngagementRateEpsilon {
			t.Errorf("EngagementRate(%d, %d) = %v, want %v", tt.likes, tt.views, got, tt.want)
		}
	}
}

func TestEngagementRateIsExactForDecimalRatios(t *testing.T) {
	// 3/10 is inexact in binary floating point; the decimal path must not
	// accumulate float error before the final narrowing.
	got := EngagementRate(3, 10).InexactFloat64()
	if got != 0.3 {
		t.Errorf("EngagementRate(3, 10) = %v, want exactly 0.3", got)
	}
}

func TestAvgWatchTime(t *testing.T) {
	got := AvgWatchTime(100.0, 4).InexactFloat64()
	if math.Abs(got-25.0) > EngagementRateEpsilon {
		t.Errorf("AvgWatchTime(100, 4) = %v, want 25", got)
	}
	if !AvgWatchTime(100.0, 0).IsZero() {
		t.Error("AvgWatchTime with zero views is not zero")
	}
}

func TestSnapshotFinalize(t *testing.T) {
	s := &Snapshot{Views: 200, Likes: 30, WatchTime: 500}
	s.Finalize()

	if math.Abs(s.EngagementRate-0.15) > EngagementRateEpsilon {
		t.Errorf("EngagementRate = %v, want 0.15", s.EngagementRate)
	}
	if math.Abs(s.AvgWatchTime-2.5) > EngagementRateEpsilon {
		t.Errorf("AvgWatchTime = %v, want 2.5", s.AvgWatchTime)
	}
}

func TestSnapshotAdd(t *testing.T) {
	earlier := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	a := &Snapshot{Views: 10, Likes: 2, WatchTime: 30, UniqueUsers: 5, CountriesReached: 2, LastUpdated: earlier}
	b := &Snapshot{Views: 20, Likes: 1, WatchTime: 40, UniqueUsers: 8, CountriesReached: 1, LastUpdated: later}

	a.Add(b)

	if a.Views != 30 || a.Likes != 3 {
		t.Errorf("counters = %d views / %d likes, want 30/3", a.Views, a.Likes)
	}
	if a.WatchTime != 70 {
		t.Errorf("WatchTime = %v, want 70", a.WatchTime)
	}
	// Cardinality estimates take the max, not the sum.
	if a.UniqueUsers != 8 {
		t.Errorf("UniqueUsers = %d, want 8", a.UniqueUsers)
	}
	if a.CountriesReached != 2 {
		t.Errorf("CountriesReached = %d, want 2", a.CountriesReached)
	}
	if !a.LastUpdated.Equal(later) {
		t.Errorf("LastUpdated = %v, want %v", a.LastUpdated, later)
	}
}

func TestHistoricalRecordToSnapshot(t *testing.T) {
	flushed := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	r := &HistoricalRecord{
		VideoID:   "vid-1",
		Views:     100,
		Likes:     15,
		WatchTime: 250,
		FlushedAt: flushed,
	}

	s := r.ToSnapshot()
	if s.VideoID != "vid-1" || s.Views != 100 {
		t.Errorf("snapshot = %s/%d views", s.VideoID, s.Views)
	}
	if math.Abs(s.EngagementRate-0.15) > EngagementRateEpsilon {
		t.Errorf("EngagementRate = %v, want 0.15", s.EngagementRate)
	}
	if !s.LastUpdated.Equal(flushed) {
		t.Errorf("LastUpdated = %v, want %v", s.LastUpdated, flushed)
	}
}
