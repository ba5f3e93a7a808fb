// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngagementRateEpsilon is the maximum error introduced when the exact
// decimal engagement rate is narrowed to float64 for the JSON boundary.
// Internal arithmetic is decimal; only the final representation may drift.
const EngagementRateEpsilon = 1e-9

// engagementRatePrecision is the rounding scale for likes/views division.
const engagementRatePrecision = 10

// EngagementRate computes likes/views as an exact decimal ratio,
// rounded to engagementRatePrecision digits. Returns zero when views is zero.
func EngagementRate(likes, views int64) decimal.Decimal {
	if views == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(likes).DivRound(decimal.NewFromInt(views), engagementRatePrecision)
}

// AvgWatchTime computes total watch time divided by views.
// Returns zero when views is zero.
func AvgWatchTime(watchTimeSeconds float64, views int64) decimal.Decimal {
	if views == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(watchTimeSeconds).DivRound(decimal.NewFromInt(views), engagementRatePrecision)
}

// Snapshot is the merged point-in-time metrics view for one video.
//
// UniqueUsers and CountriesReached are estimates: above a configured
// cardinality threshold they come from a probabilistic sketch, not an exact
// set. The JSON field names keep the "estimate" nature visible in the API
// documentation rather than the payload.
type Snapshot struct {
	VideoID          string    `json:"video_id"`
	Views            int64     `json:"views"`
	Likes            int64     `json:"likes"`
	Comments         int64     `json:"comments"`
	Shares           int64     `json:"shares"`
	WatchTime        float64   `json:"watch_time"`
	UniqueUsers      int64     `json:"unique_users"`
	CountriesReached int64     `json:"countries_reached"`
	EngagementRate   float64   `json:"engagement_rate"`
	AvgWatchTime     float64   `json:"avg_watch_time"`
	LastUpdated      time.Time `json:"last_updated"`

	// Stale marks a best-effort value reconstructed from durable history
	// after a cache miss, rather than the live aggregate.
	Stale bool `json:"stale,omitempty"`
}

// Finalize recomputes the derived metrics from the raw counters.
// Call after mutating counters and before exposing the snapshot.
func (s *Snapshot) Finalize() {
	s.EngagementRate = EngagementRate(s.Likes, s.Views).InexactFloat64()
	s.AvgWatchTime = AvgWatchTime(s.WatchTime, s.Views).InexactFloat64()
}

// Add folds another snapshot's raw counters into s.
// Derived metrics are not recomputed; call Finalize when done.
//
// Unique-user and country estimates are NOT additive across windows (the
// same user can appear in both); Add takes the maximum as a lower bound.
// Callers that can merge the underlying sketches should prefer that.
func (s *Snapshot) Add(o *Snapshot) {
	s.Views += o.Views
	s.Likes += o.Likes
	s.Comments += o.Comments
	s.Shares += o.Shares
	s.WatchTime += o.WatchTime
	if o.UniqueUsers > s.UniqueUsers {
		s.UniqueUsers = o.UniqueUsers
	}
	if o.CountriesReached > s.CountriesReached {
		s.CountriesReached = o.CountriesReached
	}
	if o.LastUpdated.After(s.LastUpdated) {
		s.LastUpdated = o.LastUpdated
	}
}

// HistoricalRecord is one durable row per (video_id, window_start).
//
// Reconciliation uses overwrite-on-commit upsert semantics: a later commit
// for the same key replaces the prior row wholesale, because the in-memory
// window aggregate holds the full accumulated total at commit time.
type HistoricalRecord struct {
	VideoID          string    `json:"video_id"`
	WindowStart      time.Time `json:"window_start"`
	Views            int64     `json:"views"`
	Likes            int64     `json:"likes"`
	Comments         int64     `json:"comments"`
	Shares           int64     `json:"shares"`
	WatchTime        float64   `json:"watch_time"`
	UniqueUsers      int64     `json:"unique_users"`
	CountriesReached int64     `json:"countries_reached"`
	FlushedAt        time.Time `json:"flushed_at"`
}

// ToSnapshot converts a durable row to a snapshot with derived metrics.
func (r *HistoricalRecord) ToSnapshot() *Snapshot {
	s := &Snapshot{
		VideoID:          r.VideoID,
		Views:            r.Views,
		Likes:            r.Likes,
		Comments:         r.Comments,
		Shares:           r.Shares,
		WatchTime:        r.WatchTime,
		UniqueUsers:      r.UniqueUsers,
		CountriesReached: r.CountriesReached,
		LastUpdated:      r.FlushedAt,
	}
	s.Finalize()
	return s
}

// RangeMetrics is the aggregated response for a historical range query.
type RangeMetrics struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Metrics   *Snapshot `json:"metrics"`

	// IncludesLive is true when the trailing in-flight window contributed.
	IncludesLive bool `json:"includes_live,omitempty"`
}

// TrendingVideo is one entry in the trending ranking.
type TrendingVideo struct {
	VideoID        string  `json:"video_id"`
	Views          int64   `json:"views"`
	Likes          int64   `json:"likes"`
	EngagementRate float64 `json:"engagement_rate"`
}
