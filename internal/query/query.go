// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package query serves read requests by merging the snapshot cache, the
// durable store, and the aggregator's live windows.
//
// A point read prefers the cache; on a miss it rebuilds from the most recent
// durable rows and marks the result stale, since in-flight window activity
// is not reflected. A range read takes durable rows for the requested span
// and folds in live unflushed windows, skipping any window start the durable
// rows already cover so no window counts twice.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/vidpulse/vidpulse/internal/cachestore"
	"github.com/vidpulse/vidpulse/internal/logging"
	"github.com/vidpulse/vidpulse/internal/metrics"
	"github.com/vidpulse/vidpulse/internal/models"
)

// Read errors surfaced to the API layer.
var (
	ErrNotFound     = errors.New("video has no recorded metrics")
	ErrInvalidRange = errors.New("start_time must be before end_time")
)

// HistoricalReader is the durable-store read surface the service needs.
type HistoricalReader interface {
	QueryRange(ctx context.Context, videoID string, start, end time.Time) ([]*models.HistoricalRecord, error)
	LatestFlushed(ctx context.Context, videoID string, limit int) ([]*models.HistoricalRecord, error)
	HasVideo(ctx context.Context, videoID string) (bool, error)
	Trending(ctx context.Context, since time.Time, limit int) ([]models.TrendingVideo, error)
}

// LiveReader is the aggregator's in-memory read surface.
type LiveReader interface {
	UnflushedInRange(videoID string, start, end int64, skip map[int64]struct{}) []*models.HistoricalRecord
	HasVideo(videoID string) bool
}

// Service answers metric reads.
type Service struct {
	cache *cachestore.Store[*models.Snapshot]
	store HistoricalReader
	live  LiveReader

	// fallbackWindows is how many recent durable rows rebuild a snapshot
	// on a cache miss.
	fallbackWindows int
}

// New creates the query service. The cache may be nil; every point read
// then falls through to the durable store.
func New(cache *cachestore.Store[*models.Snapshot], store HistoricalReader, live LiveReader) *Service {
	return &Service{
		cache:           cache,
		store:           store,
		live:            live,
		fallbackWindows: 12,
	}
}

// Current returns the freshest snapshot for a video.
//
// Cache hit: the write-through value, which reflects every accepted event.
// Cache miss: recent durable rows merged and marked stale. No data anywhere
// is ErrNotFound.
func (s *Service) Current(ctx context.Context, videoID string) (*models.Snapshot, bool, error) {
	if s.cache != nil {
		if snap, ok := s.cache.Get(cachestore.Key(videoID)); ok {
			metrics.CacheHits.Inc()
			return snap, true, nil
		}
	}
	metrics.CacheMisses.Inc()

	rows, err := s.store.LatestFlushed(ctx, videoID, s.fallbackWindows)
	if err != nil {
		return nil, false, err
	}

	if len(rows) == 0 {
		if s.live != nil && s.live.HasVideo(videoID) {
			// Events arrived but the cache entry expired and nothing
			// flushed yet. Serve an empty stale snapshot rather than 404.
			snap := &models.Snapshot{VideoID: videoID, Stale: true}
			snap.Finalize()
			return snap, false, nil
		}
		return nil, false, ErrNotFound
	}

	snap := mergeRecords(videoID, rows)
	snap.Stale = true
	logging.Debug().Str("video_id", videoID).Int("windows", len(rows)).Msg("Rebuilt snapshot from durable store")
	return snap, false, nil
}

// Historical aggregates a video's metrics over [start, end).
//
// Durable rows cover flushed windows; live unflushed windows in the span are
// folded on top. A window start present in the durable rows is excluded
// from the live set, so a window contributes from exactly one side.
func (s *Service) Historical(ctx context.Context, videoID string, start, end time.Time) (*models.RangeMetrics, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}

	rows, err := s.store.QueryRange(ctx, videoID, start, end)
	if err != nil {
		return nil, err
	}

	durableStarts := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		durableStarts[r.WindowStart.Unix()] = struct{}{}
	}

	var liveRows []*models.HistoricalRecord
	if s.live != nil {
		liveRows = s.live.UnflushedInRange(videoID, start.Unix(), end.Unix(), durableStarts)
	}

	if len(rows) == 0 && len(liveRows) == 0 {
		known, err := s.store.HasVideo(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if !known && (s.live == nil || !s.live.HasVideo(videoID)) {
			return nil, ErrNotFound
		}
		// Known video, empty range.
		snap := &models.Snapshot{VideoID: videoID}
		snap.Finalize()
		return &models.RangeMetrics{StartTime: start, EndTime: end, Metrics: snap}, nil
	}

	merged := mergeRecords(videoID, append(rows, liveRows...))
	return &models.RangeMetrics{
		StartTime:    start,
		EndTime:      end,
		Metrics:      merged,
		IncludesLive: len(liveRows) > 0,
	}, nil
}

// Trending ranks videos by engagement rate over the trailing period.
func (s *Service) Trending(ctx context.Context, since time.Time, limit int) ([]models.TrendingVideo, error) {
	return s.store.Trending(ctx, since, limit)
}

// mergeRecords sums counters across windows. Cardinality estimates are not
// additive across windows, so the merge takes the maximum as a lower bound.
func mergeRecords(videoID string, rows []*models.HistoricalRecord) *models.Snapshot {
	out := &models.Snapshot{VideoID: videoID}
	for _, r := range rows {
		out.Add(r.ToSnapshot())
	}
	out.VideoID = videoID
	out.Finalize()
	return out
}
