// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package database

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/vidpulse/vidpulse/internal/models"
)

func setupDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{Path: "", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(videoID string, start time.Time, views, likes int64) *models.HistoricalRecord {
	return &models.HistoricalRecord{
		VideoID:     videoID,
		WindowStart: start,
		Views:       views,
		Likes:       likes,
		WatchTime:   float64(views) * 30,
		UniqueUsers: views,
		FlushedAt:   start.Add(2 * time.Minute),
	}
}

func TestUpsertWindowsIsIdempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	batch := []*models.HistoricalRecord{record("vid-1", start, 100, 10)}
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}
	// Replay of the same batch, e.g. a retry after a lost ack.
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("replayed UpsertWindows: %v", err)
	}

	rows, err := db.QueryRange(ctx, "vid-1", start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows after replay = %d, want 1", len(rows))
	}
	if rows[0].Views != 100 {
		t.Errorf("Views = %d, want 100", rows[0].Views)
	}
}

func TestUpsertWindowsOverwritesOnRecommit(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := db.UpsertWindows(ctx, []*models.HistoricalRecord{record("vid-1", start, 100, 10)}); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}
	// Late events folded within the grace period produce a fuller recommit.
	if err := db.UpsertWindows(ctx, []*models.HistoricalRecord{record("vid-1", start, 130, 13)}); err != nil {
		t.Fatalf("recommit UpsertWindows: %v", err)
	}

	rows, err := db.QueryRange(ctx, "vid-1", start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Views != 130 || rows[0].Likes != 13 {
		t.Errorf("recommitted row = %d views / %d likes, want 130/13", rows[0].Views, rows[0].Likes)
	}
}

func TestQueryRangeIsHalfOpen(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	batch := []*models.HistoricalRecord{
		record("vid-1", base, 1, 0),
		record("vid-1", base.Add(5*time.Minute), 2, 0),
		record("vid-1", base.Add(10*time.Minute), 3, 0),
		record("vid-2", base, 99, 0),
	}
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}

	// End bound excluded, other videos excluded.
	rows, err := db.QueryRange(ctx, "vid-1", base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Views != 1 || rows[1].Views != 2 {
		t.Errorf("rows out of order: %d, %d", rows[0].Views, rows[1].Views)
	}
}

func TestLatestFlushedNewestFirst(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	batch := []*models.HistoricalRecord{
		record("vid-1", base, 1, 0),
		record("vid-1", base.Add(5*time.Minute), 2, 0),
		record("vid-1", base.Add(10*time.Minute), 3, 0),
	}
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}

	rows, err := db.LatestFlushed(ctx, "vid-1", 2)
	if err != nil {
		t.Fatalf("LatestFlushed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Views != 3 || rows[1].Views != 2 {
		t.Errorf("ordering = %d, %d; want newest first (3, 2)", rows[0].Views, rows[1].Views)
	}
}

func TestHasVideo(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := db.UpsertWindows(ctx, []*models.HistoricalRecord{record("vid-1", start, 1, 0)}); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}

	exists, err := db.HasVideo(ctx, "vid-1")
	if err != nil {
		t.Fatalf("HasVideo: %v", err)
	}
	if !exists {
		t.Error("HasVideo(vid-1) = false, want true")
	}

	exists, err = db.HasVideo(ctx, "vid-unknown")
	if err != nil {
		t.Fatalf("HasVideo: %v", err)
	}
	if exists {
		t.Error("HasVideo(vid-unknown) = true, want false")
	}
}

func TestTrendingRanksByEngagementRate(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// vid-a: 30/200 = 0.15, vid-b: 10/500 = 0.02 despite far more views.
	batch := []*models.HistoricalRecord{
		record("vid-a", base, 100, 15),
		record("vid-a", base.Add(5*time.Minute), 100, 15),
		record("vid-b", base, 500, 10),
		record("vid-zero", base, 0, 0),
		record("vid-old", base.Add(-48*time.Hour), 9999, 9999),
	}
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}

	trending, err := db.Trending(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if len(trending) != 3 {
		t.Fatalf("trending entries = %d, want 3 (stale video excluded)", len(trending))
	}
	if trending[0].VideoID != "vid-a" || trending[1].VideoID != "vid-b" {
		t.Errorf("ranking = %s, %s; want vid-a, vid-b", trending[0].VideoID, trending[1].VideoID)
	}
	if trending[2].VideoID != "vid-zero" {
		t.Errorf("zero-view video ranked %s, want last", trending[2].VideoID)
	}
	if got := trending[0].EngagementRate; math.Abs(got-0.15) > models.EngagementRateEpsilon {
		t.Errorf("vid-a engagement rate = %v, want 0.15", got)
	}
}

func TestDeleteWindowsBefore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	batch := []*models.HistoricalRecord{
		record("vid-1", base.Add(-72*time.Hour), 1, 0),
		record("vid-1", base, 2, 0),
	}
	if err := db.UpsertWindows(ctx, batch); err != nil {
		t.Fatalf("UpsertWindows: %v", err)
	}

	removed, err := db.DeleteWindowsBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteWindowsBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	rows, err := db.QueryRange(ctx, "vid-1", base.Add(-100*time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("surviving rows = %d, want 1", len(rows))
	}
}
