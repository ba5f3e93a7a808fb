// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vidpulse/vidpulse/internal/metrics"
	"github.com/vidpulse/vidpulse/internal/models"
)

const upsertWindowQuery = `
	INSERT INTO historical_metrics (
		video_id, window_start, views, likes, comments, shares,
		watch_time_secs, unique_users, countries_reached, flushed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (video_id, window_start) DO UPDATE SET
		views             = EXCLUDED.views,
		likes             = EXCLUDED.likes,
		comments          = EXCLUDED.comments,
		shares            = EXCLUDED.shares,
		watch_time_secs   = EXCLUDED.watch_time_secs,
		unique_users      = EXCLUDED.unique_users,
		countries_reached = EXCLUDED.countries_reached,
		flushed_at        = EXCLUDED.flushed_at`

// UpsertWindows commits a batch of flushed windows in one transaction.
//
// Each record carries the window's full accumulated total, so the upsert
// overwrites rather than increments: replaying the same batch, or a later
// recommit after a grace-period fold, converges on the same row.
func (db *DB) UpsertWindows(ctx context.Context, records []*models.HistoricalRecord) error {
	if len(records) == 0 {
		return nil
	}
	defer metrics.TimeDBQuery("upsert_windows")()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_windows").Inc()
		return fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertWindowQuery)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_windows").Inc()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.VideoID, r.WindowStart.UTC(), r.Views, r.Likes, r.Comments,
			r.Shares, r.WatchTime, r.UniqueUsers, r.CountriesReached,
			r.FlushedAt.UTC(),
		)
		if err != nil {
			metrics.DBQueryErrors.WithLabelValues("upsert_windows").Inc()
			return fmt.Errorf("upsert window %s/%d: %w", r.VideoID, r.WindowStart.Unix(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_windows").Inc()
		return fmt.Errorf("commit window batch: %w", err)
	}
	return nil
}

const selectRecordColumns = `
	video_id, window_start, views, likes, comments, shares,
	watch_time_secs, unique_users, countries_reached, flushed_at`

func scanRecord(rows *sql.Rows) (*models.HistoricalRecord, error) {
	var r models.HistoricalRecord
	err := rows.Scan(
		&r.VideoID, &r.WindowStart, &r.Views, &r.Likes, &r.Comments,
		&r.Shares, &r.WatchTime, &r.UniqueUsers, &r.CountriesReached,
		&r.FlushedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan historical row: %w", err)
	}
	r.WindowStart = r.WindowStart.UTC()
	r.FlushedAt = r.FlushedAt.UTC()
	return &r, nil
}

// QueryRange returns a video's flushed windows with window_start in
// [start, end), ordered by window_start.
func (db *DB) QueryRange(ctx context.Context, videoID string, start, end time.Time) ([]*models.HistoricalRecord, error) {
	defer metrics.TimeDBQuery("query_range")()

	query := `SELECT ` + selectRecordColumns + `
		FROM historical_metrics
		WHERE video_id = ? AND window_start >= ? AND window_start < ?
		ORDER BY window_start`

	stmt, err := db.getStatement(ctx, query)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("query_range").Inc()
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, videoID, start.UTC(), end.UTC())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("query_range").Inc()
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.HistoricalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestFlushed returns a video's most recent flushed windows, newest first,
// capped at limit. The query service uses it to rebuild a snapshot on a
// cache miss.
func (db *DB) LatestFlushed(ctx context.Context, videoID string, limit int) ([]*models.HistoricalRecord, error) {
	defer metrics.TimeDBQuery("latest_flushed")()

	if limit <= 0 {
		limit = 12
	}

	query := `SELECT ` + selectRecordColumns + `
		FROM historical_metrics
		WHERE video_id = ?
		ORDER BY window_start DESC
		LIMIT ?`

	stmt, err := db.getStatement(ctx, query)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("latest_flushed").Inc()
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, videoID, limit)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("latest_flushed").Inc()
		return nil, fmt.Errorf("query latest flushed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.HistoricalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasVideo reports whether any flushed window exists for the video.
func (db *DB) HasVideo(ctx context.Context, videoID string) (bool, error) {
	defer metrics.TimeDBQuery("has_video")()

	query := `SELECT EXISTS (SELECT 1 FROM historical_metrics WHERE video_id = ?)`

	stmt, err := db.getStatement(ctx, query)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("has_video").Inc()
		return false, err
	}

	var exists bool
	if err := stmt.QueryRowContext(ctx, videoID).Scan(&exists); err != nil {
		metrics.DBQueryErrors.WithLabelValues("has_video").Inc()
		return false, fmt.Errorf("query video existence: %w", err)
	}
	return exists, nil
}

// Trending ranks videos by engagement rate (likes over views, summed across
// windows starting at or after since), views as the tiebreak. Zero-view
// videos rank last.
func (db *DB) Trending(ctx context.Context, since time.Time, limit int) ([]models.TrendingVideo, error) {
	defer metrics.TimeDBQuery("trending")()

	if limit <= 0 {
		limit = 10
	}

	query := `SELECT video_id, SUM(views) AS views, SUM(likes) AS likes
		FROM historical_metrics
		WHERE window_start >= ?
		GROUP BY video_id
		ORDER BY CASE WHEN SUM(views) = 0 THEN 0
			ELSE CAST(SUM(likes) AS DOUBLE) / SUM(views) END DESC,
			views DESC, video_id
		LIMIT ?`

	stmt, err := db.getStatement(ctx, query)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("trending").Inc()
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, since.UTC(), limit)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("trending").Inc()
		return nil, fmt.Errorf("query trending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TrendingVideo
	for rows.Next() {
		var tv models.TrendingVideo
		if err := rows.Scan(&tv.VideoID, &tv.Views, &tv.Likes); err != nil {
			return nil, fmt.Errorf("scan trending row: %w", err)
		}
		tv.EngagementRate = models.EngagementRate(tv.Likes, tv.Views).InexactFloat64()
		out = append(out, tv)
	}
	return out, rows.Err()
}

// DeleteWindowsBefore drops rows older than the retention cutoff and
// returns how many were removed. Driven by the retention cron job.
func (db *DB) DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer metrics.TimeDBQuery("retention_cleanup")()

	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM historical_metrics WHERE window_start < ?`, cutoff.UTC())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("retention_cleanup").Inc()
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}
