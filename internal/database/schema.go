// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package database

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the historical metrics table and its indexes.
//
// One row per flushed window. The composite primary key makes commits
// idempotent: a retried or re-run commit for the same window upserts the
// same row, and a late-fold recommit overwrites it with the fuller totals.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS historical_metrics (
			video_id          VARCHAR NOT NULL,
			window_start      TIMESTAMP NOT NULL,
			views             BIGINT NOT NULL DEFAULT 0,
			likes             BIGINT NOT NULL DEFAULT 0,
			comments          BIGINT NOT NULL DEFAULT 0,
			shares            BIGINT NOT NULL DEFAULT 0,
			watch_time_secs   DOUBLE NOT NULL DEFAULT 0,
			unique_users      BIGINT NOT NULL DEFAULT 0,
			countries_reached BIGINT NOT NULL DEFAULT 0,
			flushed_at        TIMESTAMP NOT NULL,
			PRIMARY KEY (video_id, window_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_historical_window_start
			ON historical_metrics(window_start)`,
		`CREATE INDEX IF NOT EXISTS idx_historical_video_window
			ON historical_metrics(video_id, window_start)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
