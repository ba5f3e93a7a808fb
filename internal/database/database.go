// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package database provides the durable historical-metrics store on DuckDB.
//
// The aggregation pipeline is the only writer: the reconciler commits closed
// windows in batches, one row per (video_id, window_start), with conflicting
// rows overwritten by the later commit's full accumulated totals. The query
// service reads ranges and recent rows. DuckDB's columnar layout keeps the
// range scans cheap even as the table grows.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/vidpulse/vidpulse/internal/logging"
)

// Config holds the DuckDB connection settings.
type Config struct {
	// Path is the database file. Empty selects an in-memory database,
	// which tests use.
	Path string

	// MaxMemory bounds DuckDB's memory use, e.g. "512MB".
	MaxMemory string

	// Threads caps DuckDB's worker threads. Zero selects NumCPU.
	Threads int
}

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  Config

	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex
}

// New opens the database and initializes the schema.
func New(cfg Config) (*DB, error) {
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "512MB"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if cfg.Path != "" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is embedded; extra pooled connections mean extra native
	// threads, not extra throughput for our single-writer workload.
	conn.SetMaxOpenConns(threads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := db.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", threads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Database opened")

	return db, nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases prepared statements and the connection.
func (db *DB) Close() error {
	db.clearStatementCache()
	return db.conn.Close()
}

// getStatement returns a cached prepared statement, preparing it on first use.
func (db *DB) getStatement(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()

	if stmt, ok := db.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}

func (db *DB) clearStatementCache() {
	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()

	for _, stmt := range db.stmtCache {
		if err := stmt.Close(); err != nil {
			logging.Debug().Err(err).Msg("Failed to close prepared statement")
		}
	}
	db.stmtCache = make(map[string]*sql.Stmt)
}
