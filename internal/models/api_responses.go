// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP endpoints.
// It provides a consistent structure for both successful and error responses.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"video_id": "dQw4w9WgXcQ", "views": 1000, ...},
//	  "metadata": {"timestamp": "2026-08-31T12:00:00Z", "cached": true}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
//
// Cached responses have QueryTimeMS of 0 and Cached set; fresh queries carry
// the durable-store execution time.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError provides structured error details in an error response.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Common API error codes.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeInternal    = "INTERNAL_ERROR"
	ErrCodeUnavailable = "STORE_UNAVAILABLE"
)

// HealthStatus is the full health report.
//
// Status is "healthy" when every dependency responds, "degraded" otherwise.
// The process itself being up is what /health/live reports; this endpoint is
// for readiness and operator dashboards.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	CheckpointHealthy bool    `json:"checkpoint_healthy"`
	WatermarkSeconds  int64   `json:"watermark,omitempty"`
	OpenWindows       int     `json:"open_windows"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}
