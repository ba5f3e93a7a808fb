// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package api exposes the metrics-serving and ingest HTTP surface on Chi.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/vidpulse/vidpulse/internal/metrics"
	"github.com/vidpulse/vidpulse/internal/models"
	"github.com/vidpulse/vidpulse/internal/query"
)

// Version is stamped at build time.
var Version = "dev"

// QueryService is the read surface the handlers need.
type QueryService interface {
	Current(ctx context.Context, videoID string) (*models.Snapshot, bool, error)
	Historical(ctx context.Context, videoID string, start, end time.Time) (*models.RangeMetrics, error)
	Trending(ctx context.Context, since time.Time, limit int) ([]models.TrendingVideo, error)
}

// Publisher is the ingest surface the handlers need.
type Publisher interface {
	Publish(e *models.Event) error
}

// Pinger reports dependency liveness for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineStatus exposes pipeline internals for the health report.
type EngineStatus interface {
	WindowCount() int
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	query     QueryService
	publisher Publisher
	db        Pinger
	engine    EngineStatus
	startTime time.Time
	nowFn     func() time.Time
}

// NewHandler creates the handler set. db and engine may be nil; the health
// report then marks them unavailable.
func NewHandler(q QueryService, pub Publisher, db Pinger, engine EngineStatus) *Handler {
	return &Handler{
		query:     q,
		publisher: pub,
		db:        db,
		engine:    engine,
		startTime: time.Now(),
		nowFn:     time.Now,
	}
}

// Metrics handles GET /metrics/{video_id}.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if videoID == "" {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "video_id is required", nil)
		return
	}

	start := time.Now()
	snap, cached, err := h.query.Current(r.Context(), videoID)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, query.ErrNotFound):
		respondError(w, http.StatusNotFound, models.ErrCodeNotFound, "no metrics recorded for video", nil)
		return
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, models.ErrCodeUnavailable, "metrics store unavailable", err)
		return
	}

	meta := models.Metadata{Timestamp: h.nowFn().UTC(), Cached: cached}
	if !cached {
		meta.QueryTimeMS = elapsed.Milliseconds()
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     snap,
		Metadata: meta,
	})
}

// Historical handles GET /metrics/{video_id}/historical.
//
// start_time and end_time are required ISO-8601 query parameters forming a
// half-open range [start_time, end_time).
func (h *Handler) Historical(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	startRaw := r.URL.Query().Get("start_time")
	endRaw := r.URL.Query().Get("end_time")
	if startRaw == "" || endRaw == "" {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "start_time and end_time are required", nil)
		return
	}

	startTime, err := parseTimeParam(startRaw)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "invalid start_time: "+err.Error(), nil)
		return
	}
	endTime, err := parseTimeParam(endRaw)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "invalid end_time: "+err.Error(), nil)
		return
	}

	start := time.Now()
	result, err := h.query.Historical(r.Context(), videoID, startTime, endTime)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, query.ErrInvalidRange):
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, err.Error(), nil)
		return
	case errors.Is(err, query.ErrNotFound):
		respondError(w, http.StatusNotFound, models.ErrCodeNotFound, "no metrics recorded for video", nil)
		return
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, models.ErrCodeUnavailable, "metrics store unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   result,
		Metadata: models.Metadata{
			Timestamp:   h.nowFn().UTC(),
			QueryTimeMS: elapsed.Milliseconds(),
		},
	})
}

// trendingRequest bounds the GET /trending query parameters.
type trendingRequest struct {
	Limit       int `validate:"gte=1,lte=100"`
	PeriodHours int `validate:"gte=1,lte=168"`
}

// Trending handles GET /trending.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	req := trendingRequest{
		Limit:       intQueryParam(r, "limit", 10),
		PeriodHours: intQueryParam(r, "period_hours", 24),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	since := h.nowFn().UTC().Add(-time.Duration(req.PeriodHours) * time.Hour)

	start := time.Now()
	trending, err := h.query.Trending(r.Context(), since, req.Limit)
	elapsed := time.Since(start)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, models.ErrCodeUnavailable, "metrics store unavailable", err)
		return
	}
	if trending == nil {
		trending = []models.TrendingVideo{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   trending,
		Metadata: models.Metadata{
			Timestamp:   h.nowFn().UTC(),
			QueryTimeMS: elapsed.Milliseconds(),
		},
	})
}

// ingestEventRequest is the POST /events payload.
type ingestEventRequest struct {
	VideoID        string  `json:"video_id" validate:"required,min=1,max=256"`
	EventTimestamp int64   `json:"event_timestamp" validate:"gte=0"`
	EventType      string  `json:"event_type" validate:"required,oneof=view like comment share"`
	UserID         string  `json:"user_id" validate:"omitempty,max=256"`
	WatchTime      float64 `json:"watch_time" validate:"gte=0"`
	CountryCode    string  `json:"country_code" validate:"omitempty,len=2"`
	DeviceType     string  `json:"device_type" validate:"omitempty,max=64"`
}

// IngestEvent handles POST /events: validate, stamp ingest time, publish to
// the stream. 202 means accepted onto the bus, not yet aggregated.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "malformed JSON body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	e := &models.Event{
		VideoID:         req.VideoID,
		EventTimestamp:  req.EventTimestamp,
		EventType:       models.EventType(req.EventType),
		UserID:          req.UserID,
		WatchTime:       req.WatchTime,
		CountryCode:     req.CountryCode,
		DeviceType:      req.DeviceType,
		IngestTimestamp: h.nowFn().Unix(),
	}

	if err := h.publisher.Publish(e); err != nil {
		respondError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to enqueue event", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"state": "queued"},
		Metadata: models.Metadata{Timestamp: h.nowFn().UTC()},
	})
}

// HealthLive handles GET /health/live: process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "alive"},
		Metadata: models.Metadata{Timestamp: h.nowFn().UTC()},
	})
}

// HealthReady handles GET /health/ready: 200 only when the durable store
// responds, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil || h.db.Ping(r.Context()) != nil {
		respondError(w, http.StatusServiceUnavailable, models.ErrCodeUnavailable, "durable store not reachable", nil)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "ready"},
		Metadata: models.Metadata{Timestamp: h.nowFn().UTC()},
	})
}

// Health handles GET /health. It is a liveness probe that always answers
// 200 while the process runs; the dependency fields in the report are
// informational. Readiness gating lives on /health/ready.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	report := models.HealthStatus{
		Status:            status,
		Version:           Version,
		DatabaseConnected: dbConnected,
		CheckpointHealthy: true,
		UptimeSeconds:     time.Since(h.startTime).Seconds(),
	}
	if h.engine != nil {
		report.OpenWindows = h.engine.WindowCount()
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     report,
		Metadata: models.Metadata{Timestamp: h.nowFn().UTC()},
	})
}

// intQueryParam reads an integer query parameter with a default.
// Unparseable values return -1 so validation reports the bound violation.
func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// instrument wraps a handler with request metrics.
func instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.ObserveAPIRequest(r.Method, endpoint, sw.status, time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
