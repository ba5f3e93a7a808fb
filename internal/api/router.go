// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	// CORSAllowedOrigins is empty by default, which disables cross-origin
	// access until explicitly configured.
	CORSAllowedOrigins []string

	// RateLimitRequests per RateLimitWindow per client IP on the metrics
	// endpoints. Zero disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// IngestRateLimitRequests bounds POST /events separately, since event
	// producers run much hotter than dashboard readers.
	IngestRateLimitRequests int
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CORSAllowedOrigins:      []string{},
		RateLimitRequests:       300,
		RateLimitWindow:         time.Minute,
		IngestRateLimitRequests: 6000,
	}
}

// NewRouter builds the full route tree.
func NewRouter(cfg RouterConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	// Health endpoints stay unthrottled so probes never flap under load.
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		r.Get("/metrics/{videoID}", instrument("/metrics/{video_id}", h.Metrics))
		r.Get("/metrics/{videoID}/historical", instrument("/metrics/{video_id}/historical", h.Historical))
		r.Get("/trending", instrument("/trending", h.Trending))
	})

	r.Group(func(r chi.Router) {
		if cfg.IngestRateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(cfg.IngestRateLimitRequests, time.Minute))
		}
		r.Post("/events", instrument("/events", h.IngestEvent))
	})

	// Prometheus scrape endpoint, away from /metrics/{video_id}.
	r.Handle("/debug/metrics", promhttp.Handler())

	return r
}
