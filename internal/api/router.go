// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

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

// RouterConfig holds the knobs the router exposes to configuration.
type RouterConfig struct {
	// AllowedOrigins is the CORS allowlist for browser dashboards.
	AllowedOrigins []string

	// RateLimit is requests per minute per IP for the API routes.
	// Zero disables rate limiting, which tests rely on.
	RateLimit int
}

// NewRouter builds the chi router for the dashboard server.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/v1/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}

		r.Route("/resources/{type}/{id}", func(r chi.Router) {
			r.Post("/touch", h.TouchResource)
			r.Get("/version", h.ResourceVersion)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/", h.StartJob)
			r.Get("/{job_id}", h.JobStatus)
			r.Post("/{job_id}/cancel", h.CancelJob)
		})

		r.Route("/shares", func(r chi.Router) {
			r.Post("/", h.CreateShare)
			r.Get("/{token}", h.ResolveShare)
		})

		r.Get("/ws", h.WebSocket)
	})

	return r
}
