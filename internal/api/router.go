// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/middleware"
)

// Router wires the handler set into the HTTP route tree.
type Router struct {
	handler *Handler
	cfg     *config.ServerConfig
}

// NewRouter creates a Router for the given handler.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order. CORS is global so
	// OPTIONS preflight requests are handled before routing.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Assets", "X-Cache", "Server-Timing"},
		MaxAge:         86400,
	}))

	// Health endpoints get a permissive rate limit so monitoring can poll
	// frequently without opening an abuse vector.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.Limit(1000, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Registry and tile endpoints share the configured rate limit.
	r.Route("/searches", func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Post("/register", router.handler.RegisterSearch)
		r.Get("/list", router.handler.ListSearches)

		r.Route("/{searchID}", func(r chi.Router) {
			r.Get("/info", router.handler.SearchInfo)
			r.Get("/tilejson.json", router.handler.TileJSON)
			r.Get("/tiles/{z}/{x}/{y}", router.handler.Tile)
			r.Get("/tiles/{z}/{x}/{y}/assets", router.handler.TileAssets)
			r.Get("/{lonlat}/assets", router.handler.PointAssets)
			r.Get("/point/{lonlat}", router.handler.Point)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Get("/collections", router.handler.Collections)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rateLimit returns the IP-keyed limiter for API routes, or a no-op
// middleware when rate limiting is disabled (rate_limit_reqs = 0).
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	if router.cfg.RateLimitReqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		router.cfg.RateLimitReqs,
		router.cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}
