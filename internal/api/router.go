// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package api provides the HTTP control surface of the sync engine using
// the Chi router: trigger, cancel, and poll the sync task, read the last
// result, health, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
)

// Router assembles the HTTP handler tree.
type Router struct {
	handler *Handler
	cfg     *config.ServerConfig
}

// NewRouter creates a Router serving the given engine.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup configures all routes and middleware.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	// Health endpoints stay outside the rate limit so monitoring probes
	// cannot be starved by API traffic.
	r.Get("/healthz", router.handler.Health)

	if router.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if router.cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(
				router.cfg.RateLimitPerMin,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Post("/sync", router.handler.StartSync)
		r.Post("/sync/cancel", router.handler.CancelSync)
		r.Get("/sync/status", router.handler.SyncStatus)
		r.Get("/sync/result", router.handler.SyncResult)
	})

	return r
}
