// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/fleetsim/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Probes and scraping sit outside the rate limit.
	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{})
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
		if s.deps.Metrics != nil {
			r.Handle("/metrics", s.deps.Metrics)
		}
	})

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableCORS:            true,
			AllowedOrigins:        s.cfg.AllowedOrigins,
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			TracingService:        s.deps.TracingService,
			EnableLogging:         true,
			RateLimit:             s.cfg.RateLimit,
			RateWindow:            time.Minute,
		})

		if s.deps.Stream != nil {
			path := s.deps.StreamPath
			if path == "" {
				path = "/ws"
			}
			r.Handle(path, s.deps.Stream)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/version", s.handleVersion)
			r.Get("/time", s.handleTime)
			r.Get("/stats", s.handleStats)

			r.Get("/events", s.handleListEvents)
			r.Get("/events/{id}", s.handleGetEvent)

			r.Get("/vehicles", s.handleListVehicles)
			r.Post("/vehicles", s.handleSpawnVehicles)
			r.Get("/vehicles/{id}", s.handleGetVehicle)
			r.Get("/vehicles/{id}/effect", s.handleVehicleEffect)
			r.Post("/vehicles/{id}/triggers", s.handleCheckTriggers)
			r.Get("/vehicles/{id}/trips", s.handleVehicleTrips)

			r.Post("/animation/pause", s.handlePause)
			r.Post("/animation/resume", s.handleResume)
			r.Post("/interaction/begin", s.handleInteraction(true))
			r.Post("/interaction/end", s.handleInteraction(false))

			r.Get("/history/events", s.handleHistoryEvents)
			r.Get("/history/vehicles", s.handleHistoryVehicles)
		})
	})
	return r
}
