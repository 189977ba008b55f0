// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

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

// NewRouter configures all HTTP routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack, applied to all routes in order.
	r.Use(chimiddleware.RealIP)    // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer) // Recover from panics
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.Security.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint. Origin checking happens in the upgrader, not the
	// CORS middleware, since the upgrade is not a CORS request.
	r.Get("/ws", h.WebSocket)

	// Operational surface.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Get("/health", h.Health)
		r.Get("/realtime/stats", h.RealtimeStats)
		r.Get("/realtime/stores/{storeID}/connections", h.StoreConnections)

		// Event injection, called in-process by the rest of the dealership
		// system after CRUD writes.
		r.Post("/realtime/events/store/{storeID}", h.InjectStoreEvent)
		r.Post("/realtime/events/user/{userID}", h.InjectUserEvent)
		r.Post("/realtime/events/broadcast", h.InjectBroadcast)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
