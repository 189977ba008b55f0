// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package api provides the HTTP surface: the websocket upgrade endpoint,
// health and stats reads, and the event-injection routes the rest of the
// dealership system calls to push realtime events without holding a client
// connection.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/autolytiq/dealerpulse/internal/config"
	"github.com/autolytiq/dealerpulse/internal/logging"
	"github.com/autolytiq/dealerpulse/internal/realtime"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	hub       *realtime.Hub
	config    *config.Config
	startTime time.Time
}

// NewHandler creates the HTTP handler set.
func NewHandler(hub *realtime.Hub, cfg *config.Config) *Handler {
	return &Handler{
		hub:       hub,
		config:    cfg,
		startTime: time.Now(),
	}
}

// apiResponse is the JSON envelope for every REST response.
type apiResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *apiError   `json:"error,omitempty"`
}

// apiError carries a stable machine code and human message.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *apiResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("api error")
	}
	respondJSON(w, status, &apiResponse{
		Status: "error",
		Error:  &apiError{Code: code, Message: message},
	})
}

// getUpgrader creates a websocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates connection origins against the configured
// allow-list. Dev mode allows everything; outside dev mode a missing Origin
// header is rejected, since browser websockets always send one.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	if h.config == nil || h.config.Security.DevMode {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}

	for _, allowed := range h.config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "WebSocket requires GET", nil)
		return
	}
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "realtime hub unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	client := h.hub.Register(conn)
	client.Start()
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// RealtimeStats returns the hub's operational snapshot.
func (h *Handler) RealtimeStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data:   h.hub.GetStats(),
	})
}

// StoreConnections returns the live connections of one store.
func (h *Handler) StoreConnections(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if storeID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "storeID is required", nil)
		return
	}
	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data:   h.hub.GetStoreConnections(storeID),
	})
}
