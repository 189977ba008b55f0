// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/autolytiq/dealerpulse/internal/realtime"
)

// injectRequest is the body of an event-injection call. Type and event name
// the outbound frame; data is forwarded opaquely.
type injectRequest struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// parseInjectRequest decodes and validates an injection body.
func parseInjectRequest(w http.ResponseWriter, r *http.Request) (*injectRequest, bool) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err)
		return nil, false
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required", nil)
		return nil, false
	}
	return &req, true
}

// InjectStoreEvent pushes an event to every connection in a store. Called by
// the deal and inventory REST handlers elsewhere in the system after a write.
func (h *Handler) InjectStoreEvent(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if storeID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "storeID is required", nil)
		return
	}

	req, ok := parseInjectRequest(w, r)
	if !ok {
		return
	}

	h.hub.BroadcastToStore(storeID, realtime.NewMessage(req.Type, req.Event, req.Data))
	respondJSON(w, http.StatusAccepted, &apiResponse{Status: "ok"})
}

// InjectUserEvent pushes an event to every connection of a user.
func (h *Handler) InjectUserEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "userID is required", nil)
		return
	}

	req, ok := parseInjectRequest(w, r)
	if !ok {
		return
	}

	h.hub.SendToUser(userID, realtime.NewMessage(req.Type, req.Event, req.Data))
	respondJSON(w, http.StatusAccepted, &apiResponse{Status: "ok"})
}

// InjectBroadcast pushes an event to every connected store. Used for
// cross-store inventory sync.
func (h *Handler) InjectBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := parseInjectRequest(w, r)
	if !ok {
		return
	}

	h.hub.BroadcastToAllStores(realtime.NewMessage(req.Type, req.Event, req.Data))
	respondJSON(w, http.StatusAccepted, &apiResponse{Status: "ok"})
}
