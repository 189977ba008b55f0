// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/autolytiq/dealerpulse/internal/logging"
	"github.com/autolytiq/dealerpulse/internal/metrics"
)

// route parses an inbound frame and dispatches it by message kind.
//
// Per-connection state machine: unauthenticated -> authenticated, one-way.
// Every kind except auth and ping requires the authenticated state and is
// silently dropped otherwise, so unauthenticated peers learn nothing about
// channel state. Malformed frames are logged and dropped; nothing here is
// ever fatal to the connection.
func (h *Hub) route(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.MalformedFrames.Inc()
		logging.Warn().Err(err).Str("client_id", c.id).Msg("dropping malformed frame")
		return
	}

	kind := KindOf(frame.Type)
	metrics.MessagesReceived.WithLabelValues(string(kind)).Inc()

	switch kind {
	case KindAuth:
		h.handleAuth(c, &frame)

	case KindPing:
		h.handlePing(c)

	case KindSubscribe:
		if !h.isAuthenticated(c) {
			return
		}
		h.handleSubscribe(c, &frame)

	case KindUnsubscribe:
		if !h.isAuthenticated(c) {
			return
		}
		h.handleUnsubscribe(c, &frame)

	case KindDealUpdate:
		if !h.isAuthenticated(c) {
			return
		}
		h.handleDealUpdate(c, &frame)

	case KindInventorySync:
		if !h.isAuthenticated(c) {
			return
		}
		h.handleInventorySync(c, &frame)

	case KindCustomerNotification:
		if !h.isAuthenticated(c) {
			return
		}
		h.handleCustomerNotification(c, &frame)

	case KindUnknown:
		logging.Debug().Str("client_id", c.id).Str("type", frame.Type).Msg("dropping unknown message type")
	}
}

// isAuthenticated reads the connection's auth state.
func (h *Hub) isAuthenticated(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.authenticated
}

// handleAuth verifies the bearer token and, on success, binds the identity
// and grants the implicit user and store channels. On failure the connection
// stays open and unauthenticated so the client can retry with a corrected
// token on the same socket.
func (h *Hub) handleAuth(c *Client, frame *Frame) {
	claims, err := h.verifier.Validate(frame.Token)
	if err != nil {
		metrics.AuthFailures.Inc()
		logging.Warn().Err(err).Str("client_id", c.id).Msg("authentication failed")
		c.enqueueMessage(NewMessage(TypeAuth, EventError, map[string]string{"error": "Invalid token"}))
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		// Unregistered while the frame was in flight; granting channels
		// now would orphan the entries with no cleanup left to run.
		h.mu.Unlock()
		return
	}
	c.userID = claims.UserID
	c.storeID = claims.StoreID
	c.authenticated = true
	h.grantDefaultChannelsLocked(c)
	authed := h.authenticatedCountLocked()
	channels := len(h.channels)
	h.mu.Unlock()

	metrics.AuthenticatedConnections.Set(float64(authed))
	metrics.ActiveChannels.Set(float64(channels))

	c.enqueueMessage(NewMessage(TypeAuth, EventSuccess, AuthSuccessData{
		UserID:  claims.UserID,
		StoreID: claims.StoreID,
	}))

	logging.Info().
		Str("client_id", c.id).
		Str("user_id", claims.UserID).
		Str("store_id", claims.StoreID).
		Msg("client authenticated")
}

// handleSubscribe joins an explicit channel and echoes the subscription back.
func (h *Hub) handleSubscribe(c *Client, frame *Frame) {
	if frame.Channel == "" {
		logging.Debug().Str("client_id", c.id).Msg("dropping subscribe without channel")
		return
	}

	if !h.subscribe(c, frame.Channel) {
		return
	}
	c.enqueueMessage(NewMessage(TypeSubscription, EventSuccess, map[string]string{"channel": frame.Channel}))
}

// handleUnsubscribe leaves an explicit channel. No echo.
func (h *Hub) handleUnsubscribe(c *Client, frame *Frame) {
	if frame.Channel == "" {
		return
	}
	h.unsubscribe(c, frame.Channel)
}

// handleDealUpdate relays a deal change to the sender's store, excluding the
// sender so it never sees its own echo. The payload is annotated with the
// updating user.
func (h *Hub) handleDealUpdate(c *Client, frame *Frame) {
	h.mu.RLock()
	storeID, userID := c.storeID, c.userID
	h.mu.RUnlock()

	metrics.Broadcasts.WithLabelValues("store").Inc()
	h.broadcastToChannel(StoreChannel(storeID), NewMessage(TypeDealUpdate, EventUpdated, DealUpdateData{
		DealID:    frame.DealID,
		Changes:   frame.Changes,
		UpdatedBy: userID,
	}), c.id)
}

// handleInventorySync relays an inventory change to every connected store,
// annotated with the originating store.
func (h *Hub) handleInventorySync(c *Client, frame *Frame) {
	h.mu.RLock()
	storeID := c.storeID
	h.mu.RUnlock()

	h.BroadcastToAllStores(NewMessage(TypeInventory, EventUpdated, InventorySyncData{
		VehicleID: frame.VehicleID,
		Changes:   frame.Changes,
		StoreID:   storeID,
	}))
}

// handleCustomerNotification delivers a direct message to the target user's
// channel. This is a targeted primitive, not a broadcast: the target comes
// from the payload, and the sender gets nothing back.
func (h *Hub) handleCustomerNotification(c *Client, frame *Frame) {
	if frame.TargetUserID == "" {
		logging.Debug().Str("client_id", c.id).Msg("dropping customer_notification without target")
		return
	}

	h.SendToUser(frame.TargetUserID, NewMessage(TypeNotification, EventNew, frame.Data))
}

// handlePing refreshes liveness and replies with a heartbeat pong. Allowed
// pre-auth: liveness must work for connections still negotiating auth.
func (h *Hub) handlePing(c *Client) {
	c.refreshLiveness()
	c.enqueueMessage(NewMessage(TypePong, EventHeartbeat, map[string]int64{
		"timestamp": time.Now().UnixMilli(),
	}))
}
