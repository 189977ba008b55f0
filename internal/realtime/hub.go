// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/autolytiq/dealerpulse/internal/auth"
	"github.com/autolytiq/dealerpulse/internal/config"
	"github.com/autolytiq/dealerpulse/internal/logging"
	"github.com/autolytiq/dealerpulse/internal/metrics"
)

// Channel name prefixes for the implicit per-identity channels granted on
// successful authentication.
const (
	UserChannelPrefix  = "user:"
	StoreChannelPrefix = "store:"
)

// UserChannel returns the implicit channel name for a user.
func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

// StoreChannel returns the implicit channel name for a store.
func StoreChannel(storeID string) string {
	return StoreChannelPrefix + storeID
}

// TokenVerifier validates a bearer token and returns its identity claims.
// Satisfied by *auth.Manager.
type TokenVerifier interface {
	Validate(token string) (*auth.Claims, error)
}

// Hub owns the connection registry and the channel index, routes inbound
// frames, and exposes the broadcast facade the rest of the system calls to
// push events to connected clients.
//
// The registry and index are the only shared mutable state; one mutex
// guards both, and every mutation is a single synchronous operation
// performed under it. Delivery is fire-and-forget: a broadcast completes
// over the membership snapshot taken under the lock, and members whose
// transport is not writable are skipped.
type Hub struct {
	cfg      config.RealtimeConfig
	verifier TokenVerifier

	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[string]*Client
}

// NewHub creates a hub. The verifier gates the auth message type; everything
// else is inert until RunWithContext starts the heartbeat monitor.
func NewHub(cfg config.RealtimeConfig, verifier TokenVerifier) *Hub {
	return &Hub{
		cfg:      cfg,
		verifier: verifier,
		clients:  map[string]*Client{},
		channels: map[string]map[string]*Client{},
	}
}

// Register allocates a connection entry for an upgraded transport, sends the
// welcome frame carrying the assigned id, and returns the client. The caller
// starts the pumps.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	logging.Info().Str("client_id", client.id).Int("total_connections", total).Msg("client connected")

	client.enqueueMessage(NewMessage(TypeSystem, EventConnected, map[string]string{"clientId": client.id}))
	return client
}

// unregister removes a client from the registry and from every channel it
// belonged to, implicit user/store memberships included. Idempotent: the
// read pump, the heartbeat monitor, and shutdown may all race to clean up
// the same connection.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)

	for channel := range c.subscriptions {
		h.removeFromChannelLocked(channel, c.id)
	}
	if c.authenticated {
		h.removeFromChannelLocked(UserChannel(c.userID), c.id)
		h.removeFromChannelLocked(StoreChannel(c.storeID), c.id)
	}

	total := len(h.clients)
	authed := h.authenticatedCountLocked()
	channels := len(h.channels)
	h.mu.Unlock()

	c.terminate()

	metrics.ActiveConnections.Set(float64(total))
	metrics.AuthenticatedConnections.Set(float64(authed))
	metrics.ActiveChannels.Set(float64(channels))
	logging.Info().Str("client_id", c.id).Int("total_connections", total).Msg("client disconnected")
}

// addToChannelLocked adds a member, creating the channel entry lazily.
func (h *Hub) addToChannelLocked(channel string, c *Client) {
	members, ok := h.channels[channel]
	if !ok {
		members = map[string]*Client{}
		h.channels[channel] = members
	}
	members[c.id] = c
}

// removeFromChannelLocked removes a member and deletes the channel entry the
// moment its member set becomes empty. The index never holds an empty channel.
func (h *Hub) removeFromChannelLocked(channel, clientID string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// subscribe adds an explicit channel membership. Idempotent. Returns false
// when the client has already been unregistered: a membership added after
// cleanup would stay in the index forever.
func (h *Hub) subscribe(c *Client, channel string) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return false
	}
	c.subscriptions[channel] = struct{}{}
	h.addToChannelLocked(channel, c)
	channels := len(h.channels)
	h.mu.Unlock()

	metrics.ActiveChannels.Set(float64(channels))
	return true
}

// unsubscribe drops an explicit channel membership.
func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	delete(c.subscriptions, channel)
	h.removeFromChannelLocked(channel, c.id)
	channels := len(h.channels)
	h.mu.Unlock()

	metrics.ActiveChannels.Set(float64(channels))
}

// grantDefaultChannels subscribes an authenticated client to its implicit
// user and store channels. Kept as its own named step so the implicit grant
// is testable apart from token verification.
func (h *Hub) grantDefaultChannelsLocked(c *Client) {
	h.addToChannelLocked(UserChannel(c.userID), c)
	h.addToChannelLocked(StoreChannel(c.storeID), c)
}

// authenticatedCountLocked counts authenticated connections.
func (h *Hub) authenticatedCountLocked() int {
	n := 0
	for _, c := range h.clients {
		if c.authenticated {
			n++
		}
	}
	return n
}

// marshalMessage converts a message to its wire form.
func marshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// broadcastToChannel delivers a message to every current member of the
// channel except the optionally excluded connection. The message is
// marshaled once; members are visited in registration order.
func (h *Hub) broadcastToChannel(channel string, msg Message, excludeID string) {
	raw, err := marshalMessage(msg)
	if err != nil {
		logging.Error().Err(err).Str("channel", channel).Msg("failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.channels[channel]))
	for _, c := range h.channels[channel] {
		if c.id != excludeID {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].seq < members[j].seq
	})

	for _, c := range members {
		c.enqueue(raw)
	}
}

// SendToChannel delivers a message to every member of a channel.
func (h *Hub) SendToChannel(channel string, msg Message) {
	metrics.Broadcasts.WithLabelValues("channel").Inc()
	h.broadcastToChannel(channel, msg, "")
}

// SendToUser delivers a message to every connection of a user.
func (h *Hub) SendToUser(userID string, msg Message) {
	metrics.Broadcasts.WithLabelValues("user").Inc()
	h.broadcastToChannel(UserChannel(userID), msg, "")
}

// BroadcastToStore delivers a message to every connection in a store.
func (h *Hub) BroadcastToStore(storeID string, msg Message) {
	metrics.Broadcasts.WithLabelValues("store").Inc()
	h.broadcastToChannel(StoreChannel(storeID), msg, "")
}

// BroadcastToAllStores delivers a message to every store channel with at
// least one connection. Cost scales with the number of distinct connected
// stores, not with total connections.
func (h *Hub) BroadcastToAllStores(msg Message) {
	metrics.Broadcasts.WithLabelValues("all_stores").Inc()

	h.mu.RLock()
	storeChannels := make([]string, 0)
	for channel := range h.channels {
		if strings.HasPrefix(channel, StoreChannelPrefix) {
			storeChannels = append(storeChannels, channel)
		}
	}
	h.mu.RUnlock()

	sort.Strings(storeChannels)
	for _, channel := range storeChannels {
		h.broadcastToChannel(channel, msg, "")
	}
}

// ChannelStat is the per-channel entry of Stats.
type ChannelStat struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

// Stats is the operational snapshot returned by GetStats.
type Stats struct {
	TotalConnections         int           `json:"totalConnections"`
	AuthenticatedConnections int           `json:"authenticatedConnections"`
	TotalChannels            int           `json:"totalChannels"`
	ChannelStats             []ChannelStat `json:"channelStats"`
}

// GetStats returns connection and channel counts for dashboards and health
// checks. Operational visibility only; nothing depends on it for
// correctness.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections:         len(h.clients),
		AuthenticatedConnections: h.authenticatedCountLocked(),
		TotalChannels:            len(h.channels),
		ChannelStats:             make([]ChannelStat, 0, len(h.channels)),
	}
	for channel, members := range h.channels {
		stats.ChannelStats = append(stats.ChannelStats, ChannelStat{
			Channel:     channel,
			Subscribers: len(members),
		})
	}
	sort.Slice(stats.ChannelStats, func(i, j int) bool {
		return stats.ChannelStats[i].Channel < stats.ChannelStats[j].Channel
	})
	return stats
}

// StoreConnection describes one live connection of a store.
type StoreConnection struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

// GetStoreConnections returns a snapshot of the authenticated connections
// bound to a store.
func (h *Hub) GetStoreConnections(storeID string) []StoreConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]StoreConnection, 0)
	for _, c := range h.clients {
		if c.authenticated && c.storeID == storeID {
			conns = append(conns, StoreConnection{ClientID: c.id, UserID: c.userID})
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ClientID < conns[j].ClientID
	})
	return conns
}

// RunWithContext runs the heartbeat monitor until the context is canceled,
// then closes every client and returns ctx.Err(). Designed for suture
// supervision: a restart resumes reaping over the surviving registry.
func (h *Hub) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "realtime-hub").
				Msg("heartbeat monitor stopped")
			return ctx.Err()

		case <-ticker.C:
			h.reap(time.Now())
		}
	}
}

// reap performs one heartbeat tick: evict every connection whose liveness
// is older than the window, and probe the rest with a transport-level ping.
// Eviction runs the same cleanup as a normal disconnect.
func (h *Hub) reap(now time.Time) {
	h.mu.RLock()
	stale := make([]*Client, 0)
	live := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.livenessAge(now) > h.cfg.LivenessWindow {
			stale = append(stale, c)
		} else {
			live = append(live, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		logging.Warn().
			Str("client_id", c.id).
			Dur("liveness_age", c.livenessAge(now)).
			Msg("reaping stale client")
		metrics.ReapedConnections.Inc()
		c.terminate()
		h.unregister(c)
	}

	for _, c := range live {
		if c.conn == nil {
			continue
		}
		deadline := now.Add(h.cfg.WriteWait)
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			logging.Debug().Err(err).Str("client_id", c.id).Msg("liveness probe failed")
		}
	}
}

// closeAllClients tears down every connection during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.terminate()
		h.unregister(c)
	}
	logging.Info().Int("clients_closed", len(clients)).Msg("closed all realtime clients during shutdown")
}
