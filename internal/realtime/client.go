// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/autolytiq/dealerpulse/internal/logging"
	"github.com/autolytiq/dealerpulse/internal/metrics"
)

// clientSeqCounter assigns registration order to clients. Broadcast fan-out
// iterates members in this order, giving deterministic delivery within a
// single broadcast call.
var clientSeqCounter atomic.Uint64

// Client is one live transport session: the middleman between a websocket
// connection and the hub. Identity and subscription state are guarded by the
// hub's mutex; liveness is an atomic timestamp refreshed from either the
// transport-level pong or the application-level ping frame.
type Client struct {
	id   string
	seq  uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	// Guarded by hub.mu. Identity is set once on successful auth;
	// subscriptions holds explicit channel joins only, never the implicit
	// user:/store: memberships granted at auth time.
	userID        string
	storeID       string
	authenticated bool
	subscriptions map[string]struct{}

	lastLiveness atomic.Int64
	closeOnce    sync.Once
}

// newClient allocates a client for a freshly accepted connection.
func newClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:            uuid.NewString(),
		seq:           clientSeqCounter.Add(1),
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, hub.cfg.SendBuffer),
		done:          make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
	c.refreshLiveness()
	return c
}

// ID returns the connection identifier assigned at accept time.
func (c *Client) ID() string {
	return c.id
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// refreshLiveness records a liveness signal. Called from the gorilla pong
// handler and from the application-level ping frame; both mechanisms funnel
// here so the heartbeat monitor has a single timestamp to judge.
func (c *Client) refreshLiveness() {
	c.lastLiveness.Store(time.Now().UnixNano())
}

// livenessAge returns how long ago the last liveness signal arrived.
func (c *Client) livenessAge(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastLiveness.Load()))
}

// enqueue hands a marshaled frame to the write pump. Delivery is
// best-effort: frames to a terminated client or past a full send buffer are
// dropped silently, never queued or retried.
func (c *Client) enqueue(raw []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- raw:
		metrics.Deliveries.Inc()
	default:
		metrics.DroppedSends.Inc()
		logging.Debug().Str("client_id", c.id).Msg("send buffer full, dropping frame")
	}
}

// enqueueMessage marshals and enqueues a single-recipient message.
func (c *Client) enqueueMessage(msg Message) {
	raw, err := marshalMessage(msg)
	if err != nil {
		logging.Error().Err(err).Str("client_id", c.id).Msg("failed to marshal outbound message")
		return
	}
	c.enqueue(raw)
}

// terminate closes the underlying transport and releases the write pump.
// Idempotent; safe to call concurrently with the pumps and with broadcasts.
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump pumps frames from the websocket connection into the hub's router.
// It exits on any transport error, which covers both peer-initiated closes
// and heartbeat-monitor termination, and runs full cleanup on the way out.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.terminate()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.refreshLiveness()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
		c.hub.route(c, raw)
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
// Liveness probing lives in the hub's heartbeat monitor, not here.
func (c *Client) writePump() {
	defer c.terminate()

	for {
		select {
		case raw := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Str("client_id", c.id).Msg("failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-c.done:
			// Hub-initiated teardown; best-effort close frame.
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
