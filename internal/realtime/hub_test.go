// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/goleak"

	"github.com/autolytiq/dealerpulse/internal/auth"
	"github.com/autolytiq/dealerpulse/internal/config"
	"github.com/autolytiq/dealerpulse/internal/logging"
)

const testSecret = "test-secret-at-least-32-characters-long"

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	goleak.VerifyTestMain(m)
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		HeartbeatInterval: 15 * time.Second,
		LivenessWindow:    30 * time.Second,
		SendBuffer:        256,
		MaxMessageSize:    512 * 1024,
		WriteWait:         time.Second,
	}
}

func newTestManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(&config.SecurityConfig{
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func newTestHub(t *testing.T) (*Hub, *auth.Manager) {
	t.Helper()
	mgr := newTestManager(t)
	return NewHub(testRealtimeConfig(), mgr), mgr
}

// connect registers a fake client with no transport and drains the welcome
// frame so tests only observe the traffic they generate.
func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := h.Register(nil)
	msg := recvMessage(t, c)
	if msg.Type != TypeSystem || msg.Event != EventConnected {
		t.Fatalf("expected system/connected welcome, got %s/%s", msg.Type, msg.Event)
	}
	return c
}

// authenticate routes a valid auth frame for the given identity and checks
// the success response.
func authenticate(t *testing.T, h *Hub, mgr *auth.Manager, c *Client, userID, storeID string) {
	t.Helper()
	token, err := mgr.Generate(userID, storeID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	routeFrame(t, h, c, Frame{Type: "auth", Token: token})

	msg := recvMessage(t, c)
	if msg.Type != TypeAuth || msg.Event != EventSuccess {
		t.Fatalf("expected auth/success, got %s/%s", msg.Type, msg.Event)
	}
	var data AuthSuccessData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal auth data: %v", err)
	}
	if data.UserID != userID || data.StoreID != storeID {
		t.Errorf("auth data = %+v, want user %s store %s", data, userID, storeID)
	}
}

func routeFrame(t *testing.T, h *Hub, c *Client, frame Frame) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	h.route(c, raw)
}

// wireMessage mirrors Message with raw payload bytes for assertions.
type wireMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func recvMessage(t *testing.T, c *Client) wireMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return wireMessage{}
	}
}

func expectNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("expected no outbound frame, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterSendsWelcome(t *testing.T) {
	h, _ := newTestHub(t)

	c := h.Register(nil)
	msg := recvMessage(t, c)

	if msg.Type != TypeSystem || msg.Event != EventConnected {
		t.Fatalf("welcome = %s/%s, want system/connected", msg.Type, msg.Event)
	}
	var data map[string]string
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal welcome data: %v", err)
	}
	if data["clientId"] != c.ID() {
		t.Errorf("welcome clientId = %q, want %q", data["clientId"], c.ID())
	}
}

// Pre-auth frames of every gated type must produce no observable effect:
// no echo to the sender, no delivery to anyone else.
func TestAuthGatesChannelTraffic(t *testing.T) {
	h, mgr := newTestHub(t)

	peer := connect(t, h)
	authenticate(t, h, mgr, peer, "10", "7")

	intruder := connect(t, h)

	frames := []Frame{
		{Type: "subscribe", Channel: "deals"},
		{Type: "deal_update", DealID: "d1", Changes: json.RawMessage(`{"status":"sold"}`)},
		{Type: "inventory_sync", VehicleID: "v1"},
		{Type: "customer_notification", TargetUserID: "10", Data: json.RawMessage(`{"msg":"hi"}`)},
	}
	for _, frame := range frames {
		routeFrame(t, h, intruder, frame)
	}

	expectNoMessage(t, intruder)
	expectNoMessage(t, peer)

	stats := h.GetStats()
	for _, cs := range stats.ChannelStats {
		if cs.Channel == "deals" {
			t.Error("unauthenticated subscribe mutated the channel index")
		}
	}
}

// Immediately after auth the connection is a member of exactly its own
// user and store channels.
func TestAuthGrantsImplicitChannels(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	authenticate(t, h, mgr, c, "42", "7")

	h.SendToUser("42", NewMessage("notification", "new", nil))
	if msg := recvMessage(t, c); msg.Type != "notification" {
		t.Errorf("user channel delivery type = %s", msg.Type)
	}

	h.BroadcastToStore("7", NewMessage("deal_update", "updated", nil))
	if msg := recvMessage(t, c); msg.Type != "deal_update" {
		t.Errorf("store channel delivery type = %s", msg.Type)
	}

	h.SendToUser("99", NewMessage("notification", "new", nil))
	h.BroadcastToStore("8", NewMessage("deal_update", "updated", nil))
	expectNoMessage(t, c)
}

func TestAuthFailureLeavesConnectionRetryable(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	routeFrame(t, h, c, Frame{Type: "auth", Token: "not-a-token"})

	msg := recvMessage(t, c)
	if msg.Type != TypeAuth || msg.Event != EventError {
		t.Fatalf("expected auth/error, got %s/%s", msg.Type, msg.Event)
	}
	var data map[string]string
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data["error"] != "Invalid token" {
		t.Errorf("error reason = %q, want %q", data["error"], "Invalid token")
	}

	if h.GetStats().TotalConnections != 1 {
		t.Fatal("failed auth must not disconnect the client")
	}

	// Same socket, corrected token.
	authenticate(t, h, mgr, c, "42", "7")
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	authenticate(t, h, mgr, c, "1", "1")

	routeFrame(t, h, c, Frame{Type: "subscribe", Channel: "reports"})
	if msg := recvMessage(t, c); msg.Type != TypeSubscription || msg.Event != EventSuccess {
		t.Fatalf("expected subscription/success, got %s/%s", msg.Type, msg.Event)
	}
	routeFrame(t, h, c, Frame{Type: "subscribe", Channel: "reports"})
	recvMessage(t, c) // second echo

	for _, cs := range h.GetStats().ChannelStats {
		if cs.Channel == "reports" && cs.Subscribers != 1 {
			t.Errorf("subscribers = %d, want 1", cs.Subscribers)
		}
	}
}

func TestEmptyChannelCleanup(t *testing.T) {
	h, mgr := newTestHub(t)

	hasChannel := func(name string) bool {
		for _, cs := range h.GetStats().ChannelStats {
			if cs.Channel == name {
				return true
			}
		}
		return false
	}

	t.Run("after unsubscribe", func(t *testing.T) {
		c := connect(t, h)
		authenticate(t, h, mgr, c, "1", "1")

		routeFrame(t, h, c, Frame{Type: "subscribe", Channel: "reports"})
		recvMessage(t, c)
		if !hasChannel("reports") {
			t.Fatal("channel missing after subscribe")
		}

		routeFrame(t, h, c, Frame{Type: "unsubscribe", Channel: "reports"})
		if hasChannel("reports") {
			t.Error("channel should be removed when its last member leaves")
		}
	})

	t.Run("after disconnect", func(t *testing.T) {
		c := connect(t, h)
		authenticate(t, h, mgr, c, "2", "2")

		routeFrame(t, h, c, Frame{Type: "subscribe", Channel: "audit"})
		recvMessage(t, c)

		h.unregister(c)
		if hasChannel("audit") {
			t.Error("channel should be removed when its last member disconnects")
		}
		if hasChannel(UserChannel("2")) || hasChannel(StoreChannel("2")) {
			t.Error("implicit channels should be removed on disconnect")
		}
	})
}

// A deal_update reaches every other member of the sender's store channel,
// never the sender, never other stores.
func TestDealUpdateExcludesSender(t *testing.T) {
	h, mgr := newTestHub(t)

	sender := connect(t, h)
	authenticate(t, h, mgr, sender, "1", "7")
	peer := connect(t, h)
	authenticate(t, h, mgr, peer, "2", "7")
	outsider := connect(t, h)
	authenticate(t, h, mgr, outsider, "3", "8")

	routeFrame(t, h, sender, Frame{
		Type:    "deal_update",
		DealID:  "deal-55",
		Changes: json.RawMessage(`{"status":"pending"}`),
	})

	msg := recvMessage(t, peer)
	if msg.Type != TypeDealUpdate || msg.Event != EventUpdated {
		t.Fatalf("peer got %s/%s, want deal_update/updated", msg.Type, msg.Event)
	}
	var data DealUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal deal data: %v", err)
	}
	if data.DealID != "deal-55" || data.UpdatedBy != "1" {
		t.Errorf("deal data = %+v", data)
	}

	expectNoMessage(t, sender)
	expectNoMessage(t, outsider)
}

// inventory_sync reaches every store channel, the sender's own included,
// annotated with the originating store.
func TestInventorySyncFansOutToAllStores(t *testing.T) {
	h, mgr := newTestHub(t)

	clients := make([]*Client, 3)
	stores := []string{"1", "2", "3"}
	for i, store := range stores {
		clients[i] = connect(t, h)
		authenticate(t, h, mgr, clients[i], "u"+store, store)
	}

	routeFrame(t, h, clients[0], Frame{Type: "inventory_sync", VehicleID: "99"})

	for i, c := range clients {
		msg := recvMessage(t, c)
		if msg.Type != TypeInventory || msg.Event != EventUpdated {
			t.Fatalf("store %s got %s/%s", stores[i], msg.Type, msg.Event)
		}
		var data InventorySyncData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("unmarshal inventory data: %v", err)
		}
		if data.VehicleID != "99" || data.StoreID != "1" {
			t.Errorf("store %s inventory data = %+v", stores[i], data)
		}
	}
}

func TestCustomerNotificationIsTargeted(t *testing.T) {
	h, mgr := newTestHub(t)

	sender := connect(t, h)
	authenticate(t, h, mgr, sender, "5", "1")
	target := connect(t, h)
	authenticate(t, h, mgr, target, "9", "1")

	routeFrame(t, h, sender, Frame{
		Type:         "customer_notification",
		TargetUserID: "9",
		Data:         json.RawMessage(`{"msg":"hi"}`),
	})

	msg := recvMessage(t, target)
	if msg.Type != TypeNotification || msg.Event != EventNew {
		t.Fatalf("target got %s/%s, want notification/new", msg.Type, msg.Event)
	}
	if string(msg.Data) != `{"msg":"hi"}` {
		t.Errorf("notification data = %s", msg.Data)
	}

	expectNoMessage(t, sender)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h, _ := newTestHub(t)

	c := connect(t, h)
	h.route(c, []byte("this is not json"))

	expectNoMessage(t, c)
	if h.GetStats().TotalConnections != 1 {
		t.Error("malformed frame must not disconnect the client")
	}
}

func TestUnknownTypeIsDropped(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	authenticate(t, h, mgr, c, "1", "1")

	routeFrame(t, h, c, Frame{Type: "time_travel"})
	expectNoMessage(t, c)
}

func TestPingRefreshesLivenessAndPongs(t *testing.T) {
	h, _ := newTestHub(t)

	c := connect(t, h)
	c.lastLiveness.Store(time.Now().Add(-time.Hour).UnixNano())

	// ping is allowed pre-auth.
	routeFrame(t, h, c, Frame{Type: "ping"})

	msg := recvMessage(t, c)
	if msg.Type != TypePong || msg.Event != EventHeartbeat {
		t.Fatalf("expected pong/heartbeat, got %s/%s", msg.Type, msg.Event)
	}
	if c.livenessAge(time.Now()) > time.Minute {
		t.Error("ping did not refresh liveness")
	}
}

// A connection silent past the liveness window is evicted from the registry
// and every channel; later broadcasts to those channels neither fail nor
// reach it.
func TestReapEvictsStaleConnections(t *testing.T) {
	h, mgr := newTestHub(t)

	stale := connect(t, h)
	authenticate(t, h, mgr, stale, "1", "7")
	fresh := connect(t, h)
	authenticate(t, h, mgr, fresh, "2", "7")

	routeFrame(t, h, stale, Frame{Type: "subscribe", Channel: "reports"})
	recvMessage(t, stale)

	stale.lastLiveness.Store(time.Now().Add(-time.Minute).UnixNano())
	h.reap(time.Now())

	stats := h.GetStats()
	if stats.TotalConnections != 1 {
		t.Fatalf("connections after reap = %d, want 1", stats.TotalConnections)
	}
	for _, cs := range stats.ChannelStats {
		switch cs.Channel {
		case "reports", UserChannel("1"):
			t.Errorf("channel %s should have been cleaned up", cs.Channel)
		}
	}

	h.BroadcastToStore("7", NewMessage("deal_update", "updated", nil))
	recvMessage(t, fresh)
}

// A frame still in flight when its connection is unregistered must not
// re-enter the channel index: cleanup has already run, and nothing would
// ever remove the entries again.
func TestAuthAfterUnregisterDoesNotLeakChannels(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	token, err := mgr.Generate("42", "7")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	h.unregister(c)
	routeFrame(t, h, c, Frame{Type: "auth", Token: token})

	stats := h.GetStats()
	if stats.TotalConnections != 0 {
		t.Errorf("TotalConnections = %d, want 0", stats.TotalConnections)
	}
	if stats.TotalChannels != 0 {
		t.Fatalf("channel entries held by an unregistered client: %+v", stats.ChannelStats)
	}

	h.SendToUser("42", NewMessage("notification", "new", nil))
	h.BroadcastToStore("7", NewMessage("deal_update", "updated", nil))
	expectNoMessage(t, c)
}

func TestSubscribeAfterUnregisterDoesNotLeakChannels(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	authenticate(t, h, mgr, c, "1", "1")

	h.unregister(c)
	routeFrame(t, h, c, Frame{Type: "subscribe", Channel: "reports"})

	if stats := h.GetStats(); stats.TotalChannels != 0 {
		t.Fatalf("channel entries held by an unregistered client: %+v", stats.ChannelStats)
	}
	// No success echo for a dead connection either.
	expectNoMessage(t, c)
}

func TestGetStats(t *testing.T) {
	h, mgr := newTestHub(t)

	a := connect(t, h)
	authenticate(t, h, mgr, a, "1", "7")
	connect(t, h) // unauthenticated

	routeFrame(t, h, a, Frame{Type: "subscribe", Channel: "reports"})
	recvMessage(t, a)

	stats := h.GetStats()
	if stats.TotalConnections != 2 {
		t.Errorf("TotalConnections = %d, want 2", stats.TotalConnections)
	}
	if stats.AuthenticatedConnections != 1 {
		t.Errorf("AuthenticatedConnections = %d, want 1", stats.AuthenticatedConnections)
	}
	if stats.TotalChannels != 3 { // user:1, store:7, reports
		t.Errorf("TotalChannels = %d, want 3", stats.TotalChannels)
	}
	for _, cs := range stats.ChannelStats {
		if cs.Subscribers < 1 {
			t.Errorf("channel %s has %d subscribers; empty channels must not appear", cs.Channel, cs.Subscribers)
		}
	}
}

func TestGetStoreConnections(t *testing.T) {
	h, mgr := newTestHub(t)

	a := connect(t, h)
	authenticate(t, h, mgr, a, "1", "7")
	b := connect(t, h)
	authenticate(t, h, mgr, b, "2", "7")
	c := connect(t, h)
	authenticate(t, h, mgr, c, "3", "8")

	conns := h.GetStoreConnections("7")
	if len(conns) != 2 {
		t.Fatalf("store 7 connections = %d, want 2", len(conns))
	}
	users := map[string]bool{}
	for _, conn := range conns {
		users[conn.UserID] = true
	}
	if !users["1"] || !users["2"] {
		t.Errorf("store 7 users = %v", users)
	}
}

// A full send buffer causes a silent drop, never a block or a disconnect.
func TestFullSendBufferDropsSilently(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.SendBuffer = 1
	h := NewHub(cfg, newTestManager(t))

	c := h.Register(nil) // welcome fills the 1-slot buffer

	done := make(chan struct{})
	go func() {
		h.SendToChannel("anything", NewMessage("x", "y", nil))
		c.enqueue([]byte(`{}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send with full buffer blocked")
	}

	if h.GetStats().TotalConnections != 1 {
		t.Error("backpressured client must not be disconnected")
	}
}

func TestRunWithContextShutdown(t *testing.T) {
	h, mgr := newTestHub(t)

	c := connect(t, h)
	authenticate(t, h, mgr, c, "1", "1")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.RunWithContext(ctx)
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWithContext did not stop on cancel")
	}

	if h.GetStats().TotalConnections != 0 {
		t.Error("shutdown must close all clients")
	}
}
