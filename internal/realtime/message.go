// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies an inbound message type. The set is closed: anything not
// listed here maps to KindUnknown and is dropped by the router.
type Kind string

const (
	KindAuth                 Kind = "auth"
	KindSubscribe            Kind = "subscribe"
	KindUnsubscribe          Kind = "unsubscribe"
	KindDealUpdate           Kind = "deal_update"
	KindInventorySync        Kind = "inventory_sync"
	KindCustomerNotification Kind = "customer_notification"
	KindPing                 Kind = "ping"
	KindUnknown              Kind = "unknown"
)

// KindOf maps a wire type string onto the closed message-kind set.
func KindOf(s string) Kind {
	switch Kind(s) {
	case KindAuth, KindSubscribe, KindUnsubscribe, KindDealUpdate,
		KindInventorySync, KindCustomerNotification, KindPing:
		return Kind(s)
	default:
		return KindUnknown
	}
}

// Outbound message types and events.
const (
	TypeSystem       = "system"
	TypeAuth         = "auth"
	TypeSubscription = "subscription"
	TypeDealUpdate   = "deal_update"
	TypeInventory    = "inventory_sync"
	TypeNotification = "notification"
	TypePong         = "pong"

	EventConnected = "connected"
	EventSuccess   = "success"
	EventError     = "error"
	EventUpdated   = "updated"
	EventNew       = "new"
	EventHeartbeat = "heartbeat"
)

// Frame is an inbound client frame. Fields beyond type are populated
// depending on the message kind.
type Frame struct {
	Type         string          `json:"type"`
	Event        string          `json:"event,omitempty"`
	Channel      string          `json:"channel,omitempty"`
	Token        string          `json:"token,omitempty"`
	DealID       string          `json:"dealId,omitempty"`
	VehicleID    string          `json:"vehicleId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Changes      json.RawMessage `json:"changes,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
}

// Message is the unit of delivery to clients. Immutable once constructed;
// the same message is marshaled once and fanned out without copying.
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage constructs an outbound message stamped with the current time
// in Unix milliseconds.
func NewMessage(msgType, event string, data interface{}) Message {
	return Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// DealUpdateData is the payload of a deal_update/updated broadcast.
type DealUpdateData struct {
	DealID    string          `json:"dealId"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	UpdatedBy string          `json:"updatedBy"`
}

// InventorySyncData is the payload of an inventory_sync/updated broadcast.
// StoreID identifies the originating store.
type InventorySyncData struct {
	VehicleID string          `json:"vehicleId"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	StoreID   string          `json:"storeId"`
}

// AuthSuccessData is the payload of an auth/success response.
type AuthSuccessData struct {
	UserID  string `json:"userId"`
	StoreID string `json:"storeId"`
}
