// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

package realtime

import (
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"auth", KindAuth},
		{"subscribe", KindSubscribe},
		{"unsubscribe", KindUnsubscribe},
		{"deal_update", KindDealUpdate},
		{"inventory_sync", KindInventorySync},
		{"customer_notification", KindCustomerNotification},
		{"ping", KindPing},
		{"", KindUnknown},
		{"AUTH", KindUnknown},
		{"made_up", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := KindOf(tt.in); got != tt.want {
				t.Errorf("KindOf(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewMessageStampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := NewMessage(TypeAuth, EventSuccess, nil)
	after := time.Now().UnixMilli()

	if msg.Timestamp < before || msg.Timestamp > after {
		t.Errorf("Timestamp = %d, want within [%d, %d]", msg.Timestamp, before, after)
	}
}

func TestUserAndStoreChannels(t *testing.T) {
	if got := UserChannel("42"); got != "user:42" {
		t.Errorf("UserChannel = %q", got)
	}
	if got := StoreChannel("7"); got != "store:7" {
		t.Errorf("StoreChannel = %q", got)
	}
}
