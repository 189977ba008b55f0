// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package metrics exposes Prometheus instrumentation for the realtime layer:
// connection population, channel population, message throughput, delivery
// drops, auth failures, and heartbeat reaping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection population
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Current number of live websocket connections",
		},
	)

	AuthenticatedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_authenticated_connections",
			Help: "Current number of authenticated websocket connections",
		},
	)

	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_channels",
			Help: "Current number of channels with at least one subscriber",
		},
	)

	// Message throughput
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_received_total",
			Help: "Total inbound frames by message type",
		},
		[]string{"type"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Total broadcast operations by kind",
		},
		[]string{"kind"}, // "channel", "store", "user", "all_stores"
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total frames enqueued for delivery to a connection",
		},
	)

	DroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_dropped_sends_total",
			Help: "Total frames dropped because a connection's send buffer was full",
		},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_malformed_frames_total",
			Help: "Total inbound frames dropped as unparseable",
		},
	)

	// Auth and liveness
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_auth_failures_total",
			Help: "Total failed authentication attempts over websocket",
		},
	)

	ReapedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reaped_connections_total",
			Help: "Total connections evicted by the heartbeat monitor",
		},
	)
)
