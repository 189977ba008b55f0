// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package realtime implements the websocket event-distribution core:
// a connection registry, a topic ("channel") index, bearer-token
// authentication with implicit per-user and per-store channel grants,
// typed message routing, heartbeat-based dead-connection reaping, and the
// broadcast facade the REST layer uses to push deal, inventory, and
// customer events to connected clients.
//
// Delivery is single-process, in-memory, and best-effort: no event history,
// no retries, no cross-process fan-out.
package realtime
