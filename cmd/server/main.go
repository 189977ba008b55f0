// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package main is the entry point for the DealerPulse server.
//
// DealerPulse is the realtime notification layer of the AutolytiQ dealership
// platform: a websocket endpoint that authenticates connections with JWT
// bearer tokens, manages channel subscriptions, and fans deal, inventory,
// and customer events out to the right subset of connected clients.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layering defaults, config.yaml, and env vars
//  2. Logging: zerolog, JSON by default
//  3. Auth: JWT manager from JWT_SECRET
//  4. Realtime hub: registry, channel index, heartbeat monitor
//  5. HTTP server: chi router with /ws, health, stats, injection routes
//  6. Supervision: suture tree running hub and server until SIGINT/SIGTERM
//
// Minimal production environment:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ALLOWED_ORIGINS=https://autolytiq.com
//	./dealerpulse
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/autolytiq/dealerpulse/internal/api"
	"github.com/autolytiq/dealerpulse/internal/auth"
	"github.com/autolytiq/dealerpulse/internal/config"
	"github.com/autolytiq/dealerpulse/internal/logging"
	"github.com/autolytiq/dealerpulse/internal/realtime"
	"github.com/autolytiq/dealerpulse/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tokens, err := auth.NewManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize token manager")
	}

	hub := realtime.NewHub(cfg.Realtime, tokens)
	handler := api.NewHandler(hub, cfg)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddRealtimeService(supervisor.NewHubService(hub))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Dur("heartbeat_interval", cfg.Realtime.HeartbeatInterval).
		Dur("liveness_window", cfg.Realtime.LivenessWindow).
		Msg("dealerpulse starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}

	logging.Info().Msg("dealerpulse stopped")
}
