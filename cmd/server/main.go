// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package main is the entry point for the Pulseboard dashboard server.
//
// Pulseboard is a marketing analytics dashboard. This server provides the
// live resource synchronization layer behind it: browser dashboards connect
// over WebSocket, declare which resources they are viewing, and receive
// staleness notifications the moment another editor or a background data
// sync changes those resources. Background sync jobs are started over HTTP,
// report progress to all connected clients, and can be cancelled
// cooperatively.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: koanf v2 with layered sources (defaults, YAML file,
//     PULSEBOARD_* environment variables)
//  2. Version store: BadgerDB-backed per-resource version counters
//  3. Event bus: in-process Watermill channel, or NATS when configured
//  4. WebSocket hub and staleness relay
//  5. Job service with connector-backed sync runners
//  6. HTTP server: REST API, share links, websocket endpoint, metrics
//
// All long-running components run under a suture supervisor tree and shut
// down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulseboardhq/pulseboard/internal/api"
	"github.com/pulseboardhq/pulseboard/internal/config"
	"github.com/pulseboardhq/pulseboard/internal/connector"
	"github.com/pulseboardhq/pulseboard/internal/events"
	"github.com/pulseboardhq/pulseboard/internal/jobs"
	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
	"github.com/pulseboardhq/pulseboard/internal/share"
	"github.com/pulseboardhq/pulseboard/internal/store"
	"github.com/pulseboardhq/pulseboard/internal/supervisor"
	"github.com/pulseboardhq/pulseboard/internal/supervisor/services"
	ws "github.com/pulseboardhq/pulseboard/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("store_in_memory", cfg.Store.InMemory).
		Msg("Starting Pulseboard server")

	// Version store.
	storeOpts := store.Options{Path: cfg.Store.Path}
	if cfg.Store.InMemory {
		storeOpts.Path = ""
	}
	versions, err := store.Open(storeOpts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open version store")
	}
	defer func() {
		if err := versions.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing version store")
		}
	}()

	// Event bus: NATS when configured, in-process otherwise.
	wmLogger := events.NewLoggerAdapter()
	var bus *events.Bus
	if cfg.NATS.Enabled {
		bus, err = events.NewNATSBus(events.NATSConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect event bus to NATS")
		}
		logging.Info().Str("url", cfg.NATS.URL).Msg("Event bus connected to NATS")
	} else {
		bus = events.NewInProcessBus(wmLogger)
		logging.Info().Msg("Event bus running in process")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// WebSocket hub and the relay that feeds it staleness events.
	hub := ws.NewHub()
	relay := events.NewRelay(bus, hub)

	// Job service with connector-backed runners. Without a connector URL
	// the job API rejects start requests, but polling and cancel endpoints
	// still serve whatever jobs exist.
	jobsSvc := jobs.NewService(hub)
	if cfg.Connector.BaseURL != "" {
		connectorClient := connector.NewClient(connector.ClientConfig{
			BaseURL:        cfg.Connector.BaseURL,
			RequestTimeout: cfg.Connector.RequestTimeout,
		})
		for _, kind := range []models.SyncKind{
			models.SyncKindAnalytics,
			models.SyncKindSearchConsole,
			models.SyncKindRankings,
			models.SyncKindAIVisibility,
		} {
			jobsSvc.Register(kind, connector.NewRunner(kind, connectorClient, versions, bus))
		}
		logging.Info().Str("connector_url", cfg.Connector.BaseURL).Msg("Sync job runners registered")
	} else {
		logging.Warn().Msg("No connector configured, sync jobs disabled")
	}

	// Share-link tokens, optional.
	var shares *share.Manager
	if cfg.Share.Secret != "" {
		shares, err = share.NewManager([]byte(cfg.Share.Secret), cfg.Share.TTL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize share tokens")
		}
	} else {
		logging.Info().Msg("Share links disabled (no secret configured)")
	}

	// HTTP surface.
	handler := api.NewHandler(versions, bus, jobsSvc, hub, shares)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(relay)
	tree.AddMessagingService(jobsSvc)
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr).Msg("Pulseboard server listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Pulseboard server stopped")
}
