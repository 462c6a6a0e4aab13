// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/notify"
	"github.com/shutterbridge/shutterbridge/internal/tools"
)

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer *http.Server
}

// New creates and wires up the API server. It does NOT start listening —
// call Run() for that. metricsHandler may be nil when exposition is
// disabled.
func New(
	cfg *config.ServerConfig,
	bridgeCfg config.BridgeConfig,
	pluginLogPath string,
	queue *bridge.CommandQueue,
	store *bridge.HeartbeatStore,
	registry *tools.Registry,
	notifier *notify.Notifier,
	metricsHandler http.Handler,
	serverVersion string,
) *Server {
	handlers := NewHandlers(queue, store, registry, bridgeCfg, pluginLogPath, serverVersion)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		// Plugin pull surface
		r.Route("/plugin", func(r chi.Router) {
			r.Post("/heartbeat", handlers.PostHeartbeat)
			r.Post("/commands/enqueue", handlers.EnqueueCommand)
			r.Post("/commands/claim", handlers.ClaimCommands)
			r.Post("/commands/{id}/result", handlers.PostResult)
		})

		// Command status polling
		r.Get("/commands/{id}", handlers.GetCommandStatus)

		// Tool surface
		r.Get("/tools", handlers.ListTools)
		r.Post("/tools/{name}", handlers.CallTool)

		// Resource reads
		r.Get("/resources/status", handlers.GetStatusResource)
		r.Get("/resources/logs/plugin", handlers.GetPluginLogResource)
		r.Get("/resources/collections", handlers.GetCollectionsResource)
	})

	// WebSocket notification channel
	r.Get("/ws", HandleWebSocket(notifier, cfg.AllowedOrigins))

	r.Get("/healthz", handlers.Healthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Run starts the HTTP server. Blocks until the server is shut down.
func (s *Server) Run(ctx context.Context) error {
	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
