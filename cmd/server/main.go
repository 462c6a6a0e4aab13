// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/logger"
	"github.com/shutterbridge/shutterbridge/internal/metrics"
	"github.com/shutterbridge/shutterbridge/internal/notify"
	"github.com/shutterbridge/shutterbridge/internal/server"
	"github.com/shutterbridge/shutterbridge/internal/tools"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Str("version", version).Msg("Starting shutterbridge server")

	// Core services. Everything is constructed here and injected — no
	// package-level singletons.
	var collector *metrics.Collector
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		metricsHandler = collector.Handler()
	}

	queueOpts := bridge.Options{
		VisibilityTimeout: cfg.Bridge.VisibilityTimeout,
		IdempotencyTTL:    cfg.Bridge.IdempotencyTTL,
		ResultRetention:   cfg.Bridge.ResultRetention,
	}
	if collector != nil {
		queueOpts.Metrics = collector
	}
	queue := bridge.NewCommandQueue(queueOpts)
	store := bridge.NewHeartbeatStore()

	registry := tools.NewRegistry()
	tools.NewCatalog(queue, store, cfg.Bridge, version).RegisterAll(registry)

	notifier := notify.NewNotifier()
	watchers := notify.NewWatchers(cfg.Watcher, cfg.Bridge.FreshnessStrict, queue, store, notifier)
	watchers.Start()

	srv := server.New(
		&cfg.Server,
		cfg.Bridge,
		cfg.Watcher.PluginLogPath,
		queue,
		store,
		registry,
		notifier,
		metricsHandler,
		version,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	// Wait for signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout, independent of the run ctx.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	watchers.Stop()
	mainLog.Info().Msg("Shutterbridge server shut down")
}
