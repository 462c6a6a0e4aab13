// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge implements the in-memory coordination core between the
// tool-call surface and the catalog-app plugin: an idempotent command queue
// with leased delivery, and a store for the plugin's most recent heartbeat.
// Nothing here is persisted; a process restart loses all state.
package bridge

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/shutterbridge/shutterbridge/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetBridgeLogger()
		log = &l
	})
	return log
}
