// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the HTTP + WebSocket surface: the plugin-facing command
// API, the tool-call API, resource reads, and the notification channel.
package server

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
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}
