// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetBridgeLogger returns a logger for the command bridge (queue + heartbeat)
func GetBridgeLogger() zerolog.Logger {
	return GetLogger("bridge")
}

// GetNotifyLogger returns a logger for the change notifier
func GetNotifyLogger() zerolog.Logger {
	return GetLogger("notify")
}

// GetWatcherLogger returns a logger for the resource watchers
func GetWatcherLogger() zerolog.Logger {
	return GetLogger("watcher")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetToolsLogger returns a logger for tool-call handling
func GetToolsLogger() zerolog.Logger {
	return GetLogger("tools")
}
