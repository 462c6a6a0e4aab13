// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"sync"
	"time"
)

// Heartbeat is the plugin's most recent liveness signal. ReceivedAt is
// assigned from the server clock and is the field freshness checks should
// prefer; ReportedAt is the plugin's own clock, best-effort parsed.
type Heartbeat struct {
	PluginVersion string
	AppVersion    string
	CatalogPath   string
	ReceivedAt    time.Time
	ReportedAt    *time.Time
}

// HeartbeatStore retains the single most recent heartbeat. The store does not
// compute freshness: every consumer compares ReceivedAt against its own
// threshold, because "fresh enough to submit work" and "fresh enough to call
// the plugin alive" are different questions.
type HeartbeatStore struct {
	mu   sync.Mutex
	last *Heartbeat
	now  func() time.Time
}

// NewHeartbeatStore creates an empty store.
func NewHeartbeatStore() *HeartbeatStore {
	return &HeartbeatStore{now: time.Now}
}

// Set overwrites the retained heartbeat and returns the stored value.
// reportedAtRaw is parsed best-effort: a malformed timestamp is stored as
// absent rather than rejecting the whole heartbeat, since the server-assigned
// ReceivedAt is always valid. The parse failure is logged so a plugin with a
// broken clock format is detectable.
func (s *HeartbeatStore) Set(pluginVersion, appVersion, catalogPath, reportedAtRaw string) Heartbeat {
	var reportedAt *time.Time
	if reportedAtRaw != "" {
		if t, err := time.Parse(time.RFC3339, reportedAtRaw); err == nil {
			reportedAt = &t
		} else {
			getLog().Warn().
				Str("timestamp", reportedAtRaw).
				Err(err).
				Msg("Heartbeat carried unparseable timestamp, storing without it")
		}
	}

	hb := Heartbeat{
		PluginVersion: pluginVersion,
		AppVersion:    appVersion,
		CatalogPath:   catalogPath,
		ReceivedAt:    s.now(),
		ReportedAt:    reportedAt,
	}

	s.mu.Lock()
	s.last = &hb
	s.mu.Unlock()

	return hb
}

// Last returns the retained heartbeat, or false if none has ever arrived.
func (s *HeartbeatStore) Last() (Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Heartbeat{}, false
	}
	return *s.last, true
}
