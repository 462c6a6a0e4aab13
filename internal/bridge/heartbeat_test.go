// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatStoreEmpty(t *testing.T) {
	s := NewHeartbeatStore()
	_, ok := s.Last()
	assert.False(t, ok)
}

func TestHeartbeatStoreSet(t *testing.T) {
	s := NewHeartbeatStore()
	clock := newFakeClock()
	s.now = clock.Now

	s.Set("1.2.0", "14.3", "/catalogs/main", "2026-01-15T11:59:58Z")

	hb, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "1.2.0", hb.PluginVersion)
	assert.Equal(t, "14.3", hb.AppVersion)
	assert.Equal(t, "/catalogs/main", hb.CatalogPath)
	assert.Equal(t, clock.Now(), hb.ReceivedAt)
	require.NotNil(t, hb.ReportedAt)
	assert.Equal(t, time.Date(2026, 1, 15, 11, 59, 58, 0, time.UTC), hb.ReportedAt.UTC())
}

func TestHeartbeatStoreOverwrites(t *testing.T) {
	s := NewHeartbeatStore()
	clock := newFakeClock()
	s.now = clock.Now

	s.Set("1.0.0", "14.0", "", "")
	clock.Advance(10 * time.Second)
	s.Set("1.1.0", "14.0", "", "")

	hb, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "1.1.0", hb.PluginVersion, "only the most recent heartbeat is retained")
	assert.Equal(t, clock.Now(), hb.ReceivedAt)
}

func TestHeartbeatBadTimestamp(t *testing.T) {
	s := NewHeartbeatStore()

	// A malformed plugin clock must not reject the heartbeat.
	hb := s.Set("1.0.0", "14.0", "", "yesterday-ish")
	assert.Nil(t, hb.ReportedAt)
	assert.False(t, hb.ReceivedAt.IsZero())

	stored, ok := s.Last()
	require.True(t, ok)
	assert.Nil(t, stored.ReportedAt)
}

func TestHeartbeatMissingTimestamp(t *testing.T) {
	s := NewHeartbeatStore()
	hb := s.Set("1.0.0", "14.0", "", "")
	assert.Nil(t, hb.ReportedAt)
}
