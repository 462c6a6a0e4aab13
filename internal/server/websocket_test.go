// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shutterbridge/shutterbridge/internal/notify"
	"github.com/shutterbridge/shutterbridge/internal/protocol"
)

func TestSessionSendAfterClose(t *testing.T) {
	s := &wsSession{send: make(chan []byte, 4)}
	s.closeSend()

	// A notification landing after teardown is swallowed, never panics.
	require.NotPanics(t, func() {
		assert.NoError(t, s.SendResourceUpdated(protocol.ResourceStatus))
	})
}

func TestCloseSendIsIdempotent(t *testing.T) {
	s := &wsSession{send: make(chan []byte, 4)}
	s.closeSend()
	assert.NotPanics(t, s.closeSend)
}

func TestSessionCloseRacingNotify(t *testing.T) {
	// Watcher notifications race client disconnects constantly in normal
	// operation; the teardown ordering (detach, then close) must never let
	// an in-flight push hit the closed send channel.
	notifier := notify.NewNotifier()

	for i := 0; i < 200; i++ {
		s := &wsSession{send: make(chan []byte, 1)}
		notifier.AttachSession(s)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				notifier.NotifyUpdated(protocol.ResourceStatus)
			}
		}()

		// Mirror readPump's teardown sequence.
		notifier.DetachSession(s)
		s.closeSend()
		wg.Wait()
	}
}

func TestSessionDropsWhenBufferFull(t *testing.T) {
	s := &wsSession{send: make(chan []byte, 1)}

	require.NoError(t, s.SendResourceUpdated(protocol.ResourceStatus))
	// Second push with no write pump draining: dropped, not blocked.
	require.NoError(t, s.SendResourceUpdated(protocol.ResourceCollections))
	assert.Len(t, s.send, 1)
}
