// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shutterbridge/shutterbridge/internal/protocol"
)

// recordingSession captures pushed resource ids in order.
type recordingSession struct {
	mu       sync.Mutex
	received []string
	fail     bool
}

func (s *recordingSession) SendResourceUpdated(resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send failed")
	}
	s.received = append(s.received, resourceID)
	return nil
}

func (s *recordingSession) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func TestNotifyWithSession(t *testing.T) {
	n := NewNotifier()
	sess := &recordingSession{}
	n.AttachSession(sess)

	n.NotifyUpdated(protocol.ResourceStatus)
	assert.Equal(t, []string{protocol.ResourceStatus}, sess.got())
}

func TestBufferingBeforeAttach(t *testing.T) {
	n := NewNotifier()

	n.NotifyUpdated(protocol.ResourceStatus)
	n.NotifyUpdated(protocol.ResourceCollections)
	n.NotifyUpdated(protocol.ResourceStatus) // duplicate while buffered

	sess := &recordingSession{}
	n.AttachSession(sess)

	// Buffered changes arrive in first-seen order, deduplicated.
	assert.Equal(t, []string{protocol.ResourceStatus, protocol.ResourceCollections}, sess.got())

	// The buffer drains exactly once: a second attach replays nothing.
	sess2 := &recordingSession{}
	n.AttachSession(sess2)
	assert.Empty(t, sess2.got())
}

func TestAttachSameSessionIsNoop(t *testing.T) {
	n := NewNotifier()
	sess := &recordingSession{}
	n.AttachSession(sess)

	n.NotifyUpdated(protocol.ResourceStatus)
	n.AttachSession(sess)

	assert.Equal(t, []string{protocol.ResourceStatus}, sess.got())
}

func TestSubscriptionFilter(t *testing.T) {
	t.Run("empty set broadcasts everything", func(t *testing.T) {
		n := NewNotifier()
		sess := &recordingSession{}
		n.AttachSession(sess)

		n.NotifyUpdated(protocol.ResourceStatus)
		n.NotifyUpdated(protocol.ResourcePluginLog)
		assert.Len(t, sess.got(), 2)
	})

	t.Run("non-empty set drops unsubscribed resources", func(t *testing.T) {
		n := NewNotifier()
		sess := &recordingSession{}
		n.AttachSession(sess)
		n.Subscribe(protocol.ResourceCollections)

		n.NotifyUpdated(protocol.ResourceStatus)
		n.NotifyUpdated(protocol.ResourceCollections)
		assert.Equal(t, []string{protocol.ResourceCollections}, sess.got())
	})

	t.Run("unsubscribing the last filter restores broadcast", func(t *testing.T) {
		n := NewNotifier()
		sess := &recordingSession{}
		n.AttachSession(sess)
		n.Subscribe(protocol.ResourceCollections)
		n.Unsubscribe(protocol.ResourceCollections)

		n.NotifyUpdated(protocol.ResourceStatus)
		assert.Equal(t, []string{protocol.ResourceStatus}, sess.got())
	})

	t.Run("filter applies to buffered changes too", func(t *testing.T) {
		n := NewNotifier()
		n.Subscribe(protocol.ResourceCollections)

		n.NotifyUpdated(protocol.ResourceStatus) // dropped, not buffered
		n.NotifyUpdated(protocol.ResourceCollections)

		sess := &recordingSession{}
		n.AttachSession(sess)
		assert.Equal(t, []string{protocol.ResourceCollections}, sess.got())
	})
}

func TestDrainNotInterleavedWithLiveNotify(t *testing.T) {
	// A NotifyUpdated racing the attach must land after the entire buffered
	// backlog, never in the middle of it.
	for i := 0; i < 100; i++ {
		n := NewNotifier()
		n.NotifyUpdated(protocol.ResourceStatus)
		n.NotifyUpdated(protocol.ResourceCollections)

		sess := &recordingSession{}
		done := make(chan struct{})
		go func() {
			defer close(done)
			n.NotifyUpdated(protocol.ResourcePluginLog)
		}()
		n.AttachSession(sess)
		<-done

		got := sess.got()
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, protocol.ResourceStatus, got[0])
		assert.Equal(t, protocol.ResourceCollections, got[1])
	}
}

func TestDetachSession(t *testing.T) {
	n := NewNotifier()
	sess := &recordingSession{}
	n.AttachSession(sess)
	n.DetachSession(sess)

	// With the session gone, changes buffer again.
	n.NotifyUpdated(protocol.ResourceStatus)
	assert.Empty(t, sess.got())

	sess2 := &recordingSession{}
	n.AttachSession(sess2)
	assert.Equal(t, []string{protocol.ResourceStatus}, sess2.got())
}

func TestDetachOtherSessionIsIgnored(t *testing.T) {
	n := NewNotifier()
	current := &recordingSession{}
	stale := &recordingSession{}
	n.AttachSession(current)

	// A disconnect callback from a replaced session must not detach the
	// session that superseded it.
	n.DetachSession(stale)
	n.NotifyUpdated(protocol.ResourceStatus)
	assert.Len(t, current.got(), 1)
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	n := NewNotifier()
	sess := &recordingSession{fail: true}
	n.AttachSession(sess)

	require.NotPanics(t, func() {
		n.NotifyUpdated(protocol.ResourceStatus)
	})
}
