// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify fans out "resource changed" notifications to an attachable
// client session, buffering changes that happen before any session exists,
// and runs the polling watchers that detect those changes.
package notify

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
		l := logger.GetNotifyLogger()
		log = &l
	})
	return log
}

// Session is a delivery channel for resource-updated pushes. The WebSocket
// layer provides the concrete implementation.
type Session interface {
	SendResourceUpdated(resourceID string) error
}

// Notifier is a subscription-aware notifier with session attachment and
// buffering. Changes that occur before a session attaches are queued and
// delivered exactly once, in order, on the first attach.
type Notifier struct {
	mu          sync.Mutex
	session     Session
	subscribed  map[string]struct{}
	buffered    []string // ordered, deduplicated via bufferedSet
	bufferedSet map[string]struct{}
}

// NewNotifier creates a notifier with no session and no subscriptions.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribed:  make(map[string]struct{}),
		bufferedSet: make(map[string]struct{}),
	}
}

// AttachSession attaches the delivery session and drains anything buffered
// while no session existed. Attaching the same session again is a no-op.
// The drain happens inside the critical section so a concurrent NotifyUpdated
// cannot slip a fresh emission in ahead of the buffered backlog; sessions
// must never call back into the notifier from SendResourceUpdated.
func (n *Notifier) AttachSession(session Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == session {
		return
	}
	n.session = session
	drained := n.buffered
	n.buffered = nil
	n.bufferedSet = make(map[string]struct{})

	for _, id := range drained {
		if err := session.SendResourceUpdated(id); err != nil {
			getLog().Error().Err(err).Str("resource", id).Msg("Failed sending buffered notification")
		}
	}
	if len(drained) > 0 {
		getLog().Info().Int("count", len(drained)).Msg("Flushed buffered notifications to new session")
	}
}

// DetachSession clears the attached session if it is the given one.
// Subsequent changes buffer again until another session attaches.
func (n *Notifier) DetachSession(session Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == session {
		n.session = nil
	}
}

// Subscribe registers interest in a resource. Once any subscription exists,
// notifications for unsubscribed resources are dropped.
func (n *Notifier) Subscribe(resourceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribed[resourceID] = struct{}{}
}

// Unsubscribe removes interest in a resource.
func (n *Notifier) Unsubscribe(resourceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subscribed, resourceID)
}

// NotifyUpdated reports that a resource changed. With a non-empty
// subscription set, resources outside it are dropped silently. With no
// session attached the change is buffered; otherwise it is emitted
// immediately through the session.
func (n *Notifier) NotifyUpdated(resourceID string) {
	n.mu.Lock()
	if len(n.subscribed) > 0 {
		if _, ok := n.subscribed[resourceID]; !ok {
			n.mu.Unlock()
			return
		}
	}

	if n.session == nil {
		if _, ok := n.bufferedSet[resourceID]; !ok {
			n.bufferedSet[resourceID] = struct{}{}
			n.buffered = append(n.buffered, resourceID)
		}
		n.mu.Unlock()
		return
	}
	session := n.session
	n.mu.Unlock()

	// Emit outside the lock.
	if err := session.SendResourceUpdated(resourceID); err != nil {
		getLog().Error().Err(err).Str("resource", resourceID).Msg("Failed sending resource updated notification")
	}
}
