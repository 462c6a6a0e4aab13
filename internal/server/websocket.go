// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shutterbridge/shutterbridge/internal/notify"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
)

// newUpgrader creates a WebSocket upgrader that respects the configured
// allowed origins. When allowedOrigins is empty the upgrader accepts any
// origin (localhost development mode). When set, only those origins are
// permitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// wsInMessage is the envelope for client → server WebSocket messages.
type wsInMessage struct {
	Type     string `json:"type"`     // "subscribe" or "unsubscribe"
	Resource string `json:"resource"` // resource id, e.g. sb://catalog/collections
}

// wsOutMessage is the envelope for server → client WebSocket messages.
type wsOutMessage struct {
	Type     string `json:"type"` // "resource_updated"
	Resource string `json:"resource"`
}

// wsSession is one connected tool client. It implements notify.Session:
// the notifier pushes resource ids through SendResourceUpdated and the write
// pump ships them out. The session attaches to the notifier on connect —
// which is what drains anything buffered before the client arrived — and
// detaches on disconnect so later changes buffer again.
type wsSession struct {
	conn *websocket.Conn

	// mu guards send against the teardown close: a notification racing the
	// disconnect must never hit a closed channel.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// SendResourceUpdated queues a resource-updated push. A session whose send
// buffer is full is too slow to be useful; the notification is dropped and
// the slow client reconciles on its next read of the resource. A session
// already torn down swallows the push: the notifier detaches it right after,
// and later changes buffer for the next session.
func (s *wsSession) SendResourceUpdated(resourceID string) error {
	data, err := json.Marshal(wsOutMessage{Type: "resource_updated", Resource: resourceID})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.send <- data:
	default:
		getLog().Warn().Str("resource", resourceID).Msg("Dropping notification for slow WebSocket client")
	}
	return nil
}

// closeSend marks the session closed and shuts the send channel so the write
// pump exits. Idempotent.
func (s *wsSession) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// HandleWebSocket upgrades an HTTP connection and manages the session
// lifecycle. The most recently connected client becomes the notifier's
// delivery session.
func HandleWebSocket(notifier *notify.Notifier, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		session := &wsSession{
			conn: conn,
			send: make(chan []byte, 64),
		}
		getLog().Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

		go session.writePump()
		notifier.AttachSession(session)
		session.readPump(notifier)
	}
}

func (s *wsSession) readPump(notifier *notify.Notifier) {
	defer func() {
		notifier.DetachSession(s)
		s.closeSend() // signals writePump to exit
		s.conn.Close()
		getLog().Info().Msg("WebSocket client disconnected")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg wsInMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid WebSocket message")
			continue
		}
		if msg.Resource == "" {
			getLog().Warn().Str("type", msg.Type).Msg("WebSocket message without resource id")
			continue
		}

		switch msg.Type {
		case "subscribe":
			notifier.Subscribe(msg.Resource)
			getLog().Debug().Str("resource", msg.Resource).Msg("WebSocket client subscribed")
		case "unsubscribe":
			notifier.Unsubscribe(msg.Resource)
			getLog().Debug().Str("resource", msg.Resource).Msg("WebSocket client unsubscribed")
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
