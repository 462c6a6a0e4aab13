// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/logger"
	"github.com/shutterbridge/shutterbridge/internal/protocol"
)

var (
	watcherLog     *zerolog.Logger
	watcherLogOnce sync.Once
)

func getWatcherLog() *zerolog.Logger {
	watcherLogOnce.Do(func() {
		l := logger.GetWatcherLogger()
		watcherLog = &l
	})
	return watcherLog
}

// Watchers runs the three polling loops that feed the notifier: the plugin
// log file, the plugin liveness status, and the collections snapshot. Each
// loop keeps its own last-observed signature and notifies only on change.
// Watchers never push data to clients directly; they only raise the
// corresponding resource id through the notifier.
type Watchers struct {
	cfg       config.WatcherConfig
	freshness time.Duration // Heartbeat age gating the snapshot poll
	queue     *bridge.CommandQueue
	store     *bridge.HeartbeatStore
	notifier  *Notifier

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatchers wires the polling loops but does not start them.
func NewWatchers(cfg config.WatcherConfig, freshness time.Duration, queue *bridge.CommandQueue, store *bridge.HeartbeatStore, notifier *Notifier) *Watchers {
	return &Watchers{
		cfg:       cfg,
		freshness: freshness,
		queue:     queue,
		store:     store,
		notifier:  notifier,
	}
}

// Start launches the polling goroutines. Calling Start on running watchers
// is a no-op; calling it after Stop starts them anew.
func (w *Watchers) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(3)
	go w.runLoop(ctx, "plugin_log", w.cfg.LogPollInterval, w.newLogPoll())
	go w.runLoop(ctx, "status", w.cfg.StatusPollInterval, w.newStatusPoll())
	go w.runLoop(ctx, "collections", w.cfg.SnapshotPollInterval, w.newSnapshotPoll(ctx))

	getWatcherLog().Info().Msg("Resource watchers started")
}

// Stop signals every loop and waits for them to exit. Safe to call more than
// once, and safe to call on a Watchers that was never started. After Stop
// returns, Start may be called again; each restarted loop begins with a
// fresh last-observed signature.
func (w *Watchers) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()

	// Loops are down; allow a later Start to relaunch them.
	w.mu.Lock()
	w.started = false
	w.mu.Unlock()
	getWatcherLog().Info().Msg("Resource watchers stopped")
}

// runLoop drives one poll function on its interval until the context is
// cancelled. An error from a single iteration is logged and the loop keeps
// going; one bad poll must not kill the watcher.
func (w *Watchers) runLoop(ctx context.Context, name string, interval time.Duration, poll func() error) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := poll(); err != nil {
				getWatcherLog().Error().Err(err).Str("watcher", name).Msg("Poll iteration failed")
			}
		}
	}
}

// newLogPoll watches the plugin's log file via its (mtime, size) signature.
// A missing file is not an error; it simply means no change. The first
// observation primes the signature without notifying, so startup does not
// produce a spurious change event.
func (w *Watchers) newLogPoll() func() error {
	type logSig struct {
		mtime time.Time
		size  int64
	}
	var last *logSig

	return func() error {
		info, err := os.Stat(w.cfg.PluginLogPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		sig := logSig{mtime: info.ModTime(), size: info.Size()}
		if last == nil {
			last = &sig
			return nil
		}
		if sig != *last {
			last = &sig
			w.notifier.NotifyUpdated(protocol.ResourcePluginLog)
		}
		return nil
	}
}

// newStatusPoll watches the heartbeat store and notifies whenever a new
// heartbeat has been received, including the very first one: the plugin
// appearing is itself a status change.
func (w *Watchers) newStatusPoll() func() error {
	var last *time.Time

	return func() error {
		hb, ok := w.store.Last()
		if !ok {
			return nil
		}
		if last == nil || !hb.ReceivedAt.Equal(*last) {
			received := hb.ReceivedAt
			last = &received
			w.notifier.NotifyUpdated(protocol.ResourceStatus)
		}
		return nil
	}
}

// newSnapshotPoll watches the collections listing by enqueuing a list command
// through the regular queue and hashing the canonical JSON of whatever comes
// back within the bounded wait. The poll is gated on a fresh heartbeat so an
// absent plugin does not pile up commands that nothing will ever claim.
func (w *Watchers) newSnapshotPoll(ctx context.Context) func() error {
	var lastHash string

	return func() error {
		hb, ok := w.store.Last()
		if !ok || time.Since(hb.ReceivedAt) > w.freshness {
			return nil
		}

		id := w.queue.Enqueue("collection.list", map[string]interface{}{}, "")
		res, done := w.queue.WaitForResult(ctx, id, w.cfg.SnapshotWaitTimeout)
		if !done || !res.OK {
			return nil
		}

		raw, err := json.Marshal(res.Result)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(raw)
		hash := hex.EncodeToString(sum[:])

		if lastHash == "" {
			lastHash = hash
			return nil
		}
		if hash != lastHash {
			lastHash = hash
			w.notifier.NotifyUpdated(protocol.ResourceCollections)
		}
		return nil
	}
}
