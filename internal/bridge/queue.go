// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default tunables, overridable through Options.
const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultIdempotencyTTL    = 30 * time.Second
	DefaultResultRetention   = 15 * time.Minute
)

// Command is a unit of work submitted once and executed by exactly one
// claimant at a time. A command is in exactly one of three states:
// available (no visibility deadline), claimed (deadline in the future),
// or completed (removed from the active set, id keyed into the results).
type Command struct {
	ID                 string
	Type               string
	Payload            map[string]interface{}
	EnqueuedAt         time.Time
	VisibilityDeadline *time.Time // nil means available
	ClaimedBy          string
	IdempotencyKey     string
}

// CommandResult records the outcome of a command. Once written for a given
// command id it is never mutated.
type CommandResult struct {
	OK          bool
	Result      map[string]interface{}
	Error       string
	CompletedAt time.Time
}

// MetricsRecorder receives queue lifecycle signals. A nil recorder is valid.
type MetricsRecorder interface {
	RecordEnqueue()
	RecordClaim()
	RecordCompleted(ok bool)
	RecordWaitDuration(seconds float64)
	SetQueueDepth(pending, inFlight int)
}

// Options tunes the queue. Zero values fall back to the package defaults.
type Options struct {
	VisibilityTimeout time.Duration
	IdempotencyTTL    time.Duration
	ResultRetention   time.Duration
	Metrics           MetricsRecorder
}

type idempotencyEntry struct {
	commandID string
	lastSeen  time.Time
}

// CommandQueue is a mutex-guarded in-memory FIFO with single-claimant leased
// delivery. Delivery is at-least-once: a claimed command whose lease expires
// is silently returned to the available pool, so submitters relying on
// exactly-once side effects must pass an idempotency key.
type CommandQueue struct {
	mu          sync.Mutex
	opts        Options
	now         func() time.Time
	order       []string // FIFO of available command ids
	commands    map[string]*Command
	results     map[string]*CommandResult
	waiters     map[string][]chan struct{}
	idempotency map[string]idempotencyEntry
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue(opts Options) *CommandQueue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if opts.ResultRetention <= 0 {
		opts.ResultRetention = DefaultResultRetention
	}
	return &CommandQueue{
		opts:        opts,
		now:         time.Now,
		commands:    make(map[string]*Command),
		results:     make(map[string]*CommandResult),
		waiters:     make(map[string][]chan struct{}),
		idempotency: make(map[string]idempotencyEntry),
	}
}

// Enqueue adds a command in the available state and returns its id. When an
// idempotency key is given and a submission with the same key is still within
// the TTL window (and its command id is still known), the original id is
// returned and no new command is created — the first submission's payload is
// retained. Safe for concurrent callers.
func (q *CommandQueue) Enqueue(cmdType string, payload map[string]interface{}, idempotencyKey string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.pruneLocked(now)

	if idempotencyKey != "" {
		if entry, ok := q.idempotency[idempotencyKey]; ok {
			_, active := q.commands[entry.commandID]
			_, done := q.results[entry.commandID]
			if active || done {
				return entry.commandID
			}
		}
	}

	cmd := &Command{
		ID:             uuid.New().String(),
		Type:           cmdType,
		Payload:        payload,
		EnqueuedAt:     now,
		IdempotencyKey: idempotencyKey,
	}
	q.commands[cmd.ID] = cmd
	q.order = append(q.order, cmd.ID)
	if idempotencyKey != "" {
		q.idempotency[idempotencyKey] = idempotencyEntry{commandID: cmd.ID, lastSeen: now}
	}

	if m := q.opts.Metrics; m != nil {
		m.RecordEnqueue()
		m.SetQueueDepth(q.depthLocked())
	}
	getLog().Debug().Str("command_id", cmd.ID).Str("type", cmdType).Msg("Command enqueued")
	return cmd.ID
}

// Claim returns up to maxItems available commands, leased to workerID until
// the visibility timeout elapses. Commands whose previous lease expired are
// first returned to the available pool, so a claimant that vanished mid-task
// does not strand its work. A command with an unexpired lease is never handed
// to a second caller.
func (q *CommandQueue) Claim(workerID string, maxItems int) []Command {
	if maxItems <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.requeueExpiredLocked(now)

	var claimed []Command
	i := 0
	for i < len(q.order) && len(claimed) < maxItems {
		id := q.order[i]
		cmd, ok := q.commands[id]
		if !ok || cmd.VisibilityDeadline != nil {
			// Stale queue entry; drop it and keep scanning.
			q.order = append(q.order[:i], q.order[i+1:]...)
			continue
		}
		q.order = append(q.order[:i], q.order[i+1:]...)

		deadline := now.Add(q.opts.VisibilityTimeout)
		cmd.VisibilityDeadline = &deadline
		cmd.ClaimedBy = workerID
		claimed = append(claimed, *cmd)
		if m := q.opts.Metrics; m != nil {
			m.RecordClaim()
		}
	}

	if m := q.opts.Metrics; m != nil {
		m.SetQueueDepth(q.depthLocked())
	}
	if len(claimed) > 0 {
		getLog().Debug().Str("worker", workerID).Int("count", len(claimed)).Msg("Commands claimed")
	}
	return claimed
}

// Complete removes the command from the active set, records its result, and
// wakes every waiter blocked on the id. Results are write-once: a completion
// that arrives after another claimant already completed the same id (the
// orphaned-worker race) is ignored, and Complete reports false.
func (q *CommandQueue) Complete(commandID string, ok bool, result map[string]interface{}, errMsg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.results[commandID]; exists {
		getLog().Debug().Str("command_id", commandID).Msg("Ignoring completion for already-completed command")
		return false
	}

	delete(q.commands, commandID)
	q.removeFromOrderLocked(commandID)

	q.results[commandID] = &CommandResult{
		OK:          ok,
		Result:      result,
		Error:       errMsg,
		CompletedAt: q.now(),
	}

	for _, ch := range q.waiters[commandID] {
		close(ch)
	}
	delete(q.waiters, commandID)

	if m := q.opts.Metrics; m != nil {
		m.RecordCompleted(ok)
		m.SetQueueDepth(q.depthLocked())
	}
	getLog().Debug().Str("command_id", commandID).Bool("ok", ok).Msg("Command completed")
	return true
}

// Result returns the recorded result for a command, if any. Non-blocking.
func (q *CommandQueue) Result(commandID string) (CommandResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.results[commandID]
	if !ok {
		return CommandResult{}, false
	}
	return *res, true
}

// Known reports whether the id refers to an active or completed command.
func (q *CommandQueue) Known(commandID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, active := q.commands[commandID]
	_, done := q.results[commandID]
	return active || done
}

// WaitForResult blocks until the command completes, the timeout elapses, or
// ctx is cancelled, and returns whatever result is present afterward. An
// absent result is not an error: it means "not yet", and the caller is
// expected to report a pending status and poll later via Result. Waiters on
// distinct ids do not disturb each other.
func (q *CommandQueue) WaitForResult(ctx context.Context, commandID string, timeout time.Duration) (CommandResult, bool) {
	start := q.now()

	q.mu.Lock()
	if res, ok := q.results[commandID]; ok {
		q.mu.Unlock()
		return *res, true
	}
	ch := make(chan struct{})
	q.waiters[commandID] = append(q.waiters[commandID], ch)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeWaiterLocked(commandID, ch)
	if m := q.opts.Metrics; m != nil {
		m.RecordWaitDuration(q.now().Sub(start).Seconds())
	}
	res, ok := q.results[commandID]
	if !ok {
		return CommandResult{}, false
	}
	return *res, true
}

// Depth reports the number of available and claimed commands.
func (q *CommandQueue) Depth() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// requeueExpiredLocked returns every command with a lapsed visibility
// deadline to the available pool. Caller must hold q.mu.
func (q *CommandQueue) requeueExpiredLocked(now time.Time) {
	for id, cmd := range q.commands {
		if cmd.VisibilityDeadline != nil && !cmd.VisibilityDeadline.After(now) {
			cmd.VisibilityDeadline = nil
			cmd.ClaimedBy = ""
			if !q.inOrderLocked(id) {
				q.order = append(q.order, id)
			}
			getLog().Debug().Str("command_id", id).Msg("Lease expired, command requeued")
		}
	}
}

// pruneLocked drops idempotency entries past their TTL and results past the
// retention window. Caller must hold q.mu.
func (q *CommandQueue) pruneLocked(now time.Time) {
	idemCutoff := now.Add(-q.opts.IdempotencyTTL)
	for key, entry := range q.idempotency {
		if entry.lastSeen.Before(idemCutoff) {
			delete(q.idempotency, key)
		}
	}

	resultCutoff := now.Add(-q.opts.ResultRetention)
	for id, res := range q.results {
		if res.CompletedAt.Before(resultCutoff) {
			delete(q.results, id)
		}
	}
}

func (q *CommandQueue) inOrderLocked(id string) bool {
	for _, queued := range q.order {
		if queued == id {
			return true
		}
	}
	return false
}

func (q *CommandQueue) removeFromOrderLocked(id string) {
	for i, queued := range q.order {
		if queued == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *CommandQueue) removeWaiterLocked(id string, ch chan struct{}) {
	waiters := q.waiters[id]
	for i, w := range waiters {
		if w == ch {
			q.waiters[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(q.waiters[id]) == 0 {
		delete(q.waiters, id)
	}
}

func (q *CommandQueue) depthLocked() (pending, inFlight int) {
	pending = len(q.order)
	for _, cmd := range q.commands {
		if cmd.VisibilityDeadline != nil {
			inFlight++
		}
	}
	return pending, inFlight
}
