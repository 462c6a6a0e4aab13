// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/protocol"
)

// Catalog is the bridge-backed tool set. Every catalog tool relays a command
// through the queue and blocks, bounded, for the plugin's answer; a timeout
// is not a failure but a pending handle the caller can poll.
type Catalog struct {
	queue         *bridge.CommandQueue
	store         *bridge.HeartbeatStore
	cfg           config.BridgeConfig
	serverVersion string
	now           func() time.Time
}

// NewCatalog wires the tool set against the bridge.
func NewCatalog(queue *bridge.CommandQueue, store *bridge.HeartbeatStore, cfg config.BridgeConfig, serverVersion string) *Catalog {
	return &Catalog{
		queue:         queue,
		store:         store,
		cfg:           cfg,
		serverVersion: serverVersion,
		now:           time.Now,
	}
}

// RegisterAll adds every tool to the registry.
func (c *Catalog) RegisterAll(r *Registry) {
	r.Register(Tool{Name: "health", Description: "Server liveness check", Handler: c.health})
	r.Register(Tool{Name: "echo", Description: "Echo the arguments back", Handler: c.echo})
	r.Register(Tool{Name: "catalog.status", Description: "Catalog app and plugin status", Handler: c.status})
	r.Register(Tool{Name: "collection.create", Description: "Create a collection", Handler: c.relayTool("collection.create", "name")})
	r.Register(Tool{Name: "collection.remove", Description: "Remove a collection", Handler: c.relayTool("collection.remove", "name")})
	r.Register(Tool{Name: "collection.edit", Description: "Rename or move a collection", Handler: c.relayTool("collection.edit", "name")})
	r.Register(Tool{Name: "collection.list", Description: "List collections", Handler: c.relayTool("collection.list")})
	r.Register(Tool{Name: "collection_set.create", Description: "Create a collection set", Handler: c.relayTool("collection_set.create", "name")})
	r.Register(Tool{Name: "collection_set.remove", Description: "Remove a collection set", Handler: c.relayTool("collection_set.remove", "name")})
	r.Register(Tool{Name: "collection_set.edit", Description: "Rename or move a collection set", Handler: c.relayTool("collection_set.edit", "name")})
	r.Register(Tool{Name: "photo.metadata.get", Description: "Read photo metadata fields", Handler: c.relayTool("photo.metadata.get", "photo_id")})
	r.Register(Tool{Name: "photo.metadata.set", Description: "Write photo metadata fields", Handler: c.relayTool("photo.metadata.set", "photo_id")})
}

func (c *Catalog) health(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"status":         "ok",
		"server_version": c.serverVersion,
	}, nil
}

func (c *Catalog) echo(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": args}, nil
}

// status reports plugin liveness without touching the queue. Two thresholds:
// the strict one answers "can I hand it work right now", the looser one
// answers "has it been around lately" for humans reading the status.
func (c *Catalog) status(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	snap := protocol.StatusSnapshot{ServerVersion: c.serverVersion}

	if hb, ok := c.store.Last(); ok {
		age := c.now().Sub(hb.ReceivedAt)
		ageSecs := int64(age.Seconds())
		snap.HeartbeatAgeSecs = &ageSecs
		snap.PluginConnected = age <= c.cfg.FreshnessStrict
		snap.PluginResponsive = age <= c.cfg.FreshnessStatus
		snap.PluginVersion = hb.PluginVersion
		snap.AppVersion = hb.AppVersion
		snap.CatalogPath = hb.CatalogPath
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// relayTool builds a handler that forwards the call as a plugin command.
// required names string arguments that must be present and non-empty;
// validation happens before anything touches the queue.
func (c *Catalog) relayTool(cmdType string, required ...string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		for _, field := range required {
			v, ok := args[field].(string)
			if !ok || v == "" {
				return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidArgs, cmdType, field)
			}
		}
		return c.relay(ctx, cmdType, args)
	}
}

// relay submits a command and waits, bounded, for its result. Submission is
// gated on a fresh heartbeat so callers fail fast instead of queueing work
// nothing will claim. The idempotency key is derived from the command type
// and arguments, so a client retrying the same call inside the coalescing
// window lands on the same command.
func (c *Catalog) relay(ctx context.Context, cmdType string, args map[string]interface{}) (map[string]interface{}, error) {
	hb, ok := c.store.Last()
	if !ok || c.now().Sub(hb.ReceivedAt) > c.cfg.FreshnessStrict {
		return nil, ErrPluginUnavailable
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	id := c.queue.Enqueue(cmdType, args, idempotencyKey(cmdType, args))

	res, done := c.queue.WaitForResult(ctx, id, c.cfg.WaitTimeout)
	if !done {
		getLog().Debug().Str("command_id", id).Str("type", cmdType).Msg("Result wait timed out, returning pending handle")
		return map[string]interface{}{
			"status":     protocol.StatusPending,
			"command_id": id,
		}, nil
	}
	if !res.OK {
		return nil, fmt.Errorf("%s failed: %s", cmdType, res.Error)
	}

	out := res.Result
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// idempotencyKey hashes the canonical JSON of the arguments. Map keys marshal
// in sorted order, so equal argument sets hash equally.
func idempotencyKey(cmdType string, args map[string]interface{}) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return cmdType + ":" + hex.EncodeToString(sum[:])
}
