// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/protocol"
)

func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		VisibilityTimeout: 30 * time.Second,
		IdempotencyTTL:    30 * time.Second,
		ResultRetention:   15 * time.Minute,
		FreshnessStrict:   30 * time.Second,
		FreshnessStatus:   60 * time.Second,
		WaitTimeout:       100 * time.Millisecond,
	}
}

func newTestCatalog() (*Catalog, *Registry, *bridge.CommandQueue, *bridge.HeartbeatStore) {
	queue := bridge.NewCommandQueue(bridge.Options{})
	store := bridge.NewHeartbeatStore()
	cat := NewCatalog(queue, store, testBridgeConfig(), "1.0.0-test")
	reg := NewRegistry()
	cat.RegisterAll(reg)
	return cat, reg, queue, store
}

// fakePlugin claims the next command and completes it with the given result.
func fakePlugin(queue *bridge.CommandQueue, ok bool, result map[string]interface{}, errMsg string) {
	for {
		claimed := queue.Claim("fake-plugin", 1)
		if len(claimed) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		queue.Complete(claimed[0].ID, ok, result, errMsg)
		return
	}
}

func TestRegistry(t *testing.T) {
	t.Run("list preserves registration order", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(Tool{Name: "b", Description: "second"})
		reg.Register(Tool{Name: "a", Description: "first"})

		list := reg.List()
		require.Len(t, list, 2)
		assert.Equal(t, "b", list[0].Name)
		assert.Equal(t, "a", list[1].Name)
	})

	t.Run("re-register replaces handler, keeps position", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(Tool{Name: "x", Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"v": 1}, nil
		}})
		reg.Register(Tool{Name: "y"})
		reg.Register(Tool{Name: "x", Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"v": 2}, nil
		}})

		list := reg.List()
		require.Len(t, list, 2)
		assert.Equal(t, "x", list[0].Name)

		out, err := reg.Call(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, out["v"])
	})

	t.Run("unknown tool", func(t *testing.T) {
		reg := NewRegistry()
		_, err := reg.Call(context.Background(), "nope", nil)
		assert.ErrorIs(t, err, ErrUnknownTool)
	})
}

func TestHealthTool(t *testing.T) {
	_, reg, _, _ := newTestCatalog()
	out, err := reg.Call(context.Background(), "health", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "1.0.0-test", out["server_version"])
}

func TestEchoTool(t *testing.T) {
	_, reg, _, _ := newTestCatalog()
	out, err := reg.Call(context.Background(), "echo", map[string]interface{}{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"hello": "world"}, out["echo"])
}

func TestStatusTool(t *testing.T) {
	t.Run("no heartbeat", func(t *testing.T) {
		_, reg, _, _ := newTestCatalog()
		out, err := reg.Call(context.Background(), "catalog.status", nil)
		require.NoError(t, err)
		assert.Equal(t, false, out["plugin_connected"])
		assert.Equal(t, false, out["plugin_responsive"])
		assert.NotContains(t, out, "heartbeat_age_secs")
	})

	t.Run("fresh heartbeat", func(t *testing.T) {
		_, reg, _, store := newTestCatalog()
		store.Set("1.2.0", "14.3", "/catalogs/main", "")

		out, err := reg.Call(context.Background(), "catalog.status", nil)
		require.NoError(t, err)
		assert.Equal(t, true, out["plugin_connected"])
		assert.Equal(t, true, out["plugin_responsive"])
		assert.Equal(t, "1.2.0", out["plugin_version"])
		assert.Contains(t, out, "heartbeat_age_secs")
	})

	t.Run("stale heartbeat is responsive but not connected", func(t *testing.T) {
		cat, reg, _, store := newTestCatalog()
		store.Set("1.2.0", "14.3", "", "")

		// Move the tool clock 45s ahead: past strict, within status threshold.
		base := time.Now()
		cat.now = func() time.Time { return base.Add(45 * time.Second) }

		out, err := reg.Call(context.Background(), "catalog.status", nil)
		require.NoError(t, err)
		assert.Equal(t, false, out["plugin_connected"])
		assert.Equal(t, true, out["plugin_responsive"])
	})
}

func TestRelayValidation(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	t.Run("missing required field", func(t *testing.T) {
		_, err := reg.Call(context.Background(), "collection.create", map[string]interface{}{})
		assert.ErrorIs(t, err, ErrInvalidArgs)
	})

	t.Run("wrong field type", func(t *testing.T) {
		_, err := reg.Call(context.Background(), "photo.metadata.get", map[string]interface{}{"photo_id": 42})
		assert.ErrorIs(t, err, ErrInvalidArgs)
	})

	// Validation failures must not leave commands behind.
	pending, _ := queue.Depth()
	assert.Zero(t, pending)
}

func TestRelayGating(t *testing.T) {
	t.Run("no heartbeat rejects", func(t *testing.T) {
		_, reg, _, _ := newTestCatalog()
		_, err := reg.Call(context.Background(), "collection.create", map[string]interface{}{"name": "Trips"})
		assert.ErrorIs(t, err, ErrPluginUnavailable)
	})

	t.Run("stale heartbeat rejects", func(t *testing.T) {
		cat, reg, _, store := newTestCatalog()
		store.Set("1.0.0", "14.0", "", "")
		base := time.Now()
		cat.now = func() time.Time { return base.Add(31 * time.Second) }

		_, err := reg.Call(context.Background(), "collection.create", map[string]interface{}{"name": "Trips"})
		assert.ErrorIs(t, err, ErrPluginUnavailable)
	})
}

func TestRelaySuccess(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	go fakePlugin(queue, true, map[string]interface{}{"id": "c-42"}, "")

	out, err := reg.Call(context.Background(), "collection.create", map[string]interface{}{"name": "Trips"})
	require.NoError(t, err)
	assert.Equal(t, "c-42", out["id"])
}

func TestCollectionSetTools(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	t.Run("create relays through the queue", func(t *testing.T) {
		go fakePlugin(queue, true, map[string]interface{}{"id": "cs-7"}, "")
		out, err := reg.Call(context.Background(), "collection_set.create", map[string]interface{}{"name": "2026"})
		require.NoError(t, err)
		assert.Equal(t, "cs-7", out["id"])
	})

	t.Run("remove requires a name", func(t *testing.T) {
		_, err := reg.Call(context.Background(), "collection_set.remove", map[string]interface{}{})
		assert.ErrorIs(t, err, ErrInvalidArgs)
	})

	t.Run("all three are listed", func(t *testing.T) {
		names := make(map[string]bool)
		for _, d := range reg.List() {
			names[d.Name] = true
		}
		assert.True(t, names["collection_set.create"])
		assert.True(t, names["collection_set.remove"])
		assert.True(t, names["collection_set.edit"])
	})
}

func TestRelayFailure(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	go fakePlugin(queue, false, nil, "collection already exists")

	_, err := reg.Call(context.Background(), "collection.create", map[string]interface{}{"name": "Trips"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection already exists")
}

func TestRelayPendingOnTimeout(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	// Nothing claims the command, so the bounded wait expires and the call
	// returns a pending handle instead of an error.
	out, err := reg.Call(context.Background(), "photo.metadata.set", map[string]interface{}{"photo_id": "p-1"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, out["status"])
	commandID, ok := out["command_id"].(string)
	require.True(t, ok)
	assert.True(t, queue.Known(commandID))
}

func TestRelayRetryCoalesces(t *testing.T) {
	_, reg, queue, store := newTestCatalog()
	store.Set("1.0.0", "14.0", "", "")

	args := map[string]interface{}{"name": "Trips"}
	out1, err := reg.Call(context.Background(), "collection.create", args)
	require.NoError(t, err)
	out2, err := reg.Call(context.Background(), "collection.create", args)
	require.NoError(t, err)

	assert.Equal(t, out1["command_id"], out2["command_id"], "identical retries inside the window land on one command")
	pending, _ := queue.Depth()
	assert.Equal(t, 1, pending)
}

func TestIdempotencyKeyStability(t *testing.T) {
	a := idempotencyKey("collection.create", map[string]interface{}{"name": "Trips", "parent": "2026"})
	b := idempotencyKey("collection.create", map[string]interface{}{"parent": "2026", "name": "Trips"})
	assert.Equal(t, a, b, "key order in the argument map must not change the key")

	c := idempotencyKey("collection.create", map[string]interface{}{"name": "Other"})
	assert.NotEqual(t, a, c)
	d := idempotencyKey("collection.remove", map[string]interface{}{"name": "Trips", "parent": "2026"})
	assert.NotEqual(t, a, d)
}
