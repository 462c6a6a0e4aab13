// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools implements the tool-call surface: a named registry of
// operations that clients invoke over HTTP, most of which are fulfilled by
// relaying a command through the bridge to the catalog-app plugin.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/shutterbridge/shutterbridge/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetToolsLogger()
		log = &l
	})
	return log
}

// ErrUnknownTool is returned by Call for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrPluginUnavailable means the plugin's heartbeat is too old to trust it
// with work. Callers should surface this as a retryable condition.
var ErrPluginUnavailable = errors.New("plugin is not connected")

// ErrInvalidArgs is returned when a tool call fails argument validation,
// before any command is created.
var ErrInvalidArgs = errors.New("invalid arguments")

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Tool is a registered operation.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Descriptor is the client-visible view of a registered tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the registered tools. Registration happens at startup;
// lookups happen on every call, so the map is guarded for safety even though
// writes stop once the server is serving.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering the same name twice replaces the handler
// but keeps the original listing position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(name string, _ int) Descriptor {
		t := r.tools[name]
		return Descriptor{Name: t.Name, Description: t.Description}
	})
}

// Call dispatches one tool invocation.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	getLog().Debug().Str("tool", name).Msg("Tool call dispatched")
	return t.Handler(ctx, args)
}
