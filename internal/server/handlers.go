// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shutterbridge/shutterbridge/internal/bridge"
	"github.com/shutterbridge/shutterbridge/internal/config"
	"github.com/shutterbridge/shutterbridge/internal/protocol"
	"github.com/shutterbridge/shutterbridge/internal/tools"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	queue         *bridge.CommandQueue
	store         *bridge.HeartbeatStore
	registry      *tools.Registry
	bridgeCfg     config.BridgeConfig
	pluginLogPath string
	serverVersion string
	now           func() time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(queue *bridge.CommandQueue, store *bridge.HeartbeatStore, registry *tools.Registry, bridgeCfg config.BridgeConfig, pluginLogPath, serverVersion string) *Handlers {
	return &Handlers{
		queue:         queue,
		store:         store,
		registry:      registry,
		bridgeCfg:     bridgeCfg,
		pluginLogPath: pluginLogPath,
		serverVersion: serverVersion,
		now:           time.Now,
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// --- plugin-facing handlers (the plugin only ever pulls) ---

// PostHeartbeat handles POST /api/v1/plugin/heartbeat
func (h *Handlers) PostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req protocol.HeartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PluginVersion == "" {
		writeError(w, http.StatusBadRequest, "plugin_version is required")
		return
	}

	h.store.Set(req.PluginVersion, req.AppVersion, req.CatalogPath, req.Timestamp)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClaimCommands handles POST /api/v1/plugin/commands/claim.
// Returns 204 when nothing is available so the plugin's poll loop can skip
// body parsing on the common empty case.
func (h *Handlers) ClaimCommands(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Worker == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}
	if req.Max <= 0 {
		req.Max = 1
	}

	claimed := h.queue.Claim(req.Worker, req.Max)
	if len(claimed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out := make([]protocol.ClaimedCommand, len(claimed))
	for i, cmd := range claimed {
		out[i] = protocol.ClaimedCommand{ID: cmd.ID, Type: cmd.Type, Payload: cmd.Payload}
	}
	writeJSON(w, http.StatusOK, protocol.ClaimResponse{Commands: out})
}

// PostResult handles POST /api/v1/plugin/commands/{id}/result.
// Results are write-once: a second completion for the same id (a claimant
// whose lease expired finishing after someone else) is acknowledged but not
// recorded.
func (h *Handlers) PostResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req protocol.ResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !h.queue.Known(id) {
		writeError(w, http.StatusNotFound, "unknown command id")
		return
	}

	recorded := h.queue.Complete(id, req.OK, req.Result, req.Error)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "recorded": recorded})
}

// EnqueueCommand handles POST /api/v1/plugin/commands/enqueue. This is the
// raw submission endpoint; most clients go through the tool surface instead.
func (h *Handlers) EnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req protocol.EnqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	id := h.queue.Enqueue(req.Type, req.Payload, req.IdempotencyKey)
	writeJSON(w, http.StatusOK, protocol.EnqueueResponse{Status: "queued", CommandID: id})
}

// GetCommandStatus handles GET /api/v1/commands/{id} — the non-blocking
// status view used to poll a pending handle.
func (h *Handlers) GetCommandStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if res, ok := h.queue.Result(id); ok {
		status := protocol.StatusCompleted
		if !res.OK {
			status = protocol.StatusFailed
		}
		writeJSON(w, http.StatusOK, protocol.CommandStatusResponse{
			Status: status,
			Result: res.Result,
			Error:  res.Error,
		})
		return
	}

	if h.queue.Known(id) {
		writeJSON(w, http.StatusOK, protocol.CommandStatusResponse{Status: protocol.StatusPending})
		return
	}
	writeError(w, http.StatusNotFound, "unknown command id")
}

// --- tool surface ---

// ListTools handles GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": h.registry.List()})
}

// CallTool handles POST /api/v1/tools/{name}
func (h *Handlers) CallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var args map[string]interface{}
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &args) {
			return
		}
	}

	result, err := h.registry.Call(r.Context(), name, args)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, tools.ErrInvalidArgs):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, tools.ErrPluginUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- resource reads ---

// GetStatusResource handles GET /api/v1/resources/status
func (h *Handlers) GetStatusResource(w http.ResponseWriter, r *http.Request) {
	snap := protocol.StatusSnapshot{ServerVersion: h.serverVersion}
	if hb, ok := h.store.Last(); ok {
		age := h.now().Sub(hb.ReceivedAt)
		ageSecs := int64(age.Seconds())
		snap.HeartbeatAgeSecs = &ageSecs
		snap.PluginConnected = age <= h.bridgeCfg.FreshnessStrict
		snap.PluginResponsive = age <= h.bridgeCfg.FreshnessStatus
		snap.PluginVersion = hb.PluginVersion
		snap.AppVersion = hb.AppVersion
		snap.CatalogPath = hb.CatalogPath
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetPluginLogResource handles GET /api/v1/resources/logs/plugin. Returns the
// last N lines of the plugin's log file as plain text.
func (h *Handlers) GetPluginLogResource(w http.ResponseWriter, r *http.Request) {
	const maxLines = 1000
	lines := 100
	if l := r.URL.Query().Get("lines"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			lines = parsed
			if lines > maxLines {
				lines = maxLines
			}
		}
	}

	data, err := os.ReadFile(h.pluginLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "plugin log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read plugin log: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(tailLines(string(data), lines)))
}

// GetCollectionsResource handles GET /api/v1/resources/collections. The
// listing lives inside the catalog app, so this read relays through the
// queue like any other tool call; a pending answer comes back as 202 with
// the command id to poll.
func (h *Handlers) GetCollectionsResource(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.Call(r.Context(), "collection.list", nil)
	if err != nil {
		if errors.Is(err, tools.ErrPluginUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if status, ok := result["status"].(string); ok && status == protocol.StatusPending {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Healthz handles GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.serverVersion})
}

// tailLines returns the last n lines of s, preserving a trailing newline if
// present in the slice taken.
func tailLines(s string, n int) string {
	if s == "" || n <= 0 {
		return ""
	}
	trimmed := strings.TrimSuffix(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}
