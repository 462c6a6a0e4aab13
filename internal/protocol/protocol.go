// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire shapes exchanged with the catalog-app
// plugin and with tool-calling clients. The plugin only ever pulls: it posts
// heartbeats, claims commands, and reports results. The server never calls
// into the plugin.
package protocol

// Resource identifiers used by the change notifier. A client subscribes to
// these over the WebSocket channel and receives a ResourceUpdated push when
// the backing state changes.
const (
	ResourcePluginLog   = "sb://logs/plugin"
	ResourceStatus      = "sb://status/catalog"
	ResourceCollections = "sb://catalog/collections"
)

// Command statuses reported by the status endpoint.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HeartbeatRequest is the liveness beacon posted by the plugin.
type HeartbeatRequest struct {
	PluginVersion string `json:"plugin_version"`
	AppVersion    string `json:"app_version"`
	CatalogPath   string `json:"catalog_path,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"` // Plugin clock, best-effort RFC 3339
}

// EnqueueRequest submits a command for the plugin to execute.
type EnqueueRequest struct {
	Type           string                 `json:"type"`
	Payload        map[string]interface{} `json:"payload"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// EnqueueResponse acknowledges a submission.
type EnqueueResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"command_id"`
}

// ClaimRequest is the plugin's poll for work.
type ClaimRequest struct {
	Worker string `json:"worker"`
	Max    int    `json:"max"`
}

// ClaimedCommand is a single unit of work handed to the plugin. The lease
// metadata (deadline, claimant) stays server-side; the plugin only needs
// the id to report against.
type ClaimedCommand struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// ClaimResponse carries the claimed batch.
type ClaimResponse struct {
	Commands []ClaimedCommand `json:"commands"`
}

// ResultRequest is the plugin's completion report for a claimed command.
type ResultRequest struct {
	OK     bool                   `json:"ok"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CommandStatusResponse is the non-blocking status view of a command.
type CommandStatusResponse struct {
	Status string                 `json:"status"` // pending | completed | failed
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// StatusSnapshot is the sb://status/catalog resource body.
type StatusSnapshot struct {
	ServerVersion    string `json:"server_version"`
	PluginConnected  bool   `json:"plugin_connected"`  // Heartbeat within the strict threshold
	PluginResponsive bool   `json:"plugin_responsive"` // Heartbeat within the looser threshold
	PluginVersion    string `json:"plugin_version,omitempty"`
	AppVersion       string `json:"app_version,omitempty"`
	CatalogPath      string `json:"catalog_path,omitempty"`
	HeartbeatAgeSecs *int64 `json:"heartbeat_age_secs,omitempty"` // Absent when no heartbeat was ever received
}
