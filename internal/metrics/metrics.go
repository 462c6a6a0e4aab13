// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the command bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the bridge's Prometheus metrics. It registers against its
// own registry so multiple instances (tests, embedded use) never collide.
type Collector struct {
	registry *prometheus.Registry

	commandsEnqueued  prometheus.Counter
	commandsClaimed   prometheus.Counter
	commandsCompleted prometheus.Counter
	commandsFailed    prometheus.Counter

	waitDuration prometheus.Histogram

	commandsPending  prometheus.Gauge
	commandsInFlight prometheus.Gauge
}

// NewCollector creates and registers the bridge metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commandsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_commands_enqueued_total",
			Help: "Total number of commands submitted to the queue",
		}),
		commandsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_commands_claimed_total",
			Help: "Total number of command claims handed to the plugin",
		}),
		commandsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_commands_completed_total",
			Help: "Total number of commands completed successfully",
		}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_commands_failed_total",
			Help: "Total number of commands that completed with an error",
		}),
		waitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_result_wait_seconds",
			Help:    "Time callers spent blocked waiting for a command result",
			Buckets: prometheus.DefBuckets,
		}),
		commandsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_commands_pending",
			Help: "Current number of commands available for claim",
		}),
		commandsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_commands_in_flight",
			Help: "Current number of claimed commands under an active lease",
		}),
	}

	c.registry.MustRegister(
		c.commandsEnqueued,
		c.commandsClaimed,
		c.commandsCompleted,
		c.commandsFailed,
		c.waitDuration,
		c.commandsPending,
		c.commandsInFlight,
	)

	return c
}

// RecordEnqueue counts a command submission.
func (c *Collector) RecordEnqueue() {
	c.commandsEnqueued.Inc()
}

// RecordClaim counts a command handed to a claimant.
func (c *Collector) RecordClaim() {
	c.commandsClaimed.Inc()
}

// RecordCompleted counts a completion, split by outcome.
func (c *Collector) RecordCompleted(ok bool) {
	if ok {
		c.commandsCompleted.Inc()
	} else {
		c.commandsFailed.Inc()
	}
}

// RecordWaitDuration observes how long a caller blocked on a result.
func (c *Collector) RecordWaitDuration(seconds float64) {
	c.waitDuration.Observe(seconds)
}

// SetQueueDepth updates the pending and in-flight gauges.
func (c *Collector) SetQueueDepth(pending, inFlight int) {
	c.commandsPending.Set(float64(pending))
	c.commandsInFlight.Set(float64(inFlight))
}

// Handler returns the exposition endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
