/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "talkclock"

// HTTP control surface.
var (
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests on the control surface.",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Open event stream websockets.",
	})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})
)

// Player controller.
var (
	PlayerTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "tasks_total",
		Help:      "Resolved player tasks by kind and outcome.",
	}, []string{"kind", "outcome"})

	PlayerAcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "acks_total",
		Help:      "Decoder acknowledgements matched to a command.",
	}, []string{"command"})

	PlayerAckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "ack_latency_seconds",
		Help:      "Time from transmission to matching acknowledgement.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5},
	})

	PlayerAckAttemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "ack_attempt_failures_total",
		Help:      "Ack read attempts that produced no usable frame.",
	}, []string{"reason"})

	PlayerDeviceHangs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "device_hangs_total",
		Help:      "Acknowledgement ceilings exceeded.",
	})

	PlayerHardResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "hard_resets_total",
		Help:      "Hard resets requested after repeated hangs.",
	})

	PlayerLinkDowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "link_down_total",
		Help:      "Transmissions abandoned because the link was unpowered.",
	})

	PlayerPreemptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "preemptions_total",
		Help:      "In-flight tasks parked for a more urgent one.",
	})

	PlayerStaleReleases = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "stale_releases_total",
		Help:      "Releases of handles that were not checked out.",
	})

	PlayerPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "pool_in_use",
		Help:      "Task slots currently checked out.",
	})

	PlayerPoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "pool_exhausted_total",
		Help:      "Acquire calls that found no free slot.",
	})

	PlayerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the priority queue.",
	})

	PlayerPowered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "decoder_powered",
		Help:      "1 when the decoder is powered.",
	})
)

// Settings store.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "query_duration_seconds",
		Help:      "Settings store query latency.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "errors_total",
		Help:      "Settings store query errors.",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "connections_active",
		Help:      "Open connections in the settings store pool.",
	})
)

// Event bridges.
var (
	BridgePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "published_total",
		Help:      "Events relayed off-process.",
	}, []string{"transport", "result"})

	BridgeControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "control_requests_total",
		Help:      "Remote control requests by action and result.",
	}, []string{"action", "result"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
