// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks active WebTransport connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_connections_active",
			Help: "Number of active WebTransport connections",
		},
	)

	// MessagesSent tracks persisted direct messages.
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Total direct messages persisted",
		},
	)

	// EventsDelivered tracks server events pushed to connections.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_events_delivered_total",
			Help: "Total server events pushed to client connections",
		},
		[]string{"event"},
	)

	// RequestDuration tracks realtime request processing duration by op.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_request_duration_seconds",
			Help:    "Realtime request processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)

	// HeartbeatTimeouts tracks connections reaped by the heartbeat sweep.
	HeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_heartbeat_timeouts_total",
			Help: "Total connections closed due to heartbeat timeout",
		},
	)

	// DownstreamMessages tracks NATS downstream messages consumed by this node.
	DownstreamMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_downstream_messages_total",
			Help: "Total NATS downstream messages consumed",
		},
	)
)
