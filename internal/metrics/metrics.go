package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campuschat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuschat_connections_active",
			Help: "Live WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuschat_users_online",
			Help: "Identities with at least one live connection",
		},
	)

	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_handshake_failures_total",
			Help: "Rejected WebSocket handshakes",
		},
		[]string{"reason"}, // "missing_token" or "auth"
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_events_received_total",
			Help: "Inbound client events by type",
		},
		[]string{"type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_events_rejected_total",
			Help: "Inbound client events answered with an error event",
		},
		[]string{"reason"},
	)

	// Fan-out metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_deliveries_total",
			Help: "Outbound events pushed to connections",
		},
		[]string{"type", "result"}, // result: "ok" or "failed"
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campuschat_messages_persisted_total",
			Help: "Chat messages appended to conversations",
		},
	)
)
