// Package metrics declares the Prometheus collectors shared by the proxies
// and the bundled gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devicestream"

// Relay directions used as label values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	RelayBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_bytes_total",
		Help:      "Bytes copied by duplex relays, by direction",
	}, []string{"direction"})

	ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_relays",
		Help:      "Duplex relays currently copying data",
	})

	RelayDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "relay_duration_seconds",
		Help:      "Lifetime of duplex relays",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18),
	})

	GatewayConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_connects_total",
		Help:      "Streaming gateway connection attempts, by result",
	}, []string{"result"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Negotiated sessions, by role and outcome",
	}, []string{"role", "outcome"})

	// Gateway server side.

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "http_requests_total",
		Help:      "HTTP requests served by the gateway",
	}, []string{"method", "code"})

	HTTPRequestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "http_request_duration_seconds",
		Help:      "Time to serve gateway HTTP requests (hijacked requests excluded)",
		Buckets:   prometheus.DefBuckets,
	})

	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connected_devices",
		Help:      "Devices holding an open control channel",
	})

	PendingStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "pending_streams",
		Help:      "Stream halves waiting for their peer",
	})

	PairedStreamsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "paired_streams_total",
		Help:      "Streams whose two halves met at the gateway",
	})

	StreamTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "stream_timeouts_total",
		Help:      "Stream halves that gave up waiting for their peer",
	})
)

// Session outcomes used as label values.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Roles used as label values.
const (
	RoleDevice  = "device"
	RoleService = "service"
)
