// Package metrics holds the Prometheus collectors exported by livedb.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livedb"

var (
	// Registry holds the livedb collectors.
	Registry = prometheus.NewRegistry()

	// ActiveListeners counts store listeners held open by subscriptions.
	ActiveListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "active_listeners",
			Help:      "Current number of store listeners owned by streams.",
		},
	)

	// SnapshotsDelivered counts snapshots pushed into streams.
	SnapshotsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "snapshots_total",
			Help:      "Total number of snapshots received from the store.",
		},
		[]string{"class"},
	)

	// ListenerErrors counts listeners terminated by the store.
	ListenerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "listener_errors_total",
			Help:      "Total number of listeners ended by a store error.",
		},
		[]string{"reason"},
	)

	// MalformedFields counts projections that degraded to the empty field.
	MalformedFields = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "malformed_fields_total",
			Help:      "Total number of projected fields that were missing or of the wrong type.",
		},
		[]string{"key"},
	)

	// StoreWrites counts applied writes by operation.
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Total number of writes applied to the store.",
		},
		[]string{"op"},
	)

	// RealtimeSessions counts connected realtime clients.
	RealtimeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "sessions",
			Help:      "Current number of connected realtime sessions.",
		},
	)

	// RelayPublished counts snapshots forwarded to the message broker.
	RelayPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Total number of snapshots published to AMQP.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		ActiveListeners,
		SnapshotsDelivered,
		ListenerErrors,
		MalformedFields,
		StoreWrites,
		RealtimeSessions,
		RelayPublished,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
