// Package metrics holds the Prometheus collectors shared by the client
// coordinators. Collectors are registered on the default registry at init,
// the same way the HTTP middleware registers its request metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts calls made to the device service.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "service_requests_total",
			Help:      "Total number of requests sent to the device service.",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration observes device service round-trip latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jump",
			Name:      "service_request_duration_seconds",
			Help:      "Device service request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// FetchesTotal counts collection fetches by outcome (success, error, discarded).
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "cache_fetches_total",
			Help:      "Collection fetches by key and outcome.",
		},
		[]string{"key", "outcome"},
	)
	// FetchRetriesTotal counts fetch retries.
	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "cache_fetch_retries_total",
			Help:      "Fetch attempts repeated after a failure.",
		},
		[]string{"key"},
	)
	// MutationsTotal counts settled mutations by kind and final state.
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "mutations_total",
			Help:      "Settled mutations by kind and final state.",
		},
		[]string{"key", "kind", "state"},
	)
	// WakeCommandsTotal counts wake commands by result (success, failure, rejected).
	WakeCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "wake_commands_total",
			Help:      "Wake commands by result.",
		},
		[]string{"result"},
	)
	// NotificationsTotal counts pushed notifications by severity.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "notifications_total",
			Help:      "Notifications pushed by severity.",
		},
		[]string{"severity"},
	)
	// RelayMessagesTotal counts events forwarded to NATS by result (published, failed).
	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jump",
			Name:      "relay_messages_total",
			Help:      "Events forwarded to the message broker by result.",
		},
		[]string{"result"},
	)
	// NotificationsActive is the number of notifications currently visible.
	NotificationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jump",
			Name:      "notifications_active",
			Help:      "Notifications currently in the queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		FetchesTotal,
		FetchRetriesTotal,
		MutationsTotal,
		WakeCommandsTotal,
		NotificationsTotal,
		NotificationsActive,
		RelayMessagesTotal,
	)
}

// ObserveRequest records one device service round trip. status is 0 when
// the request failed before a response arrived.
func ObserveRequest(method, route string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	RequestsTotal.WithLabelValues(method, route, code).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
