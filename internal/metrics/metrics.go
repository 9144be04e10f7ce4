// Package metrics holds the Prometheus collectors shared by the relay,
// window and persistence layers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbackflow",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay requests by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	hostDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbackflow",
			Subsystem: "host",
			Name:      "dispatch_total",
			Help:      "Native host dispatches by action and result.",
		},
		[]string{"action", "result"},
	)
	windowRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "feedbackflow",
			Subsystem: "window",
			Name:      "rejected_messages_total",
			Help:      "Window messages dropped by the admission check.",
		},
	)
	broadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "feedbackflow",
			Subsystem: "relay",
			Name:      "broadcast_failures_total",
			Help:      "Per-tab verbosity deliveries that failed.",
		},
	)
	storeWrite = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedbackflow",
			Subsystem: "store",
			Name:      "write_seconds",
			Help:      "Time spent in queued store mutations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(relayRequests, hostDispatch, windowRejected, broadcastFailures, storeWrite)
	})
}

func RecordRelayRequest(action, outcome string) {
	relayRequests.WithLabelValues(action, outcome).Inc()
}

func RecordHostDispatch(action, result string) {
	hostDispatch.WithLabelValues(action, result).Inc()
}

func RecordWindowReject() {
	windowRejected.Inc()
}

func RecordBroadcastFailure() {
	broadcastFailures.Inc()
}

func ObserveStoreWrite(op string, d time.Duration) {
	storeWrite.WithLabelValues(op).Observe(d.Seconds())
}
