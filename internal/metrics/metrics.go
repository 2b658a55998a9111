// Package metrics exposes Prometheus collectors for the bridge.
// Served on the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshCycles counts coordinator cycles by outcome.
	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homebox_refresh_cycles_total",
			Help: "Total number of coordinator refresh cycles by result",
		},
		[]string{"result"}, // "success", "partial", "failure"
	)

	// RefreshDuration observes how long a full fetch/denormalize cycle takes.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homebox_refresh_duration_seconds",
			Help:    "Duration of coordinator refresh cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RemoteRequests counts requests issued against the Homebox API.
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homebox_remote_requests_total",
			Help: "Total number of Homebox API requests by method and status class",
		},
		[]string{"method", "status"}, // status: "2xx", "4xx", "5xx", "error"
	)

	// ActionCalls counts action invocations by outcome.
	ActionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homebox_action_calls_total",
			Help: "Total number of action handler invocations by action and result",
		},
		[]string{"action", "result"}, // result: "success", "failure"
	)

	// PublishedEntities tracks how many sensor entities the last publish pushed.
	PublishedEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homebox_published_entities",
			Help: "Number of Home Assistant entities maintained by the bridge",
		},
	)

	// SnapshotItems tracks the item count of the current snapshot.
	SnapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homebox_snapshot_items",
			Help: "Number of items in the current snapshot",
		},
	)
)
