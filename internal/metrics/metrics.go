// Package metrics holds the process-wide prometheus collectors, partitioned by stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logscope",
		Subsystem: "indexer",
		Name:      "events_persisted_total",
		Help:      "Events written to the store, by pipeline phase",
	}, []string{"stream", "phase"})

	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logscope",
		Subsystem: "indexer",
		Name:      "decode_failures_total",
		Help:      "Events skipped because their payload did not match the configured ABI",
	}, []string{"stream"})

	UnitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "logscope",
		Subsystem: "indexer",
		Name:      "unit_state",
		Help:      "Current pipeline state (0 created, 1 backfilling, 2 subscribing, 3 stopped, 4 failed)",
	}, []string{"stream"})

	LastBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "logscope",
		Subsystem: "indexer",
		Name:      "last_persisted_block",
		Help:      "Block number of the most recently persisted event",
	}, []string{"stream"})

	BackfillDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logscope",
		Subsystem: "indexer",
		Name:      "backfill_duration_seconds",
		Help:      "Wall time of the backfill phase including persistence",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"stream"})

	// Chain RPC
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logscope",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "JSON-RPC calls issued by event sources",
	}, []string{"method", "status"})

	RPCThrottleWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logscope",
		Subsystem: "rpc",
		Name:      "throttle_waits_total",
		Help:      "RPC calls delayed by the configured rate limit",
	})

	// Query server
	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logscope",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Query API requests by kind and status code",
	}, []string{"kind", "code"})
)

// RecordRPC counts one RPC call outcome.
func RecordRPC(method string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RPCCalls.WithLabelValues(method, status).Inc()
}
