package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectra",
			Name:      "search_requests_total",
			Help:      "Total number of similarity searches",
		},
		[]string{"collection", "status"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectra",
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"collection"},
	)

	ObjectsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectra",
			Name:      "objects_written_total",
			Help:      "Total objects written by operation",
		},
		[]string{"collection", "op"}, // "insert" / "upsert" / "delete"
	)

	LockRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectra",
			Name:      "lock_retries_total",
			Help:      "Row lock acquisition retries",
		},
		[]string{"collection"},
	)

	BlueSwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vectra",
			Name:      "blue_switches_total",
			Help:      "Total blue collection switches",
		},
	)
)

var engineMetricsRegistered bool

// RegisterEngineMetrics registers Prometheus engine metrics. Must be called once from main.
func RegisterEngineMetrics() {
	if engineMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(ObjectsWrittenTotal)
	prometheus.MustRegister(LockRetriesTotal)
	prometheus.MustRegister(BlueSwitchesTotal)
	engineMetricsRegistered = true
}
