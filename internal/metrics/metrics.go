// Package metrics declares the Prometheus instrumentation agentd exposes
// for the runtime's HTTP surface and the fairness scheduler underneath it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPServerHandlingSeconds is a histogram for HTTP request latencies.
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP requests handled by agentd.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"route", "code"},
	)

	// RunForBatchSize is a histogram of per-model batch sizes observed by
	// Runtime.RunFor/Run, one sample per model that actually ran, labeled by
	// brain so a multi-model deployment doesn't blur one brain's batch-size
	// distribution into another's.
	RunForBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtime_batch_size",
			Help:    "Histogram of batch sizes consumed per model execution.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
		[]string{"brain"},
	)

	// RunForLatencySeconds is a histogram of per-model execution latency,
	// mirroring the samples the timing table itself accumulates, labeled by
	// brain.
	RunForLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runtime_execution_latency_seconds",
			Help:    "Histogram of per-model execution latency (seconds), excluding HTTP overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"brain"},
	)

	// RunForDeferred counts how many models were deferred by a RunFor call
	// because they didn't fit the remaining budget, labeled by brain.
	RunForDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtime_run_for_deferred_total",
			Help: "Total number of times a model was deferred by RunFor's fairness budget check.",
		},
		[]string{"brain"},
	)

	// OrphanedDataTotal counts models discarded by RemoveInferer/Clear while
	// still holding queued, un-executed work.
	OrphanedDataTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtime_orphaned_models_total",
			Help: "Total number of models removed or cleared while their batcher was non-empty.",
		},
	)

	// ActiveBrains is a gauge of how many models are currently registered
	// with the runtime, sampled once per Tick.
	ActiveBrains = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runtime_active_brains",
			Help: "Number of models currently registered with the runtime.",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordHTTPLatency records the latency of an HTTP route handler.
func RecordHTTPLatency(route, code string, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(route, code).Observe(seconds)
}

// RecordBatch records one model execution's batch size and latency.
func RecordBatch(brain string, size int, seconds float64) {
	RunForBatchSize.WithLabelValues(brain).Observe(float64(size))
	RunForLatencySeconds.WithLabelValues(brain).Observe(seconds)
}

// RecordDeferred records that brain was deferred by a RunFor call.
func RecordDeferred(brain string) {
	RunForDeferred.WithLabelValues(brain).Inc()
}

// RecordOrphaned records that n models were discarded with pending work.
func RecordOrphaned(n int) {
	OrphanedDataTotal.Add(float64(n))
}

// SetActiveBrains records how many models are currently registered.
func SetActiveBrains(n int) {
	ActiveBrains.Set(float64(n))
}

// SetHealthy sets the health status to healthy.
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy.
func SetUnhealthy() {
	HealthStatus.Set(0)
}
