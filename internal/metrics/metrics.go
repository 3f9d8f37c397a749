// Package metrics declares the prometheus collectors the replication
// engine and storage layer report against. Every collector is registered
// against a package-level registry rather than the global default one, so
// cmd/server controls exactly what gets exposed on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the prometheus registry cmd/server mounts at /metrics.
var Registry = prometheus.NewRegistry()

var (
	// SchedulerCycles counts every scheduler wake, labeled by whether it
	// was triggered by new writes or by the idle timeout.
	SchedulerCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_scheduler_cycles_total",
		Help: "Number of scheduler cycles run, by wake reason.",
	}, []string{"reason"})

	// WorkerAttempts counts replication attempts per destination and
	// outcome.
	WorkerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_worker_attempts_total",
		Help: "Number of per-destination replication attempts, by outcome.",
	}, []string{"destination", "outcome"})

	// ShipLatency tracks how long a single replicateDocs/replicateAttachments
	// call takes, labeled by stream.
	ShipLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replication_ship_latency_seconds",
		Help:    "Latency of shipping one batch to a destination.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stream"})

	// DestinationFailureCount mirrors the in-memory failure count per
	// destination, for alerting on back-off without scraping logs.
	DestinationFailureCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replication_destination_failure_count",
		Help: "Current consecutive failure count per destination.",
	}, []string{"destination"})
)

func init() {
	Registry.MustRegister(SchedulerCycles, WorkerAttempts, ShipLatency, DestinationFailureCount)
}
