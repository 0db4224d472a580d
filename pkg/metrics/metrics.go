package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Work queue metrics
	WorkScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_work_scheduled_total",
			Help: "Total number of work items scheduled by type",
		},
		[]string{"type"},
	)

	WorkCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_work_completed_total",
			Help: "Total number of work items finished by type and result",
		},
		[]string{"type", "result"},
	)

	WorkReschedulesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_work_reschedules_total",
			Help: "Total number of work item reschedules by type",
		},
		[]string{"type"},
	)

	CleanupRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_cleanup_runs_total",
			Help: "Total number of completed cleanup passes over the work queue",
		},
	)

	// Worker pool metrics
	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workers_busy",
			Help: "Number of workers currently executing a work item",
		},
	)

	WorkExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_work_execution_duration_seconds",
			Help:    "Time spent executing a claimed work item in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Peer metrics
	PeerLeasesReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_peer_leases_released_total",
			Help: "Total number of lease-release passes triggered by peer departures",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkScheduledTotal)
	prometheus.MustRegister(WorkCompletedTotal)
	prometheus.MustRegister(WorkReschedulesTotal)
	prometheus.MustRegister(CleanupRunsTotal)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(WorkExecutionDuration)
	prometheus.MustRegister(PeerLeasesReleasedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
