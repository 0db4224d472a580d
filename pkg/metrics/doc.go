/*
Package metrics exposes Prometheus metrics for the coordinator.

Counters cover the work-queue lifecycle (scheduled, completed by result,
reschedules, cleanup passes, peer lease releases); gauges and histograms
cover the worker pool (busy workers, execution duration by work type).
All metrics are registered in init and served by Handler:

	http.Handle("/metrics", metrics.Handler())

Completion results are "done", "cancelled" and "gaveup"; a rising gaveup
rate means VMs are burning their whole retry budget and is usually the
first sign of a capacity problem.
*/
package metrics
