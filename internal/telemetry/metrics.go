// Package telemetry exposes Prometheus metrics for the transformation
// pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsSubmitted counts jobs accepted by submit.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabmend_jobs_submitted_total",
		Help: "Jobs accepted at submission.",
	})

	// JobsFinished counts terminal transitions by state.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabmend_jobs_finished_total",
		Help: "Jobs reaching a terminal state.",
	}, []string{"state"})

	// JobRetries counts transient-failure redeliveries.
	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabmend_job_retries_total",
		Help: "Transient failures re-enqueued for retry.",
	})

	// JobDuration observes end-to-end job processing time.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tabmend_job_duration_seconds",
		Help:    "Wall-clock duration of completed jobs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// CellsProcessed counts per-cell outcomes across all runs.
	CellsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabmend_cells_processed_total",
		Help: "Cells examined by the executor, by outcome.",
	}, []string{"outcome"})
)

// Expose serves /metrics on its own listener.
func Expose(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(addr, mux)
	}()
}
