package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certledger_jobs_enqueued_total",
		Help: "Total number of submission jobs enqueued",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certledger_jobs_completed_total",
		Help: "Total number of jobs committed to the ledger",
	})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_jobs_failed_total",
		Help: "Total number of jobs that failed permanently, by error code",
	}, []string{"code"})

	JobsRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_jobs_retried_total",
		Help: "Total number of jobs requeued after a transient failure, by error code",
	}, []string{"code"})

	JobsRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certledger_jobs_recovered_total",
		Help: "Total number of stale active jobs returned to the queue",
	})

	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certledger_ledger_submit_duration_seconds",
		Help:    "Time taken to submit a transaction and wait for its commit status",
		Buckets: prometheus.DefBuckets,
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_active_workers",
		Help: "Current number of running worker goroutines",
	})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_jobs_in_flight",
		Help: "Current number of jobs being submitted",
	})
)
