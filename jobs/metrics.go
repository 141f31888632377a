package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kraken_jobs_submitted_total",
			Help: "Total number of jobs accepted for execution",
		},
	)

	jobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kraken_jobs_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		},
	)

	jobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kraken_jobs_completed_total",
			Help: "Total number of finished jobs by terminal status code",
		},
		[]string{"status"},
	)

	jobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kraken_jobs_queued",
			Help: "Current number of jobs waiting for a worker",
		},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kraken_jobs_in_flight",
			Help: "Current number of jobs being executed",
		},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kraken_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~163s
		},
	)
)
