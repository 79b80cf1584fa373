package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streampoints_job_runs_total",
			Help: "Background job runs",
		},
		[]string{"job"},
	)

	jobErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streampoints_job_errors_total",
			Help: "Background job runs that failed or panicked",
		},
		[]string{"job"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streampoints_job_duration_seconds",
			Help:    "Background job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// по нему алертим, если чистка давно не проходила и баллы не сгорают
	jobLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streampoints_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful job run",
		},
		[]string{"job"},
	)

	pruneExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampoints_prune_job_expired_entries_total",
			Help: "Ledger entries expired by the periodic prune job",
		},
	)

	pruneFailedRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streampoints_prune_job_failed_runs_total",
			Help: "Prune job runs where at least one tenant could not be pruned",
		},
	)
)

func init() {
	prometheus.MustRegister(jobRuns, jobErrors, jobDuration, jobLastSuccess, pruneExpired, pruneFailedRuns)
}
