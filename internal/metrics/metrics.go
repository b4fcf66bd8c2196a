package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tutoreval"

// Task outcomes recorded by the worker pool.
const (
	OutcomeEvaluated  = "evaluated"
	OutcomeDegraded   = "degraded"
	OutcomeDuplicate  = "duplicate"
	OutcomeSkipped    = "skipped"
	OutcomeExpired    = "expired"
	OutcomeStoreError = "store_error"
)

var (
	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Total number of evaluation jobs created, labeled by mode.",
		},
		[]string{"mode"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal status.",
		},
		[]string{"status"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Total number of claimed tasks, labeled by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	JudgeLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_latency_seconds",
			Help:      "Wall time of one judge invocation including the executor timeout.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"engine"},
	)

	CaseScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_aggregated_score",
			Help:      "Distribution of aggregated case scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	MetricErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_errors_total",
			Help:      "Total number of metric evaluations that failed and were replaced by a minimum score.",
		},
		[]string{"metric"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests, labeled by method and status code.",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsCreatedTotal,
		JobsFinishedTotal,
		TasksProcessedTotal,
		JudgeLatencySeconds,
		CaseScore,
		MetricErrorsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
