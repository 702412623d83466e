package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Jobs currently being processed by worker",
		},
		[]string{"task_type"},
	)

	QueriesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_queries_routed_total",
			Help: "Queries by assigned lane, intent and reason",
		},
		[]string{"lane", "intent", "reason"},
	)

	ScreenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_screen_rejections_total",
			Help: "Queries rejected by the input screen",
		},
		[]string{"reason"},
	)

	SearchWaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_search_wave_duration_seconds",
			Help:    "Duration of one search wave across its sources",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"wave"},
	)

	SearchSourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_search_source_errors_total",
			Help: "Failed lookups per search source",
		},
		[]string{"backend", "table"},
	)

	SearchCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_search_cache_lookups_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"},
	)

	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_action_gate_outcomes_total",
			Help: "Action gate results by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_commits_total",
			Help: "Mutation commits by action and final state",
		},
		[]string{"action", "state"},
	)

	LedgerRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_ledger_records_total",
			Help: "Ledger records written",
		},
	)

	AuditRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_audit_records_total",
			Help: "Audit records written",
		},
	)

	PendingExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_pending_expired_total",
			Help: "Pending mutations rejected because the confirmation window elapsed",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
