// Package metrics exposes Prometheus instrumentation for the evaluation
// pipeline. All metrics are registered via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"tenant_id"},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_rule_evaluation_errors_total",
			Help: "Total number of rules skipped due to evaluation errors",
		},
		[]string{"tenant_id"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_emitted_total",
			Help: "Total number of alert events created",
		},
		[]string{"tenant_id", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown debounce",
		},
		[]string{"tenant_id"},
	)

	ClustersBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_correlation_clusters_total",
			Help: "Total number of correlation clusters built",
		},
		[]string{"tenant_id"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_incidents_created_total",
			Help: "Total number of incidents created by the bridge",
		},
		[]string{"tenant_id"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_delivery_attempts_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_run_duration_seconds",
			Help:    "Time taken to complete one tenant evaluation run",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_runs_failed_total",
			Help: "Total number of tenant runs aborted by persistence failures",
		},
		[]string{"tenant_id"},
	)

	LeaseConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_lease_conflicts_total",
			Help: "Total number of runs skipped because the tenant lease was held",
		},
		[]string{"tenant_id"},
	)

	AuditEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_audit_entries_dropped_total",
			Help: "Total number of audit entries dropped due to a full queue",
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_worker_pool_active_workers",
			Help: "Number of active workers in a pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_worker_pool_queue_size",
			Help: "Number of queued tasks in a pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a pool",
		},
		[]string{"pool"},
	)
)
