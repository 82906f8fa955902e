// Package metrics provides Prometheus instrumentation and lifecycle observers
// for opflow components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for opflow components.
type Registry struct {
	// Operation metrics
	OperationsStarted   *prometheus.CounterVec
	OperationsCompleted *prometheus.CounterVec
	OperationsFailed    *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec

	// Pipe metrics
	PipeRuns     *prometheus.CounterVec
	PipeDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitRequests *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec
	RateLimitWaitTime *prometheus.HistogramVec

	// Scheduling metrics
	TasksScheduled        *prometheus.CounterVec
	TasksExecuted         *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the registry bound to prometheus.DefaultRegisterer,
// creating it on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	cfg := DefaultConfig()
	cfg.Registry = reg
	return NewRegistryWithConfig(cfg)
}

// NewRegistryWithConfig creates a registry using cfg's registerer, namespace and constant labels.
func NewRegistryWithConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(cfg.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(cfg.Labels, reg)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help,
			Buckets: prometheus.DefBuckets,
		}, labels)
	}

	return &Registry{
		OperationsStarted: counter("operation", "started_total",
			"Total number of operation executions started", "stage", "operation"),
		OperationsCompleted: counter("operation", "completed_total",
			"Total number of operation executions that produced output or were ignored", "stage", "operation", "outcome"),
		OperationsFailed: counter("operation", "failed_total",
			"Total number of operation executions that failed", "stage", "operation", "kind"),
		OperationDuration: histogram("operation", "duration_seconds",
			"Time spent executing operations", "stage", "operation"),

		PipeRuns: counter("pipe", "runs_total",
			"Total number of pipe runs", "pipe", "outcome"),
		PipeDuration: histogram("pipe", "duration_seconds",
			"Time spent executing pipes", "pipe"),

		RateLimitRequests: counter("ratelimit", "requests_total",
			"Total number of rate limit requests", "limiter_type", "limiter_name"),
		RateLimitAllowed: counter("ratelimit", "allowed_total",
			"Total number of allowed requests", "limiter_type", "limiter_name"),
		RateLimitDenied: counter("ratelimit", "denied_total",
			"Total number of denied requests", "limiter_type", "limiter_name"),
		RateLimitWaitTime: histogram("ratelimit", "wait_duration_seconds",
			"Time spent waiting for rate limit approval", "limiter_type", "limiter_name"),

		TasksScheduled: counter("scheduler", "tasks_scheduled_total",
			"Total number of tasks scheduled", "scheduler_name"),
		TasksExecuted: counter("scheduler", "tasks_executed_total",
			"Total number of tasks executed", "scheduler_name"),
		TasksCompleted: counter("scheduler", "tasks_completed_total",
			"Total number of tasks completed successfully", "scheduler_name"),
		TasksFailed: counter("scheduler", "tasks_failed_total",
			"Total number of tasks that failed", "scheduler_name"),
		TaskExecutionDuration: histogram("scheduler", "task_duration_seconds",
			"Time spent executing tasks", "scheduler_name"),
		WorkerPoolSize: gauge("workerpool", "size",
			"Current worker pool size", "pool_name"),
		WorkerPoolActive: gauge("workerpool", "active_workers",
			"Number of active workers", "pool_name"),
		WorkerPoolQueued: gauge("workerpool", "queued_tasks",
			"Number of queued tasks", "pool_name"),
	}
}
