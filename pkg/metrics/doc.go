// Package metrics provides Prometheus instrumentation and lifecycle observers
// for opflow components.
//
// # Observers
//
// Executors and pipes report lifecycle events to an Observer:
//
//	OperationStarted, OperationCompleted, OperationFailed, PipeCompleted
//
// NopObserver is the default and is always safe to use. PrometheusObserver
// records events into a Registry, LoggingObserver writes them to a
// logging.Logger, and Multi fans out to several observers.
//
//	reg := metrics.NewRegistry(prometheus.NewRegistry())
//	obs := metrics.Multi(metrics.NewPrometheusObserver(reg), metrics.NewLoggingObserver(logger))
//	p, err := pipe.New(pipe.Config{Name: "orders", Observer: obs}, stages...)
//
// # Available Metrics
//
//   - opflow_operation_started_total{stage, operation}
//   - opflow_operation_completed_total{stage, operation, outcome}
//   - opflow_operation_failed_total{stage, operation, kind}
//   - opflow_operation_duration_seconds{stage, operation}
//   - opflow_pipe_runs_total{pipe, outcome}
//   - opflow_pipe_duration_seconds{pipe}
//   - opflow_ratelimit_requests_total, allowed_total, denied_total, wait_duration_seconds{limiter_type, limiter_name}
//   - opflow_scheduler_tasks_*{scheduler_name}
//   - opflow_workerpool_size, active_workers, queued_tasks{pool_name}
//
// The kind label is one of timeout, canceled, contract, configuration,
// empty_input, execution or other.
package metrics
