package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result represents the result of a task execution.
type Result struct {
	// Error is any error that occurred during task execution
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name labels the pool in metrics and logs.
	Name string

	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the number of tasks that can wait for a free worker.
	// Zero means submitters block until a worker picks the task up.
	QueueSize int

	// TaskTimeout bounds each task. Zero means only the submitter's context applies.
	TaskTimeout time.Duration

	// Metrics, when set, receives pool size, active and queued gauges.
	Metrics *metrics.Registry

	// Logger receives recovered panics.
	Logger logging.Logger

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)
}

type job struct {
	task   Task
	ctx    context.Context
	result chan Result
}

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	config  Config
	logger  logging.Logger
	metrics *poolMetrics

	queue        chan job
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	// mu guards isShutdown against concurrent Submit calls
	mu             sync.RWMutex
	isShutdown     bool
	activeWorkers  int64
	totalSubmitted int64
	totalCompleted int64

	workerWg sync.WaitGroup
}

// New creates a worker pool with the specified number of workers and queue size.
func New(workerCount, queueSize int) (*Pool, error) {
	return NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
}

// NewWithConfig creates a worker pool with the specified configuration.
func NewWithConfig(config Config) (*Pool, error) {
	if err := validation.ValidatePositive("workerpool", "worker_count", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "queue_size", float64(config.QueueSize)); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "task_timeout", config.TaskTimeout); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}

	p := &Pool{
		config:     config,
		logger:     logging.OrNop(config.Logger),
		metrics:    newPoolMetrics(config.Metrics, config.Name),
		queue:      make(chan job, config.QueueSize),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.metrics.size(config.WorkerCount)

	for i := 0; i < config.WorkerCount; i++ {
		w := &worker{id: i, pool: p}
		p.workerWg.Add(1)
		go w.run()
	}
	go func() {
		p.workerWg.Wait()
		close(p.done)
	}()

	return p, nil
}

// MustNew is like NewWithConfig but panics on an invalid configuration.
func MustNew(config Config) *Pool {
	p, err := NewWithConfig(config)
	if err != nil {
		panic(err)
	}
	return p
}
