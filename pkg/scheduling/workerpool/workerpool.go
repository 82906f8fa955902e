package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/logging"
)

// Submit queues task for execution and returns a channel that receives its
// single Result. ctx bounds both queuing and execution.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return p.enqueue(ctx, ctx, task)
}

// SubmitWithTimeout is like Submit but the timeout applies to queuing only.
func (p *Pool) SubmitWithTimeout(task Task, timeout time.Duration) (<-chan Result, error) {
	qctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.enqueue(qctx, context.Background(), task)
}

func (p *Pool) enqueue(qctx, ctx context.Context, task Task) (<-chan Result, error) {
	if task == nil {
		return nil, gferrors.NewValidationError("workerpool", "task", nil, "cannot be nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.isShutdown {
		return nil, fmt.Errorf("cannot submit task: %w", gferrors.ErrClosed)
	}

	// a pre-canceled context never reaches the queue
	if err := qctx.Err(); err != nil {
		return nil, fmt.Errorf("cannot submit task: %w", err)
	}

	j := job{task: task, ctx: ctx, result: make(chan Result, 1)}
	select {
	case p.queue <- j:
		atomic.AddInt64(&p.totalSubmitted, 1)
		p.metrics.queued(len(p.queue))
		return j.result, nil
	case <-qctx.Done():
		return nil, fmt.Errorf("cannot submit task: %w: %w", gferrors.ErrCapacityExceeded, qctx.Err())
	}
}

// Run submits task and waits for its result.
func (p *Pool) Run(ctx context.Context, task Task) error {
	ch, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	select {
	case r := <-ch:
		return r.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks. Queued tasks still run. The returned
// channel closes when every worker has exited.
func (p *Pool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.isShutdown = true
		close(p.shutdownCh)
		p.mu.Unlock()
	})
	return p.done
}

// ShutdownWithTimeout shuts the pool down and waits up to timeout for workers to exit.
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	select {
	case <-p.Shutdown():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("workerpool %q: shutdown: %w", p.config.Name, gferrors.ErrTimeout)
	}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return p.config.WorkerCount }

// Name returns the pool name.
func (p *Pool) Name() string { return p.config.Name }

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *Pool) QueueSize() int { return len(p.queue) }

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *Pool) ActiveWorkers() int { return int(atomic.LoadInt64(&p.activeWorkers)) }

// TotalSubmitted returns the total number of tasks accepted by the pool.
func (p *Pool) TotalSubmitted() int64 { return atomic.LoadInt64(&p.totalSubmitted) }

// TotalCompleted returns the total number of tasks completed by the pool.
func (p *Pool) TotalCompleted() int64 { return atomic.LoadInt64(&p.totalCompleted) }

type worker struct {
	id   int
	pool *Pool
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer w.pool.workerWg.Done()

	for {
		select {
		case j := <-w.pool.queue:
			w.execute(j)
		case <-w.pool.shutdownCh:
			// drain what was queued before shutdown
			for {
				select {
				case j := <-w.pool.queue:
					w.execute(j)
				default:
					return
				}
			}
		}
	}
}

// execute runs one job and delivers its result.
func (w *worker) execute(j job) {
	p := w.pool
	p.metrics.queued(len(p.queue))
	p.metrics.active(int(atomic.AddInt64(&p.activeWorkers, 1)))
	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(w.id)
	}

	start := time.Now()
	err := w.call(j)
	result := Result{Error: err, Duration: time.Since(start), WorkerID: w.id}

	p.metrics.active(int(atomic.AddInt64(&p.activeWorkers, -1)))
	atomic.AddInt64(&p.totalCompleted, 1)
	if p.config.OnTaskComplete != nil {
		p.config.OnTaskComplete(w.id, result)
	}
	j.result <- result
	close(j.result)
}

func (w *worker) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked", fmt.Errorf("%v", r),
				logging.F("pool", w.pool.config.Name),
				logging.F("worker", w.id),
				logging.F("stack", string(debug.Stack())))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	ctx := j.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.pool.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.pool.config.TaskTimeout)
		defer cancel()
	}
	return j.task.Execute(ctx)
}
