package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/record"
)

// RecordingObserver keeps every lifecycle event it receives.
type RecordingObserver struct {
	mu        sync.Mutex
	Started   []metrics.OperationEvent
	Completed []metrics.OperationEvent
	Failed    []metrics.OperationEvent
	Pipes     []metrics.PipeEvent
}

func (r *RecordingObserver) OperationStarted(e metrics.OperationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started = append(r.Started, e)
}

func (r *RecordingObserver) OperationCompleted(e metrics.OperationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed = append(r.Completed, e)
}

func (r *RecordingObserver) OperationFailed(e metrics.OperationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, e)
}

func (r *RecordingObserver) PipeCompleted(e metrics.PipeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pipes = append(r.Pipes, e)
}

// Counts returns the number of started, completed and failed operation events.
func (r *RecordingObserver) Counts() (started, completed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Started), len(r.Completed), len(r.Failed)
}

// Records builds one record per map.
func Records(maps ...map[string]interface{}) []record.Record {
	return record.FromMaps(maps...)
}

// Setter returns a per-record operation that sets key to value after delay.
// The delay ignores ctx so callers can exercise cooperative timeouts.
func Setter(c *contract.Contract, key string, value interface{}, delay time.Duration) contract.Operation {
	return contract.PerRecord(c, func(_ context.Context, r record.Record) (record.Record, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return r.With(key, value), nil
	})
}

// Failing returns an operation that always returns err.
func Failing(c *contract.Contract, err error) contract.Operation {
	return contract.NewOperation(c, func(context.Context, []record.Record) ([]record.Record, error) {
		return nil, err
	})
}

// CountingLimiter admits everything and counts waits.
type CountingLimiter struct {
	waits int64
	Err   error
}

// Wait records the call and returns Err.
func (l *CountingLimiter) Wait(context.Context) error {
	atomic.AddInt64(&l.waits, 1)
	return l.Err
}

// Waits returns the number of Wait calls.
func (l *CountingLimiter) Waits() int64 {
	return atomic.LoadInt64(&l.waits)
}
