package stage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	flowctx "github.com/vnykmshr/opflow/pkg/common/context"
	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
)

// outcome is one operation's result for one slice of input records.
type outcome struct {
	records []record.Record
	err     error
	seq     int64
}

// Execute runs the stage over records.
//
// Every operation runs to completion before an error is returned. When more
// than one operation fails, the error of the earliest declared operation is
// returned and the rest are logged.
func (p *Prepared) Execute(ctx context.Context, records []record.Record) ([]record.Record, error) {
	cfg := p.stage.config
	if len(records) == 0 {
		return nil, &gferrors.ExecutionError{
			Kind:    gferrors.ErrEmptyInput,
			Stage:   cfg.Name,
			Message: "stage received no records",
		}
	}

	ctx, cancel, budget := flowctx.WithBudget(ctx, flowctx.Budget{
		Scope:   gferrors.ScopeStage,
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
	})
	defer cancel()

	start := time.Now()
	log := p.stage.logger.WithContext(ctx)
	log.Debug("stage started",
		logging.F("mode", string(cfg.Mode)),
		logging.F("records", len(records)),
		logging.Duration("budget", budget))

	var (
		out []record.Record
		err error
	)
	switch cfg.Mode {
	case ModeMerge:
		var merged record.Record
		merged, err = fold(cfg.Name, cfg.Merge, records)
		if err == nil {
			out, err = p.direct(ctx, []record.Record{merged})
		}
	case ModeFanOut:
		out, err = p.fanOut(ctx, records)
	default:
		out, err = p.direct(ctx, records)
	}
	if err != nil {
		return nil, p.normalize(ctx, err, budget)
	}

	log.Debug("stage completed",
		logging.F("records", len(out)),
		logging.Duration("duration", time.Since(start)))
	return out, nil
}

// direct hands the whole array to every operation.
func (p *Prepared) direct(ctx context.Context, records []record.Record) ([]record.Record, error) {
	results := make([]outcome, len(p.executors))
	var seq int64
	p.dispatch(ctx, len(p.executors), func(ctx context.Context, i int) error {
		out, err := p.executors[i].Execute(ctx, records)
		results[i] = outcome{records: out, err: err, seq: atomic.AddInt64(&seq, 1)}
		return err
	}, results)

	if err := p.firstError(ctx, results); err != nil {
		return nil, err
	}
	if len(p.executors) == 1 {
		return results[0].records, nil
	}

	out := make([]record.Record, len(records))
	for j, base := range records {
		perOp := make([]record.Record, len(results))
		seqs := make([]int64, len(results))
		for i, res := range results {
			perOp[i] = res.records[j]
			seqs[i] = res.seq
		}
		out[j] = p.reconcile(base, perOp, seqs)
	}
	return out, nil
}

// fanOut runs every (record, operation) pair independently.
func (p *Prepared) fanOut(ctx context.Context, records []record.Record) ([]record.Record, error) {
	nOps := len(p.executors)
	results := make([]outcome, nOps*len(records))
	var seq int64
	p.dispatch(ctx, len(results), func(ctx context.Context, k int) error {
		i, j := k/len(records), k%len(records)
		out, err := p.executors[i].Execute(ctx, records[j:j+1])
		results[k] = outcome{records: out, err: err, seq: atomic.AddInt64(&seq, 1)}
		return err
	}, results)

	if err := p.firstError(ctx, results); err != nil {
		return nil, err
	}

	if nOps == 1 {
		var out []record.Record
		for _, res := range results {
			out = append(out, res.records...)
		}
		return out, nil
	}

	out := make([]record.Record, len(records))
	for j, base := range records {
		perOp := make([]record.Record, nOps)
		seqs := make([]int64, nOps)
		for i := 0; i < nOps; i++ {
			res := results[i*len(records)+j]
			perOp[i] = res.records[0]
			seqs[i] = res.seq
		}
		out[j] = p.reconcile(base, perOp, seqs)
	}
	return out, nil
}

// dispatch runs fn for 0..n-1 concurrently and waits for all of them. Tasks
// the worker pool refuses are recorded in results with their dispatch error.
func (p *Prepared) dispatch(ctx context.Context, n int, fn func(context.Context, int) error, results []outcome) {
	pool := p.stage.config.WorkerPool
	if pool == nil {
		var g errgroup.Group
		g.SetLimit(p.stage.config.MaxConcurrency)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				// siblings keep running; errors are read from results
				_ = fn(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
		return
	}

	pending := make([]<-chan workerpool.Result, n)
	for i := 0; i < n; i++ {
		i := i
		ch, err := pool.Submit(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
			return fn(ctx, i)
		}))
		if err != nil {
			results[i] = outcome{err: err}
			continue
		}
		pending[i] = ch
	}
	for i, ch := range pending {
		if ch == nil {
			continue
		}
		r := <-ch
		// a task skipped by the pool never filled its slot
		if r.Error != nil && results[i].err == nil && results[i].records == nil {
			results[i] = outcome{err: r.Error}
		}
	}
}

// firstError returns the earliest declared failure and logs the others.
func (p *Prepared) firstError(ctx context.Context, results []outcome) error {
	var first error
	var rest []error
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if first == nil {
			first = res.err
			continue
		}
		rest = append(rest, res.err)
	}
	if len(rest) > 0 {
		p.stage.logger.WithContext(ctx).Error("suppressed sibling errors", multierr.Combine(rest...),
			logging.F("count", len(rest)))
	}
	return first
}

// normalize gives raw context errors from the dispatch path the same shape
// executors use.
func (p *Prepared) normalize(ctx context.Context, err error, budget time.Duration) error {
	var (
		terr *gferrors.TimeoutError
		eerr *gferrors.ExecutionError
		cerr *gferrors.ContractError
	)
	if errors.As(err, &terr) || errors.As(err, &eerr) || errors.As(err, &cerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return flowctx.TimeoutError(ctx, flowctx.Budget{
			Scope:   gferrors.ScopeStage,
			Name:    p.Name(),
			Timeout: budget,
		}).At(p.Name())
	}
	return &gferrors.ExecutionError{Kind: gferrors.ErrExecution, Stage: p.Name(), Cause: err}
}
