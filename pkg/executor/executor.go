// Package executor runs one operation under its contract.
//
// An Executor validates the operation's declared reads before invoking it,
// bounds the call with a cooperative timeout, and verifies the declared sets
// and deletes against what the operation actually returned. Violations are
// reported as contract errors naming the stage, operation and property.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	flowctx "github.com/vnykmshr/opflow/pkg/common/context"
	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/ratelimit"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Config holds executor options. Zero values mean no limit and no-op collaborators.
type Config struct {
	// Stage names the enclosing stage in errors and events.
	Stage string
	// Timeout bounds each call. It is clamped to any deadline already on the context.
	Timeout time.Duration
	// Model is made available to the operation through model.FromContext.
	Model model.Reference
	// Limiter, when set, is waited on before each call.
	Limiter ratelimit.Limiter
	// Observer receives lifecycle notifications.
	Observer metrics.Observer
	// Logger receives ignored-error warnings.
	Logger logging.Logger
}

// Executor enforces one operation's contract.
type Executor struct {
	op       contract.Operation
	contract *contract.Contract
	cfg      Config
	observer metrics.Observer
	logger   logging.Logger

	reads     types.Schema
	readNames []string
	sets      types.Schema
	setNames  []string
	deletes   []contract.Deletion
	deleted   map[string]bool
	output    types.Schema
}

// New prepares an executor for op against the schema that precedes it.
func New(op contract.Operation, prefix types.Schema, cfg Config) (*Executor, error) {
	if err := validation.ValidateNotNil("executor", "operation", op); err != nil {
		return nil, err
	}
	c := op.Contract()
	if c == nil {
		return nil, gferrors.NewValidationError("executor", "contract", nil, "cannot be nil").
			WithHint("build the operation's contract with contract.New")
	}
	if err := validation.ValidateNonNegativeDuration("executor", "timeout", cfg.Timeout); err != nil {
		return nil, err
	}
	if err := c.Check(prefix); err != nil {
		var cerr *gferrors.ConfigError
		if errors.As(err, &cerr) {
			cerr.Stage = cfg.Stage
		}
		return nil, err
	}

	e := &Executor{
		op:       op,
		contract: c,
		cfg:      cfg,
		observer: metrics.OrNop(cfg.Observer),
		logger:   logging.OrNop(cfg.Logger),
		reads:    c.Reads(prefix),
		sets:     c.Sets(prefix),
		deletes:  c.Deletes(prefix),
		output:   c.Output(prefix),
		deleted:  make(map[string]bool),
	}
	e.readNames = e.reads.Keys()
	e.setNames = e.sets.Keys()
	for _, d := range e.deletes {
		e.deleted[d.Name] = true
	}
	return e, nil
}

// Name returns the operation name.
func (e *Executor) Name() string { return e.contract.Name() }

// Stage returns the enclosing stage name.
func (e *Executor) Stage() string { return e.cfg.Stage }

// Contract returns the operation's contract.
func (e *Executor) Contract() *contract.Contract { return e.contract }

// Reads returns the resolved reads.
func (e *Executor) Reads() types.Schema { return e.reads.Clone() }

// Sets returns the resolved sets.
func (e *Executor) Sets() types.Schema { return e.sets.Clone() }

// Deletes returns the resolved deletions.
func (e *Executor) Deletes() []contract.Deletion {
	return append([]contract.Deletion(nil), e.deletes...)
}

// Output returns the schema after the operation.
func (e *Executor) Output() types.Schema { return e.output.Clone() }

// Execute runs the operation on records.
//
// If the operation's error policy suppresses the error, records are returned
// unchanged and the error is reported to the observer with Ignored set.
func (e *Executor) Execute(ctx context.Context, records []record.Record) ([]record.Record, error) {
	start := time.Now()
	ev := metrics.OperationEvent{
		RunID:     flowctx.RunIDFrom(ctx),
		Stage:     e.cfg.Stage,
		Operation: e.Name(),
		Inputs:    len(records),
	}
	e.observer.OperationStarted(ev)

	out, err := e.run(ctx, records)
	ev.Duration = time.Since(start)

	if err != nil {
		err = e.attribute(err)
		ev.Err = err
		if e.contract.ErrorPolicy().Ignores(err) {
			ev.Ignored = true
			ev.Outputs = len(records)
			e.observer.OperationCompleted(ev)
			e.logger.WithContext(ctx).Warn("operation error ignored",
				logging.F("stage", e.cfg.Stage),
				logging.F("operation", e.Name()),
				logging.Err(err))
			return records, nil
		}
		e.observer.OperationFailed(ev)
		return nil, err
	}

	ev.Outputs = len(out)
	e.observer.OperationCompleted(ev)
	return out, nil
}

func (e *Executor) run(ctx context.Context, records []record.Record) ([]record.Record, error) {
	if err := e.checkInputs(records); err != nil {
		return nil, err
	}

	ctx, cancel, budget := flowctx.WithBudget(ctx, flowctx.Budget{
		Scope:   gferrors.ScopeOperation,
		Name:    e.Name(),
		Timeout: e.cfg.Timeout,
	})
	defer cancel()

	if e.cfg.Limiter != nil {
		if err := e.cfg.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, e.interrupted(ctx, budget)
			}
			return nil, &gferrors.ExecutionError{Kind: gferrors.ErrRateLimited, Message: "admission denied", Cause: err}
		}
	}

	out, err := e.invoke(ctx, records, budget)
	if err != nil {
		return nil, err
	}
	if err := e.checkCount(len(records), len(out)); err != nil {
		return nil, err
	}
	if err := e.checkOutputs(records, out); err != nil {
		return nil, err
	}
	return out, nil
}

type result struct {
	records []record.Record
	err     error
}

// invoke runs the operation in its own goroutine so a deadline can be
// honored even when the operation ignores ctx. A late result is discarded.
func (e *Executor) invoke(ctx context.Context, records []record.Record, budget time.Duration) ([]record.Record, error) {
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.WithContext(ctx).Error("operation panicked", fmt.Errorf("%v", r),
					logging.F("stage", e.cfg.Stage),
					logging.F("operation", e.Name()),
					logging.F("stack", string(debug.Stack())))
				done <- result{err: &gferrors.ExecutionError{
					Kind:    gferrors.ErrExecution,
					Message: fmt.Sprintf("panic: %v", r),
				}}
			}
		}()
		out, err := e.op.Execute(model.WithReference(ctx, e.cfg.Model), records)
		done <- result{records: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
				return nil, e.interrupted(ctx, budget)
			}
			return nil, asTyped(res.err)
		}
		return res.records, nil
	case <-ctx.Done():
		return nil, e.interrupted(ctx, budget)
	}
}

// interrupted converts a done context into a TimeoutError naming the binding
// budget, or an execution error wrapping the cancellation.
func (e *Executor) interrupted(ctx context.Context, budget time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return flowctx.TimeoutError(ctx, flowctx.Budget{
			Scope:   gferrors.ScopeOperation,
			Name:    e.Name(),
			Timeout: budget,
		})
	}
	return &gferrors.ExecutionError{Kind: gferrors.ErrExecution, Message: "canceled", Cause: ctx.Err()}
}

// asTyped leaves errors from the taxonomy alone and wraps anything else as an execution error.
func asTyped(err error) error {
	var (
		cerr *gferrors.ContractError
		eerr *gferrors.ExecutionError
		terr *gferrors.TimeoutError
	)
	if errors.As(err, &cerr) || errors.As(err, &eerr) || errors.As(err, &terr) {
		return err
	}
	return &gferrors.ExecutionError{Kind: gferrors.ErrExecution, Cause: err}
}

func (e *Executor) attribute(err error) error {
	switch v := err.(type) {
	case *gferrors.ContractError:
		return v.At(e.cfg.Stage, e.Name())
	case *gferrors.ExecutionError:
		return v.At(e.cfg.Stage, e.Name())
	case *gferrors.TimeoutError:
		return v.At(e.cfg.Stage)
	}
	return err
}

func (e *Executor) checkInputs(records []record.Record) error {
	for _, r := range records {
		for _, name := range e.readNames {
			f := e.reads[name]
			v, ok := r.Lookup(name)
			if !ok {
				if f.Optional {
					continue
				}
				return gferrors.NewContractError(gferrors.ErrPropertyNotFound, name,
					"required read %q not found", name)
			}
			if err := types.Validate(v, f.Type, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) checkCount(in, out int) error {
	switch e.contract.Cardinality() {
	case contract.Preserve:
		if out != in {
			return gferrors.NewContractError(gferrors.ErrOutputCountMismatch, "",
				"expected %d output records, got %d", in, out)
		}
	case contract.Reduce:
		if in > 0 && out != 1 {
			return gferrors.NewContractError(gferrors.ErrOutputCountMismatch, "",
				"expected 1 output record, got %d", out)
		}
	case contract.Shrink:
		if out > in {
			return gferrors.NewContractError(gferrors.ErrOutputCountMismatch, "",
				"expected at most %d output records, got %d", in, out)
		}
	}
	return nil
}

func (e *Executor) checkOutputs(in, out []record.Record) error {
	if !e.contract.AllowsCountChange() {
		for i, o := range out {
			if err := e.checkRecord(o, in[i].Keys(), in[i].Has); err != nil {
				return err
			}
		}
		return nil
	}

	union := record.KeySet(in)
	common := commonKeys(in)
	for _, o := range out {
		if err := e.checkRecord(o, common, func(k string) bool {
			_, ok := union[k]
			return ok
		}); err != nil {
			return err
		}
	}
	return nil
}

// checkRecord verifies one output record. kept lists input keys that must
// survive unless deleted; known reports whether a key came from the input.
func (e *Executor) checkRecord(o record.Record, kept []string, known func(string) bool) error {
	for _, name := range e.setNames {
		f := e.sets[name]
		v, ok := o.Lookup(name)
		if !ok {
			if f.Optional {
				continue
			}
			return gferrors.NewContractError(gferrors.ErrPropertyNotFound, name,
				"declared set %q missing from output", name)
		}
		if err := types.Validate(v, f.Type, name); err != nil {
			return err
		}
	}
	for _, d := range e.deletes {
		if !d.Optional && o.Has(d.Name) {
			return gferrors.NewContractError(gferrors.ErrUnexpectedProperty, d.Name,
				"declared deletion %q still present in output", d.Name)
		}
	}
	for _, k := range kept {
		if !o.Has(k) && !e.deleted[k] {
			return gferrors.NewContractError(gferrors.ErrUnexpectedDeletion, k,
				"property %q removed without a declared deletion", k)
		}
	}
	for _, k := range o.Keys() {
		if _, declared := e.sets[k]; declared {
			continue
		}
		if !known(k) {
			return gferrors.NewContractError(gferrors.ErrUnexpectedProperty, k,
				"property %q set without a declaration", k)
		}
	}
	return nil
}

// commonKeys returns the keys present in every record, sorted.
func commonKeys(records []record.Record) []string {
	if len(records) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, r := range records {
		for _, k := range r.Keys() {
			counts[k]++
		}
	}
	var keys []string
	for k, n := range counts {
		if n == len(records) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
