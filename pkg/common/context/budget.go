package context

import (
	"context"
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Budget is a named timeout at one level of the pipe/stage/operation hierarchy.
// A zero Timeout means the level adds no limit of its own.
type Budget struct {
	Scope   gferrors.Scope
	Name    string
	Timeout time.Duration
}

type budgetKey struct{}

type runIDKey struct{}

// WithBudget derives a context limited by b, clamped to whatever deadline ctx
// already carries. The returned duration is the effective budget.
//
// The budget is recorded on the context only when it binds, so BudgetFrom
// always names the level whose deadline will fire first.
func WithBudget(ctx context.Context, b Budget) (context.Context, context.CancelFunc, time.Duration) {
	remaining, hasDeadline := Remaining(ctx)
	if b.Timeout <= 0 {
		if hasDeadline {
			return ctx, func() {}, remaining
		}
		return ctx, func() {}, 0
	}

	effective := ClampTimeout(b.Timeout, ctx)
	if hasDeadline && remaining <= b.Timeout {
		// the outer deadline binds; keep the outer budget marker
		c, cancel := context.WithCancel(ctx)
		return c, cancel, effective
	}

	c, cancel := WithTimeoutOrCancel(ctx, effective)
	b.Timeout = effective
	return context.WithValue(c, budgetKey{}, b), cancel, effective
}

// BudgetFrom returns the binding budget recorded on ctx.
func BudgetFrom(ctx context.Context) (Budget, bool) {
	b, ok := ctx.Value(budgetKey{}).(Budget)
	return b, ok
}

// Remaining reports the time left before ctx's deadline.
func Remaining(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	left := time.Until(deadline)
	if left < 0 {
		left = 0
	}
	return left, true
}

// ClampTimeout returns the smaller of timeout and the time remaining on ctx.
func ClampTimeout(timeout time.Duration, ctx context.Context) time.Duration {
	remaining, ok := Remaining(ctx)
	if !ok {
		return timeout
	}
	if timeout <= 0 || remaining < timeout {
		return remaining
	}
	return timeout
}

// TimeoutError converts a context that ran out of time into a typed error
// naming the binding budget. fallback is used when ctx carries no budget.
func TimeoutError(ctx context.Context, fallback Budget) *gferrors.TimeoutError {
	b, ok := BudgetFrom(ctx)
	if !ok {
		b = fallback
	}
	return &gferrors.TimeoutError{Scope: b.Scope, Name: b.Name, Budget: b.Timeout}
}

// WithRunID attaches a run identifier for log correlation.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run identifier attached to ctx, if any.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
