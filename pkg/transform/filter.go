package transform

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Predicate decides whether a record is kept.
type Predicate func(r record.Record) (bool, error)

// FilterOptions configures a Filter. Exactly one of Field, Predicate or
// Expression selects the records to keep.
type FilterOptions struct {
	// Name overrides the operation name. Defaults to "filter".
	Name string

	// Field and Value keep records whose Field equals Value.
	Field string
	Value interface{}

	// Predicate keeps records for which it returns true.
	Predicate Predicate

	// Expression is an expr-lang boolean expression evaluated with the
	// record's properties as variables, e.g. `quantity > 10 && status == "open"`.
	Expression string

	Rewire Rewire
}

// NewFilter returns a transform that keeps the matching subset of its records.
func NewFilter(opts FilterOptions) (contract.Operation, error) {
	if opts.Name == "" {
		opts.Name = "filter"
	}

	selectors := 0
	for _, set := range []bool{opts.Field != "", opts.Predicate != nil, opts.Expression != ""} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return nil, gferrors.NewValidationError("filter", "selector", selectors, "exactly one selector is required").
			WithHint("set one of Field, Predicate or Expression")
	}
	if err := opts.Rewire.Validate("filter"); err != nil {
		return nil, err
	}

	keep := opts.Predicate
	switch {
	case opts.Field != "":
		keep = fieldEquals(opts.Field, opts.Value)
	case opts.Expression != "":
		program, err := expr.Compile(opts.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, gferrors.NewValidationError("filter", "expression", opts.Expression, err.Error())
		}
		keep = evaluate(program)
	}

	rw := opts.Rewire
	reads := func(prefix types.Schema) types.Schema {
		r := types.Schema{}
		if opts.Field != "" {
			r[opts.Field] = types.OptionalField(fieldOr(prefix, opts.Field, types.Any).Type)
		}
		return r.Merge(sourceReads(rw)(prefix))
	}

	c, err := derive(opts.Name, contract.Shrink, reads, rw.flow)
	if err != nil {
		return nil, err
	}
	return contract.NewOperation(c, func(ctx context.Context, records []record.Record) ([]record.Record, error) {
		out := make([]record.Record, 0, len(records))
		for i, r := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ok, err := keep(r)
			if err != nil {
				return nil, &gferrors.ExecutionError{
					Kind:    gferrors.ErrExecution,
					Message: fmt.Sprintf("filter predicate failed on records[%d]", i),
					Cause:   err,
				}
			}
			if ok {
				out = append(out, rw.Record(r))
			}
		}
		return out, nil
	}), nil
}

func fieldEquals(field string, value interface{}) Predicate {
	return func(r record.Record) (bool, error) {
		v, ok := r.Lookup(field)
		if !ok {
			return false, nil
		}
		return types.SameValue(v, value), nil
	}
}

func evaluate(program *vm.Program) Predicate {
	return func(r record.Record) (bool, error) {
		result, err := expr.Run(program, r.ToMap())
		if err != nil {
			return false, err
		}
		switch v := result.(type) {
		case bool:
			return v, nil
		case nil:
			return false, nil
		default:
			return false, fmt.Errorf("expression returned %T, want bool", result)
		}
	}
}
