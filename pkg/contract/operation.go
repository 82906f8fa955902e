package contract

import (
	"context"

	"github.com/vnykmshr/opflow/pkg/record"
)

// Operation is a unit of work with a declared contract.
// Execute receives every record of the current batch and returns the result
// batch. It must honor ctx cancellation where the underlying work allows it.
type Operation interface {
	Contract() *Contract
	Execute(ctx context.Context, records []record.Record) ([]record.Record, error)
}

// Func is the executable body of an operation.
type Func func(ctx context.Context, records []record.Record) ([]record.Record, error)

type funcOperation struct {
	contract *Contract
	fn       Func
}

// NewOperation binds fn to c.
func NewOperation(c *Contract, fn Func) Operation {
	return &funcOperation{contract: c, fn: fn}
}

func (o *funcOperation) Contract() *Contract { return o.contract }

func (o *funcOperation) Execute(ctx context.Context, records []record.Record) ([]record.Record, error) {
	return o.fn(ctx, records)
}

// PerRecord builds an operation that maps each record independently.
// Processing stops at the first error.
func PerRecord(c *Contract, fn func(ctx context.Context, r record.Record) (record.Record, error)) Operation {
	return NewOperation(c, func(ctx context.Context, records []record.Record) ([]record.Record, error) {
		out := make([]record.Record, 0, len(records))
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			next, err := fn(ctx, r)
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		}
		return out, nil
	})
}
