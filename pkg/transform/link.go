package transform

import (
	"context"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// LinkOptions configures a Link.
type LinkOptions struct {
	// Name overrides the operation name. Defaults to "link".
	Name string
	Rewire
}

// NewLink returns a one-to-one transform that only rewires properties.
func NewLink(opts LinkOptions) (contract.Operation, error) {
	if opts.Name == "" {
		opts.Name = "link"
	}
	if opts.IsZero() {
		return nil, gferrors.NewValidationError("link", "rewire", nil, "nothing to do").
			WithHint("declare at least one copy, move, set or delete")
	}
	if err := opts.Rewire.Validate("link"); err != nil {
		return nil, err
	}

	rw := opts.Rewire
	c, err := derive(opts.Name, contract.Preserve, sourceReads(rw), rw.flow)
	if err != nil {
		return nil, err
	}
	return contract.PerRecord(c, func(_ context.Context, r record.Record) (record.Record, error) {
		return rw.Record(r), nil
	}), nil
}

// sourceReads declares every copy and move source as a required read.
func sourceReads(rw Rewire) contract.SchemaFunc {
	return func(prefix types.Schema) types.Schema {
		reads := types.Schema{}
		for _, src := range rw.Sources() {
			reads[src] = fieldOr(prefix, src, types.Any)
		}
		return reads
	}
}
