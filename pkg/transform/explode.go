package transform

import (
	"context"
	"reflect"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// OnEmpty selects what Explode does with a zero-length split field.
type OnEmpty string

const (
	// OnEmptySkip emits no records for the input.
	OnEmptySkip OnEmpty = "skip"
	// OnEmptyError fails the operation.
	OnEmptyError OnEmpty = "error"
)

// ExplodeOptions configures an Explode.
type ExplodeOptions struct {
	// Name overrides the operation name. Defaults to "explode".
	Name string

	// Split maps each sequence-valued source property to the property that
	// receives one element per output record.
	Split map[string]string `validate:"required,min=1,dive,keys,required,endkeys,required"`

	// OnEmpty defaults to OnEmptySkip.
	OnEmpty OnEmpty `validate:"omitempty,oneof=skip error"`

	Rewire Rewire
}

// NewExplode returns a transform that turns each record into one record per
// element of its split fields. Split fields must have equal lengths; other
// properties are copied to every output.
func NewExplode(opts ExplodeOptions) (contract.Operation, error) {
	if opts.Name == "" {
		opts.Name = "explode"
	}
	if opts.OnEmpty == "" {
		opts.OnEmpty = OnEmptySkip
	}
	if err := validation.Struct("explode", opts); err != nil {
		return nil, err
	}
	if err := opts.Rewire.Validate("explode"); err != nil {
		return nil, err
	}

	sources := sortedKeys(opts.Split)
	seen := make(map[string]string, len(sources))
	for _, src := range sources {
		dst := opts.Split[src]
		if prev, ok := seen[dst]; ok {
			return nil, gferrors.NewValidationError("explode", "split", dst, "target shared by "+prev+" and "+src)
		}
		seen[dst] = src
	}

	rw := opts.Rewire
	reads := func(prefix types.Schema) types.Schema {
		r := types.Schema{}
		for _, src := range sources {
			r[src] = narrowRead(prefix, src, types.SequenceOf(types.Any))
		}
		return r
	}
	flow := func(prefix types.Schema) (types.Schema, []string, []string) {
		split := types.Schema{}
		var written []string
		for _, src := range sources {
			dst := opts.Split[src]
			split[dst] = types.FieldOf(elementOf(fieldOr(prefix, src, types.SequenceOf(types.Any)).Type))
			written = append(written, dst)
		}
		mid := prefix.Without(sources...).Merge(split)
		out, rwWritten, rwRemoved := rw.flow(mid)
		return out, append(written, rwWritten...), append(append([]string(nil), sources...), rwRemoved...)
	}

	c, err := derive(opts.Name, contract.Expand, reads, flow)
	if err != nil {
		return nil, err
	}

	x := &exploder{split: opts.Split, sources: sources, onEmpty: opts.OnEmpty, rewire: rw}
	return contract.NewOperation(c, x.execute), nil
}

type exploder struct {
	split   map[string]string
	sources []string
	onEmpty OnEmpty
	rewire  Rewire
}

func (x *exploder) execute(ctx context.Context, records []record.Record) ([]record.Record, error) {
	var out []record.Record
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exploded, err := x.explode(i, r)
		if err != nil {
			return nil, err
		}
		out = append(out, exploded...)
	}
	return out, nil
}

func (x *exploder) explode(index int, r record.Record) ([]record.Record, error) {
	values := make([]reflect.Value, len(x.sources))
	n := -1
	for i, src := range x.sources {
		v, err := r.Get(src)
		if err != nil {
			return nil, err
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, gferrors.NewExecutionError("records[%d].%s is %s, not a sequence", index, src, types.Describe(v))
		}
		if n >= 0 && rv.Len() != n {
			return nil, gferrors.NewExecutionError("split fields differ in length on records[%d]: %s has %d elements, %s has %d",
				index, x.sources[0], n, src, rv.Len())
		}
		n = rv.Len()
		values[i] = rv
	}

	if n == 0 {
		if x.onEmpty == OnEmptyError {
			return nil, gferrors.NewExecutionError("records[%d] has empty split fields", index)
		}
		return nil, nil
	}

	base := r.WithRemoved(x.sources...)
	out := make([]record.Record, n)
	for j := 0; j < n; j++ {
		elems := make(map[string]interface{}, len(x.sources))
		for i, src := range x.sources {
			elems[x.split[src]] = values[i].Index(j).Interface()
		}
		out[j] = x.rewire.Record(base.WithMerged(elems))
	}
	return out, nil
}
