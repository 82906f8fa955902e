package transform

import (
	"context"
	"reflect"
	"strings"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// MergeStrategy combines the values one property holds across records.
type MergeStrategy string

const (
	// Collect gathers every value into a sequence, in record order.
	Collect MergeStrategy = "collect"
	// Sum adds numeric values.
	Sum MergeStrategy = "sum"
	// Concat joins strings or appends sequences.
	Concat MergeStrategy = "concat"
	// First keeps the first record's value.
	First MergeStrategy = "first"
	// Last keeps the last record's value.
	Last MergeStrategy = "last"
	// Equal requires every value to be the same. Unlisted properties use it.
	Equal MergeStrategy = "equal"
	// Distinct requires every value to differ and gathers them into a sequence.
	Distinct MergeStrategy = "distinct"
)

// CollapseOptions configures a Collapse.
type CollapseOptions struct {
	// Name overrides the operation name. Defaults to "collapse".
	Name string

	// Merge selects a strategy per property. Unlisted properties use Equal.
	Merge map[string]MergeStrategy `validate:"dive,keys,required,endkeys,oneof=collect sum concat first last equal distinct"`

	Rewire Rewire
}

// NewCollapse returns a transform that folds all of its records into one.
func NewCollapse(opts CollapseOptions) (contract.Operation, error) {
	if opts.Name == "" {
		opts.Name = "collapse"
	}
	if err := validation.Struct("collapse", opts); err != nil {
		return nil, err
	}
	if err := opts.Rewire.Validate("collapse"); err != nil {
		return nil, err
	}

	merge := opts.Merge
	fields := sortedKeys(merge)
	rw := opts.Rewire

	reads := func(prefix types.Schema) types.Schema {
		r := types.Schema{}
		for _, name := range fields {
			if accepted := readType(merge[name]); accepted != nil {
				r[name] = narrowRead(prefix, name, accepted)
				continue
			}
			r[name] = fieldOr(prefix, name, types.Any)
		}
		return r
	}
	flow := func(prefix types.Schema) (types.Schema, []string, []string) {
		mid := prefix.Clone()
		for _, name := range fields {
			t := fieldOr(prefix, name, types.Any).Type
			if _, known := prefix[name]; !known {
				if accepted := readType(merge[name]); accepted != nil {
					t = accepted
				}
			}
			switch merge[name] {
			case Collect, Distinct:
				t = types.SequenceOf(t)
			}
			mid[name] = types.FieldOf(t)
		}
		out, written, removed := rw.flow(mid)
		return out, append(append([]string(nil), fields...), written...), removed
	}

	c, err := derive(opts.Name, contract.Reduce, reads, flow)
	if err != nil {
		return nil, err
	}
	return contract.NewOperation(c, func(ctx context.Context, records []record.Record) ([]record.Record, error) {
		if len(records) == 0 {
			return nil, &gferrors.ExecutionError{Kind: gferrors.ErrEmptyInput, Message: "nothing to collapse"}
		}
		merged, err := collapse(merge, records)
		if err != nil {
			return nil, err
		}
		return []record.Record{rw.Record(merged)}, nil
	}), nil
}

// readType returns the values a strategy accepts, or nil when it accepts any.
func readType(s MergeStrategy) types.Type {
	switch s {
	case Sum:
		return types.Union(types.Int, types.Float)
	case Concat:
		return types.Union(types.String, types.SequenceOf(types.Any))
	}
	return nil
}

func collapse(merge map[string]MergeStrategy, records []record.Record) (record.Record, error) {
	var names []string
	values := make(map[string][]interface{})
	for _, r := range records {
		for _, k := range r.Keys() {
			if _, ok := values[k]; !ok {
				names = append(names, k)
			}
			v, _ := r.Lookup(k)
			values[k] = append(values[k], v)
		}
	}

	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		strategy, ok := merge[name]
		if !ok {
			strategy = Equal
		}
		v, err := combine(name, strategy, values[name])
		if err != nil {
			return record.Record{}, err
		}
		out[name] = v
	}
	return record.New(out), nil
}

func combine(name string, s MergeStrategy, vs []interface{}) (interface{}, error) {
	switch s {
	case Collect:
		return sequence(vs), nil
	case Sum:
		return sum(name, vs)
	case Concat:
		return concat(name, vs)
	case First:
		return vs[0], nil
	case Last:
		return vs[len(vs)-1], nil
	case Distinct:
		for i := range vs {
			for j := 0; j < i; j++ {
				if reflect.DeepEqual(vs[i], vs[j]) {
					return nil, gferrors.NewExecutionError("property %q repeats value %v under distinct merge", name, vs[i])
				}
			}
		}
		return sequence(vs), nil
	default:
		for _, v := range vs[1:] {
			if !reflect.DeepEqual(vs[0], v) {
				return nil, gferrors.NewExecutionError("property %q differs across records: %v and %v", name, vs[0], v)
			}
		}
		return vs[0], nil
	}
}

// sequence builds a typed slice when every value shares a Go type.
func sequence(vs []interface{}) interface{} {
	t := reflect.TypeOf(vs[0])
	for _, v := range vs[1:] {
		if reflect.TypeOf(v) != t {
			t = nil
			break
		}
	}
	if t == nil {
		return append([]interface{}(nil), vs...)
	}
	out := reflect.MakeSlice(reflect.SliceOf(t), 0, len(vs))
	for _, v := range vs {
		out = reflect.Append(out, reflect.ValueOf(v))
	}
	return out.Interface()
}

func sum(name string, vs []interface{}) (interface{}, error) {
	var (
		ints     int64
		floats   float64
		isFloat  bool
		intType  reflect.Type
		sameType = true
	)
	for _, v := range vs {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ints += rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			ints += int64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			floats += rv.Float()
			isFloat = true
			continue
		default:
			return nil, gferrors.NewExecutionError("property %q cannot sum %s", name, types.Describe(v))
		}
		if intType == nil {
			intType = rv.Type()
		} else if rv.Type() != intType {
			sameType = false
		}
	}
	if isFloat {
		return floats + float64(ints), nil
	}
	if sameType && intType != nil {
		return reflect.ValueOf(ints).Convert(intType).Interface(), nil
	}
	return ints, nil
}

func concat(name string, vs []interface{}) (interface{}, error) {
	if _, ok := vs[0].(string); ok {
		var b strings.Builder
		for _, v := range vs {
			s, ok := v.(string)
			if !ok {
				return nil, gferrors.NewExecutionError("property %q mixes strings with %s under concat", name, types.Describe(v))
			}
			b.WriteString(s)
		}
		return b.String(), nil
	}

	var elems []interface{}
	for _, v := range vs {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, gferrors.NewExecutionError("property %q cannot concat %s", name, types.Describe(v))
		}
		for i := 0; i < rv.Len(); i++ {
			elems = append(elems, rv.Index(i).Interface())
		}
	}
	if len(elems) == 0 {
		return vs[0], nil
	}
	return sequence(elems), nil
}
