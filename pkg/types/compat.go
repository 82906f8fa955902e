package types

import (
	"reflect"

	"github.com/samber/lo"
)

// Compatible reports whether every value described by provided is also
// described by required. Any on either side is compatible.
func Compatible(provided, required Type) bool {
	if provided == nil || required == nil {
		return false
	}
	if _, ok := required.(AnyType); ok {
		return true
	}
	if _, ok := provided.(AnyType); ok {
		return true
	}
	if p, ok := provided.(UnionType); ok {
		return lo.EveryBy(p.Alternatives, func(alt Type) bool { return Compatible(alt, required) })
	}

	switch r := required.(type) {
	case OptionalType:
		return Compatible(Unwrap(provided), r.Inner)
	case UnionType:
		return lo.SomeBy(r.Alternatives, func(alt Type) bool { return Compatible(provided, alt) })
	}

	switch p := provided.(type) {
	case OptionalType:
		return false
	case EnumType:
		if r, ok := required.(EnumType); ok {
			return lo.EveryBy(p.Values, func(v interface{}) bool {
				return lo.ContainsBy(r.Values, func(w interface{}) bool { return SameValue(v, w) })
			})
		}
		return lo.EveryBy(p.Values, func(v interface{}) bool { return required.validate(v, "") == nil })
	case ScalarType:
		r, ok := required.(ScalarType)
		return ok && r.Kind == p.Kind
	case SequenceType:
		r, ok := required.(SequenceType)
		return ok && Compatible(p.Elem, r.Elem)
	case MappingType:
		r, ok := required.(MappingType)
		return ok && Compatible(p.Key, r.Key) && Compatible(p.Value, r.Value)
	case StructType:
		r, ok := required.(StructType)
		if !ok {
			return false
		}
		for name, rf := range r.Fields {
			pf, has := p.Fields[name]
			if !has {
				if rf.Optional || IsOptional(rf.Type) {
					continue
				}
				return false
			}
			if pf.Optional && !rf.Optional {
				return false
			}
			if !Compatible(pf.Type, rf.Type) {
				return false
			}
		}
		return true
	}
	return false
}

// Infer derives a descriptor from a constant value.
func Infer(value interface{}) Type {
	if value == nil {
		return Any
	}
	if _, ok := value.(Symbol); ok {
		return Sym
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() != reflect.Interface {
			return inferType(rv.Type())
		}
		elems := make([]Type, rv.Len())
		for i := range elems {
			elems[i] = Infer(rv.Index(i).Interface())
		}
		return SequenceOf(common(elems))
	case reflect.Map:
		if rv.Type().Elem().Kind() != reflect.Interface {
			return inferType(rv.Type())
		}
		vals := make([]Type, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			vals = append(vals, Infer(iter.Value().Interface()))
		}
		return MappingOf(inferType(rv.Type().Key()), common(vals))
	}
	return inferType(rv.Type())
}

func inferType(rt reflect.Type) Type {
	if k := scalarKind(rt); k >= 0 {
		return ScalarType{Kind: k}
	}
	switch rt.Kind() {
	case reflect.Slice, reflect.Array:
		return SequenceOf(inferType(rt.Elem()))
	case reflect.Map:
		return MappingOf(inferType(rt.Key()), inferType(rt.Elem()))
	}
	return Any
}

// common returns the single type shared by all of ts, or Any.
func common(ts []Type) Type {
	if len(ts) == 0 {
		return Any
	}
	first := ts[0]
	for _, t := range ts[1:] {
		if !Equal(first, t) {
			return Any
		}
	}
	return first
}
