// Package types implements the structural type descriptors used to declare
// and verify the properties an operation reads and writes.
//
// Descriptors are values. They can be compared with Equal, checked for static
// satisfiability with Compatible and applied to runtime values with Validate.
package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Type is a structural type descriptor. The set of implementations is closed.
type Type interface {
	fmt.Stringer
	validate(value interface{}, path string) *gferrors.ContractError
}

// Kind identifies a scalar runtime kind.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindSymbol
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInt:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Boolean"
	case KindSymbol:
		return "Symbol"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Symbol is a symbolic atom, distinct from an ordinary string.
type Symbol string

// Predefined descriptors.
var (
	String = ScalarType{Kind: KindString}
	Int    = ScalarType{Kind: KindInt}
	Float  = ScalarType{Kind: KindFloat}
	Bool   = ScalarType{Kind: KindBool}
	Sym    = ScalarType{Kind: KindSymbol}
	Any    = AnyType{}
)

// ScalarType matches a single runtime kind exactly.
type ScalarType struct {
	Kind Kind
}

// SequenceType matches slices and arrays whose elements all match Elem.
type SequenceType struct {
	Elem Type
}

// MappingType matches maps whose keys match Key and values match Value.
type MappingType struct {
	Key   Type
	Value Type
}

// StructType matches string-keyed maps with the declared fields.
// Keys not declared in Fields are allowed.
type StructType struct {
	Fields map[string]Field
}

// AnyType matches every value.
type AnyType struct{}

// OptionalType matches nil or a value matching Inner.
type OptionalType struct {
	Inner Type
}

// EnumType matches one of a fixed set of values.
type EnumType struct {
	Values []interface{}
}

// UnionType matches a value matching any of its alternatives.
type UnionType struct {
	Alternatives []Type
}

// SequenceOf returns Sequence[elem].
func SequenceOf(elem Type) SequenceType { return SequenceType{Elem: elem} }

// MappingOf returns Mapping[key, value].
func MappingOf(key, value Type) MappingType { return MappingType{Key: key, Value: value} }

// StructOf returns a struct descriptor over fields.
func StructOf(fields map[string]Field) StructType { return StructType{Fields: fields} }

// Optional returns Optional[inner]. Wrapping an Optional again is a no-op.
func Optional(inner Type) Type {
	if o, ok := inner.(OptionalType); ok {
		return o
	}
	return OptionalType{Inner: inner}
}

// Enum returns a descriptor accepting exactly values.
func Enum(values ...interface{}) EnumType { return EnumType{Values: values} }

// Union returns a descriptor accepting any of alternatives.
// Nested unions are flattened and duplicates removed.
func Union(alternatives ...Type) Type {
	var flat []Type
	for _, alt := range alternatives {
		if u, ok := alt.(UnionType); ok {
			flat = append(flat, u.Alternatives...)
			continue
		}
		flat = append(flat, alt)
	}
	flat = lo.UniqBy(flat, func(t Type) string { return t.String() })
	if len(flat) == 1 {
		return flat[0]
	}
	return UnionType{Alternatives: flat}
}

func (t ScalarType) String() string   { return t.Kind.String() }
func (t SequenceType) String() string { return "Sequence[" + t.Elem.String() + "]" }
func (t MappingType) String() string {
	return "Mapping[" + t.Key.String() + ", " + t.Value.String() + "]"
}
func (AnyType) String() string        { return "Any" }
func (t OptionalType) String() string { return "Optional[" + t.Inner.String() + "]" }

func (t StructType) String() string {
	names := lo.Keys(t.Fields)
	sort.Strings(names)
	parts := lo.Map(names, func(name string, _ int) string {
		f := t.Fields[name]
		if f.Optional {
			return name + "?: " + f.Type.String()
		}
		return name + ": " + f.Type.String()
	})
	return "Struct{" + strings.Join(parts, ", ") + "}"
}

func (t EnumType) String() string {
	parts := lo.Map(t.Values, func(v interface{}, _ int) string { return enumValue(v) })
	return "Enum(" + strings.Join(parts, ", ") + ")"
}

func enumValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

func (t UnionType) String() string {
	parts := lo.Map(t.Alternatives, func(alt Type, _ int) string { return alt.String() })
	return "Union[" + strings.Join(parts, " | ") + "]"
}

// Equal reports whether a and b describe the same structure. Union
// alternatives and Enum values compare as sets.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return canonical(a) == canonical(b)
}

// canonical renders t with union alternatives and enum values sorted.
func canonical(t Type) string {
	switch v := t.(type) {
	case SequenceType:
		return "Sequence[" + canonical(v.Elem) + "]"
	case MappingType:
		return "Mapping[" + canonical(v.Key) + ", " + canonical(v.Value) + "]"
	case OptionalType:
		return "Optional[" + canonical(v.Inner) + "]"
	case StructType:
		names := lo.Keys(v.Fields)
		sort.Strings(names)
		parts := lo.Map(names, func(name string, _ int) string {
			f := v.Fields[name]
			if f.Optional {
				return name + "?: " + canonical(f.Type)
			}
			return name + ": " + canonical(f.Type)
		})
		return "Struct{" + strings.Join(parts, ", ") + "}"
	case EnumType:
		parts := lo.Uniq(lo.Map(v.Values, func(x interface{}, _ int) string { return enumValue(x) }))
		sort.Strings(parts)
		return "Enum(" + strings.Join(parts, ", ") + ")"
	case UnionType:
		parts := lo.Uniq(lo.Map(v.Alternatives, func(alt Type, _ int) string { return canonical(alt) }))
		sort.Strings(parts)
		return "Union[" + strings.Join(parts, " | ") + "]"
	}
	return t.String()
}

// IsOptional reports whether t admits nil.
func IsOptional(t Type) bool {
	switch v := t.(type) {
	case OptionalType, AnyType:
		return true
	case UnionType:
		return lo.SomeBy(v.Alternatives, IsOptional)
	}
	return false
}

// Unwrap strips an Optional wrapper.
func Unwrap(t Type) Type {
	if o, ok := t.(OptionalType); ok {
		return o.Inner
	}
	return t
}
