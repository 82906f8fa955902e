package types

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Field is a schema entry: a property type and whether it may be absent.
type Field struct {
	Type     Type
	Optional bool
}

// FieldOf returns a required field of type t.
func FieldOf(t Type) Field { return Field{Type: t} }

// OptionalField returns a field of type t that may be absent.
func OptionalField(t Type) Field { return Field{Type: t, Optional: true} }

func (f Field) String() string {
	if f.Optional {
		return f.Type.String() + "?"
	}
	return f.Type.String()
}

// Schema maps property names to fields.
type Schema map[string]Field

// SchemaOf builds a schema of required fields.
func SchemaOf(fields map[string]Type) Schema {
	s := make(Schema, len(fields))
	for name, t := range fields {
		s[name] = FieldOf(t)
	}
	return s
}

// Clone returns a copy of s. Cloning a nil schema yields an empty one.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the property names in sorted order.
func (s Schema) Keys() []string {
	keys := lo.Keys(s)
	sort.Strings(keys)
	return keys
}

// Lookup returns the field for name.
func (s Schema) Lookup(name string) (Field, bool) {
	f, ok := s[name]
	return f, ok
}

// Without returns a copy of s lacking names.
func (s Schema) Without(names ...string) Schema {
	return lo.OmitByKeys(s.Clone(), names)
}

// Merge returns a copy of s overlaid with other.
func (s Schema) Merge(other Schema) Schema {
	out := s.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Equal reports whether s and other declare the same fields.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for k, f := range s {
		o, ok := other[k]
		if !ok || o.Optional != f.Optional || !Equal(o.Type, f.Type) {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := lo.Map(s.Keys(), func(k string, _ int) string { return k + ": " + s[k].String() })
	return "{" + strings.Join(parts, ", ") + "}"
}
