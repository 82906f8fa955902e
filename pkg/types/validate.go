package types

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Validate checks value against t. path names the value in error messages,
// for example "records[2].tags[0] expected String, got Integer".
func Validate(value interface{}, t Type, path string) error {
	if err := t.validate(value, path); err != nil {
		return err
	}
	return nil
}

// Describe names the runtime kind of value.
func Describe(value interface{}) string {
	if value == nil {
		return "Nil"
	}
	if _, ok := value.(Symbol); ok {
		return "Symbol"
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return "String"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Integer"
	case reflect.Float32, reflect.Float64:
		return "Float"
	case reflect.Bool:
		return "Boolean"
	case reflect.Slice, reflect.Array:
		return "Sequence"
	case reflect.Map:
		return "Mapping"
	case reflect.Ptr:
		if rv.IsNil() {
			return "Nil"
		}
	}
	return fmt.Sprintf("%T", value)
}

func mismatch(path string, t Type, value interface{}) *gferrors.ContractError {
	return gferrors.NewTypeMismatch(path, t.String(), Describe(value))
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func keyPath(path string, key interface{}) string {
	return fmt.Sprintf("%s[%v]", path, key)
}

func fieldPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func (t ScalarType) validate(value interface{}, path string) *gferrors.ContractError {
	if value == nil {
		return mismatch(path, t, value)
	}
	if t.Kind == KindSymbol {
		if _, ok := value.(Symbol); ok {
			return nil
		}
		return mismatch(path, t, value)
	}
	if _, isSym := value.(Symbol); isSym {
		return mismatch(path, t, value)
	}
	if scalarKind(reflect.TypeOf(value)) != t.Kind {
		return mismatch(path, t, value)
	}
	return nil
}

// scalarKind maps a Go type onto a scalar kind, or -1 when it is not scalar.
func scalarKind(rt reflect.Type) Kind {
	if rt == reflect.TypeOf(Symbol("")) {
		return KindSymbol
	}
	switch rt.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.Bool:
		return KindBool
	}
	return -1
}

func (t SequenceType) validate(value interface{}, path string) *gferrors.ContractError {
	if value == nil {
		return mismatch(path, t, value)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return mismatch(path, t, value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.Elem.validate(rv.Index(i).Interface(), indexPath(path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (t MappingType) validate(value interface{}, path string) *gferrors.ContractError {
	if value == nil {
		return mismatch(path, t, value)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return mismatch(path, t, value)
	}
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().Interface()
		if err := t.Key.validate(k, keyPath(path, k)+"(key)"); err != nil {
			return err
		}
		if err := t.Value.validate(iter.Value().Interface(), keyPath(path, k)); err != nil {
			return err
		}
	}
	return nil
}

func (t StructType) validate(value interface{}, path string) *gferrors.ContractError {
	if value == nil {
		return mismatch(path, t, value)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return mismatch(path, t, value)
	}
	names := lo.Keys(t.Fields)
	sort.Strings(names)
	for _, name := range names {
		f := t.Fields[name]
		fv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !fv.IsValid() {
			if f.Optional || IsOptional(f.Type) {
				continue
			}
			return gferrors.NewTypeMismatch(fieldPath(path, name), f.Type.String(), "missing")
		}
		if err := f.Type.validate(fv.Interface(), fieldPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func (AnyType) validate(interface{}, string) *gferrors.ContractError {
	return nil
}

func (t OptionalType) validate(value interface{}, path string) *gferrors.ContractError {
	if value == nil {
		return nil
	}
	if err := t.Inner.validate(value, path); err != nil {
		return err
	}
	return nil
}

func (t EnumType) validate(value interface{}, path string) *gferrors.ContractError {
	if lo.ContainsBy(t.Values, func(allowed interface{}) bool { return SameValue(allowed, value) }) {
		return nil
	}
	return gferrors.NewTypeMismatch(path, t.String(), fmt.Sprintf("%s(%v)", Describe(value), value))
}

func (t UnionType) validate(value interface{}, path string) *gferrors.ContractError {
	for _, alt := range t.Alternatives {
		if alt.validate(value, path) == nil {
			return nil
		}
	}
	return mismatch(path, t, value)
}

// SameValue compares values treating integer kinds and float kinds as numbers.
func SameValue(a, b interface{}) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := asFloat64(a); ok {
		if bf, ok := asFloat64(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func asInt64(v interface{}) (int64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
