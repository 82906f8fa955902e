// Package record defines the immutable property bag that flows through a pipe.
//
// A Record is never modified in place. Every transformation returns a new
// Record and leaves the receiver untouched, so records can be shared freely
// between concurrently running operations.
package record

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Record is an immutable mapping from property name to value.
// The zero value is an empty record.
type Record struct {
	values map[string]interface{}
	order  []string
}

// New creates a record from props. Keys are ordered lexicographically.
// The map is copied; later changes to props do not affect the record.
func New(props map[string]interface{}) Record {
	if len(props) == 0 {
		return Record{}
	}
	values := make(map[string]interface{}, len(props))
	order := make([]string, 0, len(props))
	for k, v := range props {
		values[k] = v
		order = append(order, k)
	}
	sort.Strings(order)
	return Record{values: values, order: order}
}

// Empty returns a record with no properties.
func Empty() Record {
	return Record{}
}

// Get returns the value of key or a PropertyNotFound contract error.
func (r Record) Get(key string) (interface{}, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, gferrors.NewPropertyNotFound(key)
	}
	return v, nil
}

// Lookup returns the value of key and whether it was present.
func (r Record) Lookup(key string) (interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// With returns a new record with key set to value.
func (r Record) With(key string, value interface{}) Record {
	return r.WithMerged(map[string]interface{}{key: value})
}

// WithMerged returns a new record with props added or overwritten.
// Existing keys keep their position; new keys are appended in sorted order.
func (r Record) WithMerged(props map[string]interface{}) Record {
	if len(props) == 0 {
		return r
	}
	values := make(map[string]interface{}, len(r.values)+len(props))
	for k, v := range r.values {
		values[k] = v
	}
	order := make([]string, len(r.order), len(r.order)+len(props))
	copy(order, r.order)

	added := make([]string, 0, len(props))
	for k, v := range props {
		if _, exists := values[k]; !exists {
			added = append(added, k)
		}
		values[k] = v
	}
	sort.Strings(added)
	order = append(order, added...)

	return Record{values: values, order: order}
}

// WithRemoved returns a new record without the given keys.
// Keys that are not present are ignored.
func (r Record) WithRemoved(keys ...string) Record {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := r.values[k]; ok {
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return r
	}
	values := make(map[string]interface{}, len(r.values)-len(drop))
	order := make([]string, 0, len(r.order)-len(drop))
	for _, k := range r.order {
		if _, gone := drop[k]; gone {
			continue
		}
		values[k] = r.values[k]
		order = append(order, k)
	}
	return Record{values: values, order: order}
}

// Keys returns the property names in insertion order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of properties.
func (r Record) Len() int {
	return len(r.order)
}

// ToMap returns a shallow snapshot of the record's properties.
func (r Record) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// Equal reports whether r and other hold the same properties with deeply
// equal values. Key order is ignored.
func (r Record) Equal(other Record) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// String renders the record as {k: v, ...} in key order.
func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.order {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, r.values[k])
	}
	b.WriteByte('}')
	return b.String()
}

// FromMaps builds one record per map.
func FromMaps(maps ...map[string]interface{}) []Record {
	out := make([]Record, len(maps))
	for i, m := range maps {
		out[i] = New(m)
	}
	return out
}

// KeySet returns the union of keys present in any of records.
func KeySet(records []Record) map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range records {
		for _, k := range r.order {
			set[k] = struct{}{}
		}
	}
	return set
}
