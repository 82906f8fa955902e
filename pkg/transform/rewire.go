// Package transform provides the built-in record transforms: Link, Filter,
// Explode and Collapse.
//
// Every transform ends with the same rewiring step. Properties are copied,
// then moved, then set to constants, then deleted, always in that order.
// Contracts are derived from the schema preceding the transform, so a
// transform can sit anywhere in a pipe without hand-written declarations.
package transform

import (
	"sort"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Rewire renames, duplicates, assigns and removes properties.
type Rewire struct {
	// Copy maps a source property to a target; the source is kept.
	Copy map[string]string
	// Move maps a source property to a target; the source is removed.
	Move map[string]string
	// Set assigns constant values.
	Set map[string]interface{}
	// Delete removes properties.
	Delete []string
}

// IsZero reports whether rw changes nothing.
func (rw Rewire) IsZero() bool {
	return len(rw.Copy) == 0 && len(rw.Move) == 0 && len(rw.Set) == 0 && len(rw.Delete) == 0
}

// Validate rejects targets written twice and targets that are also deleted.
func (rw Rewire) Validate(module string) error {
	written := make(map[string]string)
	claim := func(target, by string) error {
		if target == "" {
			return gferrors.NewValidationError(module, by, target, "target cannot be empty")
		}
		if prev, ok := written[target]; ok {
			return gferrors.NewValidationError(module, by, target, "target already written by "+prev)
		}
		written[target] = by
		return nil
	}
	for _, src := range sortedKeys(rw.Copy) {
		if err := claim(rw.Copy[src], "copy"); err != nil {
			return err
		}
	}
	for _, src := range sortedKeys(rw.Move) {
		if err := claim(rw.Move[src], "move"); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(rw.Set) {
		if err := claim(key, "set"); err != nil {
			return err
		}
	}
	for _, name := range rw.Delete {
		if by, ok := written[name]; ok {
			return gferrors.NewValidationError(module, "delete", name, "property is also written by "+by)
		}
	}
	return nil
}

// Sources returns the properties read by copy and move, sorted.
func (rw Rewire) Sources() []string {
	return lo.Uniq(append(sortedKeys(rw.Copy), sortedKeys(rw.Move)...))
}

// Apply returns the schema after rewiring s.
func (rw Rewire) Apply(s types.Schema) types.Schema {
	out, _, _ := rw.flow(s)
	return out
}

// flow returns the rewired schema together with the properties written and
// removed along the way.
func (rw Rewire) flow(s types.Schema) (types.Schema, []string, []string) {
	var written, removed []string
	field := func(from types.Schema, name string) types.Field {
		if f, ok := from[name]; ok {
			return f
		}
		return types.FieldOf(types.Any)
	}

	out := s.Clone()
	if len(rw.Copy) > 0 {
		added := types.Schema{}
		for _, src := range sortedKeys(rw.Copy) {
			dst := rw.Copy[src]
			added[dst] = field(out, src)
			written = append(written, dst)
		}
		out = out.Merge(added)
	}

	if len(rw.Move) > 0 {
		added := types.Schema{}
		sources := sortedKeys(rw.Move)
		for _, src := range sources {
			dst := rw.Move[src]
			added[dst] = field(out, src)
			written = append(written, dst)
		}
		removed = append(removed, sources...)
		out = out.Without(sources...).Merge(added)
	}

	for _, key := range sortedKeys(rw.Set) {
		out[key] = types.FieldOf(types.Infer(rw.Set[key]))
		written = append(written, key)
	}

	if len(rw.Delete) > 0 {
		removed = append(removed, rw.Delete...)
		out = out.Without(rw.Delete...)
	}
	return out, written, removed
}

// Record returns r after rewiring. Missing sources are skipped.
func (rw Rewire) Record(r record.Record) record.Record {
	if rw.IsZero() {
		return r
	}

	if len(rw.Copy) > 0 {
		r = r.WithMerged(gather(r, rw.Copy))
	}
	if len(rw.Move) > 0 {
		moved := gather(r, rw.Move)
		r = r.WithRemoved(sortedKeys(rw.Move)...).WithMerged(moved)
	}
	if len(rw.Set) > 0 {
		r = r.WithMerged(rw.Set)
	}
	if len(rw.Delete) > 0 {
		r = r.WithRemoved(rw.Delete...)
	}
	return r
}

func gather(r record.Record, mapping map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(mapping))
	for src, dst := range mapping {
		if v, ok := r.Lookup(src); ok {
			out[dst] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
