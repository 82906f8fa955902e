package transform

import (
	"github.com/samber/lo"

	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/types"
)

// flowFunc computes a transform's output schema from its prefix, along with
// the properties it writes and the ones it removes.
type flowFunc func(prefix types.Schema) (out types.Schema, written, removed []string)

// derive builds a contract whose sets and deletes follow from flow.
//
// Written properties and properties that are new or change type are declared
// as sets. Removed properties and prefix properties missing from the output
// are declared as deletes, unless the output still carries them.
func derive(name string, card contract.Cardinality, reads contract.SchemaFunc, flow flowFunc) (*contract.Contract, error) {
	b := contract.New(name).Cardinality(card)
	if reads != nil {
		b.ReadsFunc(reads)
	}
	b.SetsFunc(func(prefix types.Schema) types.Schema {
		out, written, _ := flow(prefix)
		sets := types.Schema{}
		for _, k := range written {
			if f, ok := out[k]; ok {
				sets[k] = f
			}
		}
		for k, f := range out {
			if prev, ok := prefix[k]; !ok || !types.Equal(prev.Type, f.Type) || prev.Optional != f.Optional {
				sets[k] = f
			}
		}
		return sets
	})
	b.DeletesFunc(func(prefix types.Schema) []contract.Deletion {
		out, _, removed := flow(prefix)
		for k := range prefix {
			if _, ok := out[k]; !ok {
				removed = append(removed, k)
			}
		}
		removed = lo.Filter(lo.Uniq(removed), func(k string, _ int) bool {
			_, kept := out[k]
			return !kept
		})
		return lo.Map(removed, func(k string, _ int) contract.Deletion { return contract.Deletion{Name: k} })
	})
	return b.Build()
}

// fieldOr returns prefix[name], or fallback when the prefix lacks it.
func fieldOr(prefix types.Schema, name string, fallback types.Type) types.Field {
	if f, ok := prefix[name]; ok {
		return f
	}
	return types.FieldOf(fallback)
}

// narrowRead declares a read of name accepting only accepted, keeping the
// prefix's optionality so absent or nil values still compose.
func narrowRead(prefix types.Schema, name string, accepted types.Type) types.Field {
	f := types.FieldOf(accepted)
	if have, ok := prefix[name]; ok {
		f.Optional = have.Optional
		if _, wrapped := have.Type.(types.OptionalType); wrapped {
			f.Type = types.Optional(accepted)
		}
	}
	return f
}

// elementOf returns the element type of a sequence, or Any.
func elementOf(t types.Type) types.Type {
	if seq, ok := types.Unwrap(t).(types.SequenceType); ok {
		return seq.Elem
	}
	return types.Any
}
