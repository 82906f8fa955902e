// Package contract declares what an operation reads, writes and removes.
//
// A Contract is assembled once with a Builder and is immutable afterwards.
// Declarations may be static or derived from the schema that precedes the
// operation, which lets data-driven operations (Explode, Collapse, Link)
// describe their effect in terms of their input.
package contract

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Cardinality describes how an operation relates input and output record counts.
type Cardinality int

const (
	// Preserve emits exactly one record per input record.
	Preserve Cardinality = iota
	// Expand may emit more records than it receives.
	Expand
	// Reduce folds all records into one.
	Reduce
	// Shrink emits a subset of its input.
	Shrink
	// Variable makes no promise about the output count.
	Variable
)

func (c Cardinality) String() string {
	switch c {
	case Preserve:
		return "preserve"
	case Expand:
		return "expand"
	case Reduce:
		return "reduce"
	case Shrink:
		return "shrink"
	case Variable:
		return "variable"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// ChangesCount reports whether the output count may differ from the input count.
func (c Cardinality) ChangesCount() bool {
	return c != Preserve
}

// Deletion is a property an operation removes.
// An optional deletion tolerates the property being absent or kept.
type Deletion struct {
	Name     string
	Optional bool
}

// SchemaFunc derives declarations from the schema preceding the operation.
type SchemaFunc func(prefix types.Schema) types.Schema

// DeletionFunc derives deletions from the schema preceding the operation.
type DeletionFunc func(prefix types.Schema) []Deletion

// Contract is the immutable read/write/delete surface of an operation.
type Contract struct {
	name        string
	reads       types.Schema
	readFuncs   []SchemaFunc
	sets        types.Schema
	setFuncs    []SchemaFunc
	deletes     []Deletion
	deleteFuncs []DeletionFunc
	cardinality Cardinality
	capability  string
	policy      ErrorPolicy
}

// Name identifies the operation in errors and metrics.
func (c *Contract) Name() string { return c.name }

// Reads returns the properties the operation reads given prefix.
func (c *Contract) Reads(prefix types.Schema) types.Schema {
	out := c.reads.Clone()
	for _, fn := range c.readFuncs {
		out = out.Merge(fn(prefix))
	}
	return out
}

// Sets returns the properties the operation writes given prefix.
func (c *Contract) Sets(prefix types.Schema) types.Schema {
	out := c.sets.Clone()
	for _, fn := range c.setFuncs {
		out = out.Merge(fn(prefix))
	}
	return out
}

// Deletes returns the properties the operation removes given prefix, sorted by
// name. A name declared both optional and required is required.
func (c *Contract) Deletes(prefix types.Schema) []Deletion {
	byName := make(map[string]Deletion, len(c.deletes))
	add := func(d Deletion) {
		if prev, ok := byName[d.Name]; ok && !prev.Optional {
			return
		}
		byName[d.Name] = d
	}
	for _, d := range c.deletes {
		add(d)
	}
	for _, fn := range c.deleteFuncs {
		for _, d := range fn(prefix) {
			add(d)
		}
	}
	names := lo.Keys(byName)
	sort.Strings(names)
	return lo.Map(names, func(n string, _ int) Deletion { return byName[n] })
}

// DeletedNames returns only the names from Deletes.
func (c *Contract) DeletedNames(prefix types.Schema) []string {
	return lo.Map(c.Deletes(prefix), func(d Deletion, _ int) string { return d.Name })
}

// Output applies the schema-flow rule: prefix minus deletes, plus sets.
func (c *Contract) Output(prefix types.Schema) types.Schema {
	return prefix.Without(c.DeletedNames(prefix)...).Merge(c.Sets(prefix))
}

// Check verifies the contract is well formed against prefix: no property may
// be both set and deleted.
func (c *Contract) Check(prefix types.Schema) error {
	sets := c.Sets(prefix)
	for _, d := range c.Deletes(prefix) {
		if _, ok := sets[d.Name]; ok {
			return gferrors.NewConfigError(gferrors.ErrWriteConflict, "",
				"property %q is both set and deleted", d.Name).WithOperation(c.name, d.Name)
		}
	}
	return nil
}

// Cardinality returns the declared cardinality.
func (c *Contract) Cardinality() Cardinality { return c.cardinality }

// AllowsCountChange reports whether output length may differ from input length.
func (c *Contract) AllowsCountChange() bool { return c.cardinality.ChangesCount() }

// RequiredCapability returns the model capability the operation needs, or "".
func (c *Contract) RequiredCapability() string { return c.capability }

// ErrorPolicy returns the policy applied to errors the operation raises.
func (c *Contract) ErrorPolicy() ErrorPolicy { return c.policy }

// WithPolicy returns a copy of c with a different error policy.
func (c *Contract) WithPolicy(p ErrorPolicy) *Contract {
	cp := *c
	cp.policy = p
	return &cp
}

func (c *Contract) String() string {
	return fmt.Sprintf("%s(reads=%s sets=%s cardinality=%s)", c.name, c.reads, c.sets, c.cardinality)
}
