package contract

import (
	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Builder assembles a Contract. Builders are not safe for concurrent use.
type Builder struct {
	c Contract
}

// New starts a contract for the named operation.
func New(name string) *Builder {
	return &Builder{c: Contract{
		name:   name,
		reads:  types.Schema{},
		sets:   types.Schema{},
		policy: NoIgnore,
	}}
}

// Reads declares a required read.
func (b *Builder) Reads(name string, t types.Type) *Builder {
	b.c.reads[name] = types.FieldOf(t)
	return b
}

// ReadsOptional declares a read that is skipped when the property is absent.
func (b *Builder) ReadsOptional(name string, t types.Type) *Builder {
	b.c.reads[name] = types.OptionalField(t)
	return b
}

// ReadsFunc declares reads derived from the preceding schema.
func (b *Builder) ReadsFunc(fn SchemaFunc) *Builder {
	b.c.readFuncs = append(b.c.readFuncs, fn)
	return b
}

// Sets declares a property every output record must carry.
func (b *Builder) Sets(name string, t types.Type) *Builder {
	b.c.sets[name] = types.FieldOf(t)
	return b
}

// SetsOptional declares a property output records may carry.
func (b *Builder) SetsOptional(name string, t types.Type) *Builder {
	b.c.sets[name] = types.OptionalField(t)
	return b
}

// SetsFunc declares writes derived from the preceding schema.
func (b *Builder) SetsFunc(fn SchemaFunc) *Builder {
	b.c.setFuncs = append(b.c.setFuncs, fn)
	return b
}

// Deletes declares properties that must be absent from every output record.
func (b *Builder) Deletes(names ...string) *Builder {
	for _, n := range names {
		b.c.deletes = append(b.c.deletes, Deletion{Name: n})
	}
	return b
}

// DeletesOptional declares properties the operation may remove.
func (b *Builder) DeletesOptional(names ...string) *Builder {
	for _, n := range names {
		b.c.deletes = append(b.c.deletes, Deletion{Name: n, Optional: true})
	}
	return b
}

// DeletesFunc declares deletions derived from the preceding schema.
func (b *Builder) DeletesFunc(fn DeletionFunc) *Builder {
	b.c.deleteFuncs = append(b.c.deleteFuncs, fn)
	return b
}

// Cardinality sets the declared cardinality.
func (b *Builder) Cardinality(c Cardinality) *Builder {
	b.c.cardinality = c
	return b
}

// AllowCountChange marks the operation as free to change the record count.
func (b *Builder) AllowCountChange() *Builder {
	if b.c.cardinality == Preserve {
		b.c.cardinality = Variable
	}
	return b
}

// RequiresCapability declares a capability the bound model must have.
func (b *Builder) RequiresCapability(capability string) *Builder {
	b.c.capability = capability
	return b
}

// IgnoreErrors suppresses every error the operation raises.
func (b *Builder) IgnoreErrors() *Builder {
	b.c.policy = IgnoreAll
	return b
}

// IgnoreErrorsWhen suppresses errors for which pred returns true.
func (b *Builder) IgnoreErrorsWhen(pred func(error) bool) *Builder {
	b.c.policy = IgnoreWhen(pred)
	return b
}

// WithPolicy sets the error policy directly.
func (b *Builder) WithPolicy(p ErrorPolicy) *Builder {
	b.c.policy = p
	return b
}

// Build validates the declarations and returns the immutable contract.
func (b *Builder) Build() (*Contract, error) {
	if err := validation.ValidateNotEmpty("contract", "name", b.c.name); err != nil {
		return nil, err
	}
	for _, d := range b.c.deletes {
		if _, ok := b.c.sets[d.Name]; ok {
			return nil, gferrors.NewConfigError(gferrors.ErrWriteConflict, "",
				"property %q is both set and deleted", d.Name).WithOperation(b.c.name, d.Name)
		}
	}

	c := b.c
	c.reads = b.c.reads.Clone()
	c.sets = b.c.sets.Clone()
	c.deletes = append([]Deletion(nil), b.c.deletes...)
	c.readFuncs = append([]SchemaFunc(nil), b.c.readFuncs...)
	c.setFuncs = append([]SchemaFunc(nil), b.c.setFuncs...)
	c.deleteFuncs = append([]DeletionFunc(nil), b.c.deleteFuncs...)
	return &c, nil
}

// MustBuild is like Build but panics on error. Intended for package-level
// declarations whose contracts are known to be valid.
func (b *Builder) MustBuild() *Contract {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
