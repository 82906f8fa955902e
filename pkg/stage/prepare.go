package stage

import (
	"sort"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/executor"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Prepared is a stage bound to the schema that precedes it.
type Prepared struct {
	stage     *Stage
	executors []*executor.Executor
	input     types.Schema
	output    types.Schema

	cardinality contract.Cardinality
	countChange bool

	// per-operation declarations in declaration order
	opSets    [][]string
	opDeletes [][]string
}

type writer struct {
	op string
	t  types.Type
}

// Prepare performs the composition-time checks against prefix and returns
// an executable stage.
func (s *Stage) Prepare(prefix types.Schema) (*Prepared, error) {
	name := s.config.Name
	opPrefix := s.operationPrefix(prefix)

	p := &Prepared{
		stage:       s,
		input:       prefix.Clone(),
		cardinality: contract.Preserve,
	}

	writers := make(map[string]writer)
	deleters := make(map[string]string)
	collide := make(map[string]bool)
	var deleted []string
	sets := types.Schema{}

	for _, b := range s.bindings {
		c := b.Operation.Contract()
		op := c.Name()

		if capability := c.RequiredCapability(); capability != "" && !model.Has(b.Model, capability) {
			modelName := "<none>"
			if b.Model != nil {
				modelName = b.Model.Name()
			}
			return nil, gferrors.NewConfigError(gferrors.ErrCapabilityMismatch, name,
				"model %q lacks capability %q", modelName, capability).WithOperation(op, "")
		}

		ex, err := executor.New(b.Operation, opPrefix, executor.Config{
			Stage:    name,
			Timeout:  b.Timeout,
			Model:    b.Model,
			Limiter:  b.Limiter,
			Observer: s.config.Observer,
			Logger:   s.config.Logger,
		})
		if err != nil {
			return nil, err
		}

		if err := checkReads(name, op, opPrefix, ex.Reads()); err != nil {
			return nil, err
		}

		opSets := ex.Sets()
		for _, prop := range opSets.Keys() {
			f := opSets[prop]
			if prev, ok := writers[prop]; ok {
				if !types.Equal(prev.t, f.Type) {
					return nil, gferrors.NewConfigError(gferrors.ErrTypeConflict, name,
						"property %q declared as %s by %q and as %s by %q",
						prop, prev.t, prev.op, f.Type, op).WithOperation(op, prop)
				}
				if s.config.Merge == Disjoint {
					return nil, gferrors.NewConfigError(gferrors.ErrWriteConflict, name,
						"property %q written by %q and %q under disjoint merge", prop, prev.op, op).
						WithOperation(op, prop)
				}
				collide[prop] = true
				continue
			}
			writers[prop] = writer{op: op, t: f.Type}
			sets[prop] = f
		}
		var opDeletes []string
		for _, d := range ex.Deletes() {
			deleters[d.Name] = op
			deleted = append(deleted, d.Name)
			opDeletes = append(opDeletes, d.Name)
		}
		p.opSets = append(p.opSets, opSets.Keys())
		p.opDeletes = append(p.opDeletes, opDeletes)

		if c.AllowsCountChange() {
			p.countChange = true
			p.cardinality = c.Cardinality()
		}
		p.executors = append(p.executors, ex)
	}

	deletedProps := lo.Keys(deleters)
	sort.Strings(deletedProps)
	for _, prop := range deletedProps {
		op := deleters[prop]
		if w, ok := writers[prop]; ok && w.op != op {
			return nil, gferrors.NewConfigError(gferrors.ErrWriteConflict, name,
				"property %q set by %q and deleted by %q", prop, w.op, op).WithOperation(op, prop)
		}
	}

	if p.countChange {
		if len(p.executors) > 1 {
			return nil, gferrors.NewConfigError(gferrors.ErrInvalidConfiguration, name,
				"count-changing operation %q must be the only operation in its stage",
				p.countChanger()).WithOperation(p.countChanger(), "")
		}
		if s.config.Mode == ModeBatch {
			return nil, gferrors.NewConfigError(gferrors.ErrInvalidConfiguration, name,
				"batch mode does not allow count-changing operation %q", p.countChanger()).
				WithOperation(p.countChanger(), "")
		}
	}

	if s.config.Merge == Collate {
		for prop := range collide {
			sets[prop] = types.Field{Type: collated(sets[prop].Type), Optional: sets[prop].Optional}
		}
	}
	p.output = opPrefix.Without(lo.Uniq(deleted)...).Merge(sets)
	p.cardinality = s.stageCardinality(p.cardinality)
	return p, nil
}

// stageCardinality adjusts the operation cardinality for the stage mode.
func (s *Stage) stageCardinality(op contract.Cardinality) contract.Cardinality {
	switch s.config.Mode {
	case ModeMerge:
		if op == contract.Preserve || op == contract.Reduce {
			return contract.Reduce
		}
	case ModeFanOut:
		if op == contract.Reduce {
			return contract.Preserve
		}
	}
	return op
}

func (p *Prepared) countChanger() string {
	for _, ex := range p.executors {
		if ex.Contract().AllowsCountChange() {
			return ex.Name()
		}
	}
	return ""
}

func checkReads(stageName, op string, prefix, reads types.Schema) error {
	names := reads.Keys()
	sort.Strings(names)
	for _, prop := range names {
		want := reads[prop]
		have, ok := prefix[prop]
		if !ok {
			if want.Optional {
				continue
			}
			return gferrors.NewConfigError(gferrors.ErrIncompatibleStages, stageName,
				"property %q is required but not available", prop).WithOperation(op, prop)
		}
		if have.Optional && !want.Optional && !types.IsOptional(want.Type) {
			return gferrors.NewConfigError(gferrors.ErrIncompatibleStages, stageName,
				"property %q may be absent, operation requires it", prop).WithOperation(op, prop)
		}
		if !types.Compatible(have.Type, want.Type) {
			return gferrors.NewConfigError(gferrors.ErrIncompatibleStages, stageName,
				"property %q is %s, operation reads %s", prop, have.Type, want.Type).WithOperation(op, prop)
		}
	}
	return nil
}

// Name returns the stage name.
func (p *Prepared) Name() string { return p.stage.config.Name }

// Stage returns the unprepared stage.
func (p *Prepared) Stage() *Stage { return p.stage }

// InputSchema returns the schema the stage was prepared against.
func (p *Prepared) InputSchema() types.Schema { return p.input.Clone() }

// OutputSchema returns the schema after the stage.
func (p *Prepared) OutputSchema() types.Schema { return p.output.Clone() }

// Cardinality describes how the stage changes the record count.
func (p *Prepared) Cardinality() contract.Cardinality { return p.cardinality }

// Executors returns the stage's executors in declaration order.
func (p *Prepared) Executors() []*executor.Executor {
	return append([]*executor.Executor(nil), p.executors...)
}
