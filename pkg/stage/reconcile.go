package stage

import (
	"fmt"
	"reflect"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/record"
)

type candidate struct {
	value interface{}
	seq   int64
}

// reconcile combines the outputs of concurrent operations for one input
// record. Declared deletes are applied first, then each declared set is
// resolved with the stage strategy. perOp and seqs are in declaration order.
func (p *Prepared) reconcile(base record.Record, perOp []record.Record, seqs []int64) record.Record {
	var removed []string
	writes := make(map[string][]candidate)
	var order []string

	for i := range p.executors {
		out := perOp[i]
		for _, name := range p.opDeletes[i] {
			if !out.Has(name) {
				removed = append(removed, name)
			}
		}
		for _, prop := range p.opSets[i] {
			v, ok := out.Lookup(prop)
			if !ok {
				continue
			}
			if _, seen := writes[prop]; !seen {
				order = append(order, prop)
			}
			writes[prop] = append(writes[prop], candidate{value: v, seq: seqs[i]})
		}
	}

	merged := make(map[string]interface{}, len(writes))
	for _, prop := range order {
		merged[prop] = resolve(p.stage.config.Merge, writes[prop])
	}
	return base.WithRemoved(removed...).WithMerged(merged)
}

// resolve picks the value for one property from candidates in declaration order.
func resolve(strategy Strategy, cands []candidate) interface{} {
	if len(cands) == 1 {
		return cands[0].value
	}
	switch strategy {
	case FirstIn:
		best := cands[0]
		for _, c := range cands[1:] {
			if c.seq < best.seq {
				best = c
			}
		}
		return best.value
	case Collate:
		values := make([]interface{}, len(cands))
		for i, c := range cands {
			values[i] = c.value
		}
		return collate(values)
	default:
		best := cands[0]
		for _, c := range cands[1:] {
			if c.seq > best.seq {
				best = c
			}
		}
		return best.value
	}
}

// collate returns the single value when all agree, otherwise all of them.
func collate(values []interface{}) interface{} {
	for _, v := range values[1:] {
		if !reflect.DeepEqual(v, values[0]) {
			return values
		}
	}
	return values[0]
}

// fold merges records into one for ModeMerge. Input order stands in for
// completion order.
func fold(stageName string, strategy Strategy, records []record.Record) (record.Record, error) {
	if len(records) == 1 {
		return records[0], nil
	}

	values := make(map[string][]interface{})
	var order []string
	for _, r := range records {
		for _, k := range r.Keys() {
			v, _ := r.Lookup(k)
			if _, seen := values[k]; !seen {
				order = append(order, k)
			}
			values[k] = append(values[k], v)
		}
	}

	merged := make(map[string]interface{}, len(values))
	for _, k := range order {
		vs := values[k]
		switch strategy {
		case FirstIn:
			merged[k] = vs[0]
		case Collate:
			merged[k] = collate(vs)
		case Disjoint:
			for _, v := range vs[1:] {
				if !reflect.DeepEqual(v, vs[0]) {
					return record.Record{}, &gferrors.ExecutionError{
						Kind:    gferrors.ErrExecution,
						Stage:   stageName,
						Message: fmt.Sprintf("records disagree on property %q under disjoint merge", k),
					}
				}
			}
			merged[k] = vs[0]
		default:
			merged[k] = vs[len(vs)-1]
		}
	}
	return record.New(merged), nil
}
