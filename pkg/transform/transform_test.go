package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/executor"
	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/types"
)

var ctx = context.Background()

func maps(rs []record.Record) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rs))
	for i, r := range rs {
		out[i] = r.ToMap()
	}
	return out
}

// run executes op under its contract against prefix.
func run(t *testing.T, op contract.Operation, prefix types.Schema, in ...map[string]interface{}) ([]record.Record, error) {
	t.Helper()
	ex, err := executor.New(op, prefix, executor.Config{Stage: "test"})
	require.NoError(t, err)
	return ex.Execute(ctx, record.FromMaps(in...))
}

func TestRewireApply(t *testing.T) {
	rw := Rewire{
		Copy:   map[string]string{"a": "a2"},
		Move:   map[string]string{"b": "b2"},
		Set:    map[string]interface{}{"flag": true},
		Delete: []string{"c"},
	}
	prefix := types.SchemaOf(map[string]types.Type{"a": types.String, "b": types.Int, "c": types.Float})

	out := rw.Apply(prefix)
	assert.True(t, out.Equal(types.SchemaOf(map[string]types.Type{
		"a":    types.String,
		"a2":   types.String,
		"b2":   types.Int,
		"flag": types.Bool,
	})), out.String())

	r := rw.Record(record.New(map[string]interface{}{"a": "x", "b": 1, "c": 2.5}))
	assert.Equal(t, map[string]interface{}{"a": "x", "a2": "x", "b2": 1, "flag": true}, r.ToMap())
}

func TestRewireOrder(t *testing.T) {
	// copy runs before move, so the copy sees the unmoved source
	rw := Rewire{
		Copy: map[string]string{"a": "kept"},
		Move: map[string]string{"a": "moved"},
		Set:  map[string]interface{}{"a": "reset"},
	}
	r := rw.Record(record.New(map[string]interface{}{"a": "orig"}))
	assert.Equal(t, map[string]interface{}{"kept": "orig", "moved": "orig", "a": "reset"}, r.ToMap())
}

func TestRewireValidate(t *testing.T) {
	tests := []struct {
		name string
		rw   Rewire
	}{
		{"target written twice", Rewire{Copy: map[string]string{"a": "x"}, Set: map[string]interface{}{"x": 1}}},
		{"empty target", Rewire{Move: map[string]string{"a": ""}}},
		{"deleted target", Rewire{Copy: map[string]string{"a": "x"}, Delete: []string{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rw.Validate("link")
			require.Error(t, err)
			assert.True(t, gferrors.IsValidationError(err))
		})
	}
	assert.NoError(t, Rewire{}.Validate("link"))
}

func TestLink(t *testing.T) {
	op, err := NewLink(LinkOptions{Rewire: Rewire{
		Move:   map[string]string{"title": "headline"},
		Set:    map[string]interface{}{"source": "feed"},
		Delete: []string{"draft"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "link", op.Contract().Name())

	prefix := types.SchemaOf(map[string]types.Type{"title": types.String, "draft": types.Bool, "id": types.Int})
	assert.True(t, op.Contract().Output(prefix).Equal(types.SchemaOf(map[string]types.Type{
		"headline": types.String,
		"source":   types.String,
		"id":       types.Int,
	})))
	assert.ElementsMatch(t, []string{"draft", "title"}, op.Contract().DeletedNames(prefix))

	out, err := run(t, op, prefix,
		map[string]interface{}{"title": "a", "draft": true, "id": 1},
		map[string]interface{}{"title": "b", "draft": false, "id": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{
		{"headline": "a", "source": "feed", "id": 1},
		{"headline": "b", "source": "feed", "id": 2},
	}, maps(out))
}

func TestLinkRequiresSources(t *testing.T) {
	op, err := NewLink(LinkOptions{Rewire: Rewire{Copy: map[string]string{"missing": "x"}}})
	require.NoError(t, err)

	_, err = run(t, op, types.Schema{}, map[string]interface{}{"other": 1})
	assert.ErrorIs(t, err, gferrors.ErrPropertyNotFound)

	_, err = NewLink(LinkOptions{})
	assert.True(t, gferrors.IsValidationError(err))
}

func TestFilter(t *testing.T) {
	in := []map[string]interface{}{
		{"status": "open", "quantity": 5},
		{"status": "closed", "quantity": 50},
		{"status": "open", "quantity": 20},
	}
	prefix := types.SchemaOf(map[string]types.Type{"status": types.String, "quantity": types.Int})

	t.Run("field value", func(t *testing.T) {
		op, err := NewFilter(FilterOptions{Field: "status", Value: "open"})
		require.NoError(t, err)
		out, err := run(t, op, prefix, in...)
		require.NoError(t, err)
		assert.Equal(t, []map[string]interface{}{in[0], in[2]}, maps(out))
		assert.True(t, op.Contract().Output(prefix).Equal(prefix))
	})

	t.Run("field value across integer kinds", func(t *testing.T) {
		op, err := NewFilter(FilterOptions{Field: "n", Value: 1})
		require.NoError(t, err)
		counts := types.SchemaOf(map[string]types.Type{"n": types.Int})
		out, err := run(t, op, counts, map[string]interface{}{"n": int64(1)}, map[string]interface{}{"n": int32(2)})
		require.NoError(t, err)
		assert.Equal(t, []map[string]interface{}{{"n": int64(1)}}, maps(out))
	})

	t.Run("predicate", func(t *testing.T) {
		op, err := NewFilter(FilterOptions{Predicate: func(r record.Record) (bool, error) {
			v, _ := r.Get("quantity")
			return v.(int) >= 20, nil
		}})
		require.NoError(t, err)
		out, err := run(t, op, prefix, in...)
		require.NoError(t, err)
		assert.Equal(t, []map[string]interface{}{in[1], in[2]}, maps(out))
	})

	t.Run("expression with rewire", func(t *testing.T) {
		op, err := NewFilter(FilterOptions{
			Expression: `status == "open" && quantity > 10`,
			Rewire:     Rewire{Set: map[string]interface{}{"priority": true}},
		})
		require.NoError(t, err)
		out, err := run(t, op, prefix, in...)
		require.NoError(t, err)
		assert.Equal(t, []map[string]interface{}{{"status": "open", "quantity": 20, "priority": true}}, maps(out))
	})

	t.Run("predicate error", func(t *testing.T) {
		boom := errors.New("boom")
		op, err := NewFilter(FilterOptions{Predicate: func(record.Record) (bool, error) { return false, boom }})
		require.NoError(t, err)
		_, err = run(t, op, prefix, in...)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, gferrors.ErrExecution)
	})

	t.Run("non boolean expression", func(t *testing.T) {
		op, err := NewFilter(FilterOptions{Expression: `quantity + 1`})
		require.NoError(t, err)
		_, err = run(t, op, prefix, in...)
		assert.ErrorIs(t, err, gferrors.ErrExecution)
	})
}

func TestFilterOptions(t *testing.T) {
	tests := []struct {
		name string
		opts FilterOptions
	}{
		{"no selector", FilterOptions{}},
		{"two selectors", FilterOptions{Field: "a", Expression: "a == 1"}},
		{"bad expression", FilterOptions{Expression: "a ==="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilter(tt.opts)
			require.Error(t, err)
			assert.True(t, gferrors.IsValidationError(err))
		})
	}
}

func TestExplode(t *testing.T) {
	op, err := NewExplode(ExplodeOptions{Split: map[string]string{"ids": "id", "qty": "q"}})
	require.NoError(t, err)
	assert.Equal(t, contract.Expand, op.Contract().Cardinality())

	prefix := types.SchemaOf(map[string]types.Type{
		"ids":      types.SequenceOf(types.String),
		"qty":      types.SequenceOf(types.Int),
		"customer": types.String,
	})
	assert.True(t, op.Contract().Output(prefix).Equal(types.SchemaOf(map[string]types.Type{
		"id":       types.String,
		"q":        types.Int,
		"customer": types.String,
	})))

	out, err := run(t, op, prefix, map[string]interface{}{
		"ids":      []string{"a", "b"},
		"qty":      []int{1, 2},
		"customer": "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{
		{"id": "a", "q": 1, "customer": "c1"},
		{"id": "b", "q": 2, "customer": "c1"},
	}, maps(out))
}

func TestExplodeEdgeCases(t *testing.T) {
	prefix := types.SchemaOf(map[string]types.Type{
		"items": types.SequenceOf(types.String),
		"other": types.SequenceOf(types.String),
	})

	t.Run("empty skip", func(t *testing.T) {
		op, err := NewExplode(ExplodeOptions{Split: map[string]string{"items": "item"}, OnEmpty: OnEmptySkip})
		require.NoError(t, err)
		out, err := run(t, op, prefix, map[string]interface{}{"items": []string{}, "other": []string{}})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("empty error", func(t *testing.T) {
		op, err := NewExplode(ExplodeOptions{Split: map[string]string{"items": "item"}, OnEmpty: OnEmptyError})
		require.NoError(t, err)
		_, err = run(t, op, prefix, map[string]interface{}{"items": []string{}, "other": []string{}})
		assert.ErrorIs(t, err, gferrors.ErrExecution)
	})

	t.Run("unequal lengths", func(t *testing.T) {
		op, err := NewExplode(ExplodeOptions{Split: map[string]string{"items": "item", "other": "o"}})
		require.NoError(t, err)
		_, err = run(t, op, prefix, map[string]interface{}{"items": []string{"a", "b"}, "other": []string{"x"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, gferrors.ErrExecution)
		assert.Contains(t, err.Error(), "differ in length")
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewExplode(ExplodeOptions{})
		assert.True(t, gferrors.IsValidationError(err))

		_, err = NewExplode(ExplodeOptions{Split: map[string]string{"a": "x"}, OnEmpty: "drop"})
		assert.True(t, gferrors.IsValidationError(err))

		_, err = NewExplode(ExplodeOptions{Split: map[string]string{"a": "x", "b": "x"}})
		assert.True(t, gferrors.IsValidationError(err))
	})
}

func TestCollapseStrategies(t *testing.T) {
	tests := []struct {
		name    string
		merge   map[string]MergeStrategy
		values  []interface{}
		want    interface{}
		wantErr bool
	}{
		{"sum", map[string]MergeStrategy{"v": Sum}, []interface{}{10, 20, 30}, 60, false},
		{"sum floats", map[string]MergeStrategy{"v": Sum}, []interface{}{1, 0.5}, 1.5, false},
		{"collect", map[string]MergeStrategy{"v": Collect}, []interface{}{"a", "b", "a"}, []string{"a", "b", "a"}, false},
		{"collect mixed", map[string]MergeStrategy{"v": Collect}, []interface{}{"a", 1}, []interface{}{"a", 1}, false},
		{"concat strings", map[string]MergeStrategy{"v": Concat}, []interface{}{"ab", "cd"}, "abcd", false},
		{"concat slices", map[string]MergeStrategy{"v": Concat}, []interface{}{[]int{1}, []int{2, 3}}, []int{1, 2, 3}, false},
		{"first", map[string]MergeStrategy{"v": First}, []interface{}{"a", "b"}, "a", false},
		{"last", map[string]MergeStrategy{"v": Last}, []interface{}{"a", "b"}, "b", false},
		{"equal", map[string]MergeStrategy{"v": Equal}, []interface{}{"a", "a"}, "a", false},
		{"equal differs", map[string]MergeStrategy{"v": Equal}, []interface{}{"a", "b"}, nil, true},
		{"unlisted is equal", nil, []interface{}{"a", "b"}, nil, true},
		{"distinct", map[string]MergeStrategy{"v": Distinct}, []interface{}{1, 2, 3}, []int{1, 2, 3}, false},
		{"distinct repeats", map[string]MergeStrategy{"v": Distinct}, []interface{}{1, 2, 1}, nil, true},
		{"sum non numeric", map[string]MergeStrategy{"v": Sum}, []interface{}{"a"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := NewCollapse(CollapseOptions{Merge: tt.merge})
			require.NoError(t, err)

			in := make([]record.Record, len(tt.values))
			for i, v := range tt.values {
				in[i] = record.New(map[string]interface{}{"v": v})
			}
			out, err := op.Execute(ctx, in)
			if tt.wantErr {
				assert.ErrorIs(t, err, gferrors.ErrExecution)
				return
			}
			require.NoError(t, err)
			require.Len(t, out, 1)
			got, _ := out[0].Get("v")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollapseSchema(t *testing.T) {
	op, err := NewCollapse(CollapseOptions{
		Merge:  map[string]MergeStrategy{"tags": Collect, "qty": Sum},
		Rewire: Rewire{Move: map[string]string{"qty": "total"}},
	})
	require.NoError(t, err)
	assert.Equal(t, contract.Reduce, op.Contract().Cardinality())

	prefix := types.SchemaOf(map[string]types.Type{"tags": types.String, "qty": types.Int, "owner": types.String})
	assert.True(t, op.Contract().Output(prefix).Equal(types.SchemaOf(map[string]types.Type{
		"tags":  types.SequenceOf(types.String),
		"total": types.Int,
		"owner": types.String,
	})))

	out, err := run(t, op, prefix,
		map[string]interface{}{"tags": "x", "qty": 1, "owner": "o"},
		map[string]interface{}{"tags": "y", "qty": 2, "owner": "o"},
	)
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{{"tags": []string{"x", "y"}, "total": 3, "owner": "o"}}, maps(out))

	_, err = NewCollapse(CollapseOptions{Merge: map[string]MergeStrategy{"a": "median"}})
	assert.True(t, gferrors.IsValidationError(err))
}

func soloStage(name string, op contract.Operation) *stage.Stage {
	return stage.MustNew(stage.Config{Name: name}, stage.Op(op))
}

func TestExplodeCollapseRoundTrip(t *testing.T) {
	explode, err := NewExplode(ExplodeOptions{Split: map[string]string{"items": "items", "sizes": "sizes"}})
	require.NoError(t, err)
	collapse, err := NewCollapse(CollapseOptions{Merge: map[string]MergeStrategy{"items": Collect, "sizes": Collect}})
	require.NoError(t, err)

	p, err := pipe.New(pipe.Config{Name: "round-trip"}, soloStage("explode", explode), soloStage("collapse", collapse))
	require.NoError(t, err)

	in := map[string]interface{}{
		"items": []string{"c", "a", "b"},
		"sizes": []int{3, 1, 2},
		"batch": "b1",
	}
	out, err := p.Call(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExplodeRequiresSequence(t *testing.T) {
	explode, err := NewExplode(ExplodeOptions{Split: map[string]string{"items": "item"}})
	require.NoError(t, err)
	collapse, err := NewCollapse(CollapseOptions{Merge: map[string]MergeStrategy{"item": Collect}})
	require.NoError(t, err)
	stages := []*stage.Stage{soloStage("explode", explode), soloStage("collapse", collapse)}

	scalar := types.SchemaOf(map[string]types.Type{"items": types.String})
	_, err = pipe.New(pipe.Config{Name: "scalar", InitialSchema: scalar}, stages...)
	require.Error(t, err)
	assert.ErrorIs(t, err, gferrors.ErrIncompatibleStages)

	var cerr *gferrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "explode", cerr.Stage)
	assert.Equal(t, "items", cerr.Property)

	seq := types.SchemaOf(map[string]types.Type{"items": types.SequenceOf(types.String)})
	p, err := pipe.New(pipe.Config{Name: "sequence", InitialSchema: seq}, stages...)
	require.NoError(t, err)
	assert.True(t, p.OutputSchema().Equal(types.SchemaOf(map[string]types.Type{
		"item": types.SequenceOf(types.String),
	})), p.OutputSchema().String())

	out, err := p.Call(ctx, map[string]interface{}{"items": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"item": []string{"a", "b"}}, out)

	maybe := types.Schema{"items": types.OptionalField(types.SequenceOf(types.String))}
	_, err = pipe.New(pipe.Config{Name: "optional", InitialSchema: maybe}, stages...)
	assert.NoError(t, err)
}

func TestCollapseStrategyReads(t *testing.T) {
	explode, err := NewExplode(ExplodeOptions{Split: map[string]string{"names": "name"}})
	require.NoError(t, err)
	initial := types.SchemaOf(map[string]types.Type{"names": types.SequenceOf(types.String)})

	tests := []struct {
		name     string
		strategy MergeStrategy
		wantErr  bool
	}{
		{"sum over text", Sum, true},
		{"concat over text", Concat, false},
		{"collect over text", Collect, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collapse, err := NewCollapse(CollapseOptions{Merge: map[string]MergeStrategy{"name": tt.strategy}})
			require.NoError(t, err)

			_, err = pipe.New(pipe.Config{Name: "names", InitialSchema: initial},
				soloStage("explode", explode), soloStage("collapse", collapse))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, gferrors.ErrIncompatibleStages)

			var cerr *gferrors.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "collapse", cerr.Stage)
			assert.Equal(t, "name", cerr.Property)
		})
	}

	counts := types.SchemaOf(map[string]types.Type{"counts": types.SequenceOf(types.Int)})
	split, err := NewExplode(ExplodeOptions{Split: map[string]string{"counts": "count"}})
	require.NoError(t, err)
	sum, err := NewCollapse(CollapseOptions{Merge: map[string]MergeStrategy{"count": Sum}})
	require.NoError(t, err)
	p, err := pipe.New(pipe.Config{Name: "counts", InitialSchema: counts},
		soloStage("explode", split), soloStage("collapse", sum))
	require.NoError(t, err)
	out, err := p.Call(ctx, map[string]interface{}{"counts": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"count": 6}, out)
}
