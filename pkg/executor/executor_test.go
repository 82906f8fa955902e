package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vnykmshr/opflow/internal/testutil"
	flowctx "github.com/vnykmshr/opflow/pkg/common/context"
	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/types"
)

var prefix = types.SchemaOf(map[string]types.Type{"name": types.String})

func rec(props map[string]interface{}) []record.Record {
	return []record.Record{record.New(props)}
}

func mustExecutor(t *testing.T, op contract.Operation, cfg Config) *Executor {
	t.Helper()
	ex, err := New(op, prefix, cfg)
	require.NoError(t, err)
	return ex
}

func greet(c *contract.Contract) contract.Operation {
	return contract.PerRecord(c, func(_ context.Context, r record.Record) (record.Record, error) {
		name, _ := r.Get("name")
		return r.With("greeting", "hello "+name.(string)), nil
	})
}

func TestExecuteSuccess(t *testing.T) {
	obs := &testutil.RecordingObserver{}
	c := contract.New("greet").Reads("name", types.String).Sets("greeting", types.String).MustBuild()
	ex := mustExecutor(t, greet(c), Config{Stage: "s1", Observer: obs})

	out, err := ex.Execute(context.Background(), rec(map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, err := out[0].Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello ada", v)

	started, completed, failed := obs.Counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, "s1", obs.Completed[0].Stage)
	assert.Equal(t, "greet", obs.Completed[0].Operation)

	assert.True(t, ex.Output().Equal(types.SchemaOf(map[string]types.Type{
		"name":     types.String,
		"greeting": types.String,
	})))
}

func TestExecuteInputChecks(t *testing.T) {
	c := contract.New("greet").Reads("name", types.String).Sets("greeting", types.String).MustBuild()

	t.Run("missing required read", func(t *testing.T) {
		obs := &testutil.RecordingObserver{}
		ex := mustExecutor(t, greet(c), Config{Stage: "s1", Observer: obs})
		_, err := ex.Execute(context.Background(), rec(map[string]interface{}{"other": 1}))
		require.Error(t, err)
		assert.ErrorIs(t, err, gferrors.ErrPropertyNotFound)
		assert.ErrorIs(t, err, gferrors.ErrContractViolation)

		var cerr *gferrors.ContractError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "s1", cerr.Stage)
		assert.Equal(t, "greet", cerr.Operation)
		assert.Equal(t, "name", cerr.Property)

		_, _, failed := obs.Counts()
		assert.Equal(t, 1, failed)
	})

	t.Run("read type mismatch", func(t *testing.T) {
		ex := mustExecutor(t, greet(c), Config{})
		_, err := ex.Execute(context.Background(), rec(map[string]interface{}{"name": 42}))
		assert.ErrorIs(t, err, gferrors.ErrTypeMismatch)
	})

	t.Run("optional read may be absent", func(t *testing.T) {
		oc := contract.New("maybe").ReadsOptional("nick", types.String).Sets("seen", types.Bool).MustBuild()
		ex := mustExecutor(t, testutil.Setter(oc, "seen", true, 0), Config{})
		out, err := ex.Execute(context.Background(), rec(map[string]interface{}{"name": "ada"}))
		require.NoError(t, err)
		assert.True(t, out[0].Has("seen"))
	})
}

func TestExecuteOutputChecks(t *testing.T) {
	input := rec(map[string]interface{}{"name": "ada"})

	tests := []struct {
		name string
		c    *contract.Contract
		fn   func(r record.Record) record.Record
		want error
	}{
		{
			name: "declared set missing",
			c:    contract.New("op").Sets("greeting", types.String).MustBuild(),
			fn:   func(r record.Record) record.Record { return r },
			want: gferrors.ErrPropertyNotFound,
		},
		{
			name: "declared set wrong type",
			c:    contract.New("op").Sets("greeting", types.String).MustBuild(),
			fn:   func(r record.Record) record.Record { return r.With("greeting", 7) },
			want: gferrors.ErrTypeMismatch,
		},
		{
			name: "declared delete still present",
			c:    contract.New("op").Deletes("name").MustBuild(),
			fn:   func(r record.Record) record.Record { return r },
			want: gferrors.ErrUnexpectedProperty,
		},
		{
			name: "undeclared removal",
			c:    contract.New("op").MustBuild(),
			fn:   func(r record.Record) record.Record { return r.WithRemoved("name") },
			want: gferrors.ErrUnexpectedDeletion,
		},
		{
			name: "undeclared addition",
			c:    contract.New("op").MustBuild(),
			fn:   func(r record.Record) record.Record { return r.With("extra", 1) },
			want: gferrors.ErrUnexpectedProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := contract.PerRecord(tt.c, func(_ context.Context, r record.Record) (record.Record, error) {
				return tt.fn(r), nil
			})
			ex := mustExecutor(t, op, Config{Stage: "s"})
			_, err := ex.Execute(context.Background(), input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, gferrors.IsContractViolation(err))
		})
	}

	t.Run("optional delete may remain", func(t *testing.T) {
		c := contract.New("op").DeletesOptional("name").MustBuild()
		op := contract.PerRecord(c, func(_ context.Context, r record.Record) (record.Record, error) { return r, nil })
		ex := mustExecutor(t, op, Config{})
		_, err := ex.Execute(context.Background(), input)
		assert.NoError(t, err)
	})
}

func TestExecuteCardinality(t *testing.T) {
	two := testutil.Records(
		map[string]interface{}{"name": "a"},
		map[string]interface{}{"name": "b"},
	)

	t.Run("preserve rejects count change", func(t *testing.T) {
		c := contract.New("drop").MustBuild()
		op := contract.NewOperation(c, func(_ context.Context, rs []record.Record) ([]record.Record, error) {
			return rs[:1], nil
		})
		ex := mustExecutor(t, op, Config{})
		_, err := ex.Execute(context.Background(), two)
		assert.ErrorIs(t, err, gferrors.ErrOutputCountMismatch)
	})

	t.Run("reduce must yield one record", func(t *testing.T) {
		c := contract.New("reduce").Cardinality(contract.Reduce).MustBuild()
		op := contract.NewOperation(c, func(_ context.Context, rs []record.Record) ([]record.Record, error) {
			return rs, nil
		})
		ex := mustExecutor(t, op, Config{})
		_, err := ex.Execute(context.Background(), two)
		assert.ErrorIs(t, err, gferrors.ErrOutputCountMismatch)
	})

	t.Run("expand may add records with kept keys", func(t *testing.T) {
		c := contract.New("dup").Cardinality(contract.Expand).MustBuild()
		op := contract.NewOperation(c, func(_ context.Context, rs []record.Record) ([]record.Record, error) {
			return append(append([]record.Record{}, rs...), rs...), nil
		})
		ex := mustExecutor(t, op, Config{})
		out, err := ex.Execute(context.Background(), two)
		require.NoError(t, err)
		assert.Len(t, out, 4)
	})
}

func TestExecuteTimeouts(t *testing.T) {
	c := contract.New("slow").Sets("done", types.Bool).MustBuild()
	input := rec(map[string]interface{}{"name": "ada"})

	t.Run("operation budget", func(t *testing.T) {
		ex := mustExecutor(t, testutil.Setter(c, "done", true, 500*time.Millisecond), Config{
			Stage:   "s",
			Timeout: 20 * time.Millisecond,
		})
		start := time.Now()
		_, err := ex.Execute(context.Background(), input)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 300*time.Millisecond)

		var terr *gferrors.TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, gferrors.ScopeOperation, terr.Scope)
		assert.Equal(t, "slow", terr.Name)
		assert.Equal(t, "s", terr.Stage)
		assert.ErrorIs(t, err, gferrors.ErrTimeout)
	})

	t.Run("outer budget binds first", func(t *testing.T) {
		ctx, cancel, _ := flowctx.WithBudget(context.Background(), flowctx.Budget{
			Scope:   gferrors.ScopePipe,
			Name:    "p",
			Timeout: 30 * time.Millisecond,
		})
		defer cancel()

		ex := mustExecutor(t, testutil.Setter(c, "done", true, 500*time.Millisecond), Config{Timeout: time.Second})
		_, err := ex.Execute(ctx, input)

		var terr *gferrors.TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, gferrors.ScopePipe, terr.Scope)
		assert.Equal(t, "p", terr.Name)
		assert.LessOrEqual(t, terr.Budget, 30*time.Millisecond)
	})

	t.Run("cancellation is an execution error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		ex := mustExecutor(t, testutil.Setter(c, "done", true, 500*time.Millisecond), Config{})
		_, err := ex.Execute(ctx, input)
		assert.ErrorIs(t, err, gferrors.ErrExecution)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExecuteErrorPolicy(t *testing.T) {
	input := rec(map[string]interface{}{"name": "ada"})
	boom := errors.New("boom")

	t.Run("ignore all returns input unchanged", func(t *testing.T) {
		obs := &testutil.RecordingObserver{}
		c := contract.New("flaky").Sets("x", types.Int).IgnoreErrors().MustBuild()
		ex := mustExecutor(t, testutil.Failing(c, boom), Config{Observer: obs})

		out, err := ex.Execute(context.Background(), input)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.True(t, out[0].Equal(input[0]))

		require.Len(t, obs.Completed, 1)
		assert.True(t, obs.Completed[0].Ignored)
		assert.ErrorIs(t, obs.Completed[0].Err, boom)
	})

	t.Run("ignore when matches timeouts only", func(t *testing.T) {
		c := contract.New("slow").Sets("x", types.Int).
			IgnoreErrorsWhen(func(err error) bool { return errors.Is(err, gferrors.ErrTimeout) }).
			MustBuild()

		slow := mustExecutor(t, testutil.Setter(c, "x", 1, 200*time.Millisecond), Config{Timeout: 10 * time.Millisecond})
		out, err := slow.Execute(context.Background(), input)
		require.NoError(t, err)
		assert.False(t, out[0].Has("x"))

		failing := mustExecutor(t, testutil.Failing(c, boom), Config{})
		_, err = failing.Execute(context.Background(), input)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, gferrors.ErrExecution)
	})
}

func TestExecutePanic(t *testing.T) {
	c := contract.New("bad").MustBuild()
	op := contract.NewOperation(c, func(context.Context, []record.Record) ([]record.Record, error) {
		panic("kaboom")
	})
	core, logs := observer.New(zap.ErrorLevel)
	ex := mustExecutor(t, op, Config{Stage: "s", Logger: logging.NewFromZap(zap.New(core))})

	ctx := flowctx.WithRunID(context.Background(), "run-7")
	_, err := ex.Execute(ctx, rec(map[string]interface{}{"name": "a"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, gferrors.ErrExecution)
	assert.Contains(t, err.Error(), "panic: kaboom")
	assert.Contains(t, err.Error(), `operation "bad"`)

	entries := logs.FilterMessage("operation panicked").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-7", fields["run_id"])
	assert.Equal(t, "s", fields["stage"])
	assert.Equal(t, "bad", fields["operation"])
}

func TestExecuteLimiter(t *testing.T) {
	c := contract.New("limited").Sets("x", types.Int).MustBuild()
	input := rec(map[string]interface{}{"name": "a"})

	limiter := &testutil.CountingLimiter{}
	ex := mustExecutor(t, testutil.Setter(c, "x", 1, 0), Config{Limiter: limiter})
	_, err := ex.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, int64(1), limiter.Waits())

	denied := &testutil.CountingLimiter{Err: errors.New("no tokens")}
	ex = mustExecutor(t, testutil.Setter(c, "x", 1, 0), Config{Limiter: denied})
	_, err = ex.Execute(context.Background(), input)
	assert.ErrorIs(t, err, gferrors.ErrRateLimited)
}

func TestExecuteModelInContext(t *testing.T) {
	c := contract.New("describe").Sets("model", types.String).MustBuild()
	op := contract.PerRecord(c, func(ctx context.Context, r record.Record) (record.Record, error) {
		ref, ok := model.FromContext(ctx)
		if !ok {
			return r, errors.New("no model")
		}
		return r.With("model", ref.Name()), nil
	})
	ex := mustExecutor(t, op, Config{Model: model.NewStatic("gpt-small", model.CapabilityText)})
	out, err := ex.Execute(context.Background(), rec(map[string]interface{}{"name": "a"}))
	require.NoError(t, err)
	v, _ := out[0].Get("model")
	assert.Equal(t, "gpt-small", v)
}

func TestNew(t *testing.T) {
	c := contract.New("op").MustBuild()
	op := testutil.Failing(c, nil)

	_, err := New(nil, prefix, Config{})
	assert.True(t, gferrors.IsValidationError(err))

	_, err = New(op, prefix, Config{Timeout: -time.Second})
	assert.True(t, gferrors.IsValidationError(err))

	dynamic := contract.New("clash").
		Sets("name", types.String).
		DeletesFunc(func(s types.Schema) []contract.Deletion {
			return []contract.Deletion{{Name: "name"}}
		}).
		MustBuild()
	_, err = New(testutil.Failing(dynamic, nil), prefix, Config{Stage: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gferrors.ErrWriteConflict)
	var cerr *gferrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "s", cerr.Stage)
}
