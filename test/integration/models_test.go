package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/config"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/ratelimit"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/registry"
	"github.com/vnykmshr/opflow/pkg/scheduling/scheduler"
	"github.com/vnykmshr/opflow/pkg/transform"
	"github.com/vnykmshr/opflow/pkg/types"
)

// summarize stands in for an operation that calls a text model.
func summarize(interface{}) (contract.Operation, error) {
	c := contract.New("summarize").
		Reads("text", types.String).
		Sets("summary", types.String).
		RequiresCapability(model.CapabilityText).
		MustBuild()
	return contract.PerRecord(c, func(ctx context.Context, r record.Record) (record.Record, error) {
		ref, ok := model.FromContext(ctx)
		if !ok {
			return record.Record{}, gferrors.NewExecutionError("no model bound")
		}
		v, _ := r.Get("text")
		words := strings.Fields(v.(string))
		return r.With("summary", ref.Name()+": "+words[0]), nil
	}), nil
}

func newRedisWindow(t *testing.T, limit int) *ratelimit.RedisWindow {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	w, err := ratelimit.NewRedisWindow(ratelimit.RedisConfig{Redis: client, Key: "models:writer", Limit: limit, Window: time.Hour})
	require.NoError(t, err)
	return w
}

func summaryDefinition() config.Definition {
	return config.Definition{
		Name: "summaries",
		Stages: []config.StageDefinition{
			{Name: "summarize", Operations: []config.OperationDefinition{{Type: "summarize", Model: "writer"}}},
			{Name: "tidy", Operations: []config.OperationDefinition{{
				Type:    "link",
				Options: transform.LinkOptions{Rewire: transform.Rewire{Delete: []string{"text"}}},
			}}},
		},
	}
}

// TestModelPipeWithSharedLimiter admits model-bound operations through a
// Redis fixed window shared by every process using the same key.
func TestModelPipeWithSharedLimiter(t *testing.T) {
	reg := registry.NewWithBuiltins()
	reg.MustRegister("summarize", summarize)

	window := newRedisWindow(t, 3)
	env := config.Environment{
		Registry: reg,
		Models:   model.NewCatalog(model.NewStatic("writer", model.CapabilityText)),
		Limiter:  window,
	}
	p, err := config.Build(summaryDefinition(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, p.RequiredInputs().Keys())

	for i := 0; i < 3; i++ {
		out, err := p.Call(context.Background(), map[string]interface{}{"text": "pipes compose stages"})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"summary": "writer: pipes"}, out)
	}

	stats, err := window.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.AllowedRequests)

	// the window is exhausted, so the next admission waits until the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = p.Call(ctx, map[string]interface{}{"text": "one more"})
	require.Error(t, err)
}

func TestScheduledModelPipe(t *testing.T) {
	reg := registry.NewWithBuiltins()
	reg.MustRegister("summarize", summarize)

	p, err := config.Build(summaryDefinition(), config.Environment{
		Registry: reg,
		Models:   model.NewCatalog(model.NewStatic("writer", model.CapabilityText)),
		Limiter:  newRedisWindow(t, 10),
	})
	require.NoError(t, err)

	s := scheduler.New(scheduler.Config{Name: "digest", Location: time.UTC})
	require.NoError(t, s.Add(scheduler.Job{
		ID:   "daily-digest",
		Spec: "0 0 6 * * *",
		Pipe: p,
		Input: func(at time.Time) map[string]interface{} {
			return map[string]interface{}{"text": "digest for " + at.Format("2006-01-02")}
		},
	}))

	report, err := s.RunNow(context.Background(), "daily-digest")
	require.NoError(t, err)
	assert.Equal(t, "writer: digest", report.Output["summary"])
	assert.NotEmpty(t, report.RunID)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "summaries", entries[0].Pipe)
}
