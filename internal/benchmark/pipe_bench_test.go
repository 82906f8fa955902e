// Package benchmark measures end-to-end pipe throughput across execution
// configurations.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/transform"
	"github.com/vnykmshr/opflow/pkg/types"
)

func rollup(b *testing.B, pool *workerpool.Pool) *pipe.Pipe {
	b.Helper()
	explode, err := transform.NewExplode(transform.ExplodeOptions{
		Split: map[string]string{"order_ids": "order_id", "quantities": "quantity"},
	})
	if err != nil {
		b.Fatal(err)
	}
	collapse, err := transform.NewCollapse(transform.CollapseOptions{
		Merge: map[string]transform.MergeStrategy{"order_id": transform.Collect, "quantity": transform.Sum},
	})
	if err != nil {
		b.Fatal(err)
	}
	return pipe.MustNew(pipe.Config{Name: "rollup", WorkerPool: pool},
		stage.MustNew(stage.Config{Name: "explode"}, stage.Op(explode)),
		stage.MustNew(stage.Config{Name: "collapse"}, stage.Op(collapse)),
	)
}

func orders(n int) map[string]interface{} {
	ids := make([]string, n)
	qty := make([]int, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("order-%d", i)
		qty[i] = i
	}
	return map[string]interface{}{"order_ids": ids, "quantities": qty}
}

// BenchmarkRollup measures explode/collapse over growing order counts.
func BenchmarkRollup(b *testing.B) {
	for _, n := range []int{1, 16, 256} {
		b.Run(fmt.Sprintf("orders-%d", n), func(b *testing.B) {
			p := rollup(b, nil)
			in := orders(n)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.Call(ctx, in); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkRollupParallel compares goroutine-per-operation dispatch with a
// shared worker pool under concurrent callers.
func BenchmarkRollupParallel(b *testing.B) {
	for _, workers := range []int{0, 4, 16} {
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			var pool *workerpool.Pool
			if workers > 0 {
				var err error
				pool, err = workerpool.New(workers, 1024)
				if err != nil {
					b.Fatal(err)
				}
				defer func() { <-pool.Shutdown() }()
			}
			p := rollup(b, pool)
			in := orders(16)

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if _, err := p.Call(context.Background(), in); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}

// BenchmarkFanOut measures a stage running several operations per record.
func BenchmarkFanOut(b *testing.B) {
	ops := make([]stage.Binding, 4)
	for i := range ops {
		key := fmt.Sprintf("f%d", i)
		c := contract.New("set-" + key).Reads("text", types.String).Sets(key, types.Int).MustBuild()
		ops[i] = stage.Op(contract.PerRecord(c, func(_ context.Context, r record.Record) (record.Record, error) {
			return r.With(key, len(key)), nil
		}))
	}
	p := pipe.MustNew(pipe.Config{Name: "fan-out"}, stage.MustNew(stage.Config{Name: "fan", Mode: stage.ModeFanOut}, ops...))
	in := map[string]interface{}{"text": "benchmark"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Call(context.Background(), in); err != nil {
			b.Fatal(err)
		}
	}
}
