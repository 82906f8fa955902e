/*
Package opflow composes typed record-processing pipes out of operations with
declared contracts.

An operation states which properties it reads, sets and deletes. Stages run
operations concurrently over immutable records, and pipes chain stages,
checking at construction that each stage's reads are satisfied by what came
before it.

Core (pkg/):
  - record: immutable property records
  - types: type descriptors, runtime validation and schemas
  - contract: operation contracts and the Operation interface
  - executor: contract enforcement around a single operation
  - stage: concurrent operations with merge strategies
  - pipe: stage composition, timeout budgets and runs
  - transform: link, filter, explode and collapse
  - registry, config, model: declarative pipe construction

Supporting:
  - ratelimit: admission limiters for model-bound operations
  - scheduling/workerpool: bounded execution of stage operations
  - scheduling/scheduler: cron-triggered pipe runs
  - metrics, logging: Prometheus observers and zap-backed logging

Example usage:

	explode, _ := transform.NewExplode(transform.ExplodeOptions{
		Split: map[string]string{"order_ids": "order_id", "quantities": "quantity"},
	})
	collapse, _ := transform.NewCollapse(transform.CollapseOptions{
		Merge: map[string]transform.MergeStrategy{"order_id": transform.Collect, "quantity": transform.Sum},
	})

	p, err := pipe.New(pipe.Config{Name: "rollup", Timeout: time.Second},
		stage.MustNew(stage.Config{Name: "explode"}, stage.Op(explode)),
		stage.MustNew(stage.Config{Name: "collapse"}, stage.Op(collapse)),
	)

	out, err := p.Call(ctx, map[string]interface{}{
		"order_ids":  []string{"A", "A"},
		"quantities": []int{10, 20},
	})
	// out == {order_id: [A A], quantity: 30}
*/
package opflow
