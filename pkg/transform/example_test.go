package transform_test

import (
	"context"
	"fmt"

	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/transform"
)

func Example() {
	explode, _ := transform.NewExplode(transform.ExplodeOptions{
		Split: map[string]string{"order_ids": "order_id", "quantities": "quantity"},
	})
	bulk, _ := transform.NewFilter(transform.FilterOptions{Expression: "quantity >= 10"})
	collapse, _ := transform.NewCollapse(transform.CollapseOptions{
		Merge:  map[string]transform.MergeStrategy{"order_id": transform.Collect, "quantity": transform.Sum},
		Rewire: transform.Rewire{Move: map[string]string{"quantity": "total"}},
	})

	p, err := pipe.New(pipe.Config{Name: "rollup"},
		stage.MustNew(stage.Config{Name: "explode"}, stage.Op(explode)),
		stage.MustNew(stage.Config{Name: "bulk"}, stage.Op(bulk)),
		stage.MustNew(stage.Config{Name: "collapse"}, stage.Op(collapse)),
	)
	if err != nil {
		fmt.Println(err)
		return
	}

	out, err := p.Call(context.Background(), map[string]interface{}{
		"order_ids":  []string{"A", "B", "C"},
		"quantities": []int{10, 5, 20},
	})
	fmt.Println(out, err)
	// Output:
	// map[order_id:[A C] total:30] <nil>
}
