package pipe_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/types"
)

func Example() {
	upper := contract.PerRecord(
		contract.New("upper").Reads("name", types.String).Sets("shout", types.String).MustBuild(),
		func(_ context.Context, r record.Record) (record.Record, error) {
			v, _ := r.Get("name")
			return r.With("shout", strings.ToUpper(v.(string))), nil
		})
	forget := contract.PerRecord(
		contract.New("forget").Deletes("name").MustBuild(),
		func(_ context.Context, r record.Record) (record.Record, error) {
			return r.WithRemoved("name"), nil
		})

	p := pipe.MustNew(pipe.Config{Name: "greeting"},
		stage.MustNew(stage.Config{Name: "shout"}, stage.Op(upper)),
		stage.MustNew(stage.Config{Name: "cleanup"}, stage.Op(forget)),
	)

	fmt.Println(p.RequiredInputs())
	out, err := p.Call(context.Background(), map[string]interface{}{"name": "ada"})
	fmt.Println(out, err)
	fmt.Println(p.OutputSchema())

	// Output:
	// {name: String}
	// map[shout:ADA] <nil>
	// {shout: String}
}
