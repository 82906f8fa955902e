package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Example_prometheusObserver shows an observer recording operation outcomes.
func Example_prometheusObserver() {
	registry := NewRegistry(prometheus.NewRegistry())
	obs := NewPrometheusObserver(registry)

	obs.OperationStarted(OperationEvent{Stage: "enrich", Operation: "tagger"})
	obs.OperationCompleted(OperationEvent{Stage: "enrich", Operation: "tagger", Duration: time.Millisecond})
	obs.OperationFailed(OperationEvent{Stage: "enrich", Operation: "tagger", Err: gferrors.ErrTimeout})

	fmt.Println(testutil.ToFloat64(registry.OperationsStarted.WithLabelValues("enrich", "tagger")))
	fmt.Println(testutil.ToFloat64(registry.OperationsFailed.WithLabelValues("enrich", "tagger", "timeout")))

	// Output:
	// 1
	// 1
}

// Example_errorKind shows how errors are classified for labels.
func Example_errorKind() {
	fmt.Println(ErrorKind(nil))
	fmt.Println(ErrorKind(gferrors.NewTypeMismatch("x", "String", "Integer")))
	fmt.Println(ErrorKind(errors.New("anything else")))

	// Output:
	// none
	// contract
	// other
}
