package workerpool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/opflow/pkg/metrics"
)

// poolMetrics publishes pool gauges. A nil registry makes every method a no-op.
type poolMetrics struct {
	sizeGauge   prometheus.Gauge
	activeGauge prometheus.Gauge
	queuedGauge prometheus.Gauge
}

func newPoolMetrics(reg *metrics.Registry, name string) *poolMetrics {
	if reg == nil {
		return &poolMetrics{}
	}
	return &poolMetrics{
		sizeGauge:   reg.WorkerPoolSize.WithLabelValues(name),
		activeGauge: reg.WorkerPoolActive.WithLabelValues(name),
		queuedGauge: reg.WorkerPoolQueued.WithLabelValues(name),
	}
}

func (m *poolMetrics) size(n int) {
	if m.sizeGauge != nil {
		m.sizeGauge.Set(float64(n))
	}
}

func (m *poolMetrics) active(n int) {
	if m.activeGauge != nil {
		m.activeGauge.Set(float64(n))
	}
}

func (m *poolMetrics) queued(n int) {
	if m.queuedGauge != nil {
		m.queuedGauge.Set(float64(n))
	}
}
