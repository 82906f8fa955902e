package metrics

import (
	"context"
	"errors"
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/logging"
)

// OperationEvent describes one executor call.
type OperationEvent struct {
	RunID     string
	Stage     string
	Operation string
	Inputs    int
	Outputs   int
	Duration  time.Duration
	Err       error
	// Ignored is set when Err was suppressed by the operation's error policy.
	Ignored bool
}

// PipeEvent describes one finished pipe run.
type PipeEvent struct {
	RunID    string
	Pipe     string
	Stages   int
	Duration time.Duration
	Err      error
}

// Observer receives lifecycle notifications. Implementations must be safe
// for concurrent use; operations in one stage report in parallel.
type Observer interface {
	OperationStarted(e OperationEvent)
	OperationCompleted(e OperationEvent)
	OperationFailed(e OperationEvent)
	PipeCompleted(e PipeEvent)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) OperationStarted(OperationEvent)   {}
func (NopObserver) OperationCompleted(OperationEvent) {}
func (NopObserver) OperationFailed(OperationEvent)    {}
func (NopObserver) PipeCompleted(PipeEvent)           {}

// OrNop returns o, or a NopObserver when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}

// ErrorKind classifies err for metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, gferrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case gferrors.IsContractViolation(err):
		return "contract"
	case gferrors.IsConfiguration(err):
		return "configuration"
	case errors.Is(err, gferrors.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, gferrors.ErrExecution):
		return "execution"
	default:
		return "other"
	}
}

// PrometheusObserver records lifecycle events into a Registry.
type PrometheusObserver struct {
	reg *Registry
}

// NewPrometheusObserver creates an observer backed by reg, or Default() when reg is nil.
func NewPrometheusObserver(reg *Registry) *PrometheusObserver {
	if reg == nil {
		reg = Default()
	}
	return &PrometheusObserver{reg: reg}
}

func (p *PrometheusObserver) OperationStarted(e OperationEvent) {
	p.reg.OperationsStarted.WithLabelValues(e.Stage, e.Operation).Inc()
}

func (p *PrometheusObserver) OperationCompleted(e OperationEvent) {
	outcome := "success"
	if e.Ignored {
		outcome = "ignored"
	}
	p.reg.OperationsCompleted.WithLabelValues(e.Stage, e.Operation, outcome).Inc()
	p.reg.OperationDuration.WithLabelValues(e.Stage, e.Operation).Observe(e.Duration.Seconds())
}

func (p *PrometheusObserver) OperationFailed(e OperationEvent) {
	p.reg.OperationsFailed.WithLabelValues(e.Stage, e.Operation, ErrorKind(e.Err)).Inc()
	p.reg.OperationDuration.WithLabelValues(e.Stage, e.Operation).Observe(e.Duration.Seconds())
}

func (p *PrometheusObserver) PipeCompleted(e PipeEvent) {
	outcome := "success"
	if e.Err != nil {
		outcome = ErrorKind(e.Err)
	}
	p.reg.PipeRuns.WithLabelValues(e.Pipe, outcome).Inc()
	p.reg.PipeDuration.WithLabelValues(e.Pipe).Observe(e.Duration.Seconds())
}

// LoggingObserver writes lifecycle events to a Logger.
type LoggingObserver struct {
	logger logging.Logger
}

// NewLoggingObserver creates an observer that logs through l.
func NewLoggingObserver(l logging.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logging.OrNop(l)}
}

func (o *LoggingObserver) OperationStarted(e OperationEvent) {
	o.logger.Debug("operation started",
		logging.F("run_id", e.RunID), logging.F("stage", e.Stage),
		logging.F("operation", e.Operation), logging.F("inputs", e.Inputs))
}

func (o *LoggingObserver) OperationCompleted(e OperationEvent) {
	fields := []logging.Field{
		logging.F("run_id", e.RunID), logging.F("stage", e.Stage), logging.F("operation", e.Operation),
		logging.F("outputs", e.Outputs), logging.Duration("duration", e.Duration),
	}
	if e.Ignored {
		o.logger.Warn("operation error ignored", append(fields, logging.Err(e.Err))...)
		return
	}
	o.logger.Debug("operation completed", fields...)
}

func (o *LoggingObserver) OperationFailed(e OperationEvent) {
	o.logger.Error("operation failed", e.Err,
		logging.F("run_id", e.RunID), logging.F("stage", e.Stage),
		logging.F("operation", e.Operation), logging.Duration("duration", e.Duration))
}

func (o *LoggingObserver) PipeCompleted(e PipeEvent) {
	fields := []logging.Field{
		logging.F("run_id", e.RunID), logging.F("pipe", e.Pipe),
		logging.F("stages", e.Stages), logging.Duration("duration", e.Duration),
	}
	if e.Err != nil {
		o.logger.Error("pipe failed", e.Err, fields...)
		return
	}
	o.logger.Info("pipe completed", fields...)
}

type multiObserver []Observer

// Multi fans every notification out to observers in order. Nil entries are skipped.
func Multi(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return NopObserver{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiObserver) OperationStarted(e OperationEvent) {
	for _, o := range m {
		o.OperationStarted(e)
	}
}

func (m multiObserver) OperationCompleted(e OperationEvent) {
	for _, o := range m {
		o.OperationCompleted(e)
	}
}

func (m multiObserver) OperationFailed(e OperationEvent) {
	for _, o := range m {
		o.OperationFailed(e)
	}
}

func (m multiObserver) PipeCompleted(e PipeEvent) {
	for _, o := range m {
		o.PipeCompleted(e)
	}
}
