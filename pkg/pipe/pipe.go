// Package pipe composes stages into a pipeline and runs it.
//
// Composition happens once, in New: every stage is prepared against the
// schema produced by the stages before it, so incompatible reads, type
// conflicts and write conflicts are reported before anything runs. A Pipe is
// then safe to call concurrently; each call threads one record through the
// stages under a pipe budget that clamps every inner stage and operation
// timeout.
package pipe

import (
	"sync"
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/record"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Result represents the outcome of a pipe execution.
type Result struct {
	// RunID correlates logs and observer events for this run
	RunID string

	// Input is the caller-supplied properties
	Input map[string]interface{}

	// Output is the final record's properties
	Output map[string]interface{}

	// Error is any error that occurred during execution
	Error error

	// Duration is the total execution time
	Duration time.Duration

	// StageResults contains results from each stage that ran
	StageResults []StageResult

	// StartTime is when the pipe execution started
	StartTime time.Time

	// EndTime is when the pipe execution finished
	EndTime time.Time
}

// StageResult represents the result of a single stage execution.
type StageResult struct {
	// StageName is the name of the stage
	StageName string

	// Input is the records handed to this stage
	Input []record.Record

	// Output is the records produced by this stage
	Output []record.Record

	// Error is any error from this stage
	Error error

	// Duration is how long this stage took
	Duration time.Duration

	// StartTime is when the stage started
	StartTime time.Time

	// EndTime is when the stage finished
	EndTime time.Time
}

// Stats holds pipe execution statistics.
type Stats struct {
	TotalExecutions int64
	SuccessfulRuns  int64
	FailedRuns      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	StageStats      map[string]StageStats
	LastExecutionAt time.Time
}

// StageStats holds statistics for individual stages.
type StageStats struct {
	Name            string
	ExecutionCount  int64
	SuccessCount    int64
	ErrorCount      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Config holds pipe configuration options.
type Config struct {
	// Name identifies the pipe in errors, logs and metrics.
	Name string `validate:"required"`

	// Timeout bounds a whole run. Stage and operation timeouts are clamped to it.
	Timeout time.Duration `validate:"gte=0"`

	// InitialSchema declares the caller-supplied properties. When nil, any
	// property a stage reads that no earlier stage provides becomes a
	// required input, checked at run time.
	InitialSchema types.Schema

	// WorkerPool, Observer and Logger are shared with stages that did not set their own.
	WorkerPool *workerpool.Pool
	Observer   metrics.Observer
	Logger     logging.Logger

	// OnStageStart is called when a stage starts execution.
	OnStageStart func(stageName string, input []record.Record)

	// OnStageComplete is called when a stage completes.
	OnStageComplete func(result StageResult)

	// OnPipelineStart is called when pipe execution starts.
	OnPipelineStart func(input map[string]interface{})

	// OnPipelineComplete is called when pipe execution completes.
	OnPipelineComplete func(result Result)
}

// Pipe is a composed, validated sequence of stages.
type Pipe struct {
	config   Config
	stages   []*stage.Prepared
	required types.Schema
	output   types.Schema
	observer metrics.Observer
	logger   logging.Logger

	mu    sync.RWMutex
	stats Stats
}

// New prepares stages in order and returns the composed pipe.
func New(cfg Config, stages ...*stage.Stage) (*Pipe, error) {
	if err := validation.Struct("pipe", cfg); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, gferrors.NewValidationError("pipe", "stages", 0, "at least one stage is required").
			WithHint("pipe " + cfg.Name)
	}

	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, gferrors.NewValidationError("pipe", "stages", i, "stage cannot be nil")
		}
		if seen[s.Name()] {
			return nil, gferrors.NewValidationError("pipe", "stages", s.Name(), "duplicate stage name")
		}
		seen[s.Name()] = true
	}

	p := &Pipe{
		config:   cfg,
		required: types.Schema{},
		observer: metrics.OrNop(cfg.Observer),
		logger:   logging.OrNop(cfg.Logger).WithFields(logging.F("pipe", cfg.Name)),
		stats:    Stats{StageStats: make(map[string]StageStats, len(stages))},
	}

	infer := cfg.InitialSchema == nil
	running := cfg.InitialSchema.Clone()
	multi := false
	defaults := stage.Defaults{WorkerPool: cfg.WorkerPool, Observer: cfg.Observer, Logger: cfg.Logger}

	for _, s := range stages {
		s = s.WithDefaults(defaults)
		if infer {
			reads := s.RequiredReads(running)
			for _, name := range reads.Keys() {
				if _, ok := running[name]; !ok {
					running[name] = reads[name]
					p.required[name] = reads[name]
				}
			}
		}

		prepared, err := s.Prepare(running)
		if err != nil {
			return nil, err
		}
		switch prepared.Cardinality() {
		case contract.Expand:
			multi = true
		case contract.Reduce:
			multi = false
		}

		running = prepared.OutputSchema()
		p.stages = append(p.stages, prepared)
		p.stats.StageStats[s.Name()] = StageStats{Name: s.Name()}
	}

	if multi {
		last := p.stages[len(p.stages)-1].Name()
		return nil, gferrors.NewConfigError(gferrors.ErrInvalidConfiguration, last,
			"pipe %q ends with multiple records; a reducing stage must follow the expansion", cfg.Name)
	}

	p.output = running
	return p, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg Config, stages ...*stage.Stage) *Pipe {
	p, err := New(cfg, stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the pipe name.
func (p *Pipe) Name() string { return p.config.Name }

// OutputSchema returns the schema of the final record.
func (p *Pipe) OutputSchema() types.Schema { return p.output.Clone() }

// RequiredInputs returns the properties a caller must supply when the pipe
// was built without an initial schema.
func (p *Pipe) RequiredInputs() types.Schema { return p.required.Clone() }

// Stages returns the prepared stages in execution order.
func (p *Pipe) Stages() []*stage.Prepared {
	out := make([]*stage.Prepared, len(p.stages))
	copy(out, p.stages)
	return out
}

// Stats returns pipe execution statistics.
func (p *Pipe) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Create a copy to avoid race conditions
	statsCopy := p.stats
	statsCopy.StageStats = make(map[string]StageStats, len(p.stats.StageStats))
	for k, v := range p.stats.StageStats {
		statsCopy.StageStats[k] = v
	}

	if statsCopy.TotalExecutions > 0 {
		statsCopy.AverageDuration = time.Duration(int64(statsCopy.TotalDuration) / statsCopy.TotalExecutions)
	}
	return statsCopy
}

// updateStats updates pipe statistics.
func (p *Pipe) updateStats(result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalExecutions++
	p.stats.TotalDuration += result.Duration
	p.stats.LastExecutionAt = result.EndTime

	if result.Error == nil {
		p.stats.SuccessfulRuns++
	} else {
		p.stats.FailedRuns++
	}
}

// updateStageStats updates statistics for a specific stage.
func (p *Pipe) updateStageStats(result StageResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats.StageStats[result.StageName]
	stats.Name = result.StageName
	stats.ExecutionCount++
	stats.TotalDuration += result.Duration

	if result.Error == nil {
		stats.SuccessCount++
	} else {
		stats.ErrorCount++
	}
	stats.AverageDuration = time.Duration(int64(stats.TotalDuration) / stats.ExecutionCount)

	p.stats.StageStats[result.StageName] = stats
}
