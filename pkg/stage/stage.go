// Package stage groups operations that run together over the same records.
//
// A Stage is configured once and prepared against the schema that precedes
// it. Preparation performs every composition-time check: model capability,
// read satisfiability, type conflicts between writers and write conflicts
// under the chosen merge strategy. The resulting Prepared stage executes its
// operations concurrently and reconciles their outputs into one record array.
package stage

import (
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/ratelimit"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Mode selects how a stage hands records to its operations.
type Mode string

const (
	// ModeDirect hands the whole record array to every operation.
	ModeDirect Mode = "direct"
	// ModeMerge folds all records into one before running the operations.
	ModeMerge Mode = "merge"
	// ModeFanOut runs every operation against every record independently.
	ModeFanOut Mode = "fan_out"
	// ModeBatch hands the whole array to every operation and forbids count changes.
	ModeBatch Mode = "batch"
)

// Strategy reconciles values written to the same property by concurrent
// operations, or held by different records being merged.
type Strategy string

const (
	// LastIn keeps the value from the operation that completed last.
	LastIn Strategy = "last_in"
	// FirstIn keeps the value from the operation that completed first.
	FirstIn Strategy = "first_in"
	// Collate keeps a single value when all agree, otherwise a sequence in declaration order.
	Collate Strategy = "collate"
	// Disjoint rejects overlapping writes when the stage is composed.
	Disjoint Strategy = "disjoint"
)

// DefaultMaxConcurrency bounds concurrent operations when no worker pool is injected.
const DefaultMaxConcurrency = 8

// Config holds stage options.
type Config struct {
	// Name identifies the stage in errors, logs and metrics.
	Name string `validate:"required"`

	// Mode defaults to ModeDirect.
	Mode Mode `validate:"oneof=direct merge fan_out batch"`

	// Merge defaults to LastIn.
	Merge Strategy `validate:"oneof=last_in first_in collate disjoint"`

	// Timeout bounds the whole stage. It is clamped to the remaining pipe budget.
	Timeout time.Duration `validate:"gte=0"`

	// MaxConcurrency limits concurrent operations when WorkerPool is nil.
	MaxConcurrency int `validate:"gte=0"`

	// WorkerPool, when set, runs the stage's operations.
	WorkerPool *workerpool.Pool

	Observer metrics.Observer
	Logger   logging.Logger
}

// Binding attaches per-operation runtime settings to an operation.
type Binding struct {
	Operation contract.Operation
	// Model is checked against the operation's required capability.
	Model model.Reference
	// Timeout bounds each call of the operation.
	Timeout time.Duration
	// Limiter gates each call of the operation.
	Limiter ratelimit.Limiter
}

// Op binds op with no model, timeout or limiter.
func Op(op contract.Operation) Binding {
	return Binding{Operation: op}
}

// Stage is an unprepared group of operations.
type Stage struct {
	config   Config
	bindings []Binding
	logger   logging.Logger
}

// New validates cfg and the bindings and returns a stage.
func New(cfg Config, bindings ...Binding) (*Stage, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.Merge == "" {
		cfg.Merge = LastIn
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if err := validation.Struct("stage", cfg); err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, gferrors.NewValidationError("stage", "operations", 0, "at least one operation is required").
			WithHint("stage " + cfg.Name)
	}
	for i, b := range bindings {
		if b.Operation == nil || b.Operation.Contract() == nil {
			return nil, gferrors.NewValidationError("stage", "operations", i, "operation and its contract cannot be nil")
		}
		if err := validation.ValidateNonNegativeDuration("stage", "operation_timeout", b.Timeout); err != nil {
			return nil, err
		}
	}

	return &Stage{
		config:   cfg,
		bindings: append([]Binding(nil), bindings...),
		logger:   logging.OrNop(cfg.Logger).WithFields(logging.F("stage", cfg.Name)),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg Config, bindings ...Binding) *Stage {
	s, err := New(cfg, bindings...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.config.Name }

// Mode returns the execution mode.
func (s *Stage) Mode() Mode { return s.config.Mode }

// Merge returns the merge strategy.
func (s *Stage) Merge() Strategy { return s.config.Merge }

// Timeout returns the configured stage budget.
func (s *Stage) Timeout() time.Duration { return s.config.Timeout }

// Operations returns the operation names in declaration order.
func (s *Stage) Operations() []string {
	names := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		names[i] = b.Operation.Contract().Name()
	}
	return names
}

// RequiredReads returns the non-optional reads of every operation against
// prefix, keyed by property. When two operations read the same property the
// first declaration wins.
func (s *Stage) RequiredReads(prefix types.Schema) types.Schema {
	out := types.Schema{}
	for _, b := range s.bindings {
		for name, f := range b.Operation.Contract().Reads(s.operationPrefix(prefix)) {
			if f.Optional {
				continue
			}
			if _, seen := out[name]; !seen {
				out[name] = f
			}
		}
	}
	return out
}

// operationPrefix is the schema the operations see. Collating merges may turn
// any property into a sequence of its values.
func (s *Stage) operationPrefix(prefix types.Schema) types.Schema {
	if s.config.Mode != ModeMerge || s.config.Merge != Collate {
		return prefix
	}
	out := make(types.Schema, len(prefix))
	for name, f := range prefix {
		out[name] = types.Field{Type: collated(f.Type), Optional: f.Optional}
	}
	return out
}

func collated(t types.Type) types.Type {
	return types.Union(t, types.SequenceOf(t))
}

// Defaults are collaborators a pipe shares with stages that did not set their own.
type Defaults struct {
	WorkerPool *workerpool.Pool
	Observer   metrics.Observer
	Logger     logging.Logger
}

// WithDefaults returns a copy of s whose unset collaborators are taken from d.
func (s *Stage) WithDefaults(d Defaults) *Stage {
	c := *s
	if c.config.WorkerPool == nil {
		c.config.WorkerPool = d.WorkerPool
	}
	if c.config.Observer == nil {
		c.config.Observer = d.Observer
	}
	if c.config.Logger == nil && d.Logger != nil {
		c.config.Logger = d.Logger
		c.logger = d.Logger.WithFields(logging.F("stage", c.config.Name))
	}
	return &c
}
