// Package config builds pipes from declarative definitions.
//
// A Definition is an already-decoded object graph: stage list, per-stage
// operation list and options. Operation types are resolved through the
// Environment's registry and model names through its model resolver, so the
// same definition can be built against different collaborators.
package config

import (
	"errors"
	"time"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/model"
	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/ratelimit"
	"github.com/vnykmshr/opflow/pkg/registry"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
	"github.com/vnykmshr/opflow/pkg/stage"
	"github.com/vnykmshr/opflow/pkg/types"
)

// Definition describes a pipe.
type Definition struct {
	Name    string        `validate:"required"`
	Timeout time.Duration `validate:"gte=0"`

	// InitialSchema declares caller-supplied properties. Nil infers them.
	InitialSchema types.Schema

	Stages []StageDefinition `validate:"required,min=1,dive"`
}

// StageDefinition describes one stage.
type StageDefinition struct {
	Name           string         `validate:"required"`
	Mode           stage.Mode     `validate:"omitempty,oneof=direct merge fan_out batch"`
	Merge          stage.Strategy `validate:"omitempty,oneof=last_in first_in collate disjoint"`
	Timeout        time.Duration  `validate:"gte=0"`
	MaxConcurrency int            `validate:"gte=0"`

	Operations []OperationDefinition `validate:"required,min=1,dive"`
}

// OperationDefinition describes one operation of a stage.
type OperationDefinition struct {
	// Type is the registry name of the operation.
	Type string `validate:"required"`

	// Options is handed to the registered factory as is.
	Options interface{}

	// Model names the model bound to the operation, if any.
	Model string

	Timeout time.Duration `validate:"gte=0"`

	// IgnoreErrors suppresses every error the operation raises, overriding
	// the policy its factory declared.
	IgnoreErrors bool
}

// Environment holds the collaborators a definition is built against.
type Environment struct {
	// Registry resolves operation types. Defaults to registry.NewWithBuiltins().
	Registry *registry.Registry

	// Models resolves model names. Required only when an operation names a model.
	Models model.Resolver

	// Limiter gates every operation bound to a model.
	Limiter ratelimit.Limiter

	WorkerPool *workerpool.Pool
	Observer   metrics.Observer
	Logger     logging.Logger
}

// Build validates def, resolves its operations and models, and composes the pipe.
func Build(def Definition, env Environment) (*pipe.Pipe, error) {
	if err := validation.Struct("config", def); err != nil {
		return nil, err
	}
	if env.Registry == nil {
		env.Registry = registry.NewWithBuiltins()
	}

	stages := make([]*stage.Stage, 0, len(def.Stages))
	for _, sd := range def.Stages {
		s, err := buildStage(sd, env)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}

	return pipe.New(pipe.Config{
		Name:          def.Name,
		Timeout:       def.Timeout,
		InitialSchema: def.InitialSchema,
		WorkerPool:    env.WorkerPool,
		Observer:      env.Observer,
		Logger:        env.Logger,
	}, stages...)
}

func buildStage(sd StageDefinition, env Environment) (*stage.Stage, error) {
	bindings := make([]stage.Binding, 0, len(sd.Operations))
	for _, od := range sd.Operations {
		b, err := buildBinding(sd.Name, od, env)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}

	return stage.New(stage.Config{
		Name:           sd.Name,
		Mode:           sd.Mode,
		Merge:          sd.Merge,
		Timeout:        sd.Timeout,
		MaxConcurrency: sd.MaxConcurrency,
	}, bindings...)
}

func buildBinding(stageName string, od OperationDefinition, env Environment) (stage.Binding, error) {
	op, err := env.Registry.Build(od.Type, od.Options)
	if err != nil {
		var cerr *gferrors.ConfigError
		if errors.As(err, &cerr) {
			cerr.Stage = stageName
		}
		return stage.Binding{}, err
	}
	if od.IgnoreErrors {
		op = ignoring(op)
	}

	b := stage.Binding{Operation: op, Timeout: od.Timeout}
	if od.Model == "" {
		return b, nil
	}
	if env.Models == nil {
		return stage.Binding{}, gferrors.NewConfigError(gferrors.ErrMissingModel, stageName,
			"model %q named but no model resolver configured", od.Model).WithOperation(op.Contract().Name(), "")
	}
	ref, err := env.Models.Lookup(od.Model)
	if err != nil {
		var cerr *gferrors.ConfigError
		if errors.As(err, &cerr) {
			cerr.Stage = stageName
			cerr.Operation = op.Contract().Name()
		}
		return stage.Binding{}, err
	}
	b.Model = ref
	b.Limiter = env.Limiter
	return b, nil
}

// ignoring wraps op with a contract whose error policy suppresses everything.
func ignoring(op contract.Operation) contract.Operation {
	return contract.NewOperation(op.Contract().WithPolicy(contract.IgnoreAll), op.Execute)
}
