package errors

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scope names the budget level a timeout belongs to.
type Scope string

const (
	ScopePipe      Scope = "pipe"
	ScopeStage     Scope = "stage"
	ScopeOperation Scope = "operation"
)

// location renders the "stage "x" operation "y"" prefix shared by the typed errors.
func location(stage, operation string) string {
	var parts []string
	if stage != "" {
		parts = append(parts, fmt.Sprintf("stage %q", stage))
	}
	if operation != "" {
		parts = append(parts, fmt.Sprintf("operation %q", operation))
	}
	return strings.Join(parts, " ")
}

// ContractError is raised by an executor when an operation breaks its declared contract.
type ContractError struct {
	Kind      error
	Stage     string
	Operation string
	Property  string
	Path      string
	Expected  string
	Actual    string
	Message   string
}

// NewTypeMismatch builds a TypeMismatch violation for the value found at path.
func NewTypeMismatch(path, expected, actual string) *ContractError {
	return &ContractError{
		Kind:     ErrTypeMismatch,
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Message:  fmt.Sprintf("%s expected %s, got %s", path, expected, actual),
	}
}

// NewPropertyNotFound builds a PropertyNotFound violation.
func NewPropertyNotFound(property string) *ContractError {
	return &ContractError{
		Kind:     ErrPropertyNotFound,
		Property: property,
		Path:     property,
		Message:  fmt.Sprintf("property %q not found", property),
	}
}

// NewContractError builds a violation of the given kind with a formatted message.
func NewContractError(kind error, property, format string, args ...interface{}) *ContractError {
	return &ContractError{
		Kind:     kind,
		Property: property,
		Path:     property,
		Message:  fmt.Sprintf(format, args...),
	}
}

// At returns a copy of e attributed to the given stage and operation.
// Attribution already present on e is kept.
func (e *ContractError) At(stage, operation string) *ContractError {
	c := *e
	if c.Stage == "" {
		c.Stage = stage
	}
	if c.Operation == "" {
		c.Operation = operation
	}
	if c.Property == "" && c.Path != "" {
		c.Property = rootProperty(c.Path)
	}
	return &c
}

func (e *ContractError) Error() string {
	if loc := location(e.Stage, e.Operation); loc != "" {
		return loc + ": " + e.Message
	}
	return e.Message
}

func (e *ContractError) Unwrap() []error {
	return []error{e.Kind, ErrContractViolation}
}

// rootProperty strips index and field suffixes from a validation path.
func rootProperty(path string) string {
	if i := strings.IndexAny(path, ".["); i > 0 {
		return path[:i]
	}
	return path
}

// ConfigError is raised while composing stages and pipes.
type ConfigError struct {
	Kind      error
	Stage     string
	Operation string
	Property  string
	Message   string
}

// NewConfigError builds a configuration error of the given kind.
func NewConfigError(kind error, stage, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithOperation sets the operation and property the error refers to.
func (e *ConfigError) WithOperation(operation, property string) *ConfigError {
	e.Operation = operation
	e.Property = property
	return e
}

func (e *ConfigError) Error() string {
	msg := e.Kind.Error()
	if loc := location(e.Stage, e.Operation); loc != "" {
		msg += " in " + loc
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	return []error{e.Kind, ErrInvalidConfiguration}
}

// ExecutionError is a runtime failure not covered by a contract violation or timeout.
type ExecutionError struct {
	Kind      error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// NewExecutionError builds an ErrExecution failure with a formatted message.
func NewExecutionError(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{
		Kind:    ErrExecution,
		Message: fmt.Sprintf(format, args...),
	}
}

// At returns a copy of e attributed to the given stage and operation.
func (e *ExecutionError) At(stage, operation string) *ExecutionError {
	c := *e
	if c.Stage == "" {
		c.Stage = stage
	}
	if c.Operation == "" {
		c.Operation = operation
	}
	return &c
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if loc := location(e.Stage, e.Operation); loc != "" {
		return loc + ": " + msg
	}
	return msg
}

func (e *ExecutionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// TimeoutError reports that a pipe, stage or operation budget ran out.
type TimeoutError struct {
	Scope  Scope
	Name   string
	Budget time.Duration
	// Stage is the stage executing when the budget ran out.
	Stage string
}

// At returns a copy of e attributed to the given stage.
func (e *TimeoutError) At(stage string) *TimeoutError {
	c := *e
	if c.Stage == "" {
		c.Stage = stage
	}
	if c.Stage == "" && c.Scope == ScopeStage {
		c.Stage = c.Name
	}
	return &c
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s %q timed out after %s", e.Scope, e.Name, e.Budget)
	if e.Stage != "" && !(e.Scope == ScopeStage && e.Stage == e.Name) {
		return location(e.Stage, "") + ": " + msg
	}
	return msg
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, context.DeadlineExceeded}
}
