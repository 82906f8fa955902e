package errors

import "errors"

// Common error types used across the opflow library

var (
	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCapacityExceeded indicates that a capacity limit was exceeded
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRateLimited indicates that a request was rate limited
	ErrRateLimited = errors.New("rate limited")
)

// Configuration-time failures. Each of these also matches ErrInvalidConfiguration.
var (
	// ErrTypeConflict indicates two operations in one stage declare different types for the same property.
	ErrTypeConflict = errors.New("type conflict")

	// ErrWriteConflict indicates overlapping writes that the stage merge strategy does not allow.
	ErrWriteConflict = errors.New("write conflict")

	// ErrIncompatibleStages indicates a stage reads a property the preceding schema cannot provide.
	ErrIncompatibleStages = errors.New("incompatible stages")

	// ErrCapabilityMismatch indicates the bound model lacks a capability the operation requires.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrMissingOperation indicates an operation type name could not be resolved.
	ErrMissingOperation = errors.New("missing operation")

	// ErrMissingModel indicates a model name could not be resolved.
	ErrMissingModel = errors.New("missing model")
)

// Contract-time failures raised by executors. Each of these also matches ErrContractViolation.
var (
	ErrContractViolation   = errors.New("contract violation")
	ErrPropertyNotFound    = errors.New("property not found")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnexpectedProperty  = errors.New("unexpected property")
	ErrUnexpectedDeletion  = errors.New("unexpected deletion")
	ErrOutputCountMismatch = errors.New("output count mismatch")
)

// Runtime failures.
var (
	// ErrEmptyInput indicates a stage was handed zero records.
	ErrEmptyInput = errors.New("empty input")

	// ErrExecution indicates an operation failed while running.
	ErrExecution = errors.New("execution failed")
)

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCapacityExceeded)
}

// IsConfiguration reports whether err was raised while composing a pipeline.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsContractViolation reports whether err is a contract violation raised by an executor.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
