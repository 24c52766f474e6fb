// Package simerr defines the error taxonomy shared by the simulator packages.
// Errors are plain typed values so callers can branch with errors.As; anything
// recoverable (mode conflicts, clamped targets) is logged as a warning at the
// call site instead of surfacing here.
package simerr

import "fmt"

// ConfigurationError reports an invalid construction-time input, such as an
// unknown model name or missing demographics.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// NewConfiguration builds a ConfigurationError with a formatted reason.
func NewConfiguration(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidInputError reports a runtime misuse of an operation, such as a
// negative drug input or mismatched series lengths.
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input to %s: %s", e.Op, e.Reason)
}

// NewInvalidInput builds an InvalidInputError with a formatted reason.
func NewInvalidInput(op, format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// NoSolutionError reports that an inversion has no admissible solution, e.g.
// a BIS target outside the achievable effect range at the given opioid level.
type NoSolutionError struct {
	Op     string
	Reason string
}

func (e *NoSolutionError) Error() string {
	return fmt.Sprintf("no solution for %s: %s", e.Op, e.Reason)
}

// NewNoSolution builds a NoSolutionError with a formatted reason.
func NewNoSolution(op, format string, args ...any) *NoSolutionError {
	return &NoSolutionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// EquilibriumNotFoundError reports that an iterative solver did not converge
// or that the requested operating point is unreachable.
type EquilibriumNotFoundError struct {
	Op       string
	Residual float64
}

func (e *EquilibriumNotFoundError) Error() string {
	return fmt.Sprintf("equilibrium not found in %s (residual %.3g)", e.Op, e.Residual)
}

// NewEquilibriumNotFound builds an EquilibriumNotFoundError.
func NewEquilibriumNotFound(op string, residual float64) *EquilibriumNotFoundError {
	return &EquilibriumNotFoundError{Op: op, Residual: residual}
}
