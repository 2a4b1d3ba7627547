package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidConfig indicates options or a request the engine cannot run.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrDimensionMismatch indicates mismatched state/parameter dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between request and model")

	// ErrTooMuchWork indicates the step budget of a run was exhausted.
	ErrTooMuchWork = errors.New("dynamo: maximum number of steps exceeded")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrErrorTest indicates repeated local error test failures on one step.
	ErrErrorTest = errors.New("dynamo: error test failed repeatedly")

	// ErrConvergence indicates the recoverable-failure retry budget ran out.
	ErrConvergence = errors.New("dynamo: repeated recoverable failures")

	// ErrCanceled indicates the run was interrupted by its context.
	ErrCanceled = errors.New("dynamo: simulation canceled by context")

	// ErrGrazing indicates a root crossing with zero time derivative, for
	// which event sensitivities are undefined.
	ErrGrazing = errors.New("dynamo: grazing root crossing")
)

// EvaluationError reports non-finite model output. It is recoverable: the
// driver rejects the step and retries with a smaller one.
type EvaluationError struct {
	Func  string
	Time  float64
	Index int
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("dynamo: %s returned a non-finite value in component %d at t=%g", e.Func, e.Index, e.Time)
}

// NonConvergenceError reports an exhausted steady-state or Newton budget.
// Last holds the final iterate.
type NonConvergenceError struct {
	Stage      string
	Iterations int
	WRMS       float64
	Last       State
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("dynamo: %s did not converge after %d iterations (wrms %.3g)", e.Stage, e.Iterations, e.WRMS)
}

// EventLocalizationError reports a root that could not be bracketed within
// tolerance. [Lo, Hi] is the last window searched.
type EventLocalizationError struct {
	Root   int
	Lo, Hi float64
}

func (e *EventLocalizationError) Error() string {
	return fmt.Sprintf("dynamo: could not localize root %d in [%g, %g]", e.Root, e.Lo, e.Hi)
}

// IntegrationFailure wraps a fatal error with run context. State is the
// last reached state.
type IntegrationFailure struct {
	Phase   string
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *IntegrationFailure) Error() string {
	return fmt.Sprintf("dynamo: %s failed at step %d (t=%g): %v", e.Phase, e.Step, e.Time, e.Wrapped)
}

func (e *IntegrationFailure) Unwrap() error {
	return e.Wrapped
}
