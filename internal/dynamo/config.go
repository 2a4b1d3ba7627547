package dynamo

import (
	"fmt"

	"github.com/san-kum/rxsim/internal/linalg"
)

type SensitivityMode int

const (
	SensitivityNone SensitivityMode = iota
	SensitivityForward
	SensitivityAdjoint
)

func (m SensitivityMode) String() string {
	switch m {
	case SensitivityForward:
		return "forward"
	case SensitivityAdjoint:
		return "adjoint"
	}
	return "none"
}

func ParseSensitivityMode(s string) (SensitivityMode, error) {
	switch s {
	case "", "none":
		return SensitivityNone, nil
	case "forward":
		return SensitivityForward, nil
	case "adjoint":
		return SensitivityAdjoint, nil
	}
	return 0, fmt.Errorf("%w: unknown sensitivity mode %q", ErrInvalidConfig, s)
}

type SteadyStateMode int

const (
	SteadyStateIntegration SteadyStateMode = iota
	SteadyStateNewton
	SteadyStateOff
)

func (m SteadyStateMode) String() string {
	switch m {
	case SteadyStateNewton:
		return "newton"
	case SteadyStateOff:
		return "off"
	}
	return "integration"
}

func ParseSteadyStateMode(s string) (SteadyStateMode, error) {
	switch s {
	case "", "integration":
		return SteadyStateIntegration, nil
	case "newton":
		return SteadyStateNewton, nil
	case "off":
		return SteadyStateOff, nil
	}
	return 0, fmt.Errorf("%w: unknown steady state mode %q", ErrInvalidConfig, s)
}

// Method selects the stepper.
type Method int

const (
	MethodRosenbrock Method = iota
	MethodRK45
)

func (m Method) String() string {
	if m == MethodRK45 {
		return "rk45"
	}
	return "rosenbrock"
}

func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "rosenbrock", "ros2":
		return MethodRosenbrock, nil
	case "rk45", "dopri5":
		return MethodRK45, nil
	}
	return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidConfig, s)
}

// EventOrder is the firing order of events located at the same time.
type EventOrder int

const (
	OrderDeclaration EventOrder = iota
	OrderTime
)

func (o EventOrder) String() string {
	if o == OrderTime {
		return "time"
	}
	return "declaration"
}

func ParseEventOrder(s string) (EventOrder, error) {
	switch s {
	case "", "declaration":
		return OrderDeclaration, nil
	case "time":
		return OrderTime, nil
	}
	return 0, fmt.Errorf("%w: unknown event order %q", ErrInvalidConfig, s)
}

// SteadyStateOptions tune the steady-state solver.
type SteadyStateOptions struct {
	AbsTol         float64
	RelTol         float64
	MaxSteps       int     // integration steps before escalating to Newton
	NewtonMaxSteps int     // Newton iterations
	NewtonDamping  bool    // backtrack when the residual does not decrease
	MaxTime        float64 // simulated time budget, 0 for none
}

type Config struct {
	AbsTol   float64
	RelTol   float64
	MaxSteps int
	Method   Method

	Sensitivity             SensitivityMode
	SensitivityErrorControl bool
	ParameterScale          Scales

	LinearSolver    linalg.Kind
	SparseThreshold int

	SteadyState    SteadyStateMode
	SteadyStateOpt SteadyStateOptions
	Preequilibrate bool

	CheckpointInterval int
	MaxCheckpoints     int

	MaxConvFails int
	MinStep      float64
	MaxStep      float64
	InitialStep  float64

	RootTol    float64
	EventOrder EventOrder
	MaxEvents  int // events processed at one time point
}

func DefaultConfig() Config {
	return Config{
		AbsTol:                  1e-8,
		RelTol:                  1e-6,
		MaxSteps:                10000,
		Method:                  MethodRosenbrock,
		SensitivityErrorControl: true,
		LinearSolver:            linalg.KindDense,
		SparseThreshold:         16,
		SteadyState:             SteadyStateIntegration,
		SteadyStateOpt: SteadyStateOptions{
			AbsTol:         1e-10,
			RelTol:         1e-8,
			MaxSteps:       2000,
			NewtonMaxSteps: 40,
			NewtonDamping:  true,
		},
		CheckpointInterval: 10,
		MaxCheckpoints:     64,
		MaxConvFails:       10,
		RootTol:            1e-12,
		MaxEvents:          64,
	}
}

// Validate checks option ranges.
func (c Config) Validate() error {
	switch {
	case c.AbsTol <= 0:
		return fmt.Errorf("%w: absolute tolerance must be positive, got %g", ErrInvalidConfig, c.AbsTol)
	case c.RelTol < 0:
		return fmt.Errorf("%w: relative tolerance must be non-negative, got %g", ErrInvalidConfig, c.RelTol)
	case c.MaxSteps <= 0:
		return fmt.Errorf("%w: max steps must be positive, got %d", ErrInvalidConfig, c.MaxSteps)
	case c.CheckpointInterval <= 0:
		return fmt.Errorf("%w: checkpoint interval must be positive, got %d", ErrInvalidConfig, c.CheckpointInterval)
	case c.MaxCheckpoints < 2:
		return fmt.Errorf("%w: need room for at least 2 checkpoints, got %d", ErrInvalidConfig, c.MaxCheckpoints)
	case c.MaxConvFails < 0:
		return fmt.Errorf("%w: max convergence failures must be non-negative", ErrInvalidConfig)
	case c.MinStep < 0 || c.MaxStep < 0 || c.InitialStep < 0:
		return fmt.Errorf("%w: step bounds must be non-negative", ErrInvalidConfig)
	case c.MaxStep > 0 && c.MinStep > c.MaxStep:
		return fmt.Errorf("%w: min step %g exceeds max step %g", ErrInvalidConfig, c.MinStep, c.MaxStep)
	case c.RootTol <= 0:
		return fmt.Errorf("%w: root tolerance must be positive", ErrInvalidConfig)
	case c.MaxEvents <= 0:
		return fmt.Errorf("%w: max events must be positive", ErrInvalidConfig)
	}
	if c.SteadyState != SteadyStateOff {
		ss := c.SteadyStateOpt
		if ss.AbsTol <= 0 || ss.RelTol < 0 {
			return fmt.Errorf("%w: steady state tolerances must be positive", ErrInvalidConfig)
		}
		if ss.MaxSteps <= 0 || ss.NewtonMaxSteps <= 0 {
			return fmt.Errorf("%w: steady state budgets must be positive", ErrInvalidConfig)
		}
	}
	if c.Preequilibrate && c.SteadyState == SteadyStateOff {
		return fmt.Errorf("%w: preequilibration needs a steady state mode", ErrInvalidConfig)
	}
	return nil
}
