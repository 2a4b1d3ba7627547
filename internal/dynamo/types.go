package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/linalg"
)

type State []float64

func (s State) Clone() State {
	if s == nil {
		return nil
	}
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// WRMS is the weighted root-mean-square norm of s with weights
// 1/(atol + rtol·|ref_i|).
func (s State) WRMS(ref State, atol, rtol float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for i, v := range s {
		w := atol + rtol*math.Abs(ref[i])
		sum += (v / w) * (v / w)
	}
	return math.Sqrt(sum / float64(len(s)))
}

// Dims are the static sizes of a model.
type Dims struct {
	NX int // states
	NP int // parameters
}

// Model is the contract a compiled model satisfies. All methods are pure
// functions of their arguments and must be safe for concurrent use.
// Parameters are always passed on linear scale.
type Model interface {
	Dims() Dims
	InitialState(p []float64) State
	// RHS writes dx/dt into xdot. A non-finite entry in xdot is reported by
	// the engine as an EvaluationError even when RHS returns nil.
	RHS(t float64, x, p, xdot []float64) error
	// Jacobian writes ∂f/∂x into J. J is zeroed by the caller; sparse
	// storage only accepts entries of the declared pattern.
	Jacobian(t float64, x, p []float64, J linalg.Matrix) error
	// ParameterJacobian writes ∂f/∂p (NX×NP) into dfdp, zeroed by the caller.
	ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error
}

// SparseModel declares a static Jacobian nonzero pattern.
type SparseModel interface {
	SparsityPattern() *linalg.Pattern
}

// InitialSensitivityModel provides ∂x0/∂p. Models without it start with
// zero sensitivities.
type InitialSensitivityModel interface {
	InitialSensitivity(p []float64, sx0 *mat.Dense)
}

// MassModel declares a diagonal mass matrix. A zero entry marks an
// algebraic row, which turns the model into a DAE.
type MassModel interface {
	MassMatrix() []float64
}

// Direction filters root crossings.
type Direction int

const (
	Either Direction = iota
	Rising
	Falling
)

func (d Direction) String() string {
	switch d {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return "either"
}

// EventSpec is the static declaration of one root function.
type EventSpec struct {
	Name      string
	Direction Direction
	OneShot   bool
}

// RootModel declares root functions and the state update of their events.
type RootModel interface {
	Events() []EventSpec
	Roots(t float64, x, p, g []float64) error
	// EventAssignment writes the post-event state of event ie into xnew.
	EventAssignment(ie int, t float64, x, p, xnew []float64)
}

// EventDerivativeModel supplies analytic derivatives of roots and event
// assignments. Without it the engine uses central differences.
type EventDerivativeModel interface {
	// RootDerivatives writes ∂g/∂x and ∂g/∂p of root ie and returns ∂g/∂t.
	RootDerivatives(ie int, t float64, x, p, gx, gp []float64) float64
	// AssignmentDerivatives writes ∂a/∂x, ∂a/∂p and ∂a/∂t of event ie.
	AssignmentDerivatives(ie int, t float64, x, p []float64, ax, ap *mat.Dense, at []float64)
}

// ObservableModel maps states to observables. Models without it observe
// y = x.
type ObservableModel interface {
	NY() int
	Observables(t float64, x, p, y []float64)
	ObservableStateJacobian(t float64, x, p []float64, dydx *mat.Dense)
	ObservableParameterJacobian(t float64, x, p []float64, dydp *mat.Dense)
}

// Info names a model's states and parameters.
type Info struct {
	Name       string
	States     []string
	Parameters []string
}

// Describer is implemented by models that name their components.
type Describer interface {
	Info() Info
}

// Algebraic reports whether the model has algebraic rows.
func Algebraic(m Model) bool {
	mm, ok := m.(MassModel)
	if !ok {
		return false
	}
	for _, v := range mm.MassMatrix() {
		if v == 0 {
			return true
		}
	}
	return false
}
