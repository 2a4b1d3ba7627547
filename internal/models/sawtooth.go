package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Sawtooth grows linearly at rate k and resets to zero whenever it reaches
// the threshold c. The period is c/k. Parameters: [k, c].
type Sawtooth struct {
	K, C float64
}

func NewSawtooth() *Sawtooth {
	return &Sawtooth{K: 1, C: 1}
}

func (s *Sawtooth) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 2} }

func (s *Sawtooth) NominalParameters() []float64 { return []float64{s.K, s.C} }

func (s *Sawtooth) InitialState(p []float64) dynamo.State { return dynamo.State{0} }

func (s *Sawtooth) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = p[0]
	return nil
}

func (s *Sawtooth) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	return nil
}

func (s *Sawtooth) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, 1)
	return nil
}

func (s *Sawtooth) Events() []dynamo.EventSpec {
	return []dynamo.EventSpec{{Name: "reset", Direction: dynamo.Rising}}
}

func (s *Sawtooth) Roots(t float64, x, p, g []float64) error {
	g[0] = x[0] - p[1]
	return nil
}

func (s *Sawtooth) EventAssignment(ie int, t float64, x, p, xnew []float64) {
	xnew[0] = 0
}

func (s *Sawtooth) RootDerivatives(ie int, t float64, x, p, gx, gp []float64) float64 {
	gx[0] = 1
	gp[0] = 0
	gp[1] = -1
	return 0
}

// AssignmentDerivatives leaves ax, ap and at zero: the reset target is a
// constant.
func (s *Sawtooth) AssignmentDerivatives(ie int, t float64, x, p []float64, ax, ap *mat.Dense, at []float64) {
}

func (s *Sawtooth) Info() dynamo.Info {
	return dynamo.Info{Name: "sawtooth", States: []string{"x"}, Parameters: []string{"k", "c"}}
}
