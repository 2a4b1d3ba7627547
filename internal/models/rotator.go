package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Rotator is θ' = ω + sin θ. For ω > 1 the phase never stops turning, so
// the model has no fixed point.
type Rotator struct {
	Omega float64
}

func NewRotator() *Rotator {
	return &Rotator{Omega: 2}
}

func (r *Rotator) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 1} }

func (r *Rotator) NominalParameters() []float64 { return []float64{r.Omega} }

func (r *Rotator) InitialState(p []float64) dynamo.State { return dynamo.State{0} }

func (r *Rotator) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = p[0] + math.Sin(x[0])
	return nil
}

func (r *Rotator) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	J.Set(0, 0, math.Cos(x[0]))
	return nil
}

func (r *Rotator) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, 1)
	return nil
}

func (r *Rotator) Info() dynamo.Info {
	return dynamo.Info{Name: "rotator", States: []string{"theta"}, Parameters: []string{"omega"}}
}
