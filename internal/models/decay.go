package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Decay is first-order degradation x' = -k·x with x(0) = x0.
// Parameters: [k, x0].
type Decay struct {
	K  float64
	X0 float64
}

func NewDecay() *Decay {
	return &Decay{K: 0.5, X0: 1}
}

func (d *Decay) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 2} }

func (d *Decay) NominalParameters() []float64 { return []float64{d.K, d.X0} }

func (d *Decay) InitialState(p []float64) dynamo.State {
	return dynamo.State{p[1]}
}

func (d *Decay) InitialSensitivity(p []float64, sx0 *mat.Dense) {
	sx0.Set(0, 1, 1)
}

func (d *Decay) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = -p[0] * x[0]
	return nil
}

func (d *Decay) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	J.Set(0, 0, -p[0])
	return nil
}

func (d *Decay) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, -x[0])
	return nil
}

func (d *Decay) Info() dynamo.Info {
	return dynamo.Info{Name: "decay", States: []string{"x"}, Parameters: []string{"k", "x0"}}
}
