package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Conversion is the reversible reaction A ⇌ B with forward rate k1 and
// backward rate k2. A+B is conserved, so the Jacobian is singular.
type Conversion struct {
	K1, K2 float64
	A0, B0 float64
}

func NewConversion() *Conversion {
	return &Conversion{K1: 2, K2: 1, A0: 1, B0: 0}
}

func (c *Conversion) Dims() dynamo.Dims { return dynamo.Dims{NX: 2, NP: 2} }

func (c *Conversion) NominalParameters() []float64 { return []float64{c.K1, c.K2} }

func (c *Conversion) InitialState(p []float64) dynamo.State {
	return dynamo.State{c.A0, c.B0}
}

func (c *Conversion) RHS(t float64, x, p, xdot []float64) error {
	flux := p[0]*x[0] - p[1]*x[1]
	xdot[0] = -flux
	xdot[1] = flux
	return nil
}

func (c *Conversion) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	J.Set(0, 0, -p[0])
	J.Set(0, 1, p[1])
	J.Set(1, 0, p[0])
	J.Set(1, 1, -p[1])
	return nil
}

func (c *Conversion) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, -x[0])
	dfdp.Set(0, 1, x[1])
	dfdp.Set(1, 0, x[0])
	dfdp.Set(1, 1, -x[1])
	return nil
}

func (c *Conversion) Info() dynamo.Info {
	return dynamo.Info{Name: "conversion", States: []string{"A", "B"}, Parameters: []string{"k1", "k2"}}
}
