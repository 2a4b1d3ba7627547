package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// NanWall decays like Decay but its right-hand side is NaN for x < 0.
// The exact solution stays positive; only overshooting trial steps hit
// the wall.
type NanWall struct {
	K float64
}

func NewNanWall() *NanWall {
	return &NanWall{K: 1}
}

func (n *NanWall) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 1} }

func (n *NanWall) NominalParameters() []float64 { return []float64{n.K} }

func (n *NanWall) InitialState(p []float64) dynamo.State { return dynamo.State{1} }

func (n *NanWall) RHS(t float64, x, p, xdot []float64) error {
	if x[0] < 0 {
		xdot[0] = math.NaN()
		return nil
	}
	xdot[0] = -p[0] * x[0]
	return nil
}

func (n *NanWall) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	J.Set(0, 0, -p[0])
	return nil
}

func (n *NanWall) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, -x[0])
	return nil
}

func (n *NanWall) Info() dynamo.Info {
	return dynamo.Info{Name: "nanwall", States: []string{"x"}, Parameters: []string{"k"}}
}
