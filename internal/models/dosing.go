package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Dosing is a decaying compartment that receives a bolus D once, at time
// T. Parameters: [k, D, T]. The event has no analytic derivatives; the
// engine differentiates it numerically.
type Dosing struct {
	K, D, T float64
}

func NewDosing() *Dosing {
	return &Dosing{K: 0.3, D: 2, T: 3}
}

func (d *Dosing) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 3} }

func (d *Dosing) NominalParameters() []float64 { return []float64{d.K, d.D, d.T} }

func (d *Dosing) InitialState(p []float64) dynamo.State { return dynamo.State{1} }

func (d *Dosing) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = -p[0] * x[0]
	return nil
}

func (d *Dosing) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	J.Set(0, 0, -p[0])
	return nil
}

func (d *Dosing) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, -x[0])
	return nil
}

func (d *Dosing) Events() []dynamo.EventSpec {
	return []dynamo.EventSpec{{Name: "bolus", Direction: dynamo.Rising, OneShot: true}}
}

func (d *Dosing) Roots(t float64, x, p, g []float64) error {
	g[0] = t - p[2]
	return nil
}

func (d *Dosing) EventAssignment(ie int, t float64, x, p, xnew []float64) {
	xnew[0] = x[0] + p[1]
}

func (d *Dosing) Info() dynamo.Info {
	return dynamo.Info{Name: "dosing", States: []string{"x"}, Parameters: []string{"k", "D", "T"}}
}
