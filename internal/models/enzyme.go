package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Enzyme is mass-action Michaelis–Menten kinetics
//
//	S + E ⇌ C → E + P
//
// with states [S, E, C, P] and parameters [kf, kr, kcat]. Only substrate
// and product are observed.
type Enzyme struct {
	Kf, Kr, Kcat float64
	S0, E0       float64
}

func NewEnzyme() *Enzyme {
	return &Enzyme{Kf: 2, Kr: 1, Kcat: 0.5, S0: 1, E0: 0.2}
}

func (e *Enzyme) Dims() dynamo.Dims { return dynamo.Dims{NX: 4, NP: 3} }

func (e *Enzyme) NominalParameters() []float64 { return []float64{e.Kf, e.Kr, e.Kcat} }

func (e *Enzyme) InitialState(p []float64) dynamo.State {
	return dynamo.State{e.S0, e.E0, 0, 0}
}

func (e *Enzyme) RHS(t float64, x, p, xdot []float64) error {
	s, en, c := x[0], x[1], x[2]
	bind := p[0]*s*en - p[1]*c
	cat := p[2] * c
	xdot[0] = -bind
	xdot[1] = -bind + cat
	xdot[2] = bind - cat
	xdot[3] = cat
	return nil
}

func (e *Enzyme) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	s, en := x[0], x[1]
	kf, kr, kcat := p[0], p[1], p[2]
	J.Set(0, 0, -kf*en)
	J.Set(0, 1, -kf*s)
	J.Set(0, 2, kr)
	J.Set(1, 0, -kf*en)
	J.Set(1, 1, -kf*s)
	J.Set(1, 2, kr+kcat)
	J.Set(2, 0, kf*en)
	J.Set(2, 1, kf*s)
	J.Set(2, 2, -kr-kcat)
	J.Set(3, 2, kcat)
	return nil
}

func (e *Enzyme) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	s, en, c := x[0], x[1], x[2]
	dfdp.Set(0, 0, -s*en)
	dfdp.Set(0, 1, c)
	dfdp.Set(1, 0, -s*en)
	dfdp.Set(1, 1, c)
	dfdp.Set(1, 2, c)
	dfdp.Set(2, 0, s*en)
	dfdp.Set(2, 1, -c)
	dfdp.Set(2, 2, -c)
	dfdp.Set(3, 2, c)
	return nil
}

func (e *Enzyme) NY() int { return 2 }

func (e *Enzyme) Observables(t float64, x, p, y []float64) {
	y[0] = x[0]
	y[1] = x[3]
}

func (e *Enzyme) ObservableStateJacobian(t float64, x, p []float64, dydx *mat.Dense) {
	dydx.Set(0, 0, 1)
	dydx.Set(1, 3, 1)
}

func (e *Enzyme) ObservableParameterJacobian(t float64, x, p []float64, dydp *mat.Dense) {}

func (e *Enzyme) Info() dynamo.Info {
	return dynamo.Info{
		Name:       "enzyme",
		States:     []string{"S", "E", "C", "P"},
		Parameters: []string{"kf", "kr", "kcat"},
	}
}
