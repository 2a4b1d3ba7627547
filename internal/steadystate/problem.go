package steadystate

import (
	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
)

// stateProblem integrates the bare state equations, without sensitivities
// or events.
type stateProblem struct {
	model dynamo.Model
	p     []float64
	mass  []float64
}

func newStateProblem(m dynamo.Model, p []float64) *stateProblem {
	sp := &stateProblem{model: m, p: p}
	if mm, ok := m.(dynamo.MassModel); ok {
		sp.mass = mm.MassMatrix()
	}
	return sp
}

func (s *stateProblem) Layout() integrators.Layout {
	return integrators.Layout{N: s.model.Dims().NX, Blocks: 1}
}

func (s *stateProblem) RHS(t float64, y, ydot []float64) error {
	return s.model.RHS(t, y, s.p, ydot)
}

func (s *stateProblem) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	return s.model.Jacobian(t, y, s.p, J)
}

func (s *stateProblem) Mass() []float64 { return s.mass }
