package sensitivity

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
)

// adjointProblem is the backward system in reversed time τ = tb − t with
// y = [λ | q]. The forward state comes from the replayed dense output of
// the current event epoch.
type adjointProblem struct {
	model dynamo.Model
	p     []float64
	n, np int

	tb     float64
	window []Segment

	jac  linalg.Matrix
	dfdp *mat.Dense
	x    []float64
}

func newAdjointProblem(m dynamo.Model, p []float64, sel linalg.Selection) *adjointProblem {
	d := m.Dims()
	ap := &adjointProblem{
		model: m, p: p, n: d.NX, np: d.NP,
		jac: sel.NewMatrix(),
		x:   make([]float64, d.NX),
	}
	if d.NP > 0 {
		ap.dfdp = mat.NewDense(d.NX, d.NP, nil)
	}
	return ap
}

func (a *adjointProblem) Layout() integrators.Layout {
	return integrators.Layout{N: a.n, Blocks: 1, Tail: a.np}
}

func (a *adjointProblem) Mass() []float64 { return nil }

// state interpolates the forward state at t.
func (a *adjointProblem) state(t float64) []float64 {
	w := a.window
	if t < w[0].Lo {
		t = w[0].Lo
	}
	if last := w[len(w)-1].Hi; t > last {
		t = last
	}
	k := sort.Search(len(w), func(i int) bool { return w[i].Hi >= t })
	if k == len(w) {
		k = len(w) - 1
	}
	w[k].H.Eval(t, a.x)
	return a.x
}

func (a *adjointProblem) forwardJacobian(t float64, x []float64) error {
	a.jac.Zero()
	return a.model.Jacobian(t, x, a.p, a.jac)
}

func (a *adjointProblem) RHS(tau float64, y, ydot []float64) error {
	t := a.tb - tau
	x := a.state(t)
	if err := a.forwardJacobian(t, x); err != nil {
		return err
	}
	lambda := y[:a.n]
	linalg.MulTransVec(a.jac, lambda, ydot[:a.n])
	if a.np == 0 {
		return nil
	}
	a.dfdp.Zero()
	if err := a.model.ParameterJacobian(t, x, a.p, a.dfdp); err != nil {
		return err
	}
	qdot := mat.NewVecDense(a.np, ydot[a.n:])
	qdot.MulVec(a.dfdp.T(), mat.NewVecDense(a.n, lambda))
	return nil
}

func (a *adjointProblem) Jacobian(tau float64, y []float64, J linalg.Matrix) error {
	t := a.tb - tau
	if err := a.forwardJacobian(t, a.state(t)); err != nil {
		return err
	}
	linalg.TransposeInto(J, a.jac)
	return nil
}
