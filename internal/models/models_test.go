package models

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

func all() []dynamo.Model {
	return []dynamo.Model{
		NewDecay(), NewConversion(), NewRobertson(), NewRobertsonDAE(),
		NewSawtooth(), NewNanWall(), NewRotator(), NewEnzyme(), NewChain(6), NewDosing(),
	}
}

func samplePoint(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.3 + 0.1*float64(i)
	}
	return x
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-5*(1+math.Abs(b))
}

func TestJacobiansMatchFiniteDifferences(t *testing.T) {
	for _, m := range all() {
		name := m.(dynamo.Describer).Info().Name
		t.Run(name, func(t *testing.T) {
			d := m.Dims()
			p := m.(Nominal).NominalParameters()
			if len(p) != d.NP {
				t.Fatalf("nominal parameters: got %d, want %d", len(p), d.NP)
			}
			x := samplePoint(d.NX)
			const tt = 0.7

			J := linalg.NewDense(d.NX)
			if err := m.Jacobian(tt, x, p, J); err != nil {
				t.Fatal(err)
			}
			dfdp := mat.NewDense(d.NX, d.NP, nil)
			if err := m.ParameterJacobian(tt, x, p, dfdp); err != nil {
				t.Fatal(err)
			}

			fp := make([]float64, d.NX)
			fm := make([]float64, d.NX)
			central := func(v []float64, j int, eval func()) []float64 {
				h := 1e-6 * math.Max(1, math.Abs(v[j]))
				orig := v[j]
				v[j] = orig + h
				eval()
				copy(fp, fm)
				v[j] = orig - h
				eval()
				v[j] = orig
				out := make([]float64, d.NX)
				for i := range out {
					out[i] = (fp[i] - fm[i]) / (2 * h)
				}
				return out
			}
			rhs := func() {
				if err := m.RHS(tt, x, p, fm); err != nil {
					t.Fatal(err)
				}
			}

			for j := 0; j < d.NX; j++ {
				col := central(x, j, rhs)
				for i := range col {
					if !near(J.At(i, j), col[i]) {
						t.Errorf("J[%d,%d] = %g, finite difference %g", i, j, J.At(i, j), col[i])
					}
				}
			}
			for j := 0; j < d.NP; j++ {
				col := central(p, j, rhs)
				for i := range col {
					if !near(dfdp.At(i, j), col[i]) {
						t.Errorf("dfdp[%d,%d] = %g, finite difference %g", i, j, dfdp.At(i, j), col[i])
					}
				}
			}
		})
	}
}

func TestModelsDescribeThemselves(t *testing.T) {
	for _, m := range all() {
		info := m.(dynamo.Describer).Info()
		d := m.Dims()
		if len(info.States) != d.NX || len(info.Parameters) != d.NP {
			t.Errorf("%s: info names %d states and %d parameters, dims are %+v",
				info.Name, len(info.States), len(info.Parameters), d)
		}
		if x0 := m.InitialState(m.(Nominal).NominalParameters()); len(x0) != d.NX {
			t.Errorf("%s: initial state has %d entries", info.Name, len(x0))
		}
	}
}

func TestChainWritesInsideItsPattern(t *testing.T) {
	c := NewChain(8)
	J := linalg.NewCSC(c.SparsityPattern())
	if err := c.Jacobian(0, samplePoint(8), []float64{2}, J); err != nil {
		t.Fatal(err)
	}
	if got := J.At(3, 2); got != 2 {
		t.Errorf("J[3,2] = %g, want 2", got)
	}
	if got := J.At(2, 3); got != 0 {
		t.Errorf("J[2,3] = %g, want 0", got)
	}
}

func TestNanWall(t *testing.T) {
	n := NewNanWall()
	xdot := make([]float64, 1)
	_ = n.RHS(0, []float64{-0.1}, []float64{1}, xdot)
	if !math.IsNaN(xdot[0]) {
		t.Errorf("expected NaN below the wall, got %g", xdot[0])
	}
	_ = n.RHS(0, []float64{0.5}, []float64{1}, xdot)
	if xdot[0] != -0.5 {
		t.Errorf("got %g, want -0.5", xdot[0])
	}
}

func TestRobertsonDAEConstraint(t *testing.T) {
	r := NewRobertsonDAE()
	if !dynamo.Algebraic(r) {
		t.Fatal("DAE variant must declare an algebraic row")
	}
	if dynamo.Algebraic(NewRobertson()) {
		t.Fatal("ODE variant must not declare an algebraic row")
	}
	xdot := make([]float64, 3)
	_ = r.RHS(0, []float64{0.5, 0.25, 0.25}, r.NominalParameters(), xdot)
	if xdot[2] != 0 {
		t.Errorf("consistent state should satisfy the constraint, residual %g", xdot[2])
	}
}

func TestSawtoothRootDerivatives(t *testing.T) {
	s := NewSawtooth()
	p := []float64{1, 2}
	g := make([]float64, 1)
	_ = s.Roots(0, []float64{2}, p, g)
	if g[0] != 0 {
		t.Errorf("root at threshold: got %g", g[0])
	}
	gx, gp := make([]float64, 1), make([]float64, 2)
	if gt := s.RootDerivatives(0, 0, []float64{1}, p, gx, gp); gt != 0 {
		t.Errorf("gt = %g", gt)
	}
	if gx[0] != 1 || gp[1] != -1 {
		t.Errorf("gx = %v, gp = %v", gx, gp)
	}
	xnew := []float64{7}
	s.EventAssignment(0, 0, []float64{2}, p, xnew)
	if xnew[0] != 0 {
		t.Errorf("reset to %g", xnew[0])
	}
}

func TestEnzymeObservesSubstrateAndProduct(t *testing.T) {
	e := NewEnzyme()
	y := make([]float64, e.NY())
	e.Observables(0, []float64{0.4, 0.1, 0.05, 0.55}, e.NominalParameters(), y)
	if y[0] != 0.4 || y[1] != 0.55 {
		t.Errorf("got %v", y)
	}
	dydx := mat.NewDense(2, 4, nil)
	e.ObservableStateJacobian(0, nil, nil, dydx)
	if dydx.At(1, 3) != 1 || dydx.At(1, 2) != 0 {
		t.Errorf("dydx = %v", mat.Formatted(dydx))
	}
}
