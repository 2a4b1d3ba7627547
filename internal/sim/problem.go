package sim

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
)

// forwardProblem is the state equation, optionally augmented with one
// block per parameter holding a column of sx:
//
//	d(sx_j)/dt = J·sx_j + ∂f/∂p_j
type forwardProblem struct {
	model  dynamo.Model
	p      []float64
	nx, np int
	blocks int
	mass   []float64

	jac  linalg.Matrix
	dfdp *mat.Dense
}

func newForwardProblem(m dynamo.Model, p []float64, sel linalg.Selection, mass []float64, withSx bool) *forwardProblem {
	d := m.Dims()
	fp := &forwardProblem{model: m, p: p, nx: d.NX, np: d.NP, blocks: 1, mass: mass}
	if withSx && d.NP > 0 {
		fp.blocks = 1 + d.NP
		fp.jac = sel.NewMatrix()
		fp.dfdp = mat.NewDense(d.NX, d.NP, nil)
	}
	return fp
}

func (f *forwardProblem) Layout() integrators.Layout {
	return integrators.Layout{N: f.nx, Blocks: f.blocks}
}

func (f *forwardProblem) Mass() []float64 { return f.mass }

func (f *forwardProblem) RHS(t float64, y, ydot []float64) error {
	x := y[:f.nx]
	if err := f.model.RHS(t, x, f.p, ydot[:f.nx]); err != nil {
		return err
	}
	if f.blocks == 1 {
		return nil
	}
	f.jac.Zero()
	if err := f.model.Jacobian(t, x, f.p, f.jac); err != nil {
		return err
	}
	f.dfdp.Zero()
	if err := f.model.ParameterJacobian(t, x, f.p, f.dfdp); err != nil {
		return err
	}
	for j := 0; j < f.np; j++ {
		lo := (j + 1) * f.nx
		out := ydot[lo : lo+f.nx]
		linalg.MulVec(f.jac, y[lo:lo+f.nx], out)
		for i := range out {
			out[i] += f.dfdp.At(i, j)
		}
	}
	return nil
}

func (f *forwardProblem) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	return f.model.Jacobian(t, y[:f.nx], f.p, J)
}

// pack lays out x and the columns of sx as one augmented vector.
func pack(x dynamo.State, sx *mat.Dense, blocks int) []float64 {
	nx := len(x)
	y := make([]float64, nx*blocks)
	copy(y, x)
	for j := 0; j+1 < blocks; j++ {
		lo := (j + 1) * nx
		for i := 0; i < nx; i++ {
			y[lo+i] = sx.At(i, j)
		}
	}
	return y
}

// unpackSx reads the sensitivity blocks of y into an nx×np matrix.
func unpackSx(y []float64, nx, np int) *mat.Dense {
	sx := mat.NewDense(nx, np, nil)
	for j := 0; j < np; j++ {
		lo := (j + 1) * nx
		for i := 0; i < nx; i++ {
			sx.Set(i, j, y[lo+i])
		}
	}
	return sx
}

// storeSx writes sx back into the sensitivity blocks of y.
func storeSx(y []float64, sx *mat.Dense) {
	nx, np := sx.Dims()
	for j := 0; j < np; j++ {
		lo := (j + 1) * nx
		for i := 0; i < nx; i++ {
			y[lo+i] = sx.At(i, j)
		}
	}
}
