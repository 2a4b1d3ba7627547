package integrators

import (
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// ROS2 parameter, L-stable choice.
var gamma = 1 + 1/math.Sqrt2

// Rosenbrock is the two-stage, second order ROS2 W-method
//
//	(M − γhJ) k1 = f(t, y) + γh·f_t
//	(M − γhJ) k2 = f(t+h, y + h·k1) − 2M·k1 − γh·f_t
//	y1 = y + 3/2·h·k1 + 1/2·h·k2
//
// with the embedded first order solution y + h·k1. One factorization of
// M − γhJ serves every block of the augmented layout; tail components use
// the identity. f_t is a forward difference, exactly zero for autonomous
// problems.
type Rosenbrock struct {
	sel linalg.Selection
	jac linalg.Matrix
	w   linalg.Matrix
	lu  linalg.Factorizer

	k1, k2, tmp, ytmp []float64
	ft                []float64

	jt    float64
	jy    []float64
	jok   bool
	stats Stats
}

func NewRosenbrock(sel linalg.Selection) *Rosenbrock {
	w := sel.NewMatrix()
	return &Rosenbrock{
		sel: sel,
		w:   w,
		jac: linalg.Like(w),
		lu:  sel.NewFactorizer(w),
	}
}

func (r *Rosenbrock) Name() string { return "rosenbrock" }
func (r *Rosenbrock) Order() int   { return 1 }
func (r *Rosenbrock) Reset()       { r.jok = false }

func (r *Rosenbrock) Stats() Stats {
	s := r.stats
	s.Linear = r.lu.Stats()
	return s
}

// jacobian refreshes J and f_t unless they were evaluated at the same
// (t, y) already, which is the case when a rejected step is retried.
func (r *Rosenbrock) jacobian(p Problem, t float64, y, f0 []float64) error {
	if r.jok && r.jt == t && equal(r.jy, y) {
		return nil
	}
	r.jok = false
	dt := 1e-8 * math.Max(1, math.Abs(t))
	if err := evalRHS(p, t+dt, y, r.ft, &r.stats.RHSEvals); err != nil {
		return err
	}
	for i := range r.ft {
		r.ft[i] = (r.ft[i] - f0[i]) / dt
	}
	r.jac.Zero()
	r.stats.JacEvals++
	if err := p.Jacobian(t, y, r.jac); err != nil {
		return err
	}
	if !linalg.IsFinite(r.jac) {
		return &dynamo.EvaluationError{Func: "jacobian", Time: t, Index: -1}
	}
	r.jt = t
	r.jy = append(r.jy[:0], y...)
	r.jok = true
	return nil
}

func (r *Rosenbrock) Step(p Problem, t float64, y, f0 []float64, h float64, tr *Trial) error {
	l := p.Layout()
	size := l.Size()
	r.k1 = resize(r.k1, size)
	r.k2 = resize(r.k2, size)
	r.tmp = resize(r.tmp, size)
	r.ytmp = resize(r.ytmp, size)
	r.ft = resize(r.ft, size)
	tr.Y = resize(tr.Y, size)
	tr.Err = resize(tr.Err, size)
	tr.HaveF1 = false

	if err := r.jacobian(p, t, y, f0); err != nil {
		return err
	}
	mass := p.Mass()
	linalg.Combine(r.w, r.jac, -gamma*h, mass)
	if err := r.lu.Factorize(r.w); err != nil {
		return err
	}

	gh := gamma * h
	for i := range r.tmp {
		r.tmp[i] = f0[i] + gh*r.ft[i]
	}
	if err := r.solve(l, r.tmp, r.k1); err != nil {
		return err
	}
	for i := range r.ytmp {
		r.ytmp[i] = y[i] + h*r.k1[i]
	}
	if err := evalRHS(p, t+h, r.ytmp, r.tmp, &r.stats.RHSEvals); err != nil {
		return err
	}
	for i := range r.tmp {
		r.tmp[i] -= 2*massAt(mass, l, i)*r.k1[i] + gh*r.ft[i]
	}
	if err := r.solve(l, r.tmp, r.k2); err != nil {
		return err
	}

	for i := range tr.Y {
		tr.Y[i] = y[i] + 1.5*h*r.k1[i] + 0.5*h*r.k2[i]
		tr.Err[i] = 0.5 * h * (r.k1[i] + r.k2[i])
	}
	return nil
}

func (r *Rosenbrock) solve(l Layout, rhs, out []float64) error {
	n := l.N
	for b := 0; b < l.Blocks; b++ {
		if err := r.lu.Solve(rhs[b*n:(b+1)*n], out[b*n:(b+1)*n]); err != nil {
			return err
		}
	}
	copy(out[n*l.Blocks:], rhs[n*l.Blocks:])
	return nil
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
