package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BiCGStab solves with Jacobi-preconditioned BiCGSTAB. Factorize only stores
// the matrix and its diagonal; all work happens in Solve.
type BiCGStab struct {
	n       int
	a       Matrix
	diag    []float64
	Tol     float64
	MaxIter int

	r, rhat, p, v, s, tv, ph, sh []float64
	stats                        Stats
	Iterations                   int
}

func NewBiCGStab(n int) *BiCGStab {
	mk := func() []float64 { return make([]float64, n) }
	return &BiCGStab{
		n: n, diag: mk(), Tol: 1e-10, MaxIter: 2*n + 50,
		r: mk(), rhat: mk(), p: mk(), v: mk(), s: mk(), tv: mk(), ph: mk(), sh: mk(),
	}
}

func (b *BiCGStab) Factorize(a Matrix) error {
	if r, c := a.Dims(); r != b.n || c != b.n {
		return fmt.Errorf("linalg: bicgstab: matrix is %dx%d, want %dx%d", r, c, b.n, b.n)
	}
	b.a = a
	for i := 0; i < b.n; i++ {
		d := a.At(i, i)
		if math.IsNaN(d) {
			return &SingularMatrixError{Pivot: i}
		}
		if d == 0 {
			d = 1
		}
		b.diag[i] = 1 / d
	}
	b.stats.Numeric++
	return nil
}

func (b *BiCGStab) precondition(src, dst []float64) {
	for i := range src {
		dst[i] = src[i] * b.diag[i]
	}
}

func (b *BiCGStab) Solve(rhs, x []float64) error {
	if b.a == nil {
		return &SingularMatrixError{Pivot: -1, Cond: math.Inf(1)}
	}
	b.stats.Solves++
	bnorm := floats.Norm(rhs, 2)
	if bnorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return nil
	}
	// Initial guess from the preconditioner alone.
	b.precondition(rhs, b.ph)
	copy(b.s, rhs)
	copy(x, b.ph)

	MulVec(b.a, x, b.r)
	for i := range b.r {
		b.r[i] = b.s[i] - b.r[i]
	}
	copy(b.rhat, b.r)
	for i := range b.p {
		b.p[i], b.v[i] = 0, 0
	}
	rho, alpha, omega := 1.0, 1.0, 1.0

	for it := 1; it <= b.MaxIter; it++ {
		b.Iterations = it
		if floats.Norm(b.r, 2) <= b.Tol*bnorm {
			return nil
		}
		rhoNew := floats.Dot(b.rhat, b.r)
		if rhoNew == 0 || omega == 0 {
			break
		}
		beta := (rhoNew / rho) * (alpha / omega)
		rho = rhoNew
		for i := range b.p {
			b.p[i] = b.r[i] + beta*(b.p[i]-omega*b.v[i])
		}
		b.precondition(b.p, b.ph)
		MulVec(b.a, b.ph, b.v)
		den := floats.Dot(b.rhat, b.v)
		if den == 0 {
			break
		}
		alpha = rho / den
		for i := range b.s {
			b.s[i] = b.r[i] - alpha*b.v[i]
		}
		if floats.Norm(b.s, 2) <= b.Tol*bnorm {
			floats.AddScaled(x, alpha, b.ph)
			return nil
		}
		b.precondition(b.s, b.sh)
		MulVec(b.a, b.sh, b.tv)
		tt := floats.Dot(b.tv, b.tv)
		if tt == 0 {
			break
		}
		omega = floats.Dot(b.tv, b.s) / tt
		floats.AddScaled(x, alpha, b.ph)
		floats.AddScaled(x, omega, b.sh)
		for i := range b.r {
			b.r[i] = b.s[i] - omega*b.tv[i]
		}
	}
	if floats.Norm(b.r, 2) <= b.Tol*bnorm {
		return nil
	}
	return ErrNoConvergence
}

func (b *BiCGStab) Stats() Stats { return b.stats }
