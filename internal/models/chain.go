package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Chain is the linear cascade x0 → x1 → … → x(N-1) → ∅ with a single rate
// k. Starting from x0 = 1 every species follows a Poisson profile
// x_i(t) = (kt)^i/i! · e^(-kt). The Jacobian is lower bidiagonal and is
// declared sparse.
type Chain struct {
	N int
	K float64

	pattern *linalg.Pattern
}

func NewChain(n int) *Chain {
	entries := make([][2]int, 0, 2*n)
	for i := 0; i < n; i++ {
		entries = append(entries, [2]int{i, i})
		if i > 0 {
			entries = append(entries, [2]int{i, i - 1})
		}
	}
	p, err := linalg.NewPattern(n, entries)
	if err != nil {
		panic(err)
	}
	return &Chain{N: n, K: 1, pattern: p}
}

func (c *Chain) Dims() dynamo.Dims { return dynamo.Dims{NX: c.N, NP: 1} }

func (c *Chain) NominalParameters() []float64 { return []float64{c.K} }

func (c *Chain) SparsityPattern() *linalg.Pattern { return c.pattern }

func (c *Chain) InitialState(p []float64) dynamo.State {
	x := make(dynamo.State, c.N)
	x[0] = 1
	return x
}

func (c *Chain) RHS(t float64, x, p, xdot []float64) error {
	k := p[0]
	xdot[0] = -k * x[0]
	for i := 1; i < c.N; i++ {
		xdot[i] = k * (x[i-1] - x[i])
	}
	return nil
}

func (c *Chain) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	k := p[0]
	for i := 0; i < c.N; i++ {
		J.Set(i, i, -k)
		if i > 0 {
			J.Set(i, i-1, k)
		}
	}
	return nil
}

func (c *Chain) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, -x[0])
	for i := 1; i < c.N; i++ {
		dfdp.Set(i, 0, x[i-1]-x[i])
	}
	return nil
}

func (c *Chain) Info() dynamo.Info {
	states := make([]string, c.N)
	for i := range states {
		states[i] = fmt.Sprintf("x%d", i)
	}
	return dynamo.Info{Name: "chain", States: states, Parameters: []string{"k"}}
}
