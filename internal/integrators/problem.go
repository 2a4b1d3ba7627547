// Package integrators holds the adaptive steppers of the engine and the
// session that drives them.
//
// A [Problem] has an augmented layout: Blocks copies of an n-dimensional
// core block followed by a tail. The core block carries the Jacobian; the
// other blocks share its iteration matrix, which is how forward
// sensitivities ride along with the state. Tail components (quadratures)
// are integrated explicitly.
package integrators

import (
	"errors"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

type Layout struct {
	N      int
	Blocks int
	Tail   int
}

func (l Layout) Size() int { return l.N*l.Blocks + l.Tail }

type Problem interface {
	Layout() Layout
	RHS(t float64, y, ydot []float64) error
	// Jacobian writes the core block Jacobian, evaluated at y, into J.
	// J is zeroed by the caller.
	Jacobian(t float64, y []float64, J linalg.Matrix) error
	// Mass is the diagonal of the core block mass matrix, nil for identity.
	Mass() []float64
}

// Recoverable reports whether err should be answered by a smaller step.
func Recoverable(err error) bool {
	var ee *dynamo.EvaluationError
	return errors.As(err, &ee) ||
		errors.Is(err, linalg.ErrSingular) ||
		errors.Is(err, linalg.ErrNoConvergence)
}

func evalRHS(p Problem, t float64, y, ydot []float64, count *int) error {
	*count++
	if err := p.RHS(t, y, ydot); err != nil {
		return err
	}
	for i, v := range ydot {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &dynamo.EvaluationError{Func: "rhs", Time: t, Index: i}
		}
	}
	return nil
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// massAt returns the mass of augmented component i.
func massAt(mass []float64, l Layout, i int) float64 {
	if mass == nil || i >= l.N*l.Blocks {
		return 1
	}
	return mass[i%l.N]
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
