package integrators

import "github.com/san-kum/rxsim/internal/linalg"

// Trial is the outcome of one step attempt.
type Trial struct {
	Y   []float64
	Err []float64
	// F1 is f(t+h, Y) when the stepper computed it anyway.
	F1     []float64
	HaveF1 bool
}

type Stats struct {
	RHSEvals int
	JacEvals int
	Linear   linalg.Stats
}

// Stepper advances a problem by one attempted step. f0 is f(t, y).
// Recoverable failures (see Recoverable) are returned as errors; the caller
// decides whether to retry.
type Stepper interface {
	Name() string
	// Order of the embedded error estimate.
	Order() int
	Step(p Problem, t float64, y, f0 []float64, h float64, tr *Trial) error
	// Reset drops cached state, e.g. after a discontinuity.
	Reset()
	Stats() Stats
}
