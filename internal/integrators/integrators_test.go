package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// decayProblem is y' = -k·y with an optional sensitivity block
// s' = -k·s - y (d/dk) and an optional quadrature q' = y.
type decayProblem struct {
	k      float64
	blocks int
	tail   int
	// nanBelow makes the right-hand side non-finite for y < 0.
	nanBelow bool
}

func (d *decayProblem) Layout() Layout {
	b := d.blocks
	if b == 0 {
		b = 1
	}
	return Layout{N: 1, Blocks: b, Tail: d.tail}
}

func (d *decayProblem) RHS(t float64, y, ydot []float64) error {
	if d.nanBelow && y[0] < 0 {
		ydot[0] = math.NaN()
		return nil
	}
	ydot[0] = -d.k * y[0]
	if d.blocks > 1 {
		ydot[1] = -d.k*y[1] - y[0]
	}
	if d.tail > 0 {
		ydot[len(ydot)-1] = y[0]
	}
	return nil
}

func (d *decayProblem) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	J.Set(0, 0, -d.k)
	return nil
}

func (d *decayProblem) Mass() []float64 { return nil }

// stiffProblem is y' = -λ(y - cos t).
type stiffProblem struct{ lambda float64 }

func (s *stiffProblem) Layout() Layout { return Layout{N: 1, Blocks: 1} }
func (s *stiffProblem) RHS(t float64, y, ydot []float64) error {
	ydot[0] = -s.lambda * (y[0] - math.Cos(t))
	return nil
}
func (s *stiffProblem) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	J.Set(0, 0, -s.lambda)
	return nil
}
func (s *stiffProblem) Mass() []float64 { return nil }

// oscillator is the harmonic oscillator x'' = -x.
type oscillator struct{}

func (o *oscillator) Layout() Layout { return Layout{N: 2, Blocks: 1} }
func (o *oscillator) RHS(t float64, y, ydot []float64) error {
	ydot[0], ydot[1] = y[1], -y[0]
	return nil
}
func (o *oscillator) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	J.Set(0, 1, 1)
	J.Set(1, 0, -1)
	return nil
}
func (o *oscillator) Mass() []float64 { return nil }

func newStepper(name string, n int) Stepper {
	if name == "rk45" {
		return NewRK45()
	}
	return NewRosenbrock(linalg.Select(linalg.KindDense, n, nil, 0))
}

func run(t *testing.T, s *Session, tEnd float64) {
	t.Helper()
	for s.T < tEnd {
		if _, err := s.Step(tEnd); err != nil {
			t.Fatalf("step at t=%g: %v", s.T, err)
		}
	}
}

func TestDecayMatchesAnalytic(t *testing.T) {
	for _, name := range []string{"rosenbrock", "rk45"} {
		t.Run(name, func(t *testing.T) {
			p := &decayProblem{k: 2, blocks: 2, tail: 1}
			opt := DefaultOptions()
			opt.Tol = Tolerance{Atol: 1e-10, Rtol: 1e-7}
			s := NewSession(p, newStepper(name, 1), opt)
			if err := s.Init(0, []float64{1, 0, 0}); err != nil {
				t.Fatal(err)
			}
			run(t, s, 1)

			if s.T != 1 {
				t.Fatalf("expected to land on t=1, got %v", s.T)
			}
			e := math.Exp(-2)
			want := []float64{e, -e, (1 - e) / 2}
			for i, w := range want {
				if math.Abs(s.Y[i]-w) > 1e-5 {
					t.Errorf("component %d: got %.8f, expected %.8f", i, s.Y[i], w)
				}
			}
		})
	}
}

func TestRosenbrockHandlesStiffness(t *testing.T) {
	const lambda = 1e4
	steps := map[string]int{}
	for _, name := range []string{"rosenbrock", "rk45"} {
		opt := DefaultOptions()
		opt.Tol = Tolerance{Atol: 1e-6, Rtol: 1e-4}
		opt.MaxSteps = 200000
		s := NewSession(&stiffProblem{lambda: lambda}, newStepper(name, 1), opt)
		if err := s.Init(0, []float64{0}); err != nil {
			t.Fatal(err)
		}
		run(t, s, 1)

		a := lambda * lambda / (1 + lambda*lambda)
		b := lambda / (1 + lambda*lambda)
		want := a*math.Cos(1) + b*math.Sin(1)
		if math.Abs(s.Y[0]-want) > 1e-3 {
			t.Errorf("%s: got %.8f, expected %.8f", name, s.Y[0], want)
		}
		steps[name] = s.Steps
	}
	if steps["rosenbrock"]*5 > steps["rk45"] {
		t.Errorf("expected rosenbrock to need far fewer steps: %v", steps)
	}
}

func TestHermiteReproducesCubic(t *testing.T) {
	f := func(t float64) float64 { return t*t*t - 2*t }
	df := func(t float64) float64 { return 3*t*t - 2 }
	l := Layout{N: 1, Blocks: 1}
	h := newHermite(l, nil, 1, 3, []float64{f(1)}, []float64{f(3)}, []float64{df(1)}, []float64{df(3)})

	out := make([]float64, 1)
	for _, tt := range []float64{1, 1.3, 2, 2.9, 3} {
		h.Eval(tt, out)
		if math.Abs(out[0]-f(tt)) > 1e-12 {
			t.Errorf("Eval(%v) = %v, want %v", tt, out[0], f(tt))
		}
	}
}

func TestHermiteAlgebraicIsLinear(t *testing.T) {
	l := Layout{N: 2, Blocks: 1}
	h := newHermite(l, []float64{1, 0}, 0, 1,
		[]float64{0, 0}, []float64{1, 2}, []float64{0, 5}, []float64{0, 5})
	out := make([]float64, 2)
	h.Eval(0.5, out)
	if out[1] != 1 {
		t.Errorf("algebraic component: got %v, expected 1", out[1])
	}
}

func TestSnapshotRestoreIsBitReproducible(t *testing.T) {
	for _, name := range []string{"rosenbrock", "rk45"} {
		t.Run(name, func(t *testing.T) {
			s := NewSession(&oscillator{}, newStepper(name, 2), DefaultOptions())
			if err := s.Init(0, []float64{1, 0}); err != nil {
				t.Fatal(err)
			}
			var snap Snapshot
			var ref []*Hermite
			for i := 0; i < 30; i++ {
				if i == 10 {
					snap = s.Snapshot()
				}
				piece, err := s.Step(20)
				if err != nil {
					t.Fatal(err)
				}
				if i >= 10 {
					ref = append(ref, piece)
				}
			}

			s.Restore(snap)
			for i, want := range ref {
				got, err := s.Step(20)
				if err != nil {
					t.Fatal(err)
				}
				if got.T1 != want.T1 || got.Y1[0] != want.Y1[0] || got.Y1[1] != want.Y1[1] {
					t.Fatalf("replayed step %d differs: t=%v/%v", i, got.T1, want.T1)
				}
			}
		})
	}
}

func TestNonFiniteRHSIsRecovered(t *testing.T) {
	p := &decayProblem{k: 1, nanBelow: true}
	opt := DefaultOptions()
	opt.InitialStep = 8
	s := NewSession(p, NewRK45(), opt)
	if err := s.Init(0, []float64{1}); err != nil {
		t.Fatal(err)
	}
	run(t, s, 10)

	if s.Stats().ConvFailures == 0 {
		t.Error("expected at least one recoverable failure")
	}
	if math.Abs(s.Y[0]-math.Exp(-10)) > 1e-6 {
		t.Errorf("got %v, expected %v", s.Y[0], math.Exp(-10))
	}
}

func TestPersistentNaNExhaustsRetryBudget(t *testing.T) {
	p := &decayProblem{k: 1, nanBelow: true}
	opt := DefaultOptions()
	opt.MaxConvFails = 3
	s := NewSession(p, NewRK45(), opt)
	if err := s.Init(0, []float64{-1}); !errors.As(err, new(*dynamo.EvaluationError)) {
		t.Fatalf("expected evaluation error at init, got %v", err)
	}

	s = NewSession(&decayProblem{k: 1}, NewRK45(), opt)
	if err := s.Init(0, []float64{1}); err != nil {
		t.Fatal(err)
	}
	s.P = &decayProblem{k: 1, nanBelow: true}
	s.Y[0] = -1
	_, err := s.Step(1)
	if !errors.Is(err, dynamo.ErrConvergence) {
		t.Fatalf("expected ErrConvergence, got %v", err)
	}
	if got := s.Stats().ConvFailures; got != 4 {
		t.Errorf("expected 4 failures, got %d", got)
	}
}

func TestStepBudget(t *testing.T) {
	opt := DefaultOptions()
	opt.MaxSteps = 5
	s := NewSession(&oscillator{}, NewRK45(), opt)
	if err := s.Init(0, []float64{1, 0}); err != nil {
		t.Fatal(err)
	}
	var err error
	for err == nil {
		_, err = s.Step(100)
	}
	if !errors.Is(err, dynamo.ErrTooMuchWork) {
		t.Errorf("expected ErrTooMuchWork, got %v", err)
	}
	if s.Steps != 5 {
		t.Errorf("expected 5 steps, got %d", s.Steps)
	}
}

func TestStepLandsOnStopTimes(t *testing.T) {
	s := NewSession(&oscillator{}, newStepper("rosenbrock", 2), DefaultOptions())
	if err := s.Init(0, []float64{1, 0}); err != nil {
		t.Fatal(err)
	}
	for _, stop := range []float64{0.1, 0.1000001, 2, 7.5} {
		run(t, s, stop)
		if s.T != stop {
			t.Errorf("expected t=%v, got %v", stop, s.T)
		}
	}
	if _, err := s.Step(7.5); err == nil {
		t.Error("expected an error for a stop time in the past")
	}
}

func TestSparseAndDenseAgree(t *testing.T) {
	const n = 20
	var entries [][2]int
	for i := 0; i < n; i++ {
		entries = append(entries, [2]int{i, i})
		if i > 0 {
			entries = append(entries, [2]int{i, i - 1})
		}
	}
	pat, err := linalg.NewPattern(n, entries)
	if err != nil {
		t.Fatal(err)
	}

	final := map[linalg.Kind][]float64{}
	for _, kind := range []linalg.Kind{linalg.KindDense, linalg.KindSparse, linalg.KindIterative} {
		sel := linalg.Select(kind, n, pat, 1)
		s := NewSession(&chainProblem{n: n}, NewRosenbrock(sel), DefaultOptions())
		y0 := make([]float64, n)
		y0[0] = 1
		if err := s.Init(0, y0); err != nil {
			t.Fatal(err)
		}
		run(t, s, 5)
		final[kind] = s.Y
	}
	for i := 0; i < n; i++ {
		d := final[linalg.KindDense][i]
		if math.Abs(final[linalg.KindSparse][i]-d) > 1e-10 {
			t.Errorf("sparse component %d: %v vs dense %v", i, final[linalg.KindSparse][i], d)
		}
		if math.Abs(final[linalg.KindIterative][i]-d) > 1e-7 {
			t.Errorf("iterative component %d: %v vs dense %v", i, final[linalg.KindIterative][i], d)
		}
	}
}

// chainProblem is the linear chain y_i' = y_{i-1} - y_i.
type chainProblem struct{ n int }

func (c *chainProblem) Layout() Layout { return Layout{N: c.n, Blocks: 1} }
func (c *chainProblem) RHS(t float64, y, ydot []float64) error {
	for i := range y {
		ydot[i] = -y[i]
		if i > 0 {
			ydot[i] += y[i-1]
		}
	}
	return nil
}
func (c *chainProblem) Jacobian(t float64, y []float64, J linalg.Matrix) error {
	for i := 0; i < c.n; i++ {
		J.Set(i, i, -1)
		if i > 0 {
			J.Set(i, i-1, 1)
		}
	}
	return nil
}
func (c *chainProblem) Mass() []float64 { return nil }

func TestControllerScaleIsClamped(t *testing.T) {
	c := NewController(1)
	tests := []struct {
		en   float64
		want float64
	}{
		{0, 5},
		{1e-12, 5},
		{1e6, 0.2},
		{1, 0.9},
	}
	for _, tt := range tests {
		if got := c.Scale(tt.en); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Scale(%v) = %v, want %v", tt.en, got, tt.want)
		}
	}
}

func TestErrorNormActiveComponents(t *testing.T) {
	est := []float64{1, 100}
	y := []float64{0, 0}
	all := ErrorNorm(est, y, y, Tolerance{Atol: 1})
	lead := ErrorNorm(est, y, y, Tolerance{Atol: 1, Active: 1})
	if lead != 1 {
		t.Errorf("expected 1, got %v", lead)
	}
	if all <= lead {
		t.Errorf("expected the full norm to exceed the leading one: %v <= %v", all, lead)
	}
}
