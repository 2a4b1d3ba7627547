// Package steadystate finds fixed points of a model, either by integrating
// until the right-hand side vanishes or by Newton iteration on f(x) = 0.
// Each strategy falls back to the other before the solver gives up.
package steadystate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
	"github.com/san-kum/rxsim/internal/logging"
)

const (
	StrategyIntegration = "integration"
	StrategyNewton      = "newton"
)

// Result is a converged steady state.
type Result struct {
	X          dynamo.State
	Sx         *mat.Dense // ∂x_ss/∂p on linear scale, nil when J is singular
	Converged  bool
	Strategy   string
	Iterations int     // integration steps plus Newton iterations
	Time       float64 // simulated time spent integrating
	WRMS       float64
	Stats      integrators.Stats
}

// Solver is configured once per run.
type Solver struct {
	Model  dynamo.Model
	Sel    linalg.Selection
	Method dynamo.Method
	Mode   dynamo.SteadyStateMode
	Opt    dynamo.SteadyStateOptions
	// Step configures the integration strategy's session.
	Step integrators.Options
}

// Solve starts at (t0, x0). The returned error is a *dynamo.NonConvergenceError
// when both strategies are exhausted; its Last field holds the final iterate.
func (s *Solver) Solve(ctx context.Context, t0 float64, x0 dynamo.State, p []float64) (*Result, error) {
	log := logging.FromContext(ctx)
	if s.Mode == dynamo.SteadyStateOff {
		return nil, fmt.Errorf("%w: steady state mode is off", dynamo.ErrInvalidConfig)
	}
	first, second := s.integrate, s.newton
	if s.Mode == dynamo.SteadyStateNewton {
		first, second = s.newton, s.integrate
	}

	res, err := first(ctx, t0, x0, p)
	if err == nil {
		return res, nil
	}
	var nc *dynamo.NonConvergenceError
	if !errors.As(err, &nc) {
		return nil, err
	}
	log.Debug("steady state strategy exhausted, falling back",
		"stage", nc.Stage, "iterations", nc.Iterations, "wrms", nc.WRMS)

	// Integration escalates from where it stalled; Newton failures restart
	// integration from the initial point.
	start := x0
	if nc.Stage == StrategyIntegration {
		start = nc.Last
	}
	res2, err2 := second(ctx, t0, start, p)
	if err2 == nil {
		res2.Iterations += nc.Iterations
		return res2, nil
	}
	var nc2 *dynamo.NonConvergenceError
	if !errors.As(err2, &nc2) {
		return nil, err2
	}
	return nil, &dynamo.NonConvergenceError{
		Stage:      "steady state",
		Iterations: nc.Iterations + nc2.Iterations,
		WRMS:       nc2.WRMS,
		Last:       nc2.Last,
	}
}

// residual is the WRMS norm of f(x) against the steady-state tolerances.
func (s *Solver) residual(f []float64, x []float64) float64 {
	return dynamo.State(f).WRMS(x, s.Opt.AbsTol, s.Opt.RelTol)
}

func (s *Solver) stepper() integrators.Stepper {
	if s.Method == dynamo.MethodRK45 {
		return integrators.NewRK45()
	}
	return integrators.NewRosenbrock(s.Sel)
}

func (s *Solver) integrate(ctx context.Context, t0 float64, x0 dynamo.State, p []float64) (*Result, error) {
	opt := s.Step
	opt.MaxSteps = s.Opt.MaxSteps + 1
	st := s.stepper()
	sess := integrators.NewSession(newStateProblem(s.Model, p), st, opt)
	if err := sess.Init(t0, x0); err != nil {
		return nil, fmt.Errorf("steady state integration: %w", err)
	}
	stop := math.Inf(1)
	if s.Opt.MaxTime > 0 {
		stop = t0 + s.Opt.MaxTime
	}

	wrms := s.residual(sess.F, sess.Y)
	for wrms >= 1 {
		if sess.Steps >= s.Opt.MaxSteps || sess.T >= stop {
			return nil, &dynamo.NonConvergenceError{
				Stage:      StrategyIntegration,
				Iterations: sess.Steps,
				WRMS:       wrms,
				Last:       dynamo.State(sess.Y).Clone(),
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
		}
		if _, err := sess.Step(stop); err != nil {
			return nil, fmt.Errorf("steady state integration at t=%g: %w", sess.T, err)
		}
		wrms = s.residual(sess.F, sess.Y)
	}
	return &Result{
		X:          dynamo.State(sess.Y).Clone(),
		Converged:  true,
		Strategy:   StrategyIntegration,
		Iterations: sess.Steps,
		Time:       sess.T - t0,
		WRMS:       wrms,
		Stats:      st.Stats(),
	}, nil
}

// newton runs damped Newton iterations x ← x − λ·J⁻¹f(x), halving λ while
// the residual does not decrease.
func (s *Solver) newton(ctx context.Context, t0 float64, x0 dynamo.State, p []float64) (*Result, error) {
	n := s.Model.Dims().NX
	x := x0.Clone()
	f := make([]float64, n)
	dx := make([]float64, n)
	trial := make(dynamo.State, n)
	ft := make([]float64, n)
	J := s.Sel.NewMatrix()
	lu := s.Sel.NewFactorizer(J)
	var stats integrators.Stats

	eval := func(x, out []float64) (float64, error) {
		stats.RHSEvals++
		if err := s.Model.RHS(t0, x, p, out); err != nil {
			return 0, err
		}
		w := s.residual(out, x)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return w, &dynamo.EvaluationError{Func: "rhs", Time: t0, Index: -1}
		}
		return w, nil
	}
	fail := func(it int, w float64) error {
		return &dynamo.NonConvergenceError{Stage: StrategyNewton, Iterations: it, WRMS: w, Last: x.Clone()}
	}

	wrms, err := eval(x, f)
	if err != nil {
		return nil, fail(0, math.Inf(1))
	}
	for it := 0; ; it++ {
		if wrms < 1 {
			stats.Linear = lu.Stats()
			return &Result{X: x, Converged: true, Strategy: StrategyNewton, Iterations: it, WRMS: wrms, Stats: stats}, nil
		}
		if it >= s.Opt.NewtonMaxSteps {
			return nil, fail(it, wrms)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
		}

		J.Zero()
		stats.JacEvals++
		if err := s.Model.Jacobian(t0, x, p, J); err != nil {
			return nil, err
		}
		if err := lu.Factorize(J); err != nil {
			if errors.Is(err, linalg.ErrSingular) {
				return nil, fail(it, wrms)
			}
			return nil, err
		}
		if err := lu.Solve(f, dx); err != nil {
			return nil, fail(it, wrms)
		}

		lambda := 1.0
		accepted := false
		for try := 0; try < 10; try++ {
			for i := range trial {
				trial[i] = x[i] - lambda*dx[i]
			}
			w, err := eval(trial, ft)
			if err == nil && (w < wrms || !s.Opt.NewtonDamping) {
				copy(x, trial)
				copy(f, ft)
				wrms = w
				accepted = true
				break
			}
			if !s.Opt.NewtonDamping {
				break
			}
			lambda /= 2
		}
		if !accepted {
			return nil, fail(it+1, wrms)
		}
	}
}

// Sensitivity computes ∂x_ss/∂p = −J⁻¹·∂f/∂p at a steady state. It
// returns linalg.ErrSingular when J cannot be factorized, which is always
// the case for models with conservation laws.
func (s *Solver) Sensitivity(t float64, x dynamo.State, p []float64) (*mat.Dense, error) {
	d := s.Model.Dims()
	J := s.Sel.NewMatrix()
	if err := s.Model.Jacobian(t, x, p, J); err != nil {
		return nil, err
	}
	lu := s.Sel.NewFactorizer(J)
	if err := lu.Factorize(J); err != nil {
		return nil, err
	}
	dfdp := mat.NewDense(d.NX, d.NP, nil)
	if err := s.Model.ParameterJacobian(t, x, p, dfdp); err != nil {
		return nil, err
	}
	sx := mat.NewDense(d.NX, d.NP, nil)
	col := make([]float64, d.NX)
	out := make([]float64, d.NX)
	for j := 0; j < d.NP; j++ {
		for i := range col {
			col[i] = -dfdp.At(i, j)
		}
		if err := lu.Solve(col, out); err != nil {
			return nil, err
		}
		sx.SetCol(j, out)
	}
	return sx, nil
}
