package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
)

type Options struct {
	Tol          Tolerance
	MinStep      float64
	MaxStep      float64 // 0 for unbounded
	InitialStep  float64 // 0 for the automatic estimate
	MaxSteps     int
	MaxConvFails int // consecutive recoverable failures on one step
	MaxErrFails  int // consecutive error test failures on one step
}

func DefaultOptions() Options {
	return Options{
		Tol:          Tolerance{Atol: 1e-8, Rtol: 1e-6},
		MaxSteps:     10000,
		MaxConvFails: 10,
		MaxErrFails:  7,
	}
}

// SessionStats counts work done by the session itself.
type SessionStats struct {
	Rejected     int
	ConvFailures int
	RHSEvals     int
}

// Snapshot is the complete stepping state of a session. Restoring it
// reproduces the same sequence of steps bit for bit.
type Snapshot struct {
	T, H   float64
	Growth float64
	Y, F   []float64
	Steps  int
}

// Session advances one problem with one stepper, accepting or rejecting
// attempts and keeping the step size history.
type Session struct {
	P   Problem
	S   Stepper
	opt Options
	ctl Controller

	T     float64
	H     float64
	Y     []float64
	F     []float64
	Steps int

	growth float64
	trial  Trial
	f1     []float64
	stats  SessionStats
}

func NewSession(p Problem, s Stepper, opt Options) *Session {
	if opt.MaxErrFails <= 0 {
		opt.MaxErrFails = 7
	}
	ctl := NewController(s.Order())
	return &Session{P: p, S: s, opt: opt, ctl: ctl, growth: ctl.MaxScale}
}

func (s *Session) Stats() SessionStats { return s.stats }

// Init sets the initial point and picks the first step size.
func (s *Session) Init(t0 float64, y0 []float64) error {
	n := s.P.Layout().Size()
	if len(y0) != n {
		return fmt.Errorf("%w: initial vector has %d entries, layout needs %d", dynamo.ErrDimensionMismatch, len(y0), n)
	}
	s.T = t0
	s.Y = append(s.Y[:0], y0...)
	s.F = resize(s.F, n)
	s.f1 = resize(s.f1, n)
	if err := evalRHS(s.P, t0, s.Y, s.F, &s.stats.RHSEvals); err != nil {
		return err
	}
	s.growth = s.ctl.MaxScale
	s.H = s.initialStep()
	return nil
}

// Restart continues from (t, y) after a discontinuity.
func (s *Session) Restart(t float64, y []float64) error {
	s.S.Reset()
	return s.Init(t, y)
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		T: s.T, H: s.H, Growth: s.growth,
		Y:     append([]float64(nil), s.Y...),
		F:     append([]float64(nil), s.F...),
		Steps: s.Steps,
	}
}

func (s *Session) Restore(sn Snapshot) {
	s.S.Reset()
	s.T, s.H, s.growth, s.Steps = sn.T, sn.H, sn.Growth, sn.Steps
	s.Y = append(s.Y[:0], sn.Y...)
	s.F = append(s.F[:0], sn.F...)
	s.f1 = resize(s.f1, len(s.Y))
}

// initialStep estimates a first step from the local derivative scale.
func (s *Session) initialStep() float64 {
	h := s.opt.InitialStep
	if h <= 0 {
		h = s.estimateStep()
	}
	if s.opt.MaxStep > 0 && h > s.opt.MaxStep {
		h = s.opt.MaxStep
	}
	return math.Max(h, s.opt.MinStep)
}

func (s *Session) estimateStep() float64 {
	l := s.P.Layout()
	mass := s.P.Mass()
	n := len(s.Y)
	d := make([]float64, n)
	for i := range d {
		if m := massAt(mass, l, i); m != 0 {
			d[i] = s.F[i] / m
		}
	}
	zero := make([]float64, n)
	d0 := ErrorNorm(s.Y, s.Y, zero, s.opt.Tol)
	d1 := ErrorNorm(d, s.Y, zero, s.opt.Tol)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}

	y1 := make([]float64, n)
	for i := range y1 {
		y1[i] = s.Y[i] + h0*d[i]
	}
	if err := evalRHS(s.P, s.T+h0, y1, s.f1, &s.stats.RHSEvals); err != nil {
		return h0
	}
	for i := range y1 {
		df := 0.0
		if m := massAt(mass, l, i); m != 0 {
			df = s.f1[i]/m - d[i]
		}
		y1[i] = df / h0
	}
	d2 := ErrorNorm(y1, s.Y, zero, s.opt.Tol)

	dm := math.Max(d1, d2)
	var h1 float64
	if dm <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/dm, s.ctl.Exponent)
	}
	return math.Min(100*h0, h1)
}

// Step takes one accepted step toward tStop and returns its dense output.
// The step never passes tStop and lands on it exactly when it gets close.
func (s *Session) Step(tStop float64) (*Hermite, error) {
	if !(tStop > s.T) {
		return nil, fmt.Errorf("integrators: stop time %g is not after t=%g", tStop, s.T)
	}
	proposed := s.H
	h := proposed
	convFails, errFails := 0, 0

	for {
		if s.Steps >= s.opt.MaxSteps {
			return nil, fmt.Errorf("%w (%d)", dynamo.ErrTooMuchWork, s.opt.MaxSteps)
		}
		if s.opt.MaxStep > 0 && h > s.opt.MaxStep {
			h = s.opt.MaxStep
		}
		tNew := s.T + h
		last := false
		if s.T+1.01*h >= tStop {
			h = tStop - s.T
			tNew = tStop
			last = true
		}
		hmin := math.Max(s.opt.MinStep, 16*epsilon*math.Max(math.Abs(s.T), 1))
		if h < hmin && !last {
			return nil, fmt.Errorf("%w: h=%g at t=%g", dynamo.ErrStepTooSmall, h, s.T)
		}

		err := s.S.Step(s.P, s.T, s.Y, s.F, h, &s.trial)
		if err == nil && !finite(s.trial.Y) {
			err = &dynamo.EvaluationError{Func: "step", Time: tNew, Index: -1}
		}
		var en float64
		if err == nil {
			en = ErrorNorm(s.trial.Err, s.Y, s.trial.Y, s.opt.Tol)
			if math.IsNaN(en) {
				err = &dynamo.EvaluationError{Func: "error estimate", Time: tNew, Index: -1}
			}
		}
		if err == nil && en <= 1 {
			err = s.finish(tNew)
		}
		if err != nil {
			if !Recoverable(err) {
				return nil, err
			}
			s.stats.ConvFailures++
			convFails++
			if convFails > s.opt.MaxConvFails {
				return nil, fmt.Errorf("%w after %d attempts at t=%g: %w", dynamo.ErrConvergence, convFails, s.T, err)
			}
			h *= 0.25
			s.growth = 1
			continue
		}
		if en > 1 {
			s.stats.Rejected++
			errFails++
			if errFails >= s.opt.MaxErrFails {
				return nil, fmt.Errorf("%w at t=%g (h=%g)", dynamo.ErrErrorTest, s.T, h)
			}
			h *= math.Min(s.ctl.Scale(en), 0.9)
			s.growth = 1
			continue
		}

		piece := newHermite(s.P.Layout(), s.P.Mass(), s.T, tNew, s.Y, s.trial.Y, s.F, s.f1)
		s.T = tNew
		copy(s.Y, s.trial.Y)
		copy(s.F, s.f1)
		s.Steps++

		next := h * math.Min(s.ctl.Scale(en), s.growth)
		if last && next < proposed {
			next = proposed
		}
		s.H = next
		s.growth = s.ctl.MaxScale
		return piece, nil
	}
}

// finish evaluates f at the end of an accepted attempt.
func (s *Session) finish(tNew float64) error {
	if s.trial.HaveF1 {
		copy(s.f1, s.trial.F1)
		return nil
	}
	return evalRHS(s.P, tNew, s.trial.Y, s.f1, &s.stats.RHSEvals)
}

const epsilon = 2.220446049250313e-16
