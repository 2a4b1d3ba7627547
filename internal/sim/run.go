package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/events"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
	"github.com/san-kum/rxsim/internal/logging"
	"github.com/san-kum/rxsim/internal/metrics"
	"github.com/san-kum/rxsim/internal/sensitivity"
	"github.com/san-kum/rxsim/internal/steadystate"
)

// run is the mutable state of one Run or Replay. It is never shared.
type run struct {
	d      *Driver
	phase  Phase
	p      []float64
	chain  []float64
	nx, np int
	t0     float64
	times  []float64 // finite output times
	out    int       // next output index
	withSx bool

	prob    *forwardProblem
	stepper integrators.Stepper
	sess    *integrators.Session
	opt     integrators.Options
	started bool

	det     *events.Detector
	loc     events.Locator
	g       []float64
	scratch *StatePool
	nEvents int

	sx0   *mat.Dense
	ring  *sensitivity.Ring
	trace *sensitivity.Trace // set on replays
	obj   *metrics.Objective
	res   *dynamo.Result
	log   *slog.Logger

	ssStats integrators.Stats
	ssSteps int
	stepsB  int
}

func (d *Driver) newRun(p []float64, t0 float64, times []float64, withSx bool) *run {
	dims := d.model.Dims()
	r := &run{
		d: d, p: p, nx: dims.NX, np: dims.NP, t0: t0, times: times,
		withSx:  withSx && dims.NP > 0,
		scratch: NewStatePool(dims.NX),
		log:     logging.FromContext(context.Background()),
	}
	r.prob = newForwardProblem(d.model, p, d.sel, d.mass, r.withSx)
	r.stepper = d.stepper()
	r.opt = d.options(r.withSx)
	r.sess = integrators.NewSession(r.prob, r.stepper, r.opt)
	if d.rm != nil {
		r.det = events.NewDetector(d.rm.Events())
		r.loc = events.NewLocator(d.cfg.RootTol, d.cfg.EventOrder)
		r.g = make([]float64, r.det.Len())
	}
	return r
}

// enter moves to the next phase. An illegal transition is a driver bug.
func (r *run) enter(next Phase) {
	if !r.phase.CanTransition(next) {
		panic(fmt.Sprintf("sim: illegal phase transition %s -> %s", r.phase, next))
	}
	r.phase = next
}

func (r *run) sensitivities() bool {
	return r.d.cfg.Sensitivity != dynamo.SensitivityNone && r.np > 0
}

func (r *run) roots(t float64, x, g []float64) error {
	return r.d.rm.Roots(t, x, r.p, g)
}

func (r *run) initialize(ctx context.Context) error {
	d := r.d
	x0 := d.model.InitialState(r.p).Clone()
	if len(x0) != r.nx {
		return fmt.Errorf("%w: initial state has %d entries, model has %d", dynamo.ErrDimensionMismatch, len(x0), r.nx)
	}
	if r.sensitivities() {
		r.sx0 = mat.NewDense(r.nx, r.np, nil)
		if ism, ok := d.model.(dynamo.InitialSensitivityModel); ok {
			ism.InitialSensitivity(r.p, r.sx0)
		}
	}

	if d.cfg.Preequilibrate {
		ss, info, err := r.steadyState(ctx, r.t0, x0)
		if err != nil {
			return fmt.Errorf("preequilibration: %w", err)
		}
		r.res.Preeq = info
		x0 = ss.X
		if r.sx0 != nil {
			if ss.Sx != nil {
				r.sx0 = ss.Sx
			} else {
				r.sx0.Zero()
				r.res.Degrade("preequilibration: steady state sensitivities unavailable, Jacobian is singular")
			}
		}
	}

	blocks := r.prob.Layout().Blocks
	if err := r.sess.Init(r.t0, pack(x0, r.sx0, blocks)); err != nil {
		return err
	}
	r.started = true
	if r.det != nil {
		if err := r.roots(r.t0, x0, r.g); err != nil {
			return err
		}
		r.det.Reset(r.g)
	}
	return nil
}

func (r *run) checkpoint() sensitivity.Checkpoint {
	cp := sensitivity.Checkpoint{Session: r.sess.Snapshot(), Output: r.out, Events: r.nEvents}
	if r.det != nil {
		cp.Roots = r.det.Prev()
		cp.Spent = r.det.Spent()
	}
	return cp
}

func (r *run) restore(cp sensitivity.Checkpoint) {
	r.sess.Restore(cp.Session)
	r.started = true
	if r.det != nil {
		r.det.Restore(cp.Roots, cp.Spent)
	}
	r.out = cp.Output
	r.nEvents = cp.Events
	r.enter(PhaseStepping)
}

// advance steps until every finite output is emitted, or until the step
// counter reaches stop when stop >= 0.
func (r *run) advance(ctx context.Context, stop int) error {
	for r.out < len(r.times) {
		if r.ring != nil && r.ring.Due(r.sess.Steps) {
			interval := r.ring.Interval()
			r.ring.Push(r.checkpoint())
			if r.ring.Interval() != interval {
				r.log.Debug("checkpoints thinned", "interval", r.ring.Interval(), "t", r.sess.T)
			}
		}
		if stop >= 0 && r.sess.Steps >= stop {
			return nil
		}
		if tout := r.times[r.out]; tout > r.sess.T {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
			}
			rejected := r.sess.Stats().Rejected
			h, err := r.sess.Step(tout)
			if err != nil {
				return err
			}
			if n := r.sess.Stats().Rejected - rejected; n > 2 {
				r.log.Debug("step rejections", "count", n, "t", r.sess.T, "h", r.sess.H)
			}
			if err := r.accept(h); err != nil {
				return err
			}
		}
		r.emit()
	}
	return nil
}

// accept scans the roots at the end of an accepted step and handles the
// earliest crossing.
func (r *run) accept(h *integrators.Hermite) error {
	if r.det == nil {
		r.segment(h.T0, h.T1, h)
		return nil
	}
	if err := r.roots(r.sess.T, r.sess.Y[:r.nx], r.g); err != nil {
		return err
	}
	cand := r.det.Scan(r.g)
	if len(cand) == 0 {
		r.det.Reset(r.g)
		r.segment(h.T0, h.T1, h)
		return nil
	}

	r.enter(PhaseEventPending)
	xi := r.scratch.Get()
	defer r.scratch.Put(xi)
	fn := func(t float64, g []float64) error {
		h.Eval(t, xi)
		return r.roots(t, xi, g)
	}
	tStar, fired, err := r.loc.Locate(fn, r.det, cand, h.T0, h.T1, r.det.Prev())
	if err != nil {
		return err
	}
	r.segment(h.T0, tStar, h)

	y := make([]float64, len(r.sess.Y))
	h.Eval(tStar, y)
	if err := r.fire(tStar, y, fired); err != nil {
		return err
	}
	if err := r.sess.Restart(tStar, y); err != nil {
		return err
	}
	r.enter(PhaseStepping)
	return nil
}

func (r *run) segment(lo, hi float64, h *integrators.Hermite) {
	if r.trace == nil {
		return
	}
	r.trace.Segments = append(r.trace.Segments, sensitivity.Segment{
		Lo: lo, Hi: hi, Epoch: len(r.trace.Events), H: h,
	})
}

// fire applies the located events at t to y as one transition. Roots that
// change sign only because of the state jump fire in a cascade, bounded by
// MaxEvents.
func (r *run) fire(t float64, y []float64, fired []int) error {
	rm := r.d.rm
	x := y[:r.nx]
	gPrev := make([]float64, r.det.Len())
	if err := r.roots(t, x, gPrev); err != nil {
		return err
	}
	jumps := r.withSx || r.trace != nil
	total := 0
	for len(fired) > 0 {
		for _, ie := range fired {
			total++
			if total > r.d.cfg.MaxEvents {
				return fmt.Errorf("%w: event cascade exceeds %d events at t=%g", dynamo.ErrTooMuchWork, r.d.cfg.MaxEvents, t)
			}
			before := dynamo.State(x).Clone()
			after := events.Apply(rm, ie, t, before, r.p)
			if jumps {
				if err := r.jump(ie, t, before, after, y); err != nil {
					return err
				}
			}
			copy(x, after)
			r.det.MarkFired(ie)
			if r.trace == nil {
				name := r.det.Spec(ie).Name
				r.res.Events = append(r.res.Events, dynamo.EventRecord{
					Index:   r.nEvents,
					Root:    ie,
					Name:    name,
					Time:    t,
					XBefore: before,
					XAfter:  after.Clone(),
				})
				r.log.Debug("event", "root", ie, "name", name, "t", t)
			}
			r.nEvents++
		}

		gAfter := make([]float64, r.det.Len())
		if err := r.roots(t, x, gAfter); err != nil {
			return err
		}
		var next []int
		for i := range gAfter {
			if !slices.Contains(fired, i) && r.det.Crossed(i, gPrev[i], gAfter[i]) {
				next = append(next, i)
			}
		}
		gPrev, fired = gAfter, next
	}
	r.det.Reset(gPrev)
	return nil
}

// jump linearizes event ie and applies it to the sensitivities in y, or
// records it for the backward pass on replays.
func (r *run) jump(ie int, t float64, before, after dynamo.State, y []float64) error {
	fMinus := make([]float64, r.nx)
	fPlus := make([]float64, r.nx)
	if err := r.d.model.RHS(t, before, r.p, fMinus); err != nil {
		return err
	}
	if err := r.d.model.RHS(t, after, r.p, fPlus); err != nil {
		return err
	}
	j, err := events.NewJump(r.d.model, ie, t, before, r.p, fMinus, fPlus)
	if err != nil {
		if r.trace == nil && errors.Is(err, dynamo.ErrGrazing) {
			r.res.Degrade(fmt.Sprintf("sensitivities not updated at grazing event %d (t=%g)", ie, t))
			return nil
		}
		return err
	}
	if r.trace != nil {
		r.trace.Events = append(r.trace.Events, sensitivity.TraceEvent{Index: r.nEvents, Time: t, Jump: j})
		return nil
	}
	sx := unpackSx(y, r.nx, r.np)
	j.Forward(sx)
	storeSx(y, sx)
	return nil
}

// emit records every output time the session has reached.
func (r *run) emit() {
	for r.out < len(r.times) && r.times[r.out] <= r.sess.T {
		i, t := r.out, r.times[r.out]
		r.out++
		if r.trace != nil {
			r.trace.Outputs = append(r.trace.Outputs, sensitivity.TraceOutput{Index: i, Time: t})
			continue
		}
		var sx *mat.Dense
		if r.withSx {
			sx = unpackSx(r.sess.Y, r.nx, r.np)
			sensitivity.ChainColumns(sx, r.chain)
		}
		r.record(i, t, dynamo.State(r.sess.Y[:r.nx]).Clone(), sx)
	}
}

func (r *run) record(i int, t float64, x dynamo.State, sx *mat.Dense) {
	res := r.res
	res.X = append(res.X, x)
	if r.withSx {
		res.Sx = append(res.Sx, sx)
		res.Sy = append(res.Sy, metrics.OutputSensitivity(r.d.model, t, x, r.p, sx, r.chain))
	}
	res.Y = append(res.Y, metrics.Observables(r.d.model, t, x, r.p))
	if r.obj != nil {
		r.obj.Observe(i, t, x, sx)
	}
	for _, m := range r.d.metrics {
		m.Observe(i, t, x, sx)
	}
	for _, o := range r.d.observers {
		o.OnOutput(i, t, x)
	}
}

func (r *run) steadyState(ctx context.Context, t0 float64, x0 dynamo.State) (*steadystate.Result, *dynamo.SteadyStateInfo, error) {
	d := r.d
	opt := d.options(false)
	s := &steadystate.Solver{
		Model:  d.model,
		Sel:    d.sel,
		Method: d.cfg.Method,
		Mode:   d.cfg.SteadyState,
		Opt:    d.cfg.SteadyStateOpt,
		Step:   opt,
	}
	ss, err := s.Solve(ctx, t0, x0, r.p)
	if err != nil {
		return nil, nil, err
	}
	r.ssSteps += ss.Iterations
	r.ssStats.RHSEvals += ss.Stats.RHSEvals
	r.ssStats.JacEvals += ss.Stats.JacEvals
	r.ssStats.Linear.Symbolic += ss.Stats.Linear.Symbolic
	r.ssStats.Linear.Numeric += ss.Stats.Linear.Numeric
	info := &dynamo.SteadyStateInfo{
		Converged:  ss.Converged,
		Strategy:   ss.Strategy,
		Iterations: ss.Iterations,
		Time:       ss.Time,
		WRMS:       ss.WRMS,
	}
	if r.sensitivities() {
		sx, err := s.Sensitivity(t0+ss.Time, ss.X, r.p)
		switch {
		case err == nil:
			ss.Sx = sx
		case !errors.Is(err, linalg.ErrSingular):
			return nil, nil, err
		}
	}
	return ss, info, nil
}

// postequilibrate answers a +Inf output time with the steady state reached
// from the last finite output.
func (r *run) postequilibrate(ctx context.Context) error {
	x := dynamo.State(r.sess.Y[:r.nx]).Clone()
	ss, info, err := r.steadyState(ctx, r.sess.T, x)
	if err != nil {
		return err
	}
	r.res.Posteq = info
	r.res.XSS = ss.X
	var sx *mat.Dense
	if r.withSx {
		if ss.Sx == nil {
			r.res.Degrade("postequilibration: steady state sensitivities unavailable, Jacobian is singular")
			sx = mat.NewDense(r.nx, r.np, nil)
		} else {
			sx = mat.DenseCopyOf(ss.Sx)
			sensitivity.ChainColumns(sx, r.chain)
			r.res.SxSS = sx
		}
	}
	r.record(r.out, r.res.Times[r.out], ss.X.Clone(), sx)
	r.out++
	return nil
}

func (r *run) backward(ctx context.Context) error {
	d := r.d
	bw := &sensitivity.Backward{
		Model:    d.model,
		P:        r.p,
		Sel:      d.sel,
		Method:   d.cfg.Method,
		Opt:      d.options(false),
		Replayer: d.Replayer(r.p, r.t0, r.times),
	}
	ar, err := bw.Run(ctx, r.ring.Checkpoints(), r.obj.DataTerms(), r.sx0)
	if err != nil {
		return err
	}
	r.stepsB = ar.Steps
	grad := ar.Gradient
	for k, v := range r.obj.DirectGradient() {
		grad[k] += v
	}
	sensitivity.ChainVector(grad, r.chain)
	r.res.Gradient = grad
	return nil
}

// finish fills the objective, metric values and diagnostics.
func (r *run) finish() {
	res := r.res
	if r.obj != nil {
		res.Res = r.obj.Residuals()
		res.SRes = r.obj.SRes()
		res.FIM = r.obj.FIM()
		res.Chi2 = r.obj.Chi2()
		res.LLH = r.obj.Value()
		if res.Gradient == nil {
			res.Gradient = r.obj.Gradient()
		}
		res.SLLH = metrics.SLLH(res.Gradient)
	}
	if len(r.d.metrics) > 0 {
		res.Metrics = make(map[string]float64, len(r.d.metrics))
		for _, m := range r.d.metrics {
			res.Metrics[m.Name()] = m.Value()
		}
	}

	st := r.stepper.Stats()
	ss := r.sess.Stats()
	diag := &res.Diagnostics
	diag.Steps = r.sess.Steps + r.ssSteps
	diag.RejectedSteps = ss.Rejected
	diag.RHSEvals = ss.RHSEvals + st.RHSEvals + r.ssStats.RHSEvals
	diag.JacEvals = st.JacEvals + r.ssStats.JacEvals
	diag.ConvFailures = ss.ConvFailures
	diag.SymbolicFactorizations = st.Linear.Symbolic + r.ssStats.Linear.Symbolic
	diag.NumericFactorizations = st.Linear.Numeric + r.ssStats.Linear.Numeric
	diag.StepsB = r.stepsB
	if r.ring != nil {
		diag.Checkpoints = r.ring.Len()
	}
	diag.LinearSolver = r.d.sel.Kind.String()
	if r.d.sel.Reason != "" {
		diag.Messages = append(diag.Messages, "linear solver: "+r.d.sel.Reason)
	}
}

// fail marks the run failed and wraps err with the last reached state.
func (r *run) fail(phase string, err error) (*dynamo.Result, error) {
	r.enter(PhaseFailed)
	r.finish()
	r.res.Status = dynamo.StatusFailed
	f := &dynamo.IntegrationFailure{Phase: phase, Step: r.sess.Steps, Time: r.sess.T, Wrapped: err}
	if r.started {
		f.State = dynamo.State(r.sess.Y[:r.nx]).Clone()
	}
	r.log.Error("run failed", "phase", phase, "step", f.Step, "t", f.Time, "err", err)
	return r.res, f
}
