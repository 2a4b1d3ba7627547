// Package sim is the integration driver. A [Driver] binds a model to a
// configuration; every call to Run walks the phases
//
//	Initializing → Stepping ⇄ EventPending → [SteadyStateCheck] → Finished
//
// and ends in Failed on any fatal error. Forward sensitivities ride along
// with the state; adjoint runs checkpoint the forward pass and hand the
// checkpoints to the sensitivity package, which replays them through this
// driver.
package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
	"github.com/san-kum/rxsim/internal/logging"
	"github.com/san-kum/rxsim/internal/metrics"
	"github.com/san-kum/rxsim/internal/sensitivity"
)

// Observer is notified of every output of a run.
type Observer interface {
	OnOutput(i int, t float64, x dynamo.State)
}

// Driver runs one model under one configuration. Without attached metrics
// or observers a Driver is safe for concurrent use; attached ones are
// shared by every run.
type Driver struct {
	model dynamo.Model
	cfg   dynamo.Config
	sel   linalg.Selection
	rm    dynamo.RootModel
	mass  []float64
	name  string

	metrics   []metrics.Metric
	observers []Observer
}

// New resolves the linear algebra path and the optional model capabilities
// once for every run of the driver.
func New(m dynamo.Model, cfg dynamo.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{model: m, cfg: cfg, name: "model"}
	if desc, ok := m.(dynamo.Describer); ok {
		d.name = desc.Info().Name
	}

	var pattern *linalg.Pattern
	if sm, ok := m.(dynamo.SparseModel); ok {
		pattern = sm.SparsityPattern()
	}
	d.sel = linalg.Select(cfg.LinearSolver, m.Dims().NX, pattern, cfg.SparseThreshold)
	d.rm, _ = m.(dynamo.RootModel)
	if mm, ok := m.(dynamo.MassModel); ok {
		d.mass = mm.MassMatrix()
	}

	if dynamo.Algebraic(m) {
		if cfg.Sensitivity == dynamo.SensitivityAdjoint {
			return nil, fmt.Errorf("%w: adjoint sensitivities need a model without algebraic equations", dynamo.ErrInvalidConfig)
		}
		if cfg.Method == dynamo.MethodRK45 {
			return nil, fmt.Errorf("%w: %s cannot integrate algebraic equations", dynamo.ErrInvalidConfig, cfg.Method)
		}
	}
	return d, nil
}

func (d *Driver) AddMetric(m metrics.Metric) { d.metrics = append(d.metrics, m) }
func (d *Driver) AddObserver(o Observer)     { d.observers = append(d.observers, o) }

// Selection is the linear algebra path chosen for the model.
func (d *Driver) Selection() linalg.Selection { return d.sel }

func (d *Driver) Config() dynamo.Config { return d.cfg }

func (d *Driver) Model() dynamo.Model { return d.model }

// options derives the stepping options of a session.
func (d *Driver) options(withSx bool) integrators.Options {
	c := d.cfg
	opt := integrators.Options{
		Tol:          integrators.Tolerance{Atol: c.AbsTol, Rtol: c.RelTol},
		MinStep:      c.MinStep,
		MaxStep:      c.MaxStep,
		InitialStep:  c.InitialStep,
		MaxSteps:     c.MaxSteps,
		MaxConvFails: c.MaxConvFails,
	}
	if withSx && !c.SensitivityErrorControl {
		opt.Tol.Active = d.model.Dims().NX
	}
	return opt
}

func (d *Driver) stepper() integrators.Stepper {
	if d.cfg.Method == dynamo.MethodRK45 {
		return integrators.NewRK45()
	}
	return integrators.NewRosenbrock(d.sel)
}

// Run simulates one request. On a fatal error the partial result is
// returned together with a *dynamo.IntegrationFailure.
func (d *Driver) Run(ctx context.Context, req dynamo.Request) (*dynamo.Result, error) {
	if err := req.Validate(d.model.Dims()); err != nil {
		return nil, err
	}
	times := req.Times
	posteq := math.IsInf(times[len(times)-1], 1)
	if posteq {
		times = times[:len(times)-1]
		if d.cfg.SteadyState == dynamo.SteadyStateOff {
			return nil, fmt.Errorf("%w: +Inf output time with steady state mode off", dynamo.ErrInvalidConfig)
		}
	}
	adjoint := d.cfg.Sensitivity == dynamo.SensitivityAdjoint
	if adjoint {
		if req.Data == nil {
			return nil, fmt.Errorf("%w: adjoint sensitivities need measurements", dynamo.ErrInvalidConfig)
		}
		if posteq {
			return nil, fmt.Errorf("%w: adjoint sensitivities do not support +Inf output times", dynamo.ErrInvalidConfig)
		}
	}

	log := logging.FromContext(ctx).With("model", d.name)
	p := d.cfg.ParameterScale.Unscale(req.Parameters)
	r := d.newRun(p, req.T0, times, d.cfg.Sensitivity == dynamo.SensitivityForward)
	r.log = log
	r.chain = d.cfg.ParameterScale.Chain(p)
	r.res = &dynamo.Result{Times: append([]float64(nil), req.Times...)}
	if req.Data != nil {
		obj, err := metrics.NewObjective(d.model, p, r.chain, req.Data)
		if err != nil {
			return nil, err
		}
		r.obj = obj
	}
	for _, m := range d.metrics {
		m.Reset()
	}
	if adjoint {
		r.ring = sensitivity.NewRing(d.cfg.MaxCheckpoints, d.cfg.CheckpointInterval)
	}

	if err := r.initialize(ctx); err != nil {
		return r.fail("initializing", err)
	}
	r.enter(PhaseStepping)
	if err := r.advance(ctx, -1); err != nil {
		return r.fail("stepping", err)
	}
	if posteq {
		r.enter(PhaseSteadyStateCheck)
		if err := r.postequilibrate(ctx); err != nil {
			return r.fail("postequilibration", err)
		}
	}
	if adjoint {
		if err := r.backward(ctx); err != nil {
			return r.fail("adjoint", err)
		}
	}
	r.finish()
	r.enter(PhaseFinished)
	r.res.Status = dynamo.StatusFinished

	diag := r.res.Diagnostics
	log.Info("run finished", "steps", diag.Steps, "rejected", diag.RejectedSteps,
		"events", len(r.res.Events), "solver", diag.LinearSolver)
	if diag.Degraded {
		log.Warn("run degraded", "messages", diag.Messages)
	}
	return r.res, nil
}

// Replayer rebuilds forward trajectories of adjoint runs with parameters
// p (linear scale) for the sensitivity package.
func (d *Driver) Replayer(p []float64, t0 float64, times []float64) sensitivity.Replayer {
	return &replayer{d: d, p: p, t0: t0, times: times}
}

type replayer struct {
	d     *Driver
	p     []float64
	t0    float64
	times []float64
}

// Replay restores cp into a fresh run and steps until stop. No metrics,
// observers or results are touched.
func (rp *replayer) Replay(ctx context.Context, cp sensitivity.Checkpoint, stop int) (*sensitivity.Trace, error) {
	r := rp.d.newRun(rp.p, rp.t0, rp.times, false)
	r.trace = &sensitivity.Trace{}
	r.restore(cp)
	r.trace.Start = r.sess.T
	if err := r.advance(ctx, stop); err != nil {
		return nil, err
	}
	r.trace.End = r.sess.T
	return r.trace, nil
}
