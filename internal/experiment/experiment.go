// Package experiment binds a run configuration to a model and the driver.
package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/rxsim/internal/config"
	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/sim"
)

type Experiment struct {
	cfg    *config.Config
	reg    *Registry
	model  dynamo.Model
	engine dynamo.Config
	driver *sim.Driver
}

// New validates cfg and builds the driver.
func New(reg *Registry, cfg *config.Config) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := reg.GetModel(cfg.Model, cfg.Size)
	if err != nil {
		return nil, err
	}
	engine, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	d, err := sim.New(m, engine)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.Model, err)
	}
	return &Experiment{cfg: cfg, reg: reg, model: m, engine: engine, driver: d}, nil
}

// WithDefaultMetrics attaches the registry's metrics for the model.
func (e *Experiment) WithDefaultMetrics() *Experiment {
	for _, m := range e.reg.DefaultMetrics(e.cfg.Model, e.model) {
		e.driver.AddMetric(m)
	}
	return e
}

// Request is the run request of the configuration, with nominal
// parameters when the file gives none.
func (e *Experiment) Request() (dynamo.Request, error) {
	return e.cfg.Request(Nominal(e.model))
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	req, err := e.Request()
	if err != nil {
		return nil, err
	}
	return e.driver.Run(ctx, req)
}

// RunWith runs the experiment with other parameters on the configured
// scale.
func (e *Experiment) RunWith(ctx context.Context, theta []float64) (*dynamo.Result, error) {
	req, err := e.Request()
	if err != nil {
		return nil, err
	}
	req.Parameters = theta
	return e.driver.Run(ctx, req)
}

// NewRunner builds an independent driver for ensemble workers. Metrics and
// observers of this experiment are not shared with it.
func (e *Experiment) NewRunner() (dynamo.Runner, error) {
	m, err := e.reg.GetModel(e.cfg.Model, e.cfg.Size)
	if err != nil {
		return nil, err
	}
	return sim.New(m, e.engine)
}

func (e *Experiment) Driver() *sim.Driver { return e.driver }

func (e *Experiment) Model() dynamo.Model { return e.model }

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Engine() dynamo.Config { return e.engine }

func (e *Experiment) Info() dynamo.Info { return Describe(e.cfg.Model, e.model) }
