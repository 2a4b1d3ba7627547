// Package config holds the YAML run configuration of rxsim and converts it
// into engine options and a run request.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

const (
	DefaultAbsTol   = 1e-8
	DefaultRelTol   = 1e-6
	DefaultMaxSteps = 10000
	DefaultDuration = 10.0
	DefaultOutputs  = 51
)

type Config struct {
	Model          string    `yaml:"model"`
	Size           int       `yaml:"size,omitempty"`
	Parameters     []float64 `yaml:"parameters,omitempty"`
	ParameterScale []string  `yaml:"parameter_scale,omitempty"`

	T0          float64   `yaml:"t0"`
	Duration    float64   `yaml:"duration"`
	Outputs     int       `yaml:"outputs"`
	OutputTimes []float64 `yaml:"output_times,omitempty"`
	SteadyState bool      `yaml:"steady_state_output"`

	AbsTol          float64 `yaml:"absolute_tolerance"`
	RelTol          float64 `yaml:"relative_tolerance"`
	MaxSteps        int     `yaml:"max_steps"`
	Method          string  `yaml:"method"`
	LinearSolver    string  `yaml:"linear_solver"`
	SparseThreshold int     `yaml:"sparse_threshold"`
	MaxConvFails    int     `yaml:"max_conv_fails"`
	MinStep         float64 `yaml:"min_step,omitempty"`
	MaxStep         float64 `yaml:"max_step,omitempty"`
	InitialStep     float64 `yaml:"initial_step,omitempty"`

	SensitivityMode         string `yaml:"sensitivity_mode"`
	SensitivityErrorControl bool   `yaml:"sensitivity_error_control"`
	CheckpointInterval      int    `yaml:"checkpoint_interval"`
	MaxCheckpoints          int    `yaml:"max_checkpoints"`

	RootTol    float64 `yaml:"root_tolerance"`
	EventOrder string  `yaml:"event_order"`
	MaxEvents  int     `yaml:"max_events"`

	SteadyStateMode string            `yaml:"steady_state_mode"`
	Preequilibrate  bool              `yaml:"preequilibrate"`
	SteadyStateOpt  SteadyStateConfig `yaml:"steady_state"`

	Measurements *MeasurementConfig `yaml:"measurements,omitempty"`
}

type SteadyStateConfig struct {
	AbsTol         float64 `yaml:"atol"`
	RelTol         float64 `yaml:"rtol"`
	MaxSteps       int     `yaml:"max_steps"`
	NewtonMaxSteps int     `yaml:"newton_max_steps"`
	NewtonDamping  bool    `yaml:"newton_damping"`
	MaxTime        float64 `yaml:"max_time,omitempty"`
}

// MeasurementConfig holds data rows aligned with the output times. Missing
// values are written as .nan.
type MeasurementConfig struct {
	Y     [][]float64 `yaml:"y"`
	Sigma [][]float64 `yaml:"sigma,omitempty"`
}

func DefaultConfig() *Config {
	e := dynamo.DefaultConfig()
	return &Config{
		Model:                   "decay",
		Duration:                DefaultDuration,
		Outputs:                 DefaultOutputs,
		AbsTol:                  DefaultAbsTol,
		RelTol:                  DefaultRelTol,
		MaxSteps:                DefaultMaxSteps,
		Method:                  e.Method.String(),
		LinearSolver:            e.LinearSolver.String(),
		SparseThreshold:         e.SparseThreshold,
		MaxConvFails:            e.MaxConvFails,
		SensitivityMode:         e.Sensitivity.String(),
		SensitivityErrorControl: e.SensitivityErrorControl,
		CheckpointInterval:      e.CheckpointInterval,
		MaxCheckpoints:          e.MaxCheckpoints,
		RootTol:                 e.RootTol,
		EventOrder:              e.EventOrder.String(),
		MaxEvents:               e.MaxEvents,
		SteadyStateMode:         e.SteadyState.String(),
		SteadyStateOpt: SteadyStateConfig{
			AbsTol:         e.SteadyStateOpt.AbsTol,
			RelTol:         e.SteadyStateOpt.RelTol,
			MaxSteps:       e.SteadyStateOpt.MaxSteps,
			NewtonMaxSteps: e.SteadyStateOpt.NewtonMaxSteps,
			NewtonDamping:  e.SteadyStateOpt.NewtonDamping,
			MaxTime:        e.SteadyStateOpt.MaxTime,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy, so presets can be modified by callers.
func (c *Config) Clone() *Config {
	out := *c
	out.Parameters = append([]float64(nil), c.Parameters...)
	out.ParameterScale = append([]string(nil), c.ParameterScale...)
	out.OutputTimes = append([]float64(nil), c.OutputTimes...)
	if c.Measurements != nil {
		out.Measurements = &MeasurementConfig{
			Y:     copyRows(c.Measurements.Y),
			Sigma: copyRows(c.Measurements.Sigma),
		}
	}
	return &out
}

func copyRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Validate parses every option through the engine.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: no model", dynamo.ErrInvalidConfig)
	}
	if len(c.OutputTimes) == 0 && (c.Duration <= 0 || c.Outputs < 2) {
		return fmt.Errorf("%w: need output_times or a positive duration with at least 2 outputs", dynamo.ErrInvalidConfig)
	}
	e, err := c.Engine()
	if err != nil {
		return err
	}
	return e.Validate()
}

// Engine converts the file options into engine options.
func (c *Config) Engine() (dynamo.Config, error) {
	e := dynamo.DefaultConfig()
	var err error
	if e.Method, err = dynamo.ParseMethod(c.Method); err != nil {
		return e, err
	}
	if e.LinearSolver, err = linalg.ParseKind(c.LinearSolver); err != nil {
		return e, fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, err)
	}
	if e.Sensitivity, err = dynamo.ParseSensitivityMode(c.SensitivityMode); err != nil {
		return e, err
	}
	if e.SteadyState, err = dynamo.ParseSteadyStateMode(c.SteadyStateMode); err != nil {
		return e, err
	}
	if e.EventOrder, err = dynamo.ParseEventOrder(c.EventOrder); err != nil {
		return e, err
	}
	for i, s := range c.ParameterScale {
		sc, err := dynamo.ParseParameterScale(s)
		if err != nil {
			return e, fmt.Errorf("parameter %d: %w", i, err)
		}
		e.ParameterScale = append(e.ParameterScale, sc)
	}

	e.AbsTol = c.AbsTol
	e.RelTol = c.RelTol
	e.MaxSteps = c.MaxSteps
	e.SparseThreshold = c.SparseThreshold
	e.MaxConvFails = c.MaxConvFails
	e.MinStep = c.MinStep
	e.MaxStep = c.MaxStep
	e.InitialStep = c.InitialStep
	e.SensitivityErrorControl = c.SensitivityErrorControl
	e.CheckpointInterval = c.CheckpointInterval
	e.MaxCheckpoints = c.MaxCheckpoints
	e.RootTol = c.RootTol
	e.MaxEvents = c.MaxEvents
	e.Preequilibrate = c.Preequilibrate
	e.SteadyStateOpt = dynamo.SteadyStateOptions{
		AbsTol:         c.SteadyStateOpt.AbsTol,
		RelTol:         c.SteadyStateOpt.RelTol,
		MaxSteps:       c.SteadyStateOpt.MaxSteps,
		NewtonMaxSteps: c.SteadyStateOpt.NewtonMaxSteps,
		NewtonDamping:  c.SteadyStateOpt.NewtonDamping,
		MaxTime:        c.SteadyStateOpt.MaxTime,
	}
	return e, nil
}

// Times returns the output grid: output_times when given, otherwise an
// even grid over [t0, t0+duration]. A steady-state output adds +Inf.
func (c *Config) Times() []float64 {
	var times []float64
	if len(c.OutputTimes) > 0 {
		times = append(times, c.OutputTimes...)
	} else {
		times = make([]float64, c.Outputs)
		dt := c.Duration / float64(c.Outputs-1)
		for i := range times {
			times[i] = c.T0 + float64(i)*dt
		}
		times[len(times)-1] = c.T0 + c.Duration
	}
	if c.SteadyState && !math.IsInf(times[len(times)-1], 1) {
		times = append(times, math.Inf(1))
	}
	return times
}

// Request builds the run request. nominal fills in the parameters when the
// file gives none; they are on linear scale and get scaled here.
func (c *Config) Request(nominal []float64) (dynamo.Request, error) {
	req := dynamo.Request{T0: c.T0, Times: c.Times(), Parameters: c.Parameters}
	if len(req.Parameters) == 0 {
		e, err := c.Engine()
		if err != nil {
			return req, err
		}
		req.Parameters = e.ParameterScale.Scale(nominal)
	}
	if c.Measurements != nil {
		req.Data = &dynamo.Measurements{Y: c.Measurements.Y, Sigma: c.Measurements.Sigma}
	}
	return req, nil
}
