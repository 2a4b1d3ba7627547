package config

import (
	"math"
	"slices"
)

func preset(model string, mod func(c *Config)) *Config {
	c := DefaultConfig()
	c.Model = model
	if mod != nil {
		mod(c)
	}
	return c
}

var nan = math.NaN()

var Presets = map[string]map[string]*Config{
	"decay": {
		"basic": preset("decay", nil),
		"forward": preset("decay", func(c *Config) {
			c.SensitivityMode = "forward"
			c.SteadyState = true
		}),
		"fit": preset("decay", func(c *Config) {
			c.SensitivityMode = "adjoint"
			c.Parameters = []float64{-0.3, 1}
			c.ParameterScale = []string{"log10", "lin"}
			c.OutputTimes = []float64{0, 1, 2, 4, 8}
			c.Measurements = &MeasurementConfig{
				Y:     [][]float64{{1.02}, {0.58}, {nan}, {0.12}, {0.01}},
				Sigma: [][]float64{{0.05}, {0.05}, {0.05}, {0.05}, {0.05}},
			}
		}),
	},
	"conversion": {
		"preequilibrated": preset("conversion", func(c *Config) {
			c.Preequilibrate = true
			c.SensitivityMode = "forward"
		}),
		"newton": preset("conversion", func(c *Config) {
			c.SteadyStateMode = "newton"
			c.SteadyState = true
		}),
	},
	"robertson": {
		"stiff": preset("robertson", func(c *Config) {
			c.Duration = 40
			c.RelTol = 1e-4
			c.AbsTol = 1e-10
		}),
		"long": preset("robertson", func(c *Config) {
			c.OutputTimes = []float64{0, 0.4, 4, 40, 400, 4000, 40000}
			c.RelTol = 1e-4
			c.AbsTol = 1e-10
			c.MaxSteps = 50000
		}),
	},
	"robertson-dae": {
		"stiff": preset("robertson-dae", func(c *Config) {
			c.Duration = 40
			c.RelTol = 1e-4
			c.AbsTol = 1e-10
		}),
	},
	"sawtooth": {
		"period": preset("sawtooth", func(c *Config) {
			c.Outputs = 21
			c.SensitivityMode = "forward"
		}),
		"time-order": preset("sawtooth", func(c *Config) {
			c.EventOrder = "time"
		}),
	},
	"nanwall": {
		"recover": preset("nanwall", func(c *Config) {
			c.Method = "rk45"
			c.InitialStep = 8
		}),
	},
	"rotator": {
		"no-fixed-point": preset("rotator", func(c *Config) {
			c.SteadyState = true
			c.SteadyStateOpt.MaxSteps = 200
		}),
		"locked": preset("rotator", func(c *Config) {
			c.Parameters = []float64{0.5}
			c.SteadyState = true
		}),
	},
	"enzyme": {
		"forward": preset("enzyme", func(c *Config) {
			c.SensitivityMode = "forward"
		}),
		"adjoint": preset("enzyme", func(c *Config) {
			c.Method = "rk45"
			c.SensitivityMode = "adjoint"
			c.OutputTimes = []float64{0, 1, 2, 5, 10}
			c.Measurements = &MeasurementConfig{
				Y: [][]float64{{1, 0}, {0.62, 0.14}, {0.45, 0.27}, {0.22, 0.55}, {0.08, 0.8}},
			}
		}),
	},
	"chain": {
		"sparse": preset("chain", func(c *Config) {
			c.Size = 50
			c.LinearSolver = "sparse-direct"
		}),
		"iterative": preset("chain", func(c *Config) {
			c.Size = 50
			c.LinearSolver = "iterative"
		}),
	},
	"dosing": {
		"bolus": preset("dosing", func(c *Config) {
			c.SensitivityMode = "forward"
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
