// Package automation runs scripted batches: scenario files with several
// configured runs, and Monte Carlo propagation of parameter uncertainty.
package automation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/rxsim/internal/config"
	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/experiment"
	"github.com/san-kum/rxsim/internal/logging"
	"github.com/san-kum/rxsim/internal/storage"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one run. The base configuration comes from Config (a
// file), else Preset, else the defaults; the remaining fields override it.
type ScenarioStep struct {
	Name        string    `yaml:"name"`
	Model       string    `yaml:"model"`
	Preset      string    `yaml:"preset"`
	Config      string    `yaml:"config"`
	Parameters  []float64 `yaml:"parameters"`
	Sensitivity string    `yaml:"sensitivity_mode"`
	Duration    float64   `yaml:"duration"`
	Save        bool      `yaml:"save"`
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no steps", dynamo.ErrInvalidConfig, scenario.Name)
	}
	return &scenario, nil
}

func (s ScenarioStep) resolve() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case s.Config != "":
		loaded, err := config.Load(s.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case s.Preset != "":
		cfg = config.GetPreset(s.Model, s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %s for model %s", s.Preset, s.Model)
		}
	default:
		cfg = config.DefaultConfig()
	}
	if s.Model != "" {
		cfg.Model = s.Model
	}
	if len(s.Parameters) > 0 {
		cfg.Parameters = s.Parameters
	}
	if s.Sensitivity != "" {
		cfg.SensitivityMode = s.Sensitivity
	}
	if s.Duration > 0 {
		cfg.Duration = s.Duration
		cfg.OutputTimes = nil
	}
	return cfg, nil
}

// StepResult is the outcome of one scenario step. Result is nil when the
// step could not be set up.
type StepResult struct {
	Name   string
	Result *dynamo.Result
	RunID  string
	Err    error
}

// RunScenario executes all steps in order. A failing step is recorded and
// the scenario goes on; st may be nil when nothing is saved.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, st *storage.Store) ([]StepResult, error) {
	log := logging.FromContext(ctx).With("scenario", scenario.Name)
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log.Info("running step", "step", name, "index", i+1, "of", len(scenario.Steps))

		sr := StepResult{Name: name}
		cfg, err := step.resolve()
		if err != nil {
			sr.Err = fmt.Errorf("%s: %w", name, err)
			results = append(results, sr)
			continue
		}
		exp, err := experiment.New(registry, cfg)
		if err != nil {
			sr.Err = fmt.Errorf("%s: %w", name, err)
			results = append(results, sr)
			continue
		}
		exp.WithDefaultMetrics()

		sr.Result, sr.Err = exp.Run(ctx)
		if sr.Err != nil {
			log.Warn("step failed", "step", name, "err", sr.Err)
		}
		if step.Save && st != nil && sr.Result != nil {
			req, _ := exp.Request()
			info := exp.Info()
			meta := storage.RunMetadata{
				Model:       cfg.Model,
				Method:      exp.Engine().Method.String(),
				Sensitivity: exp.Engine().Sensitivity.String(),
				States:      info.States,
				Parameters:  info.Parameters,
				Theta:       req.Parameters,
			}
			id, err := st.Save(meta, sr.Result, sr.Err)
			if err != nil {
				return results, fmt.Errorf("%s: save: %w", name, err)
			}
			sr.RunID = id
		}
		results = append(results, sr)
	}

	return results, nil
}

// MonteCarloConfig defines Monte Carlo simulation parameters
type MonteCarloConfig struct {
	Spread    float64 // standard deviation of the perturbation on the parameter scale
	NumTrials int
	Seed      int64
	Workers   int
}

// MonteCarloResult is one trial.
type MonteCarloResult struct {
	TrialID    int
	Theta      []float64
	FinalState dynamo.State
	Failed     bool
}

// MonteCarloSummary holds the trials and the statistics of the last
// output state over the successful ones.
type MonteCarloSummary struct {
	Trials []MonteCarloResult
	Failed int
	Mean   []float64
	Std    []float64
}

// RunMonteCarlo perturbs every parameter of the experiment's request with
// Gaussian noise and runs the trials concurrently.
func RunMonteCarlo(ctx context.Context, exp *experiment.Experiment, cfg MonteCarloConfig) (*MonteCarloSummary, error) {
	base, err := exp.Request()
	if err != nil {
		return nil, err
	}
	base.Data = nil

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	reqs := make([]dynamo.Request, cfg.NumTrials)
	for trial := range reqs {
		theta := make([]float64, len(base.Parameters))
		for i, v := range base.Parameters {
			theta[i] = v + rng.NormFloat64()*cfg.Spread
		}
		reqs[trial] = base
		reqs[trial].Parameters = theta
	}

	results, err := dynamo.NewEnsemble(exp.NewRunner, cfg.Workers).Run(ctx, reqs)
	if ctx.Err() != nil {
		return nil, err
	}
	if err != nil && !slices.ContainsFunc(results, func(r *dynamo.Result) bool { return r != nil }) {
		return nil, err
	}

	sum := &MonteCarloSummary{Trials: make([]MonteCarloResult, len(reqs))}
	var n float64
	for trial, res := range results {
		mc := MonteCarloResult{TrialID: trial, Theta: reqs[trial].Parameters}
		if res == nil || res.Status != dynamo.StatusFinished || len(res.X) == 0 {
			mc.Failed = true
			sum.Failed++
			sum.Trials[trial] = mc
			continue
		}
		mc.FinalState = res.X[len(res.X)-1]
		sum.Trials[trial] = mc

		// Welford
		if sum.Mean == nil {
			sum.Mean = make([]float64, len(mc.FinalState))
			sum.Std = make([]float64, len(mc.FinalState))
		}
		n++
		for i, v := range mc.FinalState {
			d := v - sum.Mean[i]
			sum.Mean[i] += d / n
			sum.Std[i] += d * (v - sum.Mean[i])
		}
	}
	for i := range sum.Std {
		if n > 1 {
			sum.Std[i] = math.Sqrt(sum.Std[i] / (n - 1))
		} else {
			sum.Std[i] = 0
		}
	}
	return sum, nil
}
