package automation

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rxsim/internal/config"
	"github.com/san-kum/rxsim/internal/experiment"
	"github.com/san-kum/rxsim/internal/storage"
)

const scenarioYAML = `
name: smoke
description: decay then a broken preset then robertson
steps:
  - name: decay
    model: decay
    parameters: [1, 2]
    duration: 3
    save: true
  - name: missing
    model: decay
    preset: nope
  - model: robertson
    preset: stiff
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYAML), 0644))
	return path
}

func TestRunScenario(t *testing.T) {
	sc, err := LoadScenario(writeScenario(t))
	require.NoError(t, err)
	assert.Equal(t, "smoke", sc.Name)
	require.Len(t, sc.Steps, 3)

	st := storage.New(t.TempDir())
	results, err := RunScenario(context.Background(), sc, experiment.NewRegistry(), st)
	require.NoError(t, err)
	require.Len(t, results, 3)

	decay := results[0]
	require.NoError(t, decay.Err)
	last := decay.Result.X[len(decay.Result.X)-1][0]
	assert.InEpsilon(t, 2*math.Exp(-3), last, 1e-4)
	assert.NotEmpty(t, decay.RunID)
	meta, err := st.Load(decay.RunID)
	require.NoError(t, err)
	assert.Equal(t, "decay", meta.Model)

	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Result)

	assert.Equal(t, "step 3", results[2].Name)
	assert.NoError(t, results[2].Err)
	assert.Empty(t, results[2].RunID)
}

func TestLoadScenarioRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\n"), 0644))
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestRunMonteCarlo(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputTimes = []float64{0, 1}
	exp, err := experiment.New(experiment.NewRegistry(), cfg)
	require.NoError(t, err)

	sum, err := RunMonteCarlo(context.Background(), exp, MonteCarloConfig{Spread: 0.05, NumTrials: 40, Seed: 7, Workers: 4})
	require.NoError(t, err)
	assert.Len(t, sum.Trials, 40)
	assert.Zero(t, sum.Failed)

	// x(1) = x0·exp(-k) around k = 0.5, x0 = 1
	assert.InDelta(t, math.Exp(-0.5), sum.Mean[0], 0.05)
	assert.Greater(t, sum.Std[0], 0.0)
	assert.Less(t, sum.Std[0], 0.2)

	again, err := RunMonteCarlo(context.Background(), exp, MonteCarloConfig{Spread: 0.05, NumTrials: 40, Seed: 7, Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, sum.Mean, again.Mean, "same seed gives the same trials")
}
