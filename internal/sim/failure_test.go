package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
	"github.com/san-kum/rxsim/internal/models"
)

// ramp is x' = p0 from x(0) = 0.
type ramp struct{}

func (ramp) Dims() dynamo.Dims                     { return dynamo.Dims{NX: 1, NP: 1} }
func (ramp) InitialState(p []float64) dynamo.State { return dynamo.State{0} }

func (ramp) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = p[0]
	return nil
}

func (ramp) Jacobian(t float64, x, p []float64, J linalg.Matrix) error { return nil }

func (ramp) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, 1)
	return nil
}

// pingPong has two roots whose assignments keep crossing each other: root
// 0 (x = 1) moves x to 2.5, past root 1 (x = 2), which moves it back to 0.5.
type pingPong struct{ ramp }

func (pingPong) Events() []dynamo.EventSpec {
	return []dynamo.EventSpec{{Name: "up", Direction: dynamo.Either}, {Name: "down", Direction: dynamo.Either}}
}

func (pingPong) Roots(t float64, x, p, g []float64) error {
	g[0] = x[0] - 1
	g[1] = x[0] - 2
	return nil
}

func (pingPong) EventAssignment(ie int, t float64, x, p, xnew []float64) {
	if ie == 0 {
		xnew[0] = 2.5
		return
	}
	xnew[0] = 0.5
}

// holey has a root that is undefined for 0.2 < x < 1.5.
type holey struct{ ramp }

func (holey) Events() []dynamo.EventSpec {
	return []dynamo.EventSpec{{Name: "hole", Direction: dynamo.Rising}}
}

func (holey) Roots(t float64, x, p, g []float64) error {
	switch {
	case x[0] <= 0.2:
		g[0] = -1
	case x[0] < 1.5:
		g[0] = math.NaN()
	default:
		g[0] = x[0] - 1.5
	}
	return nil
}

func (holey) EventAssignment(ie int, t float64, x, p, xnew []float64) { xnew[0] = x[0] }

// oneShotSawtooth resets only the first time it reaches the threshold.
type oneShotSawtooth struct{ *models.Sawtooth }

func (oneShotSawtooth) Events() []dynamo.EventSpec {
	return []dynamo.EventSpec{{Name: "reset", Direction: dynamo.Rising, OneShot: true}}
}

func runFailing(t *testing.T, m dynamo.Model, cfg dynamo.Config, req dynamo.Request) (*dynamo.Result, *dynamo.IntegrationFailure) {
	t.Helper()
	d, err := New(m, cfg)
	require.NoError(t, err)
	res, err := d.Run(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, dynamo.StatusFailed, res.Status)

	var f *dynamo.IntegrationFailure
	require.True(t, errors.As(err, &f), "got %v", err)
	return res, f
}

func TestEventCascadeIsBounded(t *testing.T) {
	cfg := accurateConfig()
	cfg.MaxEvents = 10
	res, f := runFailing(t, pingPong{}, cfg, dynamo.Request{Parameters: []float64{1}, Times: []float64{0, 0.5, 3}})

	assert.ErrorIs(t, f, dynamo.ErrTooMuchWork)
	assert.Equal(t, "stepping", f.Phase)
	require.Len(t, res.X, 2, "outputs before the cascade are kept")
	assert.InDelta(t, 0.5, res.X[1][0], 1e-9)

	require.Len(t, res.Events, 10)
	for i, e := range res.Events {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, i%2, e.Root)
		assert.InDelta(t, 1, e.Time, 1e-6)
	}
	assert.Equal(t, dynamo.State{2.5}, res.Events[0].XAfter)
	assert.Equal(t, dynamo.State{0.5}, res.Events[1].XAfter)
}

func TestOneShotEventFiresOnce(t *testing.T) {
	m := oneShotSawtooth{models.NewSawtooth()}
	res := mustRun(t, m, stiffConfig(), dynamo.Request{Parameters: []float64{1, 1}, Times: []float64{0, 5}})

	require.Len(t, res.Events, 1)
	assert.InDelta(t, 1, res.Events[0].Time, 1e-9)
	assert.InDelta(t, 4, res.X[1][0], 1e-8)
}

func TestEventLocalizationFailureKeepsOutputs(t *testing.T) {
	cfg := dynamo.DefaultConfig()
	cfg.Method = dynamo.MethodRK45
	cfg.InitialStep = 2
	res, f := runFailing(t, holey{}, cfg, dynamo.Request{Parameters: []float64{1}, Times: []float64{0, 5}})

	var loc *dynamo.EventLocalizationError
	require.True(t, errors.As(f, &loc), "got %v", f)
	assert.Equal(t, 0, loc.Root)
	assert.Equal(t, "stepping", f.Phase)
	require.Len(t, res.X, 1)
	assert.Equal(t, dynamo.State{0}, res.X[0])
	assert.Empty(t, res.Events)
}

func TestStepSizeUnderflowFails(t *testing.T) {
	cfg := dynamo.DefaultConfig()
	cfg.Method = dynamo.MethodRK45
	cfg.MinStep = 0.01
	res, f := runFailing(t, models.NewDecay(), cfg, dynamo.Request{Parameters: []float64{1000, 1}, Times: []float64{0, 1}})

	assert.ErrorIs(t, f, dynamo.ErrStepTooSmall)
	assert.Equal(t, "stepping", f.Phase)
	assert.Equal(t, dynamo.State{1}, f.State)
	require.Len(t, res.X, 1)
	assert.Equal(t, "dense", res.Diagnostics.LinearSolver)
}
