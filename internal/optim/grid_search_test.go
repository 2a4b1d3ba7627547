package optim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/models"
	"github.com/san-kum/rxsim/internal/sim"
)

func decayData(k, x0 float64, times []float64) *dynamo.Measurements {
	meas := &dynamo.Measurements{}
	for _, t := range times {
		meas.Y = append(meas.Y, []float64{x0 * math.Exp(-k*t)})
		meas.Sigma = append(meas.Sigma, []float64{0.01})
	}
	return meas
}

func decayRunner() (dynamo.Runner, error) {
	return sim.New(models.NewDecay(), dynamo.DefaultConfig())
}

func TestGridSearchFindsTrueParameters(t *testing.T) {
	times := []float64{0, 1, 2, 4}
	base := dynamo.Request{Parameters: []float64{1, 1}, Times: times, Data: decayData(0.5, 2, times)}

	gs := NewGridSearch([]int{0, 1}, [][]float64{{0.25, 0.5, 1}, {1, 2, 3}}).WithWorkers(3)
	best, points, err := gs.Search(context.Background(), decayRunner, base)
	require.NoError(t, err)
	assert.Len(t, points, 9)
	assert.Equal(t, []float64{0.5, 2}, best.Theta)
	assert.Equal(t, []float64{0.25, 1}, points[0].Theta)
	assert.Equal(t, []float64{1, 3}, points[8].Theta)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.NLLH, best.NLLH)
	}
	assert.Equal(t, []float64{1, 1}, base.Parameters, "base request is left alone")
}

func TestGridSearchSkipsFailedRuns(t *testing.T) {
	times := []float64{0, 1}
	base := dynamo.Request{Parameters: []float64{1}, Times: times, Data: &dynamo.Measurements{Y: [][]float64{{0}, {1}}}}
	newRunner := func() (dynamo.Runner, error) {
		cfg := dynamo.DefaultConfig()
		cfg.MaxSteps = 200
		return sim.New(models.NewRotator(), cfg)
	}
	// ω = 1e4 exhausts the step budget, ω = 0 is constant
	best, points, err := NewGridSearch([]int{0}, [][]float64{{1e4, 0}}).Search(context.Background(), newRunner, base)
	require.NoError(t, err)
	assert.True(t, math.IsInf(points[0].NLLH, 1))
	assert.Equal(t, []float64{0}, best.Theta)
}

func TestGridSearchNeedsData(t *testing.T) {
	_, _, err := NewGridSearch([]int{0}, [][]float64{{1}}).Search(context.Background(), decayRunner, dynamo.Request{Parameters: []float64{1, 1}, Times: []float64{0}})
	assert.True(t, errors.Is(err, dynamo.ErrInvalidConfig))

	_, _, err = NewGridSearch([]int{5}, [][]float64{{1}}).Search(context.Background(), decayRunner,
		dynamo.Request{Parameters: []float64{1, 1}, Times: []float64{0}, Data: decayData(1, 1, []float64{0})})
	assert.True(t, errors.Is(err, dynamo.ErrInvalidConfig))
}
