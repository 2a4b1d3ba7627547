package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/sim"
)

// SweepPoint is the steady state found for one parameter value.
type SweepPoint struct {
	Param     float64
	X         dynamo.State
	Converged bool
	Strategy  string
}

// SteadyStateSweep sets parameter index of theta to each value and asks
// for the steady state. Points without a fixed point are reported with
// Converged false instead of failing the sweep.
func SteadyStateSweep(ctx context.Context, m dynamo.Model, cfg dynamo.Config, theta []float64, index int, values []float64) ([]SweepPoint, error) {
	if index < 0 || index >= len(theta) {
		return nil, fmt.Errorf("%w: parameter %d out of range", dynamo.ErrInvalidConfig, index)
	}
	if cfg.SteadyState == dynamo.SteadyStateOff {
		cfg.SteadyState = dynamo.SteadyStateIntegration
	}
	cfg.Sensitivity = dynamo.SensitivityNone

	reqs := make([]dynamo.Request, len(values))
	for i, v := range values {
		p := append([]float64(nil), theta...)
		p[index] = v
		reqs[i] = dynamo.Request{Parameters: p, Times: []float64{0, math.Inf(1)}}
	}
	ens := dynamo.NewEnsemble(func() (dynamo.Runner, error) { return sim.New(m, cfg) }, 0)
	results, err := ens.Run(ctx, reqs)
	if ctx.Err() != nil {
		return nil, err
	}

	points := make([]SweepPoint, len(values))
	for i, v := range values {
		points[i].Param = v
		res := results[i]
		if res == nil {
			return nil, err
		}
		if res.Posteq != nil {
			points[i].Converged = res.Posteq.Converged && res.Status == dynamo.StatusFinished
			points[i].Strategy = res.Posteq.Strategy
		}
		if points[i].Converged {
			points[i].X = res.XSS
		}
	}
	return points, nil
}
