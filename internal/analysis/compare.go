package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/sim"
)

// Variant is one stepper and sensitivity mode combination.
type Variant struct {
	Method      dynamo.Method
	Sensitivity dynamo.SensitivityMode
}

func (v Variant) String() string { return v.Method.String() + "/" + v.Sensitivity.String() }

// ParseVariant reads "method" or "method/sensitivity", e.g. "rk45/adjoint".
func ParseVariant(s string) (Variant, error) {
	var v Variant
	method, sens, _ := strings.Cut(s, "/")
	var err error
	if v.Method, err = dynamo.ParseMethod(method); err != nil {
		return v, err
	}
	if sens == "" {
		return v, nil
	}
	if v.Sensitivity, err = dynamo.ParseSensitivityMode(sens); err != nil {
		return v, err
	}
	return v, nil
}

// Comparison is the outcome of one variant. The differences are taken
// against the first variant that finished; they are NaN when there is
// nothing to compare.
type Comparison struct {
	Variant  Variant
	Status   dynamo.Status
	Err      error
	Elapsed  time.Duration
	Steps    int
	RHSEvals int
	LLH      float64

	StateDiff    float64 // max |x - x_ref| over all outputs
	GradientDiff float64 // max |SLLH - SLLH_ref|
}

// CompareVariants runs req once per variant on an otherwise identical
// configuration.
func CompareVariants(ctx context.Context, m dynamo.Model, cfg dynamo.Config, req dynamo.Request, variants []Variant) ([]Comparison, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: nothing to compare", dynamo.ErrInvalidConfig)
	}
	out := make([]Comparison, len(variants))
	var ref *dynamo.Result
	for i, v := range variants {
		c := Comparison{Variant: v, Status: dynamo.StatusFailed, LLH: math.NaN(), StateDiff: math.NaN(), GradientDiff: math.NaN()}
		vc := cfg
		vc.Method = v.Method
		vc.Sensitivity = v.Sensitivity

		d, err := sim.New(m, vc)
		if err != nil {
			c.Err = err
			out[i] = c
			continue
		}
		start := time.Now()
		res, err := d.Run(ctx, req)
		c.Elapsed = time.Since(start)
		c.Err = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out[:i], ctxErr
		}
		if res == nil {
			out[i] = c
			continue
		}
		c.Status = res.Status
		c.Steps = res.Diagnostics.Steps
		c.RHSEvals = res.Diagnostics.RHSEvals
		if req.Data != nil {
			c.LLH = res.LLH
		}
		if res.Status == dynamo.StatusFinished {
			if ref == nil {
				ref = res
			}
			c.StateDiff = maxStateDiff(res.X, ref.X)
			c.GradientDiff = maxDiff(res.SLLH, ref.SLLH)
		}
		out[i] = c
	}
	return out, nil
}

func maxStateDiff(a, b []dynamo.State) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	worst := 0.0
	for i := range a {
		d := maxDiff(a[i], b[i])
		if math.IsNaN(d) {
			return d
		}
		worst = max(worst, d)
	}
	return worst
}

func maxDiff(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}
	worst := 0.0
	for i := range a {
		worst = max(worst, math.Abs(a[i]-b[i]))
	}
	return worst
}
