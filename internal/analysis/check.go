package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/sim"
)

type CheckOptions struct {
	Step    float64 // relative perturbation, default 1e-4
	AbsTol  float64 // default 1e-4
	RelTol  float64 // default 1e-3
	Workers int
}

func (o CheckOptions) withDefaults() CheckOptions {
	if o.Step <= 0 {
		o.Step = 1e-4
	}
	if o.AbsTol <= 0 {
		o.AbsTol = 1e-4
	}
	if o.RelTol <= 0 {
		o.RelTol = 1e-3
	}
	return o
}

// Mismatch is one compared derivative. State is -1 for gradient entries.
type Mismatch struct {
	Output    int
	State     int
	Parameter int
	Computed  float64
	FD        float64
}

func (m Mismatch) AbsErr() float64 { return math.Abs(m.Computed - m.FD) }

func (m Mismatch) String() string {
	if m.State < 0 {
		return fmt.Sprintf("dLLH/dp%d: %g vs fd %g", m.Parameter, m.Computed, m.FD)
	}
	return fmt.Sprintf("output %d dx%d/dp%d: %g vs fd %g", m.Output, m.State, m.Parameter, m.Computed, m.FD)
}

type SensitivityReport struct {
	Checked int
	Failed  []Mismatch
	Worst   Mismatch
	OK      bool
}

// CheckSensitivities compares forward sensitivities (and SLLH when the
// request has data) with central differences on the parameter scale.
func CheckSensitivities(ctx context.Context, m dynamo.Model, cfg dynamo.Config, req dynamo.Request, opt CheckOptions) (*SensitivityReport, error) {
	opt = opt.withDefaults()

	fwdCfg := cfg
	fwdCfg.Sensitivity = dynamo.SensitivityForward
	d, err := sim.New(m, fwdCfg)
	if err != nil {
		return nil, err
	}
	base, err := d.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("forward run: %w", err)
	}

	plainCfg := cfg
	plainCfg.Sensitivity = dynamo.SensitivityNone
	np := len(req.Parameters)
	steps := make([]float64, np)
	reqs := make([]dynamo.Request, 0, 2*np)
	for k, theta := range req.Parameters {
		steps[k] = opt.Step * math.Max(math.Abs(theta), 1)
		for _, sign := range []float64{1, -1} {
			r := req
			r.Parameters = append([]float64(nil), req.Parameters...)
			r.Parameters[k] += sign * steps[k]
			reqs = append(reqs, r)
		}
	}
	ens := dynamo.NewEnsemble(func() (dynamo.Runner, error) { return sim.New(m, plainCfg) }, opt.Workers)
	perturbed, err := ens.Run(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("perturbed runs: %w", err)
	}

	rep := &SensitivityReport{OK: true}
	check := func(mm Mismatch) {
		rep.Checked++
		if mm.AbsErr() > rep.Worst.AbsErr() || rep.Checked == 1 {
			rep.Worst = mm
		}
		if mm.AbsErr() > opt.AbsTol+opt.RelTol*math.Abs(mm.FD) {
			rep.Failed = append(rep.Failed, mm)
			rep.OK = false
		}
	}
	for k := 0; k < np; k++ {
		plus, minus := perturbed[2*k], perturbed[2*k+1]
		for i, sx := range base.Sx {
			nx, _ := sx.Dims()
			for j := 0; j < nx; j++ {
				fd := (plus.X[i][j] - minus.X[i][j]) / (2 * steps[k])
				check(Mismatch{Output: i, State: j, Parameter: k, Computed: sx.At(j, k), FD: fd})
			}
		}
		if req.Data != nil {
			fd := (plus.LLH - minus.LLH) / (2 * steps[k])
			check(Mismatch{Output: -1, State: -1, Parameter: k, Computed: base.SLLH[k], FD: fd})
		}
	}
	return rep, nil
}
