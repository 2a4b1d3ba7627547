package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Measurements are observed data aligned with Request.Times. Y[i] holds the
// observables at time i; NaN marks a missing value. Sigma may be nil, in
// which case every standard deviation is 1.
type Measurements struct {
	Y     [][]float64
	Sigma [][]float64
}

// SigmaAt returns the standard deviation of observable j at time i.
func (m *Measurements) SigmaAt(i, j int) float64 {
	if m.Sigma == nil || i >= len(m.Sigma) || j >= len(m.Sigma[i]) {
		return 1
	}
	return m.Sigma[i][j]
}

// Validate rejects standard deviations that are not positive and finite
// wherever a value was measured.
func (m *Measurements) Validate() error {
	for i, row := range m.Y {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if s := m.SigmaAt(i, j); !(s > 0) || math.IsInf(s, 1) {
				return fmt.Errorf("%w: sigma of measurement (%d, %d) is %g", ErrInvalidConfig, i, j, s)
			}
		}
	}
	return nil
}

// Request is the per-run input. Parameters are given on the configured
// parameter scale. Times must be non-decreasing and not before T0; a final
// +Inf requests the steady state after the last finite time.
type Request struct {
	Parameters []float64
	T0         float64
	Times      []float64
	Data       *Measurements
}

// Validate checks a request against model dimensions.
func (r Request) Validate(d Dims) error {
	if len(r.Parameters) != d.NP {
		return fmt.Errorf("%w: got %d parameters, model has %d", ErrDimensionMismatch, len(r.Parameters), d.NP)
	}
	if len(r.Times) == 0 {
		return fmt.Errorf("%w: no output times", ErrInvalidConfig)
	}
	for i, t := range r.Times {
		if math.IsNaN(t) || math.IsInf(t, -1) {
			return fmt.Errorf("%w: output time %d is %g", ErrInvalidConfig, i, t)
		}
		if math.IsInf(t, 1) && i != len(r.Times)-1 {
			return fmt.Errorf("%w: +Inf is only allowed as the last output time", ErrInvalidConfig)
		}
		if t < r.T0 {
			return fmt.Errorf("%w: output time %d is before t0=%g", ErrInvalidConfig, i, r.T0)
		}
		if i > 0 && t < r.Times[i-1] {
			return fmt.Errorf("%w: output times decrease at index %d", ErrInvalidConfig, i)
		}
	}
	if r.Data != nil && len(r.Data.Y) != len(r.Times) {
		return fmt.Errorf("%w: %d measurement rows for %d output times", ErrDimensionMismatch, len(r.Data.Y), len(r.Times))
	}
	if r.Data != nil {
		return r.Data.Validate()
	}
	return nil
}

type Status int

const (
	StatusNotRun Status = iota
	StatusFinished
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	}
	return "not-run"
}

// EventRecord is one applied event. Index is its position in the run's
// event sequence; events of one cascade share Time.
type EventRecord struct {
	Index   int
	Root    int
	Name    string
	Time    float64
	XBefore State
	XAfter  State
}

// SteadyStateInfo describes a preequilibration or postequilibration.
type SteadyStateInfo struct {
	Converged  bool
	Strategy   string
	Iterations int
	Time       float64
	WRMS       float64
}

type Diagnostics struct {
	Steps                  int
	RejectedSteps          int
	RHSEvals               int
	JacEvals               int
	ConvFailures           int
	SymbolicFactorizations int
	NumericFactorizations  int
	StepsB                 int
	Checkpoints            int
	LinearSolver           string
	Degraded               bool
	Messages               []string
}

type Result struct {
	Status Status
	Times  []float64
	X      []State
	Sx     []*mat.Dense // per output time, NX×NP on the parameter scale
	Y      [][]float64
	Sy     []*mat.Dense // per output time, NY×NP on the parameter scale
	Events []EventRecord

	XSS    State
	SxSS   *mat.Dense
	Preeq  *SteadyStateInfo
	Posteq *SteadyStateInfo

	// Objective values, present when the request carries data.
	Res  []float64
	SRes *mat.Dense // residual sensitivities, forward mode only
	FIM  *mat.Dense // Fisher information sresᵀ·sres
	Chi2 float64
	LLH  float64
	// Gradient is d(chi2/2)/dθ; SLLH is dLLH/dθ.
	Gradient []float64
	SLLH     []float64

	// Metrics holds the final value of every metric attached to the run.
	Metrics map[string]float64

	Diagnostics Diagnostics
}

// Degrade flags the result and records why.
func (r *Result) Degrade(msg string) {
	r.Diagnostics.Degraded = true
	r.Diagnostics.Messages = append(r.Diagnostics.Messages, msg)
}
