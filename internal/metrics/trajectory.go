package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
)

// Peak is the largest value of one state over the outputs.
type Peak struct {
	name  string
	index int
	max   float64
	at    float64
	seen  bool
}

func NewPeak(index int, state string) *Peak {
	return &Peak{name: "peak_" + state, index: index}
}

func (p *Peak) Name() string { return p.name }

func (p *Peak) Observe(i int, t float64, x dynamo.State, sx *mat.Dense) {
	if p.index >= len(x) {
		return
	}
	if !p.seen || x[p.index] > p.max {
		p.max, p.at, p.seen = x[p.index], t, true
	}
}

func (p *Peak) Value() float64 { return p.max }

// Time is the output time of the peak.
func (p *Peak) Time() float64 { return p.at }

func (p *Peak) Reset() {
	p.max, p.at, p.seen = 0, 0, false
}

// Exposure integrates one state over the finite outputs with the
// trapezoidal rule (area under the curve).
type Exposure struct {
	name  string
	index int
	sum   float64
	lastT float64
	lastX float64
	n     int
}

func NewExposure(index int, state string) *Exposure {
	return &Exposure{name: "auc_" + state, index: index}
}

func (e *Exposure) Name() string { return e.name }

func (e *Exposure) Observe(i int, t float64, x dynamo.State, sx *mat.Dense) {
	if e.index >= len(x) || math.IsInf(t, 1) {
		return
	}
	v := x[e.index]
	if e.n > 0 {
		e.sum += 0.5 * (t - e.lastT) * (v + e.lastX)
	}
	e.lastT, e.lastX = t, v
	e.n++
}

func (e *Exposure) Value() float64 { return e.sum }

func (e *Exposure) Reset() {
	e.sum, e.lastT, e.lastX, e.n = 0, 0, 0, 0
}

// SensitivityNorm is the largest Frobenius norm of the state sensitivities
// over the outputs; zero for runs without sensitivities.
type SensitivityNorm struct {
	max float64
}

func NewSensitivityNorm() *SensitivityNorm { return &SensitivityNorm{} }

func (s *SensitivityNorm) Name() string { return "sx_norm" }

func (s *SensitivityNorm) Observe(i int, t float64, x dynamo.State, sx *mat.Dense) {
	if sx == nil {
		return
	}
	s.max = math.Max(s.max, mat.Norm(sx, 2))
}

func (s *SensitivityNorm) Value() float64 { return s.max }

func (s *SensitivityNorm) Reset() { s.max = 0 }

// ForStates returns a peak and an exposure metric for every named state.
func ForStates(states []string) []Metric {
	out := make([]Metric, 0, 2*len(states)+1)
	for i, name := range states {
		if name == "" {
			name = fmt.Sprintf("x%d", i)
		}
		out = append(out, NewPeak(i, name), NewExposure(i, name))
	}
	return append(out, NewSensitivityNorm())
}
