package dynamo

import (
	"fmt"
	"math"
)

// ParameterScale is the scale on which a parameter is presented to callers.
// The engine always works on linear values internally.
type ParameterScale int

const (
	ScaleLin ParameterScale = iota
	ScaleLog
	ScaleLog10
)

func (s ParameterScale) String() string {
	switch s {
	case ScaleLog:
		return "log"
	case ScaleLog10:
		return "log10"
	}
	return "lin"
}

func ParseParameterScale(s string) (ParameterScale, error) {
	switch s {
	case "", "lin", "none":
		return ScaleLin, nil
	case "log", "ln":
		return ScaleLog, nil
	case "log10":
		return ScaleLog10, nil
	}
	return 0, fmt.Errorf("%w: unknown parameter scale %q", ErrInvalidConfig, s)
}

// Unscale maps a scaled value θ to the linear value p.
func (s ParameterScale) Unscale(theta float64) float64 {
	switch s {
	case ScaleLog:
		return math.Exp(theta)
	case ScaleLog10:
		return math.Pow(10, theta)
	}
	return theta
}

// Scale maps a linear value p to θ.
func (s ParameterScale) Scale(p float64) float64 {
	switch s {
	case ScaleLog:
		return math.Log(p)
	case ScaleLog10:
		return math.Log10(p)
	}
	return p
}

// Chain is dp/dθ evaluated at the linear value p.
func (s ParameterScale) Chain(p float64) float64 {
	switch s {
	case ScaleLog:
		return p
	case ScaleLog10:
		return p * math.Ln10
	}
	return 1
}

// Scales is a per-parameter scale vector; missing entries are linear.
type Scales []ParameterScale

func (ss Scales) at(i int) ParameterScale {
	if i < len(ss) {
		return ss[i]
	}
	return ScaleLin
}

func (ss Scales) Unscale(theta []float64) []float64 {
	p := make([]float64, len(theta))
	for i, v := range theta {
		p[i] = ss.at(i).Unscale(v)
	}
	return p
}

func (ss Scales) Scale(p []float64) []float64 {
	theta := make([]float64, len(p))
	for i, v := range p {
		theta[i] = ss.at(i).Scale(v)
	}
	return theta
}

// Chain returns dp/dθ for every parameter.
func (ss Scales) Chain(p []float64) []float64 {
	c := make([]float64, len(p))
	for i, v := range p {
		c[i] = ss.at(i).Chain(v)
	}
	return c
}
