package integrators

import "math"

// Tolerance weights the local error. Only the leading Active components
// enter the norm; Active <= 0 means all.
type Tolerance struct {
	Atol   float64
	Rtol   float64
	Active int
}

// ErrorNorm is the WRMS norm of est with weights atol + rtol·max(|y0|,|y1|).
func ErrorNorm(est, y0, y1 []float64, tol Tolerance) float64 {
	n := len(est)
	if tol.Active > 0 && tol.Active < n {
		n = tol.Active
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		w := tol.Atol + tol.Rtol*math.Max(math.Abs(y0[i]), math.Abs(y1[i]))
		r := est[i] / w
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}

// Controller turns an error norm into a step size factor.
type Controller struct {
	Safety   float64
	MinScale float64
	MaxScale float64
	Exponent float64
}

func NewController(order int) Controller {
	return Controller{
		Safety:   0.9,
		MinScale: 0.2,
		MaxScale: 5.0,
		Exponent: 1 / float64(order+1),
	}
}

func (c Controller) Scale(en float64) float64 {
	if en <= 0 {
		return c.MaxScale
	}
	s := c.Safety * math.Pow(en, -c.Exponent)
	return math.Max(c.MinScale, math.Min(c.MaxScale, s))
}
