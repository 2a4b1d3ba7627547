package integrators

// Hermite is the cubic dense output of one accepted step. Algebraic
// components are interpolated linearly.
type Hermite struct {
	T0, T1 float64
	Y0, Y1 []float64
	D0, D1 []float64 // time derivatives at the ends
	Alg    []bool    // nil when every component is differential
}

func newHermite(l Layout, mass []float64, t0, t1 float64, y0, y1, f0, f1 []float64) *Hermite {
	n := len(y0)
	h := &Hermite{
		T0: t0, T1: t1,
		Y0: append([]float64(nil), y0...),
		Y1: append([]float64(nil), y1...),
		D0: make([]float64, n),
		D1: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		m := massAt(mass, l, i)
		if m == 0 {
			if h.Alg == nil {
				h.Alg = make([]bool, n)
			}
			h.Alg[i] = true
			continue
		}
		h.D0[i] = f0[i] / m
		h.D1[i] = f1[i] / m
	}
	return h
}

// Eval writes the interpolant at t into out. Only the leading len(out)
// components are evaluated.
func (h *Hermite) Eval(t float64, out []float64) {
	dt := h.T1 - h.T0
	if dt == 0 {
		copy(out, h.Y1)
		return
	}
	s := (t - h.T0) / dt
	h00 := (1 + 2*s) * (1 - s) * (1 - s)
	h10 := s * (1 - s) * (1 - s)
	h01 := s * s * (3 - 2*s)
	h11 := s * s * (s - 1)
	for i := range out {
		if h.Alg != nil && h.Alg[i] {
			out[i] = (1-s)*h.Y0[i] + s*h.Y1[i]
			continue
		}
		out[i] = h00*h.Y0[i] + h10*dt*h.D0[i] + h01*h.Y1[i] + h11*dt*h.D1[i]
	}
}
