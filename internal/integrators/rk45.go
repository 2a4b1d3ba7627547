package integrators

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is the explicit Dormand-Prince 5(4) pair. The last stage is
// f(t+h, y1), which the session reuses as the next step's f0. It assumes an
// identity mass matrix.
type RK45 struct {
	k2, k3, k4, k5, k6, k7 []float64
	x                      []float64
	stats                  Stats
}

func NewRK45() *RK45 {
	return &RK45{}
}

func (r *RK45) Name() string { return "rk45" }
func (r *RK45) Order() int   { return 4 }
func (r *RK45) Reset()       {}
func (r *RK45) Stats() Stats { return r.stats }

func (r *RK45) Step(p Problem, t float64, y, k1 []float64, h float64, tr *Trial) error {
	n := len(y)
	for _, b := range []*[]float64{&r.k2, &r.k3, &r.k4, &r.k5, &r.k6, &r.k7, &r.x} {
		*b = resize(*b, n)
	}
	tr.Y = resize(tr.Y, n)
	tr.Err = resize(tr.Err, n)
	tr.F1 = resize(tr.F1, n)
	tr.HaveF1 = false
	ev := &r.stats.RHSEvals

	for i := 0; i < n; i++ {
		r.x[i] = y[i] + h*b21*k1[i]
	}
	if err := evalRHS(p, t+a2*h, r.x, r.k2, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		r.x[i] = y[i] + h*(b31*k1[i]+b32*r.k2[i])
	}
	if err := evalRHS(p, t+a3*h, r.x, r.k3, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		r.x[i] = y[i] + h*(b41*k1[i]+b42*r.k2[i]+b43*r.k3[i])
	}
	if err := evalRHS(p, t+a4*h, r.x, r.k4, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		r.x[i] = y[i] + h*(b51*k1[i]+b52*r.k2[i]+b53*r.k3[i]+b54*r.k4[i])
	}
	if err := evalRHS(p, t+a5*h, r.x, r.k5, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		r.x[i] = y[i] + h*(b61*k1[i]+b62*r.k2[i]+b63*r.k3[i]+b64*r.k4[i]+b65*r.k5[i])
	}
	if err := evalRHS(p, t+h, r.x, r.k6, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		tr.Y[i] = y[i] + h*(c1*k1[i]+c3*r.k3[i]+c4*r.k4[i]+c5*r.k5[i]+c6*r.k6[i])
	}
	if err := evalRHS(p, t+h, tr.Y, r.k7, ev); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		tr.Err[i] = h * (dc1*k1[i] + dc3*r.k3[i] + dc4*r.k4[i] + dc5*r.k5[i] + dc6*r.k6[i] + dc7*r.k7[i])
	}
	copy(tr.F1, r.k7)
	tr.HaveF1 = true
	return nil
}
