package events

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
)

// Apply returns the post-event state of event ie.
func Apply(rm dynamo.RootModel, ie int, t float64, x, p []float64) dynamo.State {
	out := make(dynamo.State, len(x))
	rm.EventAssignment(ie, t, x, p, out)
	return out
}

// Jump is the linearized effect of an event on sensitivities:
//
//	sx⁺ = A·sx⁻ + B
//	A = ∂a/∂x − v·g_xᵀ/c
//	B = ∂a/∂p − v·g_pᵀ/c
//	v = ∂a/∂x·f⁻ + ∂a/∂t − f⁺
//	c = g_x·f⁻ + g_t
//
// where g is the root function and a the event assignment.
type Jump struct {
	Root int
	A    *mat.Dense
	B    *mat.Dense
}

// fdStep is the relative step of the central differences.
var fdStep = math.Cbrt(2.220446049250313e-16)

// NewJump linearizes event ie of m at the crossing (t, x⁻) with
// f⁻ = f(t, x⁻) and f⁺ = f(t, x⁺).
func NewJump(m dynamo.Model, ie int, t float64, x, p, fMinus, fPlus []float64) (*Jump, error) {
	rm, ok := m.(dynamo.RootModel)
	if !ok {
		return nil, fmt.Errorf("%w: model declares no events", dynamo.ErrInvalidConfig)
	}
	d := m.Dims()
	nx, np := d.NX, d.NP
	gx := make([]float64, nx)
	gp := make([]float64, np)
	ax := mat.NewDense(nx, nx, nil)
	ap := mat.NewDense(nx, max(np, 1), nil)
	at := make([]float64, nx)

	var gt float64
	if dm, ok := m.(dynamo.EventDerivativeModel); ok {
		gt = dm.RootDerivatives(ie, t, x, p, gx, gp)
		dm.AssignmentDerivatives(ie, t, x, p, ax, ap, at)
	} else {
		var err error
		if gt, err = rootDerivatives(rm, len(rm.Events()), ie, t, x, p, gx, gp); err != nil {
			return nil, err
		}
		assignmentDerivatives(rm, ie, t, x, p, ax, ap, at)
	}

	c := gt
	scale := math.Abs(gt)
	for j := range gx {
		c += gx[j] * fMinus[j]
		scale += math.Abs(gx[j] * fMinus[j])
	}
	if c == 0 || math.Abs(c) <= 1e-14*scale {
		return nil, fmt.Errorf("%w: root %d at t=%g", dynamo.ErrGrazing, ie, t)
	}

	v := make([]float64, nx)
	for i := 0; i < nx; i++ {
		s := at[i] - fPlus[i]
		for j := 0; j < nx; j++ {
			s += ax.At(i, j) * fMinus[j]
		}
		v[i] = s
	}

	j := &Jump{Root: ie, A: mat.NewDense(nx, nx, nil)}
	j.A.Copy(ax)
	for r := 0; r < nx; r++ {
		for k := 0; k < nx; k++ {
			j.A.Set(r, k, j.A.At(r, k)-v[r]*gx[k]/c)
		}
	}
	if np > 0 {
		j.B = mat.NewDense(nx, np, nil)
		j.B.Copy(ap)
		for r := 0; r < nx; r++ {
			for k := 0; k < np; k++ {
				j.B.Set(r, k, j.B.At(r, k)-v[r]*gp[k]/c)
			}
		}
	}
	return j, nil
}

// Forward updates sx in place: sx = A·sx + B.
func (j *Jump) Forward(sx *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(j.A, sx)
	if j.B != nil {
		tmp.Add(&tmp, j.B)
	}
	sx.Copy(&tmp)
}

// Adjoint propagates a costate backward through the event:
// λ⁻ = Aᵀ·λ⁺ and q += Bᵀ·λ⁺.
func (j *Jump) Adjoint(lambda, q []float64) {
	lp := mat.NewVecDense(len(lambda), append([]float64(nil), lambda...))
	if j.B != nil && len(q) > 0 {
		qv := mat.NewVecDense(len(q), q)
		var dq mat.VecDense
		dq.MulVec(j.B.T(), lp)
		qv.AddVec(qv, &dq)
	}
	lv := mat.NewVecDense(len(lambda), lambda)
	lv.MulVec(j.A.T(), lp)
}

func step(v float64) float64 { return fdStep * math.Max(1, math.Abs(v)) }

func rootDerivatives(rm dynamo.RootModel, ng, ie int, t float64, x, p, gx, gp []float64) (float64, error) {
	g := make([]float64, ng)
	eval := func(tt float64, xx, pp []float64) (float64, error) {
		if err := rm.Roots(tt, xx, pp, g); err != nil {
			return 0, err
		}
		return g[ie], nil
	}
	central := func(v []float64, k int, at func() (float64, error)) (float64, error) {
		orig := v[k]
		h := step(orig)
		v[k] = orig + h
		fp, err := at()
		if err != nil {
			return 0, err
		}
		v[k] = orig - h
		fm, err := at()
		v[k] = orig
		if err != nil {
			return 0, err
		}
		return (fp - fm) / (2 * h), nil
	}

	xx := append([]float64(nil), x...)
	pp := append([]float64(nil), p...)
	var err error
	for k := range xx {
		if gx[k], err = central(xx, k, func() (float64, error) { return eval(t, xx, pp) }); err != nil {
			return 0, err
		}
	}
	for k := range pp {
		if gp[k], err = central(pp, k, func() (float64, error) { return eval(t, xx, pp) }); err != nil {
			return 0, err
		}
	}
	ts := []float64{t}
	return central(ts, 0, func() (float64, error) { return eval(ts[0], xx, pp) })
}

func assignmentDerivatives(rm dynamo.RootModel, ie int, t float64, x, p []float64, ax, ap *mat.Dense, at []float64) {
	n := len(x)
	plus := make([]float64, n)
	minus := make([]float64, n)
	xx := append([]float64(nil), x...)
	pp := append([]float64(nil), p...)

	column := func(v []float64, k int, tt float64, set func(i int, d float64)) {
		orig := v[k]
		h := step(orig)
		v[k] = orig + h
		rm.EventAssignment(ie, tt, xx, pp, plus)
		v[k] = orig - h
		rm.EventAssignment(ie, tt, xx, pp, minus)
		v[k] = orig
		for i := 0; i < n; i++ {
			set(i, (plus[i]-minus[i])/(2*h))
		}
	}
	for k := range xx {
		column(xx, k, t, func(i int, d float64) { ax.Set(i, k, d) })
	}
	for k := range pp {
		column(pp, k, t, func(i int, d float64) { ap.Set(i, k, d) })
	}
	h := step(t)
	rm.EventAssignment(ie, t+h, xx, pp, plus)
	rm.EventAssignment(ie, t-h, xx, pp, minus)
	for i := 0; i < n; i++ {
		at[i] = (plus[i] - minus[i]) / (2 * h)
	}
}
