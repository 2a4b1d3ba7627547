// Package metrics accumulates scalar quantities over the outputs of a run.
// The main metric is the Gaussian objective that compares observables with
// measurements and feeds the gradient computation.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/sensitivity"
)

// Metric observes every output of a run.
type Metric interface {
	Name() string
	Observe(i int, t float64, x dynamo.State, sx *mat.Dense)
	Value() float64
	Reset()
}

// Observables evaluates y(t, x). Models without observables observe x.
func Observables(m dynamo.Model, t float64, x, p []float64) []float64 {
	om, ok := m.(dynamo.ObservableModel)
	if !ok {
		return append([]float64(nil), x...)
	}
	y := make([]float64, om.NY())
	om.Observables(t, x, p, y)
	return y
}

// OutputSensitivity is sy = ∂y/∂x·sx + ∂y/∂p·diag(chain) for sx on the
// parameter scale. Models without observables return a copy of sx.
func OutputSensitivity(m dynamo.Model, t float64, x, p []float64, sx *mat.Dense, chain []float64) *mat.Dense {
	om, ok := m.(dynamo.ObservableModel)
	if !ok {
		return mat.DenseCopyOf(sx)
	}
	nx, np := sx.Dims()
	ny := om.NY()
	dydx := mat.NewDense(ny, nx, nil)
	dydp := mat.NewDense(ny, np, nil)
	om.ObservableStateJacobian(t, x, p, dydx)
	om.ObservableParameterJacobian(t, x, p, dydp)
	sy := mat.NewDense(ny, np, nil)
	sy.Mul(dydx, sx)
	for j := 0; j < ny; j++ {
		for k := 0; k < np; k++ {
			sy.Set(j, k, sy.At(j, k)+dydp.At(j, k)*chain[k])
		}
	}
	return sy
}

// NY is the number of observables of m.
func NY(m dynamo.Model) int {
	if om, ok := m.(dynamo.ObservableModel); ok {
		return om.NY()
	}
	return m.Dims().NX
}

// Objective is the Gaussian log-likelihood of the measurements
//
//	LLH = −Σ ½·log(2πσ²) + ½·r²,  r = (y − m)/σ
//
// Missing measurements (NaN) are skipped and contribute a zero residual.
type Objective struct {
	model dynamo.Model
	om    dynamo.ObservableModel
	p     []float64
	chain []float64
	meas  *dynamo.Measurements
	nx    int
	np    int
	ny    int

	res    []float64
	sres   [][]float64 // one row per residual, on the parameter scale
	chi2   float64
	llh    float64
	grad   []float64
	direct []float64
	terms  []sensitivity.DataTerm
	haveSx bool

	dydx *mat.Dense
	dydp *mat.Dense
}

// NewObjective prepares the objective for one run. p is on linear scale
// and chain holds dp/dθ for the gradient.
func NewObjective(m dynamo.Model, p, chain []float64, meas *dynamo.Measurements) (*Objective, error) {
	d := m.Dims()
	o := &Objective{model: m, p: p, chain: chain, meas: meas, nx: d.NX, np: d.NP, ny: NY(m)}
	o.om, _ = m.(dynamo.ObservableModel)
	if err := meas.Validate(); err != nil {
		return nil, err
	}
	for i, row := range meas.Y {
		if len(row) != o.ny {
			return nil, fmt.Errorf("%w: measurement row %d has %d values for %d observables", dynamo.ErrDimensionMismatch, i, len(row), o.ny)
		}
	}
	o.dydx = mat.NewDense(o.ny, o.nx, nil)
	if o.np > 0 {
		o.dydp = mat.NewDense(o.ny, o.np, nil)
	}
	o.Reset()
	return o, nil
}

func (o *Objective) Name() string { return "llh" }

func (o *Objective) Reset() {
	o.res = o.res[:0]
	o.sres = nil
	o.chi2, o.llh = 0, 0
	o.grad = make([]float64, o.np)
	o.direct = make([]float64, o.np)
	o.terms = nil
	o.haveSx = false
}

func (o *Objective) jacobians(t float64, x []float64) {
	o.dydx.Zero()
	if o.dydp != nil {
		o.dydp.Zero()
	}
	if o.om == nil {
		for i := 0; i < o.nx; i++ {
			o.dydx.Set(i, i, 1)
		}
		return
	}
	o.om.ObservableStateJacobian(t, x, o.p, o.dydx)
	if o.dydp != nil {
		o.om.ObservableParameterJacobian(t, x, o.p, o.dydp)
	}
}

// Observe adds output i. sx is on the parameter scale; nil skips the
// forward gradient.
func (o *Objective) Observe(i int, t float64, x dynamo.State, sx *mat.Dense) {
	if i >= len(o.meas.Y) {
		return
	}
	y := Observables(o.model, t, x, o.p)
	var sy *mat.Dense
	if sx != nil && o.np > 0 {
		sy = OutputSensitivity(o.model, t, x, o.p, sx, o.chain)
	}
	w := make([]float64, o.ny)
	seen := false
	for j := 0; j < o.ny; j++ {
		m := o.meas.Y[i][j]
		var srow []float64
		if sy != nil {
			srow = make([]float64, o.np)
			o.sres = append(o.sres, srow)
		}
		if math.IsNaN(m) {
			o.res = append(o.res, 0)
			continue
		}
		sigma := o.meas.SigmaAt(i, j)
		for k := range srow {
			srow[k] = sy.At(j, k) / sigma
		}
		r := (y[j] - m) / sigma
		o.res = append(o.res, r)
		o.chi2 += r * r
		o.llh -= 0.5*math.Log(2*math.Pi*sigma*sigma) + 0.5*r*r
		w[j] = r / sigma
		seen = true
	}
	if !seen {
		return
	}
	o.jacobians(t, x)
	wv := mat.NewVecDense(o.ny, w)

	dldx := make([]float64, o.nx)
	mat.NewVecDense(o.nx, dldx).MulVec(o.dydx.T(), wv)
	o.terms = append(o.terms, sensitivity.DataTerm{Index: i, Time: t, DLDX: dldx})

	if o.np == 0 {
		return
	}
	var direct mat.VecDense
	direct.MulVec(o.dydp.T(), wv)
	for k := 0; k < o.np; k++ {
		o.direct[k] += direct.AtVec(k)
	}
	if sx != nil {
		o.haveSx = true
		var g mat.VecDense
		g.MulVec(sx.T(), mat.NewVecDense(o.nx, dldx))
		for k := 0; k < o.np; k++ {
			o.grad[k] += g.AtVec(k) + direct.AtVec(k)*o.chain[k]
		}
	}
}

// Value is the log-likelihood.
func (o *Objective) Value() float64 { return o.llh }

func (o *Objective) Chi2() float64 { return o.chi2 }

func (o *Objective) Residuals() []float64 { return append([]float64(nil), o.res...) }

// Gradient is d(chi2/2)/dθ accumulated from forward sensitivities, nil
// when no output carried them.
func (o *Objective) Gradient() []float64 {
	if !o.haveSx {
		return nil
	}
	return append([]float64(nil), o.grad...)
}

// SRes is ∂res/∂θ, one row per residual, nil without forward
// sensitivities. Rows of missing data are zero.
func (o *Objective) SRes() *mat.Dense {
	if len(o.sres) == 0 {
		return nil
	}
	out := mat.NewDense(len(o.sres), o.np, nil)
	for i, row := range o.sres {
		out.SetRow(i, row)
	}
	return out
}

// FIM is the Fisher information sresᵀ·sres.
func (o *Objective) FIM() *mat.Dense {
	sres := o.SRes()
	if sres == nil {
		return nil
	}
	var fim mat.Dense
	fim.Mul(sres.T(), sres)
	return &fim
}

// DataTerms are ∂l/∂x at every output with data, for the adjoint pass.
func (o *Objective) DataTerms() []sensitivity.DataTerm { return o.terms }

// DirectGradient is the explicit parameter dependence Σ (∂y/∂p)ᵀ·r/σ of
// the observables, on linear scale.
func (o *Objective) DirectGradient() []float64 {
	return append([]float64(nil), o.direct...)
}

// SLLH converts a chi2/2 gradient into the log-likelihood gradient.
func SLLH(grad []float64) []float64 {
	if grad == nil {
		return nil
	}
	out := make([]float64, len(grad))
	for i, g := range grad {
		out[i] = -g
	}
	return out
}
