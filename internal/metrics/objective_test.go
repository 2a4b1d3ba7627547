package metrics

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/models"
)

func TestObjectiveIdentityObservables(t *testing.T) {
	m := models.NewDecay()
	p := []float64{0.5, 1}
	meas := &dynamo.Measurements{
		Y:     [][]float64{{1.5}, {math.NaN()}},
		Sigma: [][]float64{{2}, {1}},
	}
	o, err := NewObjective(m, p, []float64{1, 1}, meas)
	if err != nil {
		t.Fatal(err)
	}

	sx := mat.NewDense(1, 2, []float64{0.3, 0.7})
	o.Observe(0, 0, dynamo.State{0.5}, sx)
	o.Observe(1, 1, dynamo.State{0.2}, sx)

	// r = (0.5-1.5)/2
	r := -0.5
	if got := o.Chi2(); math.Abs(got-r*r) > 1e-15 {
		t.Errorf("chi2 = %g, want %g", got, r*r)
	}
	wantLLH := -(0.5*math.Log(2*math.Pi*4) + 0.5*r*r)
	if got := o.Value(); math.Abs(got-wantLLH) > 1e-15 {
		t.Errorf("llh = %g, want %g", got, wantLLH)
	}
	if res := o.Residuals(); len(res) != 2 || res[0] != r || res[1] != 0 {
		t.Errorf("residuals = %v", res)
	}

	g := o.Gradient()
	want := []float64{r / 2 * 0.3, r / 2 * 0.7}
	for k := range want {
		if math.Abs(g[k]-want[k]) > 1e-15 {
			t.Errorf("gradient[%d] = %g, want %g", k, g[k], want[k])
		}
	}
	if s := SLLH(g); s[0] != -g[0] {
		t.Errorf("sllh = %v", s)
	}

	terms := o.DataTerms()
	if len(terms) != 1 || terms[0].Index != 0 || terms[0].DLDX[0] != r/2 {
		t.Errorf("data terms = %+v", terms)
	}

	// sres = sx/σ for the measured value, zero for the missing one
	wantSRes := mat.NewDense(2, 2, []float64{0.15, 0.35, 0, 0})
	if sres := o.SRes(); sres == nil || !mat.EqualApprox(sres, wantSRes, 1e-15) {
		t.Errorf("sres = %v", o.SRes())
	}
	wantFIM := mat.NewDense(2, 2, []float64{0.0225, 0.0525, 0.0525, 0.1225})
	if fim := o.FIM(); fim == nil || !mat.EqualApprox(fim, wantFIM, 1e-15) {
		t.Errorf("fim = %v", o.FIM())
	}
}

func TestOutputSensitivity(t *testing.T) {
	m := models.NewEnzyme()
	p := m.NominalParameters()
	x := []float64{0.6, 0.15, 0.05, 0.3}
	sx := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	})
	sy := OutputSensitivity(m, 1, x, p, sx, []float64{1, 1, 1})

	dydx := mat.NewDense(NY(m), 4, nil)
	m.ObservableStateJacobian(1, x, p, dydx)
	dydp := mat.NewDense(NY(m), 3, nil)
	m.ObservableParameterJacobian(1, x, p, dydp)
	var want mat.Dense
	want.Mul(dydx, sx)
	want.Add(&want, dydp)
	if !mat.EqualApprox(sy, &want, 1e-14) {
		t.Errorf("sy = %v, want %v", mat.Formatted(sy), mat.Formatted(&want))
	}

	if got := OutputSensitivity(models.NewDecay(), 0, []float64{1}, []float64{1, 1}, mat.NewDense(1, 2, []float64{3, 4}), []float64{1, 1}); got.At(0, 1) != 4 {
		t.Errorf("identity observables must copy sx, got %v", mat.Formatted(got))
	}
}

func TestObjectiveWithoutSensitivitiesHasNoFIM(t *testing.T) {
	o, err := NewObjective(models.NewDecay(), []float64{0.5, 1}, []float64{1, 1}, &dynamo.Measurements{Y: [][]float64{{1}}})
	if err != nil {
		t.Fatal(err)
	}
	o.Observe(0, 0, dynamo.State{1}, nil)
	if o.SRes() != nil || o.FIM() != nil {
		t.Error("sres and fim need forward sensitivities")
	}
}

func TestObjectiveWithObservableModel(t *testing.T) {
	m := models.NewEnzyme()
	p := m.NominalParameters()
	meas := &dynamo.Measurements{Y: [][]float64{{0.5, 0.1}}}
	o, err := NewObjective(m, p, []float64{1, 1, 1}, meas)
	if err != nil {
		t.Fatal(err)
	}
	o.Observe(0, 1, dynamo.State{0.6, 0.15, 0.05, 0.3}, nil)

	if o.Gradient() != nil {
		t.Error("gradient without sensitivities must be nil")
	}
	dldx := o.DataTerms()[0].DLDX
	want := []float64{0.1, 0, 0, 0.2}
	for i := range want {
		if math.Abs(dldx[i]-want[i]) > 1e-12 {
			t.Errorf("dl/dx = %v, want %v", dldx, want)
			break
		}
	}
	if got := o.Chi2(); math.Abs(got-0.05) > 1e-12 {
		t.Errorf("chi2 = %g, want 0.05", got)
	}

	o.Reset()
	if o.Chi2() != 0 || len(o.DataTerms()) != 0 {
		t.Error("reset must clear the accumulators")
	}
}

func TestObjectiveRejectsShape(t *testing.T) {
	_, err := NewObjective(models.NewEnzyme(), []float64{1, 1, 1}, nil, &dynamo.Measurements{Y: [][]float64{{1, 2, 3, 4}}})
	if err == nil {
		t.Fatal("expected a dimension error")
	}
}

func TestObjectiveRejectsNonPositiveSigma(t *testing.T) {
	meas := &dynamo.Measurements{Y: [][]float64{{1}}, Sigma: [][]float64{{0}}}
	_, err := NewObjective(models.NewDecay(), []float64{0.5, 1}, []float64{1, 1}, meas)
	if !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Fatalf("expected an invalid config error, got %v", err)
	}
}
