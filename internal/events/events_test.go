package events

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

func TestDetectorDirections(t *testing.T) {
	d := NewDetector([]dynamo.EventSpec{
		{Name: "up", Direction: dynamo.Rising},
		{Name: "down", Direction: dynamo.Falling},
		{Name: "any", Direction: dynamo.Either},
	})

	tests := []struct {
		name          string
		before, after float64
		want          []bool
	}{
		{"rise", -1, 1, []bool{true, false, true}},
		{"rise onto zero", -1, 0, []bool{true, false, true}},
		{"fall", 1, -1, []bool{false, true, true}},
		{"fall onto zero", 1, 0, []bool{false, true, true}},
		{"leave zero", 0, 1, []bool{false, false, false}},
		{"stay", 1, 2, []bool{false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				assert.Equal(t, want, d.Crossed(i, tt.before, tt.after), d.Spec(i).Name)
			}
		})
	}
}

func TestDetectorOneShot(t *testing.T) {
	d := NewDetector([]dynamo.EventSpec{{Direction: dynamo.Rising, OneShot: true}, {Direction: dynamo.Rising}})
	d.Reset([]float64{-1, -1})
	assert.Equal(t, []int{0, 1}, d.Scan([]float64{1, 1}))

	d.MarkFired(0)
	d.MarkFired(1)
	d.Reset([]float64{-1, -1})
	assert.Equal(t, []int{1}, d.Scan([]float64{1, 1}))

	prev, spent := d.Prev(), d.Spent()
	other := NewDetector([]dynamo.EventSpec{{Direction: dynamo.Rising, OneShot: true}, {Direction: dynamo.Rising}})
	other.Restore(prev, spent)
	assert.Equal(t, []int{1}, other.Scan([]float64{1, 1}))
}

// lines are roots g_i(t) = t - c_i.
func lines(c ...float64) RootFunc {
	return func(t float64, g []float64) error {
		for i, ci := range c {
			g[i] = t - ci
		}
		return nil
	}
}

func TestLocateSingleRoot(t *testing.T) {
	d := NewDetector([]dynamo.EventSpec{{Direction: dynamo.Rising}})
	loc := NewLocator(1e-12, dynamo.OrderDeclaration)

	// A nonlinear root exercises the Illinois update.
	fn := func(t float64, g []float64) error {
		g[0] = math.Exp(t) - 2
		return nil
	}
	tStar, fired, err := loc.Locate(fn, d, []int{0}, 0, 1, []float64{-1})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, fired)
	assert.InDelta(t, math.Ln2, tStar, 1e-11)
	assert.GreaterOrEqual(t, tStar, math.Ln2-1e-15)
}

func TestLocateTieBreak(t *testing.T) {
	specs := []dynamo.EventSpec{{Direction: dynamo.Rising}, {Direction: dynamo.Rising}, {Direction: dynamo.Rising}}
	fn := lines(0.5+1e-14, 0.5, 0.8)
	gLo := []float64{-0.5, -0.5, -0.8}

	tests := []struct {
		order dynamo.EventOrder
		want  []int
	}{
		{dynamo.OrderDeclaration, []int{0, 1}},
		{dynamo.OrderTime, []int{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			d := NewDetector(specs)
			tStar, fired, err := NewLocator(1e-10, tt.order).Locate(fn, d, []int{0, 1, 2}, 0, 1, gLo)
			require.NoError(t, err)
			assert.InDelta(t, 0.5, tStar, 1e-9)
			assert.Equal(t, tt.want, fired)
		})
	}
}

func TestLocateFailsWithoutBracket(t *testing.T) {
	d := NewDetector([]dynamo.EventSpec{{Direction: dynamo.Rising}})
	_, _, err := NewLocator(1e-10, dynamo.OrderDeclaration).Locate(lines(5), d, []int{0}, 0, 1, []float64{-5})

	var le *dynamo.EventLocalizationError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 0.0, le.Lo)
	assert.Equal(t, 1.0, le.Hi)
}

// ramp is x' = k with root x - c and reset x -> 0; p = [k, c].
type ramp struct{}

func (ramp) Dims() dynamo.Dims { return dynamo.Dims{NX: 1, NP: 2} }
func (ramp) InitialState([]float64) dynamo.State { return dynamo.State{0} }
func (ramp) RHS(t float64, x, p, xdot []float64) error {
	xdot[0] = p[0]
	return nil
}
func (ramp) Jacobian(float64, []float64, []float64, linalg.Matrix) error { return nil }
func (ramp) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	dfdp.Set(0, 0, 1)
	return nil
}
func (ramp) Events() []dynamo.EventSpec { return []dynamo.EventSpec{{Direction: dynamo.Rising}} }
func (ramp) Roots(t float64, x, p, g []float64) error {
	g[0] = x[0] - p[1]
	return nil
}
func (ramp) EventAssignment(ie int, t float64, x, p, xnew []float64) { xnew[0] = 0 }

type analyticRamp struct{ ramp }

func (analyticRamp) RootDerivatives(ie int, t float64, x, p, gx, gp []float64) float64 {
	gx[0], gp[0], gp[1] = 1, 0, -1
	return 0
}
func (analyticRamp) AssignmentDerivatives(int, float64, []float64, []float64, *mat.Dense, *mat.Dense, []float64) {
}

func TestJumpSensitivities(t *testing.T) {
	k, c := 2.0, 3.0
	p := []float64{k, c}
	tau := c / k

	for name, m := range map[string]dynamo.Model{"finite differences": ramp{}, "analytic": analyticRamp{}} {
		t.Run(name, func(t *testing.T) {
			j, err := NewJump(m, 0, tau, []float64{c}, p, []float64{k}, []float64{k})
			require.NoError(t, err)

			sx := mat.NewDense(1, 2, []float64{tau, 0})
			j.Forward(sx)
			assert.InDelta(t, c/k, sx.At(0, 0), 1e-8)
			assert.InDelta(t, -1, sx.At(0, 1), 1e-8)

			// The adjoint map is the transpose of the forward map.
			lambda := []float64{0.7}
			q := []float64{0, 0}
			j.Adjoint(lambda, q)
			assert.InDelta(t, 0.7*j.A.At(0, 0), lambda[0], 1e-12)
			assert.InDelta(t, 0.7*j.B.At(0, 1), q[1], 1e-12)
		})
	}
}

func TestJumpRejectsGrazing(t *testing.T) {
	_, err := NewJump(ramp{}, 0, 1, []float64{3}, []float64{0, 3}, []float64{0}, []float64{0})
	assert.ErrorIs(t, err, dynamo.ErrGrazing)
}

func TestApply(t *testing.T) {
	out := Apply(ramp{}, 0, 1, []float64{3}, []float64{1, 3})
	assert.Equal(t, dynamo.State{0}, out)
}
