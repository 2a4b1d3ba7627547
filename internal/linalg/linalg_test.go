package linalg

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tridiag fills a diagonally dominant tridiagonal system.
func tridiag(m Matrix, n int) {
	for i := 0; i < n; i++ {
		m.Set(i, i, 4)
		if i > 0 {
			m.Set(i, i-1, -1)
		}
		if i < n-1 {
			m.Set(i, i+1, -2)
		}
	}
}

func tridiagPattern(t *testing.T, n int) *Pattern {
	var entries [][2]int
	for i := 0; i < n; i++ {
		entries = append(entries, [2]int{i, i})
		if i > 0 {
			entries = append(entries, [2]int{i, i - 1})
		}
		if i < n-1 {
			entries = append(entries, [2]int{i, i + 1})
		}
	}
	p, err := NewPattern(n, entries)
	require.NoError(t, err)
	return p
}

func residual(m Matrix, x, b []float64) float64 {
	y := make([]float64, len(b))
	MulVec(m, x, y)
	worst := 0.0
	for i := range y {
		worst = math.Max(worst, math.Abs(y[i]-b[i]))
	}
	return worst
}

func TestPatternIndex(t *testing.T) {
	p, err := NewPattern(3, [][2]int{{0, 0}, {2, 0}, {1, 1}, {2, 0}, {0, 2}})
	require.NoError(t, err)

	assert.Equal(t, 4, p.NNZ())
	assert.GreaterOrEqual(t, p.Index(2, 0), 0)
	assert.Equal(t, -1, p.Index(1, 0))
	assert.Equal(t, -1, p.Index(2, 2))

	pd := p.WithDiagonal()
	assert.Equal(t, 5, pd.NNZ())
	assert.GreaterOrEqual(t, pd.Index(2, 2), 0)

	pt := p.Transpose()
	assert.GreaterOrEqual(t, pt.Index(0, 2), 0)
	assert.Equal(t, -1, pt.Index(2, 0))

	_, err = NewPattern(2, [][2]int{{2, 0}})
	assert.Error(t, err)
}

func TestCSCOutsidePatternPanics(t *testing.T) {
	p, err := NewPattern(2, [][2]int{{0, 0}, {1, 1}})
	require.NoError(t, err)
	m := NewCSC(p)

	assert.NotPanics(t, func() { m.Set(0, 1, 0) })
	assert.Panics(t, func() { m.Set(0, 1, 3) })
}

func TestSolversAgree(t *testing.T) {
	const n = 12
	b := make([]float64, n)
	for i := range b {
		b[i] = float64(i%3) - 0.5
	}
	pat := tridiagPattern(t, n)

	tests := []struct {
		name string
		kind Kind
		pat  *Pattern
	}{
		{"dense", KindDense, nil},
		{"sparse", KindSparse, pat},
		{"iterative", KindIterative, pat},
		{"iterative-dense", KindIterative, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.kind, n, tt.pat, 1)
			m := sel.NewMatrix()
			tridiag(m, n)
			f := sel.NewFactorizer(m)
			require.NoError(t, f.Factorize(m))

			x := make([]float64, n)
			require.NoError(t, f.Solve(b, x))
			assert.Less(t, residual(m, x, b), 1e-8)
		})
	}
}

func TestSparseLUReusesSymbolicAnalysis(t *testing.T) {
	const n = 20
	sel := Select(KindSparse, n, tridiagPattern(t, n), 1)
	m := sel.NewMatrix()
	lu := sel.NewFactorizer(m).(*SparseLU)

	for round := 1; round <= 3; round++ {
		m.Zero()
		tridiag(m, n)
		m.Scale(float64(round))
		require.NoError(t, lu.Factorize(m))
	}
	st := lu.Stats()
	assert.Equal(t, 1, st.Symbolic)
	assert.Equal(t, 3, st.Numeric)
}

func TestSparseLUFillIn(t *testing.T) {
	// Arrow matrix with a dense first row and column fills completely.
	const n = 5
	var entries [][2]int
	for i := 0; i < n; i++ {
		entries = append(entries, [2]int{i, i}, [2]int{0, i}, [2]int{i, 0})
	}
	p, err := NewPattern(n, entries)
	require.NoError(t, err)
	m := NewCSC(p)
	for i := 0; i < n; i++ {
		m.Set(i, i, 10)
		if i > 0 {
			m.Set(0, i, 1)
			m.Set(i, 0, 1)
		}
	}
	lu := NewSparseLU(p)
	require.NoError(t, lu.Factorize(m))
	assert.Equal(t, n*n, lu.FillIn())

	b := []float64{1, 2, 3, 4, 5}
	x := make([]float64, n)
	require.NoError(t, lu.Solve(b, x))
	assert.Less(t, residual(m, x, b), 1e-12)
}

func TestSingularDetection(t *testing.T) {
	d := NewDense(2)
	d.Set(0, 0, 1)
	d.Set(0, 1, 2)
	d.Set(1, 0, 2)
	d.Set(1, 1, 4)

	err := NewDenseLU(2).Factorize(d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingular))

	p, perr := NewPattern(2, [][2]int{{0, 0}, {1, 1}, {0, 1}})
	require.NoError(t, perr)
	s := NewCSC(p)
	s.Set(0, 0, 1)
	s.Set(0, 1, 1)
	err = NewSparseLU(p).Factorize(s)
	var sing *SingularMatrixError
	require.ErrorAs(t, err, &sing)
	assert.Equal(t, 1, sing.Pivot)
}

func TestSelectFallsBackToDense(t *testing.T) {
	pat := tridiagPattern(t, 4)

	sel := Select(KindSparse, 4, pat, 10)
	assert.Equal(t, KindDense, sel.Kind)
	assert.NotEmpty(t, sel.Reason)

	sel = Select(KindSparse, 4, nil, 1)
	assert.Equal(t, KindDense, sel.Kind)

	sel = Select(KindSparse, 4, pat, 2)
	assert.Equal(t, KindSparse, sel.Kind)
	_, ok := sel.NewMatrix().(*CSC)
	assert.True(t, ok)
}

func TestTransposeHelpers(t *testing.T) {
	p, err := NewPattern(2, [][2]int{{0, 0}, {1, 0}, {1, 1}})
	require.NoError(t, err)
	a := NewCSC(p)
	a.Set(0, 0, 1)
	a.Set(1, 0, 3)
	a.Set(1, 1, 2)

	x := []float64{1, 1}
	y := make([]float64, 2)
	MulTransVec(a, x, y)
	assert.Equal(t, []float64{4, 2}, y)

	at := NewCSC(p.Transpose())
	TransposeInto(at, a)
	assert.Equal(t, 3.0, at.At(0, 1))

	d := NewDense(2)
	TransposeInto(d, a)
	MulVec(d, x, y)
	assert.Equal(t, []float64{4, 2}, y)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"dense": KindDense, "sparse-direct": KindSparse, "iterative": KindIterative} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, in, want.String())
	}
	_, err := ParseKind("magic")
	assert.Error(t, err)
}

func TestCombineFormsIterationMatrix(t *testing.T) {
	const n = 4
	pat := tridiagPattern(t, n)
	for _, kind := range []Kind{KindDense, KindSparse} {
		t.Run(kind.String(), func(t *testing.T) {
			sel := Select(kind, n, pat, 1)
			w := sel.NewMatrix()
			j := Like(w)
			tridiag(j, n)

			mass := []float64{1, 1, 0, 1}
			Combine(w, j, -0.5, mass)
			assert.Equal(t, -2.0, w.At(2, 2))
			assert.Equal(t, -1.0, w.At(0, 0))
			assert.Equal(t, 1.0, w.At(0, 1))
			assert.Equal(t, 0.5, w.At(1, 0))

			Combine(w, j, 0, nil)
			assert.Equal(t, 1.0, w.At(3, 3))
			assert.Equal(t, 0.0, w.At(0, 1))
			assert.True(t, IsFinite(w))
		})
	}
}
