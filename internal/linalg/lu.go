package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is matched by every SingularMatrixError.
	ErrSingular = errors.New("linalg: matrix is singular or nearly singular")

	// ErrNoConvergence indicates the iterative solver exhausted its budget.
	ErrNoConvergence = errors.New("linalg: iterative solver did not converge")
)

// SingularMatrixError reports a failed factorization. The driver treats it
// as recoverable and retries with a smaller step.
type SingularMatrixError struct {
	Pivot int
	Cond  float64
}

func (e *SingularMatrixError) Error() string {
	if e.Pivot >= 0 {
		return fmt.Sprintf("linalg: zero pivot in row %d", e.Pivot)
	}
	return fmt.Sprintf("linalg: matrix is singular (condition estimate %.3g)", e.Cond)
}

func (e *SingularMatrixError) Unwrap() error { return ErrSingular }

// Stats counts factorization work.
type Stats struct {
	Symbolic int
	Numeric  int
	Solves   int
}

// Factorizer presents one factorize/solve interface over all storage kinds.
type Factorizer interface {
	Factorize(a Matrix) error
	// Solve computes x = A⁻¹b for the last factorized A. x and b may be the
	// same slice.
	Solve(b, x []float64) error
	Stats() Stats
}

// DenseLU factorizes with partial pivoting through gonum.
type DenseLU struct {
	n     int
	a     *mat.Dense
	lu    mat.LU
	ok    bool
	stats Stats
}

func NewDenseLU(n int) *DenseLU {
	return &DenseLU{n: n, a: mat.NewDense(n, n, nil)}
}

func (d *DenseLU) Factorize(a Matrix) error {
	d.ok = false
	if r, c := a.Dims(); r != d.n || c != d.n {
		return fmt.Errorf("linalg: dense lu: matrix is %dx%d, want %dx%d", r, c, d.n, d.n)
	}
	if m, ok := a.(*Dense); ok {
		d.a.Copy(m.m)
	} else {
		for i := 0; i < d.n; i++ {
			for j := 0; j < d.n; j++ {
				d.a.Set(i, j, a.At(i, j))
			}
		}
	}
	d.lu.Factorize(d.a)
	d.stats.Numeric++
	if cond := d.lu.Cond(); math.IsInf(cond, 1) || math.IsNaN(cond) || cond > mat.ConditionTolerance {
		return &SingularMatrixError{Pivot: -1, Cond: cond}
	}
	d.ok = true
	return nil
}

func (d *DenseLU) Solve(b, x []float64) error {
	if !d.ok {
		return &SingularMatrixError{Pivot: -1, Cond: math.Inf(1)}
	}
	copy(x, b)
	v := mat.NewVecDense(d.n, x)
	d.stats.Solves++
	err := d.lu.SolveVecTo(v, false, v)
	var cond mat.Condition
	if errors.As(err, &cond) {
		// Factorize already screened the condition number.
		return nil
	}
	if errors.Is(err, mat.ErrSingular) {
		return &SingularMatrixError{Pivot: -1, Cond: math.Inf(1)}
	}
	return err
}

func (d *DenseLU) Stats() Stats { return d.stats }

// SparseLU is a right-looking sparse LU without pivoting. The fill-in
// structure is computed once from the pattern; each Factorize only redoes
// the numeric elimination over that structure.
type SparseLU struct {
	pattern *Pattern
	ready   bool

	// Row-oriented view of A: for row i, columns and positions into CSC values.
	aCols [][]int
	aPos  [][]int

	// Filled structure per row: strictly lower part (L) and upper part (U,
	// diagonal first).
	lCols [][]int
	uCols [][]int
	lVals [][]float64
	uVals [][]float64

	work     []float64
	pivotTol float64
	stats    Stats
}

// NewSparseLU prepares a factorizer for matrices over pattern p. The pattern
// must contain the diagonal.
func NewSparseLU(p *Pattern) *SparseLU {
	return &SparseLU{pattern: p, work: make([]float64, p.N), pivotTol: 1e-14}
}

// analyze performs the symbolic factorization: it derives the row view of
// the pattern and the fill-in structure of L and U.
func (s *SparseLU) analyze() {
	n := s.pattern.N
	s.aCols = make([][]int, n)
	s.aPos = make([][]int, n)
	for j := 0; j < n; j++ {
		for k := s.pattern.ColPtr[j]; k < s.pattern.ColPtr[j+1]; k++ {
			i := s.pattern.RowIdx[k]
			s.aCols[i] = append(s.aCols[i], j)
			s.aPos[i] = append(s.aPos[i], k)
		}
	}

	s.lCols = make([][]int, n)
	s.uCols = make([][]int, n)
	mark := make([]bool, n)
	for i := 0; i < n; i++ {
		for _, j := range s.aCols[i] {
			mark[j] = true
		}
		mark[i] = true
		// Columns below i are visited in increasing order; fill from row k
		// only lands right of k, so a single forward sweep sees all of it.
		for k := 0; k < i; k++ {
			if !mark[k] {
				continue
			}
			for _, j := range s.uCols[k][1:] {
				mark[j] = true
			}
		}
		for j := 0; j < i; j++ {
			if mark[j] {
				s.lCols[i] = append(s.lCols[i], j)
				mark[j] = false
			}
		}
		s.uCols[i] = append(s.uCols[i], i)
		mark[i] = false
		for j := i + 1; j < n; j++ {
			if mark[j] {
				s.uCols[i] = append(s.uCols[i], j)
				mark[j] = false
			}
		}
	}

	s.lVals = make([][]float64, n)
	s.uVals = make([][]float64, n)
	for i := 0; i < n; i++ {
		s.lVals[i] = make([]float64, len(s.lCols[i]))
		s.uVals[i] = make([]float64, len(s.uCols[i]))
	}
	s.stats.Symbolic++
	s.ready = true
}

// FillIn is the number of entries in L+U, available after the first
// factorization.
func (s *SparseLU) FillIn() int {
	total := 0
	for i := range s.lCols {
		total += len(s.lCols[i]) + len(s.uCols[i])
	}
	return total
}

func (s *SparseLU) Factorize(a Matrix) error {
	m, ok := a.(*CSC)
	if !ok || m.P != s.pattern {
		return fmt.Errorf("linalg: sparse lu: matrix does not share the analyzed pattern")
	}
	if !s.ready {
		s.analyze()
	}
	s.stats.Numeric++

	n := s.pattern.N
	w := s.work
	for i := 0; i < n; i++ {
		rowScale := 0.0
		for q, j := range s.aCols[i] {
			v := m.Values[s.aPos[i][q]]
			w[j] = v
			rowScale = math.Max(rowScale, math.Abs(v))
		}
		for q, k := range s.lCols[i] {
			f := w[k] / s.uVals[k][0]
			s.lVals[i][q] = f
			w[k] = 0
			if f == 0 {
				continue
			}
			for r, j := range s.uCols[k][1:] {
				w[j] -= f * s.uVals[k][r+1]
			}
		}
		for q, j := range s.uCols[i] {
			s.uVals[i][q] = w[j]
			w[j] = 0
		}
		piv := s.uVals[i][0]
		if math.IsNaN(piv) || math.Abs(piv) <= s.pivotTol*math.Max(rowScale, 1e-300) {
			for j := range w {
				w[j] = 0
			}
			return &SingularMatrixError{Pivot: i}
		}
	}
	return nil
}

func (s *SparseLU) Solve(b, x []float64) error {
	if !s.ready {
		return &SingularMatrixError{Pivot: -1, Cond: math.Inf(1)}
	}
	n := s.pattern.N
	copy(x, b)
	for i := 0; i < n; i++ {
		sum := x[i]
		for q, k := range s.lCols[i] {
			sum -= s.lVals[i][q] * x[k]
		}
		x[i] = sum
	}
	for i := n - 1; i >= 0; i-- {
		sum := x[i]
		for q, j := range s.uCols[i][1:] {
			sum -= s.uVals[i][q+1] * x[j]
		}
		x[i] = sum / s.uVals[i][0]
	}
	s.stats.Solves++
	return nil
}

func (s *SparseLU) Stats() Stats { return s.stats }
