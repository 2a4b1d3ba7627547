// Package linalg is the linear algebra adapter of the engine.
//
// A run works against one [Matrix] representation and one [Factorizer],
// both chosen once when the run initializes:
//
//   - [Dense]: gonum-backed n×n storage, factorized by [DenseLU]
//   - [CSC]: compressed sparse column storage over a fixed [Pattern],
//     factorized by [SparseLU] (symbolic analysis once, numeric per call)
//   - [BiCGStab]: iterative solve against either storage
//
// The sparsity pattern of a run never changes, which is what lets
// [SparseLU] reuse its symbolic analysis for the whole run.
package linalg

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Matrix is square storage for Jacobians and iteration matrices.
type Matrix interface {
	Dims() (r, c int)
	At(i, j int) float64
	Set(i, j int, v float64)
	Add(i, j int, v float64)
	Scale(f float64)
	Zero()
}

// Dense wraps a gonum dense matrix.
type Dense struct {
	m *mat.Dense
}

func NewDense(n int) *Dense {
	return &Dense{m: mat.NewDense(n, n, nil)}
}

// Mat exposes the backing gonum matrix.
func (d *Dense) Mat() *mat.Dense { return d.m }

func (d *Dense) Dims() (int, int)        { return d.m.Dims() }
func (d *Dense) At(i, j int) float64     { return d.m.At(i, j) }
func (d *Dense) Set(i, j int, v float64) { d.m.Set(i, j, v) }
func (d *Dense) Add(i, j int, v float64) { d.m.Set(i, j, d.m.At(i, j)+v) }
func (d *Dense) Scale(f float64)         { d.m.Scale(f, d.m) }
func (d *Dense) Zero()                   { d.m.Zero() }

// Pattern is a static compressed-sparse-column nonzero structure.
// Row indices are sorted and unique within each column.
type Pattern struct {
	N      int
	ColPtr []int
	RowIdx []int
}

// NewPattern builds a pattern from (row, col) pairs. Duplicates are merged.
func NewPattern(n int, entries [][2]int) (*Pattern, error) {
	cols := make([][]int, n)
	for _, e := range entries {
		i, j := e[0], e[1]
		if i < 0 || i >= n || j < 0 || j >= n {
			return nil, fmt.Errorf("linalg: pattern entry (%d,%d) outside %dx%d", i, j, n, n)
		}
		cols[j] = append(cols[j], i)
	}
	p := &Pattern{N: n, ColPtr: make([]int, n+1)}
	for j, rows := range cols {
		sort.Ints(rows)
		prev := -1
		for _, i := range rows {
			if i == prev {
				continue
			}
			p.RowIdx = append(p.RowIdx, i)
			prev = i
		}
		p.ColPtr[j+1] = len(p.RowIdx)
	}
	return p, nil
}

// NNZ is the number of structural nonzeros.
func (p *Pattern) NNZ() int { return len(p.RowIdx) }

// Index returns the position of (i, j) in the value array, or -1.
func (p *Pattern) Index(i, j int) int {
	lo, hi := p.ColPtr[j], p.ColPtr[j+1]
	k := sort.SearchInts(p.RowIdx[lo:hi], i) + lo
	if k < hi && p.RowIdx[k] == i {
		return k
	}
	return -1
}

// WithDiagonal returns a pattern that also contains every diagonal entry.
// Iteration matrices M - γhJ need the diagonal even where J has none.
func (p *Pattern) WithDiagonal() *Pattern {
	entries := p.entries()
	for i := 0; i < p.N; i++ {
		entries = append(entries, [2]int{i, i})
	}
	out, _ := NewPattern(p.N, entries)
	return out
}

// Transpose returns the pattern of the transposed matrix.
func (p *Pattern) Transpose() *Pattern {
	entries := p.entries()
	for k := range entries {
		entries[k][0], entries[k][1] = entries[k][1], entries[k][0]
	}
	out, _ := NewPattern(p.N, entries)
	return out
}

func (p *Pattern) entries() [][2]int {
	out := make([][2]int, 0, p.NNZ()+p.N)
	for j := 0; j < p.N; j++ {
		for k := p.ColPtr[j]; k < p.ColPtr[j+1]; k++ {
			out = append(out, [2]int{p.RowIdx[k], j})
		}
	}
	return out
}

// CSC is a sparse matrix over a fixed pattern.
type CSC struct {
	P      *Pattern
	Values []float64
}

func NewCSC(p *Pattern) *CSC {
	return &CSC{P: p, Values: make([]float64, p.NNZ())}
}

func (c *CSC) Dims() (int, int) { return c.P.N, c.P.N }

func (c *CSC) At(i, j int) float64 {
	if k := c.P.Index(i, j); k >= 0 {
		return c.Values[k]
	}
	return 0
}

// Set writes an entry. Writing a nonzero outside the pattern is a contract
// violation by the model and panics.
func (c *CSC) Set(i, j int, v float64) {
	k := c.P.Index(i, j)
	if k < 0 {
		if v != 0 {
			panic(fmt.Sprintf("linalg: entry (%d,%d) outside sparsity pattern", i, j))
		}
		return
	}
	c.Values[k] = v
}

func (c *CSC) Add(i, j int, v float64) {
	k := c.P.Index(i, j)
	if k < 0 {
		if v != 0 {
			panic(fmt.Sprintf("linalg: entry (%d,%d) outside sparsity pattern", i, j))
		}
		return
	}
	c.Values[k] += v
}

func (c *CSC) Scale(f float64) {
	for k := range c.Values {
		c.Values[k] *= f
	}
}

func (c *CSC) Zero() {
	for k := range c.Values {
		c.Values[k] = 0
	}
}

// MulVec computes y = A·x.
func MulVec(a Matrix, x, y []float64) {
	switch m := a.(type) {
	case *Dense:
		n, _ := m.Dims()
		yv := mat.NewVecDense(n, y)
		yv.MulVec(m.m, mat.NewVecDense(n, x))
	case *CSC:
		for i := range y {
			y[i] = 0
		}
		for j := 0; j < m.P.N; j++ {
			xj := x[j]
			if xj == 0 {
				continue
			}
			for k := m.P.ColPtr[j]; k < m.P.ColPtr[j+1]; k++ {
				y[m.P.RowIdx[k]] += m.Values[k] * xj
			}
		}
	default:
		r, c := a.Dims()
		for i := 0; i < r; i++ {
			s := 0.0
			for j := 0; j < c; j++ {
				s += a.At(i, j) * x[j]
			}
			y[i] = s
		}
	}
}

// MulTransVec computes y = Aᵀ·x.
func MulTransVec(a Matrix, x, y []float64) {
	switch m := a.(type) {
	case *Dense:
		n, _ := m.Dims()
		yv := mat.NewVecDense(n, y)
		yv.MulVec(m.m.T(), mat.NewVecDense(n, x))
	case *CSC:
		for j := 0; j < m.P.N; j++ {
			s := 0.0
			for k := m.P.ColPtr[j]; k < m.P.ColPtr[j+1]; k++ {
				s += m.Values[k] * x[m.P.RowIdx[k]]
			}
			y[j] = s
		}
	default:
		r, c := a.Dims()
		for j := 0; j < c; j++ {
			s := 0.0
			for i := 0; i < r; i++ {
				s += a.At(i, j) * x[i]
			}
			y[j] = s
		}
	}
}

// TransposeInto writes Aᵀ into dst. dst must be dense or carry the
// transposed pattern of a.
func TransposeInto(dst, a Matrix) {
	dst.Zero()
	if m, ok := a.(*CSC); ok {
		for j := 0; j < m.P.N; j++ {
			for k := m.P.ColPtr[j]; k < m.P.ColPtr[j+1]; k++ {
				dst.Set(j, m.P.RowIdx[k], m.Values[k])
			}
		}
		return
	}
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); v != 0 {
				dst.Set(j, i, v)
			}
		}
	}
}

// Like returns a zero matrix with the same storage and pattern as m.
func Like(m Matrix) Matrix {
	switch v := m.(type) {
	case *CSC:
		return NewCSC(v.P)
	case *Dense:
		n, _ := v.Dims()
		return NewDense(n)
	}
	n, _ := m.Dims()
	return NewDense(n)
}

// Combine sets dst = alpha·a + diag(d). A nil d is the identity. For sparse
// storage dst must carry every entry of a plus the diagonal.
func Combine(dst, a Matrix, alpha float64, d []float64) {
	diag := func(i int) float64 {
		if d == nil {
			return 1
		}
		return d[i]
	}
	n, _ := a.Dims()
	switch {
	case isDense(dst) && isDense(a):
		dd, ad := dst.(*Dense), a.(*Dense)
		dd.m.Scale(alpha, ad.m)
	case isCSC(dst) && isCSC(a) && dst.(*CSC).P == a.(*CSC).P:
		dv, av := dst.(*CSC).Values, a.(*CSC).Values
		for k := range av {
			dv[k] = alpha * av[k]
		}
	default:
		dst.Zero()
		if s, ok := a.(*CSC); ok {
			for j := 0; j < s.P.N; j++ {
				for k := s.P.ColPtr[j]; k < s.P.ColPtr[j+1]; k++ {
					dst.Set(s.P.RowIdx[k], j, alpha*s.Values[k])
				}
			}
		} else {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					if v := a.At(i, j); v != 0 {
						dst.Set(i, j, alpha*v)
					}
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		if v := diag(i); v != 0 {
			dst.Add(i, i, v)
		}
	}
}

// IsFinite reports whether every stored entry of m is finite.
func IsFinite(m Matrix) bool {
	if s, ok := m.(*CSC); ok {
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		return true
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func isDense(m Matrix) bool {
	_, ok := m.(*Dense)
	return ok
}

func isCSC(m Matrix) bool {
	_, ok := m.(*CSC)
	return ok
}
