package linalg

import "fmt"

// Kind tags the linear algebra path of a run.
type Kind int

const (
	KindDense Kind = iota
	KindSparse
	KindIterative
)

func (k Kind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindSparse:
		return "sparse-direct"
	case KindIterative:
		return "iterative"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the configuration spelling of a linear solver.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "dense":
		return KindDense, nil
	case "sparse", "sparse-direct":
		return KindSparse, nil
	case "iterative":
		return KindIterative, nil
	}
	return 0, fmt.Errorf("unknown linear solver %q", s)
}

// Selection is the resolved linear algebra path of one run.
type Selection struct {
	Kind    Kind
	N       int
	Pattern *Pattern // nil on the dense path
	Reason  string
}

// Select resolves the requested kind against the model declaration. The
// sparse path needs a declared pattern and at least threshold states;
// otherwise the run falls back to dense storage.
func Select(requested Kind, n int, pattern *Pattern, threshold int) Selection {
	sel := Selection{Kind: requested, N: n}
	switch requested {
	case KindSparse:
		if pattern == nil {
			sel.Kind = KindDense
			sel.Reason = "model declares no sparsity pattern"
			return sel
		}
		if n < threshold {
			sel.Kind = KindDense
			sel.Reason = fmt.Sprintf("%d states below sparse threshold %d", n, threshold)
			return sel
		}
		sel.Pattern = pattern
	case KindIterative:
		sel.Pattern = pattern
	}
	return sel
}

// Transposed returns the selection for Jᵀ systems.
func (s Selection) Transposed() Selection {
	if s.Pattern != nil {
		s.Pattern = s.Pattern.Transpose()
	}
	return s
}

// NewMatrix allocates Jacobian storage for the selection. Sparse storage
// carries the pattern with its diagonal, so the same matrix can be turned
// into an iteration matrix in place.
func (s Selection) NewMatrix() Matrix {
	if s.Pattern == nil {
		return NewDense(s.N)
	}
	return NewCSC(s.diagonalPattern())
}

// NewFactorizer allocates a factorizer compatible with matrices from
// NewMatrix on the same selection. Matrices and factorizer must come from
// the same Selection value so they share one pattern.
func (s Selection) NewFactorizer(m Matrix) Factorizer {
	switch s.Kind {
	case KindSparse:
		return NewSparseLU(m.(*CSC).P)
	case KindIterative:
		return NewBiCGStab(s.N)
	}
	return NewDenseLU(s.N)
}

func (s Selection) diagonalPattern() *Pattern {
	return s.Pattern.WithDiagonal()
}
