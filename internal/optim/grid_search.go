// Package optim fits parameters by minimizing the negative log-likelihood
// of a run's measurements.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/rxsim/internal/dynamo"
)

var ErrNoCandidate = errors.New("optim: no grid point produced a finite objective")

// GridSearch evaluates every combination of the given values for the
// selected parameters; the others keep their request values.
type GridSearch struct {
	indices []int
	ranges  [][]float64
	workers int
}

func NewGridSearch(indices []int, ranges [][]float64) *GridSearch {
	return &GridSearch{indices: indices, ranges: ranges}
}

// WithWorkers bounds the number of concurrent runs.
func (g *GridSearch) WithWorkers(n int) *GridSearch {
	g.workers = n
	return g
}

// Point is one evaluated grid point.
type Point struct {
	Theta []float64
	NLLH  float64
}

// Search returns the grid point of smallest −LLH. Runs that fail are
// skipped. All points are returned in grid order.
func (g *GridSearch) Search(ctx context.Context, newRunner func() (dynamo.Runner, error), base dynamo.Request) (Point, []Point, error) {
	if base.Data == nil {
		return Point{}, nil, fmt.Errorf("%w: grid search needs measurements", dynamo.ErrInvalidConfig)
	}
	if len(g.indices) != len(g.ranges) {
		return Point{}, nil, fmt.Errorf("%w: %d parameters but %d ranges", dynamo.ErrInvalidConfig, len(g.indices), len(g.ranges))
	}
	for _, idx := range g.indices {
		if idx < 0 || idx >= len(base.Parameters) {
			return Point{}, nil, fmt.Errorf("%w: parameter %d out of range", dynamo.ErrInvalidConfig, idx)
		}
	}

	var grid [][]float64
	g.searchRecursive(0, append([]float64(nil), base.Parameters...), &grid)

	reqs := make([]dynamo.Request, len(grid))
	for i, theta := range grid {
		reqs[i] = base
		reqs[i].Parameters = theta
	}
	results, err := dynamo.NewEnsemble(newRunner, g.workers).Run(ctx, reqs)
	if ctx.Err() != nil {
		return Point{}, nil, err
	}

	best := Point{NLLH: math.Inf(1)}
	points := make([]Point, len(grid))
	for i, theta := range grid {
		points[i] = Point{Theta: theta, NLLH: math.Inf(1)}
		res := results[i]
		if res == nil || res.Status != dynamo.StatusFinished || math.IsNaN(res.LLH) {
			continue
		}
		points[i].NLLH = -res.LLH
		if points[i].NLLH < best.NLLH {
			best = points[i]
		}
	}
	if best.Theta == nil {
		return best, points, errors.Join(ErrNoCandidate, err)
	}
	return best, points, nil
}

func (g *GridSearch) searchRecursive(depth int, current []float64, grid *[][]float64) {
	if depth == len(g.indices) {
		*grid = append(*grid, append([]float64(nil), current...))
		return
	}
	idx := g.indices[depth]
	for _, val := range g.ranges[depth] {
		current[idx] = val
		g.searchRecursive(depth+1, current, grid)
	}
}
