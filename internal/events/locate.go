package events

import (
	"math"
	"sort"

	"github.com/san-kum/rxsim/internal/dynamo"
)

// RootFunc evaluates every root function at time t.
type RootFunc func(t float64, g []float64) error

// Locator brackets root crossings with the Illinois variant of regula
// falsi.
type Locator struct {
	Tol     float64 // relative to max(1, |t|)
	Order   dynamo.EventOrder
	MaxIter int
}

func NewLocator(tol float64, order dynamo.EventOrder) Locator {
	return Locator{Tol: tol, Order: order, MaxIter: 200}
}

// Locate finds the earliest crossing among the candidate roots in
// [lo, hi]. gLo are the reference values at lo. It returns the event time
// (the right end of the final bracket) and every candidate whose crossing
// lies within tolerance of it, in firing order.
func (l Locator) Locate(fn RootFunc, d *Detector, cand []int, lo, hi float64, gLo []float64) (float64, []int, error) {
	tol := l.Tol * math.Max(1, math.Abs(hi))
	g := make([]float64, d.Len())
	times := make(map[int]float64, len(cand))
	for _, i := range cand {
		ti, err := l.bracket(fn, d, i, lo, hi, gLo[i], tol, g)
		if err != nil {
			return 0, nil, err
		}
		times[i] = ti
	}

	tStar := hi
	for _, ti := range times {
		tStar = math.Min(tStar, ti)
	}
	var fired []int
	for _, i := range cand {
		if times[i] <= tStar+tol {
			fired = append(fired, i)
		}
	}
	if l.Order == dynamo.OrderTime {
		sort.SliceStable(fired, func(a, b int) bool {
			return times[fired[a]] < times[fired[b]]
		})
	} else {
		sort.Ints(fired)
	}
	return tStar, fired, nil
}

func (l Locator) bracket(fn RootFunc, d *Detector, i int, lo, hi, gl, tol float64, g []float64) (float64, error) {
	if err := fn(hi, g); err != nil {
		return 0, err
	}
	gh := g[i]
	if !d.Crossed(i, gl, gh) {
		return 0, &dynamo.EventLocalizationError{Root: i, Lo: lo, Hi: hi}
	}
	ref := gl
	side := 0
	for iter := 0; hi-lo > tol; iter++ {
		if iter >= l.MaxIter {
			return 0, &dynamo.EventLocalizationError{Root: i, Lo: lo, Hi: hi}
		}
		tm := hi - gh*(hi-lo)/(gh-gl)
		if math.IsNaN(tm) || !(tm > lo && tm < hi) {
			tm = 0.5 * (lo + hi)
		}
		margin := 0.5 * tol
		if tm-lo < margin {
			tm = lo + margin
		}
		if hi-tm < margin {
			tm = hi - margin
		}
		if err := fn(tm, g); err != nil {
			return 0, err
		}
		gm := g[i]
		if math.IsNaN(gm) || math.IsInf(gm, 0) {
			return 0, &dynamo.EventLocalizationError{Root: i, Lo: lo, Hi: hi}
		}
		if d.Crossed(i, ref, gm) {
			if gm == 0 {
				return tm, nil
			}
			hi, gh = tm, gm
			if side == 1 {
				gl *= 0.5
			}
			side = 1
		} else {
			lo, gl = tm, gm
			if side == -1 {
				gh *= 0.5
			}
			side = -1
		}
	}
	return hi, nil
}
