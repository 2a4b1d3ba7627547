// Package events detects, localizes and applies discrete events.
//
// Root functions are sampled at the end of every accepted step. A sign
// change in the declared direction triggers localization on the step's
// dense output; the located event is then applied as one atomic state
// transition between two steps.
package events

import "github.com/san-kum/rxsim/internal/dynamo"

// Detector remembers the last root values and which one-shot events are
// spent.
type Detector struct {
	specs []dynamo.EventSpec
	prev  []float64
	spent []bool
}

func NewDetector(specs []dynamo.EventSpec) *Detector {
	return &Detector{
		specs: specs,
		prev:  make([]float64, len(specs)),
		spent: make([]bool, len(specs)),
	}
}

func (d *Detector) Len() int { return len(d.specs) }

func (d *Detector) Spec(i int) dynamo.EventSpec { return d.specs[i] }

// Reset takes g as the reference values for the next scan.
func (d *Detector) Reset(g []float64) {
	copy(d.prev, g)
}

func (d *Detector) Prev() []float64 { return append([]float64(nil), d.prev...) }

func (d *Detector) Spent() []bool { return append([]bool(nil), d.spent...) }

// Restore sets the detector state saved by Prev and Spent.
func (d *Detector) Restore(prev []float64, spent []bool) {
	copy(d.prev, prev)
	copy(d.spent, spent)
}

// MarkFired records an occurrence of root i.
func (d *Detector) MarkFired(i int) {
	if d.specs[i].OneShot {
		d.spent[i] = true
	}
}

// Crossed reports whether root i crosses from before to after in its
// declared direction. Spent one-shot roots never cross.
func (d *Detector) Crossed(i int, before, after float64) bool {
	if d.spent[i] {
		return false
	}
	rising := before < 0 && after >= 0
	falling := before > 0 && after <= 0
	switch d.specs[i].Direction {
	case dynamo.Rising:
		return rising
	case dynamo.Falling:
		return falling
	}
	return rising || falling
}

// Scan returns the roots that crossed between the reference values and g.
// It does not update the reference values.
func (d *Detector) Scan(g []float64) []int {
	var out []int
	for i, v := range g {
		if d.Crossed(i, d.prev[i], v) {
			out = append(out, i)
		}
	}
	return out
}
