// Package sensitivity coordinates forward and adjoint sensitivity analysis.
//
// Forward sensitivities ride along with the state inside the integration
// driver; this package only chain-rules them to the parameter scale. The
// adjoint pass needs more: a bounded [Ring] of checkpoints taken during the
// forward run, a [Replayer] that rebuilds the dense trajectory between two
// checkpoints, and [Backward], which integrates the costate from the last
// checkpoint segment to the first.
package sensitivity

import (
	"context"

	"github.com/san-kum/rxsim/internal/events"
	"github.com/san-kum/rxsim/internal/integrators"
)

// Checkpoint is the full driver cursor at the start of a step.
type Checkpoint struct {
	Session integrators.Snapshot
	Roots   []float64
	Spent   []bool
	Output  int // index of the next output time
	Events  int // events applied so far
}

func (c Checkpoint) Step() int { return c.Session.Steps }

// Ring keeps at most capacity checkpoints. Checkpoints are taken every
// interval steps starting at step 0; when the ring is full every other one
// is dropped and the interval doubles, so the first checkpoint always
// survives and memory stays bounded for runs of any length.
type Ring struct {
	capacity int
	interval int
	cps      []Checkpoint
}

func NewRing(capacity, interval int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	if interval < 1 {
		interval = 1
	}
	return &Ring{capacity: capacity, interval: interval, cps: make([]Checkpoint, 0, capacity)}
}

func (r *Ring) Interval() int { return r.interval }
func (r *Ring) Len() int      { return len(r.cps) }

// Checkpoints returns the stored checkpoints in step order.
func (r *Ring) Checkpoints() []Checkpoint { return r.cps }

// Due reports whether a checkpoint should be taken before the given step.
func (r *Ring) Due(step int) bool {
	if step%r.interval != 0 {
		return false
	}
	return len(r.cps) == 0 || r.cps[len(r.cps)-1].Step() < step
}

func (r *Ring) Push(cp Checkpoint) {
	if len(r.cps) == r.capacity {
		kept := r.cps[:0]
		for i := 0; i < len(r.cps); i += 2 {
			kept = append(kept, r.cps[i])
		}
		r.cps = kept
		r.interval *= 2
	}
	if cp.Step()%r.interval == 0 {
		r.cps = append(r.cps, cp)
	}
}

// Segment is one accepted step of the replayed trajectory, possibly cut
// short by an event. Epoch counts the events applied before it.
type Segment struct {
	Lo, Hi float64
	Epoch  int
	H      *integrators.Hermite
}

type TraceEvent struct {
	Index int // position in the run's event log
	Time  float64
	Jump  *events.Jump
}

type TraceOutput struct {
	Index int
	Time  float64
}

// Trace is the dense trajectory between two checkpoints.
type Trace struct {
	Start, End float64
	Segments   []Segment
	Events     []TraceEvent
	Outputs    []TraceOutput
}

// Replayer rebuilds the trajectory from a checkpoint. Replay restores cp
// and steps until the step counter reaches stop, or to the end of the run
// when stop < 0. Replaying the same checkpoint always yields the same
// trace.
type Replayer interface {
	Replay(ctx context.Context, cp Checkpoint, stop int) (*Trace, error)
}
