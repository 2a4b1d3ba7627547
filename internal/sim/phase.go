package sim

import "fmt"

// Phase is the state of the integration driver.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseStepping
	PhaseEventPending
	PhaseSteadyStateCheck
	PhaseFinished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseStepping:
		return "stepping"
	case PhaseEventPending:
		return "event-pending"
	case PhaseSteadyStateCheck:
		return "steady-state-check"
	case PhaseFinished:
		return "finished"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// transitions lists the legal successors of every phase. Failed is
// reachable from every non-terminal phase.
var transitions = map[Phase][]Phase{
	PhaseInitializing:     {PhaseStepping},
	PhaseStepping:         {PhaseEventPending, PhaseSteadyStateCheck, PhaseFinished},
	PhaseEventPending:     {PhaseStepping},
	PhaseSteadyStateCheck: {PhaseFinished},
}

// CanTransition reports whether the driver may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if p == PhaseFinished || p == PhaseFailed {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	for _, q := range transitions[p] {
		if q == next {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool { return p == PhaseFinished || p == PhaseFailed }
