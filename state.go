package pickplace

import (
	"fmt"
	"sync"
)

// ExecutionState is the coordinator-wide motion state.
type ExecutionState int

const (
	Idle ExecutionState = iota
	Planning
	Executing
)

func (s ExecutionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Executing:
		return "executing"
	default:
		return fmt.Sprintf("ExecutionState(%d)", int(s))
	}
}

// execution guards the state together with the goal that owns it. At most one goal is
// Planning or Executing; every transition other than begin names the goal it applies
// to, so a late transition from a finished goal is ignored.
type execution struct {
	mu       sync.Mutex
	state    ExecutionState
	goal     *Goal
	onChange func(ExecutionState)
}

func (e *execution) setLocked(s ExecutionState) {
	if e.state == s {
		return
	}
	e.state = s
	if e.onChange != nil {
		e.onChange(s)
	}
}

// begin moves Idle -> Planning for g.
func (e *execution) begin(g *Goal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		return ErrBusy
	}
	e.goal = g
	e.setLocked(Planning)
	return nil
}

// executing moves Planning -> Executing for g. It fails if g no longer owns the state.
func (e *execution) executing(g *Goal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.goal != g || e.state != Planning {
		return false
	}
	e.setLocked(Executing)
	return true
}

// finish returns to Idle if g still owns the state. The caller completes g.
func (e *execution) finish(g *Goal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g == nil || e.goal != g {
		return false
	}
	e.goal = nil
	e.setLocked(Idle)
	return true
}

// release drops whichever goal is in flight and returns it.
func (e *execution) release() *Goal {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.goal
	e.goal = nil
	e.setLocked(Idle)
	return g
}

func (e *execution) snapshot() (ExecutionState, *Goal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.goal
}
