package pickplace

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTarget is returned when a goal references an unknown joint, has the
	// wrong number of positions, or names an unsupported palm side.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrBusy is returned when a goal is submitted while another is planning or executing.
	ErrBusy = errors.New("busy: a goal is already in flight")

	// ErrInfeasible means the planner found no solution for the target.
	ErrInfeasible = errors.New("planning infeasible")

	// ErrTimeout means the planner exceeded its budget.
	ErrTimeout = errors.New("planning timed out")

	// ErrAborted completes a goal that was stopped before its trajectory finished.
	ErrAborted = errors.New("goal aborted")

	// ErrNotRunning is returned when submitting to a coordinator that is not started or
	// already closed.
	ErrNotRunning = errors.New("coordinator not running")
)

// PlanningReason classifies a planner failure.
type PlanningReason int

const (
	Infeasible PlanningReason = iota
	Timeout
)

func (r PlanningReason) String() string {
	switch r {
	case Infeasible:
		return "infeasible"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("PlanningReason(%d)", int(r))
	}
}

// PlanningError is the typed failure surfaced to a goal's originator when planning fails.
type PlanningError struct {
	Reason PlanningReason
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	if errors.Is(e.Err, e.sentinel()) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *PlanningError) sentinel() error {
	if e.Reason == Timeout {
		return ErrTimeout
	}
	return ErrInfeasible
}

// Is lets errors.Is match ErrInfeasible and ErrTimeout.
func (e *PlanningError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// NewInfeasible wraps a cause as an Infeasible planning error.
func NewInfeasible(format string, args ...interface{}) *PlanningError {
	return &PlanningError{Reason: Infeasible, Err: fmt.Errorf(format, args...)}
}

// NewTimeout wraps a cause as a Timeout planning error.
func NewTimeout(format string, args ...interface{}) *PlanningError {
	return &PlanningError{Reason: Timeout, Err: fmt.Errorf(format, args...)}
}

// invalidTarget annotates ErrInvalidTarget so callers can still match it.
func invalidTarget(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidTarget, format, args...)
}

// asPlanningError normalizes anything a planner returns into a *PlanningError.
// Errors that are not already typed are treated as infeasible.
func asPlanningError(err error) *PlanningError {
	var pe *PlanningError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return &PlanningError{Reason: Timeout, Err: err}
	default:
		return &PlanningError{Reason: Infeasible, Err: err}
	}
}
