package pickplace

import (
	"context"
	"fmt"
	"math"
	"time"
)

// ActuatorCommand is one position setpoint addressed by actuator id. Positions are
// radians for arm joints and the gripper's opening for the gripper channels.
type ActuatorCommand struct {
	ActuatorID int     `json:"id"`
	Position   float64 `json:"position"`
}

// Actuators receives the commands of one dispatched waypoint. Send is called from the
// dispatch loop and must not block for longer than a tick.
type Actuators interface {
	Send(ctx context.Context, cmds []ActuatorCommand) error
}

// ActuatorsFunc adapts a function to Actuators.
type ActuatorsFunc func(ctx context.Context, cmds []ActuatorCommand) error

// Send calls f.
func (f ActuatorsFunc) Send(ctx context.Context, cmds []ActuatorCommand) error {
	return f(ctx, cmds)
}

// JointFeedback is the latest reported joint state. Without Names, Positions follow
// registry order and cover the arm joints, optionally followed by the gripper.
type JointFeedback struct {
	Names     []string  `json:"names,omitempty"`
	Positions []float64 `json:"positions"`
	Stamp     time.Time `json:"stamp"`
}

// resolve checks fb against the registry and maps it onto registry columns. known marks
// the columns the message reported.
func (fb JointFeedback) resolve(r *JointRegistry) (positions []float64, known []bool, err error) {
	if len(fb.Positions) == 0 {
		return nil, nil, fmt.Errorf("feedback has no positions")
	}
	for i, p := range fb.Positions {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, nil, fmt.Errorf("feedback position %d is not finite", i)
		}
	}

	positions = make([]float64, r.Width())
	known = make([]bool, r.Width())
	if len(fb.Names) == 0 {
		if n := len(fb.Positions); n != r.ArmJointCount() && n != r.Width() {
			return nil, nil, fmt.Errorf("feedback has %d positions, expected %d or %d", n, r.ArmJointCount(), r.Width())
		}
		for i, p := range fb.Positions {
			positions[i] = p
			known[i] = true
		}
		return positions, known, nil
	}

	if len(fb.Names) != len(fb.Positions) {
		return nil, nil, fmt.Errorf("feedback has %d names for %d positions", len(fb.Names), len(fb.Positions))
	}
	for i, name := range fb.Names {
		col, ok := r.Index(name)
		if !ok {
			return nil, nil, fmt.Errorf("feedback names unknown joint %q", name)
		}
		positions[col] = fb.Positions[i]
		known[col] = true
	}
	return positions, known, nil
}
