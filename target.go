package pickplace

import (
	"fmt"
	"math"

	"go.viam.com/rdk/spatialmath"
)

// PalmSide selects which of the two supported end-effector orientations a Cartesian
// target is reached with.
type PalmSide int

const (
	LeftPalm PalmSide = iota
	RightPalm
)

func (p PalmSide) String() string {
	switch p {
	case LeftPalm:
		return "left"
	case RightPalm:
		return "right"
	default:
		return fmt.Sprintf("PalmSide(%d)", int(p))
	}
}

// Valid reports whether p is one of the supported sides.
func (p PalmSide) Valid() bool {
	return p == LeftPalm || p == RightPalm
}

// TargetPose is a goal for the arm: either a JointTarget or a CartesianTarget.
type TargetPose interface {
	// Validate checks the target against the registry. Failures wrap ErrInvalidTarget.
	Validate(r *JointRegistry) error
	fmt.Stringer
	isTargetPose()
}

// JointTarget is a goal in joint space. Without Names, Positions follow registry order
// and hold either every arm joint or every arm joint plus the gripper. With Names, each
// entry addresses one registered joint (or the gripper) and unnamed joints keep their
// current position.
type JointTarget struct {
	Names     []string
	Positions []float64
}

// CartesianTarget is a goal for the end effector pose.
type CartesianTarget struct {
	Pose spatialmath.Pose
	Palm PalmSide
}

func (JointTarget) isTargetPose()     {}
func (CartesianTarget) isTargetPose() {}

func (t JointTarget) String() string {
	if len(t.Names) == 0 {
		return fmt.Sprintf("joint%v", t.Positions)
	}
	return fmt.Sprintf("joint%v=%v", t.Names, t.Positions)
}

func (t CartesianTarget) String() string {
	if t.Pose == nil {
		return fmt.Sprintf("cartesian(nil, palm=%s)", t.Palm)
	}
	return fmt.Sprintf("cartesian(%v, palm=%s)", t.Pose.Point(), t.Palm)
}

func (t JointTarget) Validate(r *JointRegistry) error {
	if len(t.Positions) == 0 {
		return invalidTarget("joint target has no positions")
	}
	for i, p := range t.Positions {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return invalidTarget("position %d is not finite", i)
		}
	}
	if len(t.Names) == 0 {
		if n := len(t.Positions); n != r.ArmJointCount() && n != r.Width() {
			return invalidTarget("expected %d or %d positions, got %d", r.ArmJointCount(), r.Width(), n)
		}
		return nil
	}
	if len(t.Names) != len(t.Positions) {
		return invalidTarget("%d joint names for %d positions", len(t.Names), len(t.Positions))
	}
	seen := make(map[string]bool, len(t.Names))
	for _, name := range t.Names {
		if _, ok := r.Index(name); !ok {
			return invalidTarget("unknown joint %q", name)
		}
		if seen[name] {
			return invalidTarget("joint %q given twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Resolve expands the target into a full row of registry width, filling joints the
// target does not name from current. current must have registry width.
func (t JointTarget) Resolve(r *JointRegistry, current []float64) []float64 {
	out := make([]float64, r.Width())
	copy(out, current)
	if len(t.Names) == 0 {
		copy(out, t.Positions)
		return out
	}
	for i, name := range t.Names {
		col, _ := r.Index(name)
		out[col] = t.Positions[i]
	}
	return out
}

func (t CartesianTarget) Validate(_ *JointRegistry) error {
	if t.Pose == nil {
		return invalidTarget("cartesian target has no pose")
	}
	if !t.Palm.Valid() {
		return invalidTarget("unsupported palm side %d", int(t.Palm))
	}
	return nil
}
