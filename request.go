package pickplace

import (
	"github.com/golang/geo/r3"
	"github.com/mitchellh/mapstructure"
	"go.viam.com/rdk/spatialmath"
)

// GoalRequest is the wire form of a goal, shared by the HTTP API, the Redis goal
// channel and DoCommand. Exactly one of Joints and Pose is set.
type GoalRequest struct {
	Joints *JointGoal `json:"joints,omitempty" mapstructure:"joints"`
	Pose   *PoseGoal  `json:"pose,omitempty" mapstructure:"pose"`
}

// JointGoal is a joint-space goal in radians.
type JointGoal struct {
	Names     []string  `json:"names,omitempty" mapstructure:"names"`
	Positions []float64 `json:"positions" mapstructure:"positions"`
}

// PoseGoal is an end effector goal. The point is in millimeters and the orientation is
// an orientation vector with theta in degrees. A zero orientation vector points along +Z.
type PoseGoal struct {
	X     float64 `json:"x" mapstructure:"x"`
	Y     float64 `json:"y" mapstructure:"y"`
	Z     float64 `json:"z" mapstructure:"z"`
	OX    float64 `json:"o_x" mapstructure:"o_x"`
	OY    float64 `json:"o_y" mapstructure:"o_y"`
	OZ    float64 `json:"o_z" mapstructure:"o_z"`
	Theta float64 `json:"theta" mapstructure:"theta"`
	// Palm is 0 for the left palm and 1 for the right.
	Palm int `json:"palm" mapstructure:"palm"`
}

// Target converts the request. It fails with ErrInvalidTarget when the request carries
// no goal or both kinds.
func (r GoalRequest) Target() (TargetPose, error) {
	switch {
	case r.Joints != nil && r.Pose != nil:
		return nil, invalidTarget("request has both joints and pose")
	case r.Joints != nil:
		return JointTarget{Names: r.Joints.Names, Positions: r.Joints.Positions}, nil
	case r.Pose != nil:
		p := r.Pose
		ov := &spatialmath.OrientationVectorDegrees{OX: p.OX, OY: p.OY, OZ: p.OZ, Theta: p.Theta}
		if p.OX == 0 && p.OY == 0 && p.OZ == 0 {
			ov.OZ = 1
		}
		return CartesianTarget{
			Pose: spatialmath.NewPose(r3.Vector{X: p.X, Y: p.Y, Z: p.Z}, ov),
			Palm: PalmSide(p.Palm),
		}, nil
	default:
		return nil, invalidTarget("request has neither joints nor pose")
	}
}

// DecodeGoalRequest reads a request out of a loosely typed map, as received by
// DoCommand.
func DecodeGoalRequest(raw map[string]interface{}) (GoalRequest, error) {
	var req GoalRequest
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return GoalRequest{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return GoalRequest{}, invalidTarget("decode goal: %v", err)
	}
	return req, nil
}

// NewGoalRequest is the inverse of GoalRequest.Target.
func NewGoalRequest(target TargetPose) (GoalRequest, error) {
	switch t := target.(type) {
	case JointTarget:
		return GoalRequest{Joints: &JointGoal{Names: t.Names, Positions: t.Positions}}, nil
	case CartesianTarget:
		if t.Pose == nil {
			return GoalRequest{}, invalidTarget("cartesian target has no pose")
		}
		pt := t.Pose.Point()
		ov := t.Pose.Orientation().OrientationVectorDegrees()
		return GoalRequest{Pose: &PoseGoal{
			X: pt.X, Y: pt.Y, Z: pt.Z,
			OX: ov.OX, OY: ov.OY, OZ: ov.OZ, Theta: ov.Theta,
			Palm: int(t.Palm),
		}}, nil
	default:
		return GoalRequest{}, invalidTarget("unsupported target %T", target)
	}
}
