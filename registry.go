package pickplace

import (
	"fmt"
	"math"
)

// Joint describes one controllable arm joint.
type Joint struct {
	Name       string
	ActuatorID int
	Index      int

	// Limits are the allowed positions in radians. A zero pair means unlimited.
	Limits [2]float64
}

// Gripper describes the end effector. It is driven by two actuator channels that
// always receive the same command.
type Gripper struct {
	Name        string
	ActuatorIDs [2]int
	Index       int
}

// JointRegistry is the static description of the arm. It is immutable once built.
type JointRegistry struct {
	joints  []Joint
	gripper Gripper
	byName  map[string]int
}

// Default joint layout: four arm joints and a gripper with a dual actuator channel.
var (
	DefaultJointNames  = []string{"joint1", "joint2", "joint3", "joint4"}
	DefaultJointLimits = [][2]float64{
		{-math.Pi, math.Pi},
		{-math.Pi / 2, math.Pi / 2},
		{-math.Pi / 2, math.Pi / 2},
		{-math.Pi / 2, math.Pi / 2},
	}
	DefaultGripperName = "grip"
)

// NewJointRegistry validates and builds a registry. Joint indexes are assigned in the
// order given; the gripper takes the index after the last arm joint.
func NewJointRegistry(joints []Joint, gripper Gripper) (*JointRegistry, error) {
	if len(joints) == 0 {
		return nil, fmt.Errorf("registry needs at least one arm joint")
	}
	r := &JointRegistry{
		joints: make([]Joint, len(joints)),
		byName: make(map[string]int, len(joints)+1),
	}
	ids := make(map[int]string, len(joints)+2)
	claim := func(name string, id int) error {
		if id <= 0 {
			return fmt.Errorf("%s: actuator id must be positive, got %d", name, id)
		}
		if other, ok := ids[id]; ok {
			return fmt.Errorf("%s: actuator id %d already used by %s", name, id, other)
		}
		ids[id] = name
		return nil
	}

	for i, j := range joints {
		if j.Name == "" {
			return nil, fmt.Errorf("joint %d has no name", i)
		}
		if _, dup := r.byName[j.Name]; dup {
			return nil, fmt.Errorf("duplicate joint name %q", j.Name)
		}
		if err := claim(j.Name, j.ActuatorID); err != nil {
			return nil, err
		}
		if j.Limits[0] > j.Limits[1] {
			return nil, fmt.Errorf("%s: lower limit %.3f above upper limit %.3f", j.Name, j.Limits[0], j.Limits[1])
		}
		j.Index = i
		r.joints[i] = j
		r.byName[j.Name] = i
	}

	if gripper.Name == "" {
		return nil, fmt.Errorf("gripper has no name")
	}
	if _, dup := r.byName[gripper.Name]; dup {
		return nil, fmt.Errorf("gripper name %q collides with an arm joint", gripper.Name)
	}
	for _, id := range gripper.ActuatorIDs {
		if err := claim(gripper.Name, id); err != nil {
			return nil, err
		}
	}
	gripper.Index = len(joints)
	r.gripper = gripper
	r.byName[gripper.Name] = gripper.Index

	return r, nil
}

// DefaultJointRegistry returns the four joint + gripper layout with actuator ids 1-6.
func DefaultJointRegistry() *JointRegistry {
	joints := make([]Joint, len(DefaultJointNames))
	for i, name := range DefaultJointNames {
		joints[i] = Joint{Name: name, ActuatorID: i + 1, Limits: DefaultJointLimits[i]}
	}
	r, err := NewJointRegistry(joints, Gripper{Name: DefaultGripperName, ActuatorIDs: [2]int{5, 6}})
	if err != nil {
		panic(err)
	}
	return r
}

// Joints returns a copy of the arm joints in registry order.
func (r *JointRegistry) Joints() []Joint {
	out := make([]Joint, len(r.joints))
	copy(out, r.joints)
	return out
}

// Gripper returns the gripper description.
func (r *JointRegistry) Gripper() Gripper {
	return r.gripper
}

// ArmJointCount is the number of arm joints, excluding the gripper.
func (r *JointRegistry) ArmJointCount() int {
	return len(r.joints)
}

// Width is the number of position columns when the gripper is included.
func (r *JointRegistry) Width() int {
	return len(r.joints) + 1
}

// Index returns the column of a named joint or of the gripper.
func (r *JointRegistry) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Names returns arm joint names followed by the gripper name.
func (r *JointRegistry) Names() []string {
	names := make([]string, 0, r.Width())
	for _, j := range r.joints {
		names = append(names, j.Name)
	}
	return append(names, r.gripper.Name)
}

// ActuatorIDs returns every actuator id in command order: arm joints, then both
// gripper channels.
func (r *JointRegistry) ActuatorIDs() []int {
	ids := make([]int, 0, len(r.joints)+2)
	for _, j := range r.joints {
		ids = append(ids, j.ActuatorID)
	}
	return append(ids, r.gripper.ActuatorIDs[0], r.gripper.ActuatorIDs[1])
}

// ColumnForActuator maps an actuator id back to its position column.
func (r *JointRegistry) ColumnForActuator(id int) (int, bool) {
	for _, j := range r.joints {
		if j.ActuatorID == id {
			return j.Index, true
		}
	}
	if r.gripper.ActuatorIDs[0] == id || r.gripper.ActuatorIDs[1] == id {
		return r.gripper.Index, true
	}
	return 0, false
}

// WithinLimits reports whether a position is allowed for the joint in column i.
// The gripper column is never limited here.
func (r *JointRegistry) WithinLimits(i int, position float64) bool {
	if i < 0 || i >= len(r.joints) {
		return true
	}
	lim := r.joints[i].Limits
	if lim[0] == 0 && lim[1] == 0 {
		return true
	}
	return position >= lim[0] && position <= lim[1]
}
