package pickplace

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// PlanRequest is everything a planner gets for one goal.
type PlanRequest struct {
	GoalID string
	// Group is the configured planning group, passed through as is.
	Group  string
	Target TargetPose
	// Start is the best known position of every registry column.
	Start []float64
}

// Planner turns a target into a path. Plan blocks until a path is found or planning
// fails; failures are *PlanningError values. A planner never moves the arm.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlannedPath, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req PlanRequest) (*PlannedPath, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (*PlannedPath, error) {
	return f(ctx, req)
}

// IKSolver finds joint positions that reach a Cartesian pose. The result holds the arm
// joints, optionally followed by the gripper.
type IKSolver interface {
	Solve(ctx context.Context, pose spatialmath.Pose, palm PalmSide, seed []float64) ([]float64, error)
}

// IKSolverFunc adapts a function to IKSolver.
type IKSolverFunc func(ctx context.Context, pose spatialmath.Pose, palm PalmSide, seed []float64) ([]float64, error)

// Solve calls f.
func (f IKSolverFunc) Solve(ctx context.Context, pose spatialmath.Pose, palm PalmSide, seed []float64) ([]float64, error) {
	return f(ctx, pose, palm, seed)
}

// LinearPlannerConfig tunes the built-in joint-space planner.
type LinearPlannerConfig struct {
	// MaxJointSpeed bounds the peak speed of any joint, in radians per second.
	MaxJointSpeed float64
	// WaypointHz is the sampling rate of the produced path.
	WaypointHz float64
	// MinDuration is the shortest motion the planner produces.
	MinDuration time.Duration
	// Budget bounds one Plan call.
	Budget time.Duration
}

// Defaults for LinearPlannerConfig.
const (
	DefaultMaxJointSpeed  = 1.0
	DefaultWaypointHz     = 10.0
	DefaultMinDuration    = 500 * time.Millisecond
	DefaultPlanningBudget = 5 * time.Second
)

// quinticPeakVelocity is the peak of ds/dt for the quintic time scaling over unit time.
const quinticPeakVelocity = 1.875

// LinearPlanner interpolates in joint space from the start position to the target with
// a quintic time scaling, so every joint starts and stops at rest.
type LinearPlanner struct {
	registry *JointRegistry
	cfg      LinearPlannerConfig
	ik       IKSolver
}

// NewLinearPlanner returns a planner for registry. ik may be nil, in which case
// Cartesian targets are infeasible.
func NewLinearPlanner(registry *JointRegistry, cfg LinearPlannerConfig, ik IKSolver) *LinearPlanner {
	if cfg.MaxJointSpeed <= 0 {
		cfg.MaxJointSpeed = DefaultMaxJointSpeed
	}
	if cfg.WaypointHz <= 0 {
		cfg.WaypointHz = DefaultWaypointHz
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultPlanningBudget
	}
	return &LinearPlanner{registry: registry, cfg: cfg, ik: ik}
}

// Plan returns an empty path when the arm is already at the target.
func (p *LinearPlanner) Plan(ctx context.Context, req PlanRequest) (*PlannedPath, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	width := p.registry.Width()
	start := make([]float64, width)
	copy(start, req.Start)

	goal, withGripper, err := p.resolve(ctx, req.Target, start)
	if err != nil {
		return nil, err
	}
	for i := 0; i < p.registry.ArmJointCount(); i++ {
		if !p.registry.WithinLimits(i, goal[i]) {
			j := p.registry.Joints()[i]
			return nil, NewInfeasible("%s target %.3f outside limits [%.3f, %.3f]", j.Name, goal[i], j.Limits[0], j.Limits[1])
		}
	}

	cols := p.registry.ArmJointCount()
	if withGripper {
		cols = width
	}
	maxDelta := 0.0
	for i := 0; i < cols; i++ {
		maxDelta = math.Max(maxDelta, math.Abs(goal[i]-start[i]))
	}
	if maxDelta == 0 {
		return NewPlannedPath(0, nil)
	}

	duration := time.Duration(maxDelta / p.cfg.MaxJointSpeed * quinticPeakVelocity * float64(time.Second))
	if duration < p.cfg.MinDuration {
		duration = p.cfg.MinDuration
	}
	n := int(math.Ceil(duration.Seconds() * p.cfg.WaypointHz))
	if n < 2 {
		n = 2
	}

	m := mat.NewDense(n, cols, nil)
	for k := 1; k <= n; k++ {
		if err := ctx.Err(); err != nil {
			return nil, planningCtxErr(err)
		}
		s := quintic(float64(k) / float64(n))
		for c := 0; c < cols; c++ {
			m.Set(k-1, c, start[c]+s*(goal[c]-start[c]))
		}
	}
	return NewPlannedPathFromMatrix(duration, m), nil
}

// resolve turns the target into a full-width goal row and reports whether the gripper
// is part of the motion.
func (p *LinearPlanner) resolve(ctx context.Context, target TargetPose, start []float64) ([]float64, bool, error) {
	switch t := target.(type) {
	case JointTarget:
		withGripper := len(t.Positions) == p.registry.Width()
		if len(t.Names) > 0 {
			withGripper = false
			for _, name := range t.Names {
				withGripper = withGripper || name == p.registry.Gripper().Name
			}
		}
		return t.Resolve(p.registry, start), withGripper, nil
	case CartesianTarget:
		if p.ik == nil {
			return nil, false, NewInfeasible("no inverse kinematics solver for %v", t)
		}
		sol, err := p.ik.Solve(ctx, t.Pose, t.Palm, start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, planningCtxErr(ctxErr)
			}
			return nil, false, &PlanningError{Reason: Infeasible, Err: errors.Wrap(err, "inverse kinematics")}
		}
		if n := len(sol); n != p.registry.ArmJointCount() && n != p.registry.Width() {
			return nil, false, NewInfeasible("inverse kinematics returned %d positions", n)
		}
		goal := make([]float64, p.registry.Width())
		copy(goal, start)
		copy(goal, sol)
		return goal, len(sol) == p.registry.Width(), nil
	default:
		return nil, false, NewInfeasible("unsupported target %T", target)
	}
}

// quintic is the rest-to-rest time scaling 10t^3 - 15t^4 + 6t^5.
func quintic(t float64) float64 {
	return t * t * t * (10 + t*(-15+6*t))
}

func planningCtxErr(err error) *PlanningError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PlanningError{Reason: Timeout, Err: errors.Wrap(ErrTimeout, err.Error())}
	}
	return &PlanningError{Reason: Infeasible, Err: err}
}
