package pickplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// Options wires a Coordinator together.
type Options struct {
	Registry  *JointRegistry
	Planner   Planner
	Actuators Actuators
	// PlanningGroup is passed to the planner with every request.
	PlanningGroup string
	// DispatchHz is the control rate, DefaultDispatchHz when zero.
	DispatchHz float64
	// Metrics may be nil, in which case a fresh set is created.
	Metrics *Metrics
}

// Coordinator accepts goals, plans them in the background and streams the resulting
// trajectory to the actuators at a fixed rate. At most one goal is planning or executing.
type Coordinator struct {
	registry *JointRegistry
	exec     *execution
	buffer   *TrajectoryBuffer
	worker   *PlanningWorker
	dispatch *DispatchLoop
	intake   *GoalIntake
	metrics  *Metrics
	logger   logging.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewCoordinator builds a coordinator. Nothing runs until Start.
func NewCoordinator(opts Options, logger logging.Logger) (*Coordinator, error) {
	if opts.Registry == nil {
		opts.Registry = DefaultJointRegistry()
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("coordinator needs a planner")
	}
	if opts.Actuators == nil {
		return nil, fmt.Errorf("coordinator needs actuators")
	}
	if opts.DispatchHz <= 0 {
		opts.DispatchHz = DefaultDispatchHz
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	c := &Coordinator{
		registry: opts.Registry,
		buffer:   NewTrajectoryBuffer(opts.DispatchHz),
		metrics:  opts.Metrics,
		logger:   logger,
	}
	c.exec = &execution{onChange: func(s ExecutionState) {
		c.metrics.setState(s)
		c.logger.Debugf("Execution state: %s", s)
	}}
	c.dispatch = newDispatchLoop(
		c.registry, c.buffer, c.exec, opts.Actuators, opts.DispatchHz, c.metrics, logger.Sublogger("dispatch"))
	c.worker = newPlanningWorker(
		opts.Planner, opts.PlanningGroup, c.dispatch.CurrentPositions, c.registry, c.buffer, c.exec,
		c.metrics, logger.Sublogger("planning"))
	c.intake = newGoalIntake(c.registry, c.exec, c.worker, c.metrics, logger.Sublogger("intake"))
	return c, nil
}

// Start launches the planning worker and the dispatch ticker.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotRunning
	}
	if c.started {
		return nil
	}
	c.started = true
	c.worker.Start()
	c.dispatch.Start()
	c.logger.Infof("Coordinator started: %d joints + gripper at %.0f Hz", c.registry.ArmJointCount(), c.dispatch.hz)
	return nil
}

// Submit validates target and starts planning it. See GoalIntake.Submit.
func (c *Coordinator) Submit(target TargetPose) (*Goal, error) {
	return c.intake.Submit(target)
}

// Abort stops the goal in flight, if any, and returns it. The goal completes with
// ErrAborted and the buffered trajectory is dropped.
func (c *Coordinator) Abort() *Goal {
	g := c.exec.release()
	c.buffer.Clear()
	if g == nil {
		return nil
	}
	g.complete(ErrAborted)
	c.metrics.goalFinished("aborted")
	c.logger.Infof("Aborted goal %s", g.ID)
	return g
}

// UpdateFeedback records the latest joint state.
func (c *Coordinator) UpdateFeedback(fb JointFeedback) error {
	return c.dispatch.UpdateFeedback(fb)
}

// Registry returns the joint registry.
func (c *Coordinator) Registry() *JointRegistry {
	return c.registry
}

// Metrics returns the coordinator's collectors.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State         string         `json:"state"`
	GoalID        string         `json:"goal_id,omitempty"`
	Target        string         `json:"target,omitempty"`
	Waypoint      int            `json:"waypoint"`
	Waypoints     int            `json:"waypoints"`
	Joints        []string       `json:"joints"`
	LastCommanded []float64      `json:"last_commanded"`
	Feedback      *JointFeedback `json:"feedback,omitempty"`
	Time          time.Time      `json:"time"`
}

// Status returns the current state, goal, progress, and positions.
func (c *Coordinator) Status() Status {
	state, g := c.exec.snapshot()
	cur := c.buffer.Progress()
	st := Status{
		State:         state.String(),
		Joints:        c.registry.Names(),
		LastCommanded: c.dispatch.LastCommanded(),
		Time:          time.Now(),
	}
	if g != nil {
		st.GoalID = g.ID
		st.Target = g.Target.String()
	}
	if state == Executing {
		st.Waypoint, st.Waypoints = cur.Current, cur.Total
	}
	if fb, ok := c.dispatch.Feedback(); ok {
		st.Feedback = &fb
	}
	return st
}

// DoCommand handles "submit", "abort" and "status".
func (c *Coordinator) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "submit":
		req, err := DecodeGoalRequest(cmd)
		if err != nil {
			return nil, err
		}
		target, err := req.Target()
		if err != nil {
			return nil, err
		}
		g, err := c.Submit(target)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"goal_id": g.ID}, nil

	case "abort":
		resp := map[string]interface{}{"aborted": false}
		if g := c.Abort(); g != nil {
			resp["aborted"] = true
			resp["goal_id"] = g.ID
		}
		return resp, nil

	case "status":
		st := c.Status()
		return map[string]interface{}{
			"state":          st.State,
			"goal_id":        st.GoalID,
			"waypoint":       st.Waypoint,
			"waypoints":      st.Waypoints,
			"last_commanded": st.LastCommanded,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// Close aborts the goal in flight and stops both background loops. A closed
// coordinator rejects new goals with ErrNotRunning.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dispatch.Stop()
	c.worker.Stop()
	c.Abort()
	c.logger.Info("Coordinator closed")
	return nil
}
