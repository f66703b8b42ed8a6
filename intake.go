package pickplace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Goal is the handle returned to whoever submitted a target. It reports when planning
// resolved and when the goal finished, successfully or not.
type Goal struct {
	ID       string
	Target   TargetPose
	Accepted time.Time

	planned     chan struct{}
	done        chan struct{}
	plannedOnce sync.Once
	doneOnce    sync.Once

	mu        sync.Mutex
	waypoints int
	err       error
	cancel    context.CancelFunc
}

func newGoal(target TargetPose) *Goal {
	return &Goal{
		ID:       uuid.NewString(),
		Target:   target,
		Accepted: time.Now(),
		planned:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Planned is closed once the planner returned, whatever the outcome.
func (g *Goal) Planned() <-chan struct{} {
	return g.planned
}

// Done is closed when the goal reached a final outcome.
func (g *Goal) Done() <-chan struct{} {
	return g.done
}

// Err is the final outcome: nil after the whole trajectory was dispatched, a
// *PlanningError when planning failed, ErrAborted when execution was cut short.
// It is nil until Done is closed.
func (g *Goal) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Waypoints is the size of the installed path, known once Planned is closed.
func (g *Goal) Waypoints() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waypoints
}

// Wait blocks until the goal is done or ctx ends.
func (g *Goal) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Goal) markPlanned(waypoints int) {
	g.mu.Lock()
	g.waypoints = waypoints
	g.mu.Unlock()
	g.plannedOnce.Do(func() { close(g.planned) })
}

// setCancel registers the function that stops this goal's planner call. It reports
// false if the goal is already done.
func (g *Goal) setCancel(cancel context.CancelFunc) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
		return false
	default:
	}
	g.cancel = cancel
	return true
}

func (g *Goal) complete(err error) {
	g.doneOnce.Do(func() {
		g.mu.Lock()
		g.err = err
		cancel := g.cancel
		g.cancel = nil
		g.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		g.plannedOnce.Do(func() { close(g.planned) })
		close(g.done)
	})
}

// goalQueue is the worker side of the handoff.
type goalQueue interface {
	enqueue(g *Goal) error
}

// GoalIntake admits goals. It validates first, then claims the execution state, then
// hands the goal to the planning worker. Rejections never change state.
type GoalIntake struct {
	registry *JointRegistry
	exec     *execution
	queue    goalQueue
	metrics  *Metrics
	logger   logging.Logger
}

func newGoalIntake(registry *JointRegistry, exec *execution, queue goalQueue, metrics *Metrics, logger logging.Logger) *GoalIntake {
	return &GoalIntake{
		registry: registry,
		exec:     exec,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
	}
}

// Submit validates target and, if the coordinator is idle, starts planning it. It
// returns as soon as the goal is accepted; planning continues in the background.
func (gi *GoalIntake) Submit(target TargetPose) (*Goal, error) {
	if target == nil {
		gi.metrics.goalRejected("invalid")
		return nil, invalidTarget("no target")
	}
	if err := target.Validate(gi.registry); err != nil {
		gi.metrics.goalRejected("invalid")
		gi.logger.Debugf("Rejected target %v: %v", target, err)
		return nil, err
	}

	g := newGoal(target)
	if err := gi.exec.begin(g); err != nil {
		gi.metrics.goalRejected("busy")
		return nil, err
	}

	if err := gi.queue.enqueue(g); err != nil {
		gi.exec.finish(g)
		g.complete(err)
		if errors.Is(err, ErrNotRunning) {
			gi.metrics.goalRejected("not_running")
		} else {
			gi.metrics.goalRejected("busy")
		}
		return nil, err
	}

	gi.metrics.goalAccepted()
	gi.logger.Infof("Accepted goal %s: %v", g.ID, target)
	return g, nil
}
