package pickplace

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// PlanningWorker runs the planner for one goal at a time on a managed background
// goroutine and installs the result into the trajectory buffer.
type PlanningWorker struct {
	planner  Planner
	group    string
	current  func() []float64
	registry *JointRegistry
	buffer   *TrajectoryBuffer
	exec     *execution
	metrics  *Metrics
	logger   logging.Logger

	goals chan *Goal

	mu      sync.Mutex
	workers *utils.StoppableWorkers
	stopped bool
}

func newPlanningWorker(
	planner Planner, group string, current func() []float64, registry *JointRegistry, buffer *TrajectoryBuffer, exec *execution,
	metrics *Metrics, logger logging.Logger,
) *PlanningWorker {
	return &PlanningWorker{
		planner:  planner,
		group:    group,
		current:  current,
		registry: registry,
		buffer:   buffer,
		exec:     exec,
		metrics:  metrics,
		logger:   logger,
		goals:    make(chan *Goal, 1),
	}
}

// Start launches the worker goroutine. It is a no-op when already started, and a
// stopped worker cannot be restarted.
func (w *PlanningWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.workers != nil || w.stopped {
		return
	}
	w.workers = utils.NewBackgroundStoppableWorkers(w.run)
}

// Stop cancels any planner call in progress and waits for the goroutine to exit. A goal
// that was handed over but never picked up completes with ErrAborted.
func (w *PlanningWorker) Stop() {
	w.mu.Lock()
	workers := w.workers
	w.stopped = true
	w.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
	for {
		select {
		case g := <-w.goals:
			w.exec.finish(g)
			g.complete(ErrAborted)
		default:
			return
		}
	}
}

func (w *PlanningWorker) enqueue(g *Goal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.workers == nil || w.stopped {
		return ErrNotRunning
	}
	for {
		select {
		case w.goals <- g:
			return nil
		default:
		}
		// The slot may hold a goal aborted while the worker was still inside a planner
		// that ignored cancellation. Only enqueue writes to the slot.
		select {
		case queued := <-w.goals:
			select {
			case <-queued.Done():
				w.logger.Debugf("Dropping goal %s, aborted before planning", queued.ID)
			default:
				w.goals <- queued
				return ErrBusy
			}
		default:
		}
	}
}

func (w *PlanningWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case g := <-w.goals:
			w.handle(ctx, g)
		}
	}
}

func (w *PlanningWorker) handle(ctx context.Context, g *Goal) {
	planCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !g.setCancel(cancel) {
		// aborted before planning started
		return
	}

	w.logger.Debugf("Planning goal %s", g.ID)
	start := time.Now()
	path, err := w.plan(planCtx, g)
	w.metrics.observePlan(time.Since(start), err)

	if ctx.Err() != nil {
		w.exec.finish(g)
		g.complete(ErrAborted)
		w.metrics.goalFinished("aborted")
		return
	}
	if _, cur := w.exec.snapshot(); cur != g {
		// aborted while planning; Abort already completed the goal
		return
	}

	if err != nil {
		perr := asPlanningError(err)
		w.exec.finish(g)
		g.complete(perr)
		w.metrics.goalFinished("planning_failed")
		w.logger.Warnf("Planning failed for goal %s: %v", g.ID, perr)
		return
	}

	if n := path.Waypoints(); n > 0 {
		if width := path.Width(); width != w.registry.ArmJointCount() && width != w.registry.Width() {
			w.exec.finish(g)
			g.complete(errors.Wrapf(ErrAborted, "planned path has %d columns, expected %d or %d",
				width, w.registry.ArmJointCount(), w.registry.Width()))
			w.metrics.goalFinished("aborted")
			w.logger.Errorf("Discarding plan for goal %s: width %d does not match the joint registry", g.ID, width)
			return
		}
	}

	w.buffer.Install(path)
	g.markPlanned(path.Waypoints())

	if path.Waypoints() == 0 {
		w.logger.Infof("Goal %s planned to an empty path, nothing to execute", g.ID)
		if w.exec.finish(g) {
			g.complete(nil)
			w.metrics.goalFinished("succeeded")
		}
		return
	}

	if !w.exec.executing(g) {
		w.buffer.Clear()
		g.complete(ErrAborted)
		return
	}
	w.logger.Infof("Executing goal %s: %d waypoints over %v", g.ID, path.Waypoints(), path.Duration)
}

// plan calls the planner and turns a panic into an infeasible result.
func (w *PlanningWorker) plan(ctx context.Context, g *Goal) (path *PlannedPath, err error) {
	defer func() {
		if r := recover(); r != nil {
			path = nil
			err = NewInfeasible("planner panicked: %v", r)
		}
	}()
	path, err = w.planner.Plan(ctx, PlanRequest{
		GoalID: g.ID,
		Group:  w.group,
		Target: g.Target,
		Start:  w.current(),
	})
	if err == nil && path == nil {
		err = NewInfeasible("planner returned no path")
	}
	return path, err
}
