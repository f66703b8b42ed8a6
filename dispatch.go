package pickplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// DefaultDispatchHz is the control rate used when none is configured.
const DefaultDispatchHz = 25.0

// DispatchLoop streams the installed trajectory to the actuators at a fixed rate and
// keeps the latest joint feedback.
//
// The loop only runs its tick on a ticker once Start is called. Tests drive Tick
// directly for a deterministic passage of time.
type DispatchLoop struct {
	registry  *JointRegistry
	buffer    *TrajectoryBuffer
	exec      *execution
	actuators Actuators
	metrics   *Metrics
	logger    logging.Logger
	hz        float64

	// tickMu serializes ticks; the fields below it are only touched by Tick.
	tickMu     sync.Mutex
	generation uint64
	holdLeft   int
	finishing  bool

	mu            sync.Mutex
	lastCommanded []float64
	commanded     []bool
	feedback      []float64
	reported      []bool
	feedbackAt    time.Time

	workerMu sync.Mutex
	worker   *utils.StoppableWorkers
}

func newDispatchLoop(
	registry *JointRegistry, buffer *TrajectoryBuffer, exec *execution, actuators Actuators,
	hz float64, metrics *Metrics, logger logging.Logger,
) *DispatchLoop {
	if hz <= 0 {
		hz = DefaultDispatchHz
	}
	return &DispatchLoop{
		registry:      registry,
		buffer:        buffer,
		exec:          exec,
		actuators:     actuators,
		metrics:       metrics,
		logger:        logger,
		hz:            hz,
		lastCommanded: make([]float64, registry.Width()),
		commanded:     make([]bool, registry.Width()),
		feedback:      make([]float64, registry.Width()),
		reported:      make([]bool, registry.Width()),
	}
}

// Interval is the time between ticks.
func (d *DispatchLoop) Interval() time.Duration {
	return time.Duration(float64(time.Second) / d.hz)
}

// Start begins ticking in the background.
func (d *DispatchLoop) Start() {
	d.workerMu.Lock()
	defer d.workerMu.Unlock()
	if d.worker != nil {
		return
	}
	d.worker = utils.NewStoppableWorkerWithTicker(d.Interval(), d.Tick)
}

// Stop halts the ticker and waits for a tick in progress.
func (d *DispatchLoop) Stop() {
	d.workerMu.Lock()
	worker := d.worker
	d.worker = nil
	d.workerMu.Unlock()
	if worker != nil {
		worker.Stop()
	}
}

// Tick advances dispatch by one control period. When Executing, the first tick of each
// waypoint's hold window sends that waypoint; the remaining ticks of the window are
// quiet. The goal succeeds, and the state returns to Idle, when the last waypoint's
// window has elapsed.
func (d *DispatchLoop) Tick(ctx context.Context) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()
	d.metrics.tick()

	state, g := d.exec.snapshot()
	if state != Executing {
		d.resetCadence()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.abort(g, fmt.Errorf("dispatch panicked: %v", r))
		}
	}()

	if gen := d.buffer.Generation(); gen != d.generation {
		d.resetCadence()
		d.generation = gen
	}

	if d.holdLeft > 0 {
		d.holdLeft--
		if d.holdLeft == 0 && d.finishing {
			d.succeed(g)
		}
		return
	}

	wp, ok := d.buffer.Next()
	if !ok {
		d.succeed(g)
		return
	}

	cmds, err := d.commandsFor(wp)
	if err != nil {
		d.abort(g, err)
		return
	}
	if err := d.actuators.Send(ctx, cmds); err != nil {
		d.metrics.actuatorError()
		d.logger.Warnf("Failed to send waypoint %d of goal %s: %v", wp.Index, goalID(g), err)
	} else {
		d.metrics.waypointSent()
	}

	d.holdLeft = wp.Hold - 1
	d.finishing = wp.IsLast
	if d.holdLeft <= 0 && wp.IsLast {
		d.succeed(g)
	}
}

func (d *DispatchLoop) resetCadence() {
	d.holdLeft = 0
	d.finishing = false
}

func (d *DispatchLoop) succeed(g *Goal) {
	d.resetCadence()
	if !d.exec.finish(g) {
		return
	}
	if g != nil {
		g.complete(nil)
		d.logger.Infof("Goal %s finished", g.ID)
	}
	d.metrics.goalFinished("succeeded")
}

func (d *DispatchLoop) abort(g *Goal, cause error) {
	d.resetCadence()
	d.logger.Errorf("Aborting goal %s: %v", goalID(g), cause)
	if !d.exec.finish(g) {
		return
	}
	d.buffer.Clear()
	if g != nil {
		g.complete(errors.Wrap(ErrAborted, cause.Error()))
	}
	d.metrics.goalFinished("aborted")
}

// commandsFor builds one command per arm joint followed by the gripper value on both
// gripper channels. A waypoint without a gripper column repeats the last gripper
// command; before any gripper command the last reported gripper position is used, and
// with neither the gripper channels are left out.
func (d *DispatchLoop) commandsFor(wp Waypoint) ([]ActuatorCommand, error) {
	arm := d.registry.ArmJointCount()
	if n := len(wp.Positions); n != arm && n != d.registry.Width() {
		return nil, fmt.Errorf("waypoint %d has %d positions, expected %d or %d", wp.Index, n, arm, d.registry.Width())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmds := make([]ActuatorCommand, 0, arm+2)
	for i, j := range d.registry.Joints() {
		cmds = append(cmds, ActuatorCommand{ActuatorID: j.ActuatorID, Position: wp.Positions[i]})
		d.lastCommanded[i] = wp.Positions[i]
		d.commanded[i] = true
	}

	gi := d.registry.Gripper().Index
	var grip float64
	switch {
	case len(wp.Positions) > arm:
		grip = wp.Positions[arm]
	case d.commanded[gi]:
		grip = d.lastCommanded[gi]
	case d.reported[gi]:
		grip = d.feedback[gi]
	default:
		return cmds, nil
	}
	d.lastCommanded[gi] = grip
	d.commanded[gi] = true
	for _, id := range d.registry.Gripper().ActuatorIDs {
		cmds = append(cmds, ActuatorCommand{ActuatorID: id, Position: grip})
	}
	return cmds, nil
}

// UpdateFeedback records reported joint positions. It is accepted in every state and
// never moves the dispatch cursor. Malformed feedback is dropped.
func (d *DispatchLoop) UpdateFeedback(fb JointFeedback) error {
	positions, known, err := fb.resolve(d.registry)
	if err != nil {
		d.metrics.feedbackDropped()
		d.logger.Debugf("Dropping feedback: %v", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ok := range known {
		if ok {
			d.feedback[i] = positions[i]
			d.reported[i] = true
		}
	}
	d.feedbackAt = fb.Stamp
	if d.feedbackAt.IsZero() {
		d.feedbackAt = time.Now()
	}
	return nil
}

// Feedback returns the latest reported positions in registry order, and false when no
// feedback has arrived yet. Joints never reported read as zero.
func (d *DispatchLoop) Feedback() (JointFeedback, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := false
	for _, ok := range d.reported {
		seen = seen || ok
	}
	if !seen {
		return JointFeedback{}, false
	}
	return JointFeedback{
		Names:     d.registry.Names(),
		Positions: append([]float64(nil), d.feedback...),
		Stamp:     d.feedbackAt,
	}, true
}

// LastCommanded returns the most recent command per column in registry order.
func (d *DispatchLoop) LastCommanded() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.lastCommanded...)
}

// CurrentPositions is the best known position of every column: reported feedback,
// else the last command, else zero.
func (d *DispatchLoop) CurrentPositions() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]float64, len(d.feedback))
	for i := range out {
		switch {
		case d.reported[i]:
			out[i] = d.feedback[i]
		case d.commanded[i]:
			out[i] = d.lastCommanded[i]
		}
	}
	return out
}

func goalID(g *Goal) string {
	if g == nil {
		return "<none>"
	}
	return g.ID
}
