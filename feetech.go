package pickplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// FeetechConfig describes the serial bus the servos hang off.
type FeetechConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
	// PollInterval is how often positions are read back as feedback. Zero disables
	// polling.
	PollInterval time.Duration
}

// servoIO is the slice of the servo bus the actuators use.
type servoIO interface {
	enable(ctx context.Context) error
	disable(ctx context.Context) error
	positions(ctx context.Context) (map[int]int, error)
	setPositions(ctx context.Context, raw map[int]int) error
	close() error
}

// sharedBus is one open serial bus, shared by every user of the same port and closed
// when the last one releases it.
type sharedBus struct {
	port     string
	baudRate int
	bus      *feetech.Bus
	refs     int
	// mu serializes transactions on the wire.
	mu sync.Mutex
}

var (
	busesMu sync.Mutex
	buses   = map[string]*sharedBus{}
)

func acquireBus(cfg FeetechConfig) (*sharedBus, error) {
	busesMu.Lock()
	defer busesMu.Unlock()

	if b, ok := buses[cfg.Port]; ok {
		if b.baudRate != cfg.BaudRate {
			return nil, fmt.Errorf("conflict: %s already open at %d baud (refs: %d)", cfg.Port, b.baudRate, b.refs)
		}
		b.refs++
		return b, nil
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open bus %s", cfg.Port)
	}
	b := &sharedBus{port: cfg.Port, baudRate: cfg.BaudRate, bus: bus, refs: 1}
	buses[cfg.Port] = b
	return b, nil
}

func (b *sharedBus) release() error {
	busesMu.Lock()
	defer busesMu.Unlock()

	b.refs--
	if b.refs > 0 {
		return nil
	}
	delete(buses, b.port)
	return b.bus.Close()
}

// groupIO drives a fixed set of servos on a shared bus.
type groupIO struct {
	bus   *sharedBus
	group *feetech.ServoGroup
}

func (g *groupIO) enable(ctx context.Context) error {
	g.bus.mu.Lock()
	defer g.bus.mu.Unlock()
	return g.group.EnableAll(ctx)
}

func (g *groupIO) disable(ctx context.Context) error {
	g.bus.mu.Lock()
	defer g.bus.mu.Unlock()
	return g.group.DisableAll(ctx)
}

func (g *groupIO) positions(ctx context.Context) (map[int]int, error) {
	g.bus.mu.Lock()
	raw, err := g.group.Positions(ctx)
	g.bus.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for id, v := range raw {
		out[int(id)] = int(v)
	}
	return out, nil
}

func (g *groupIO) setPositions(ctx context.Context, raw map[int]int) error {
	pm := make(feetech.PositionMap, len(raw))
	for id, v := range raw {
		pm[id] = v
	}
	g.bus.mu.Lock()
	defer g.bus.mu.Unlock()
	return g.group.SetPositions(ctx, pm)
}

func (g *groupIO) close() error {
	return g.bus.release()
}

// FeetechActuators drives Feetech STS servos. Arm joints take radians; the gripper
// channels take an opening between 0 and 1. Positions read back from the servos are
// reported as feedback.
type FeetechActuators struct {
	registry    *JointRegistry
	calibration Calibration
	io          servoIO
	feedback    func(JointFeedback)
	logger      logging.Logger

	poller *utils.StoppableWorkers
}

// NewFeetechActuators opens (or joins) the bus on cfg.Port and enables torque on every
// actuator in the registry.
func NewFeetechActuators(
	ctx context.Context, cfg FeetechConfig, registry *JointRegistry, cal Calibration,
	feedback func(JointFeedback), logger logging.Logger,
) (*FeetechActuators, error) {
	if err := cal.Validate(registry); err != nil {
		return nil, err
	}
	bus, err := acquireBus(cfg)
	if err != nil {
		return nil, err
	}
	io := &groupIO{bus: bus, group: feetech.NewServoGroupByIDs(bus.bus, registry.ActuatorIDs()...)}
	f, err := newFeetechActuators(ctx, io, registry, cal, cfg.PollInterval, feedback, logger)
	if err != nil {
		utils.UncheckedError(bus.release())
		return nil, err
	}
	logger.Infof("Driving %d servos on %s at %d baud", len(registry.ActuatorIDs()), cfg.Port, cfg.BaudRate)
	return f, nil
}

func newFeetechActuators(
	ctx context.Context, io servoIO, registry *JointRegistry, cal Calibration, poll time.Duration,
	feedback func(JointFeedback), logger logging.Logger,
) (*FeetechActuators, error) {
	if err := io.enable(ctx); err != nil {
		return nil, errors.Wrap(err, "enable torque")
	}
	f := &FeetechActuators{
		registry:    registry,
		calibration: cal,
		io:          io,
		feedback:    feedback,
		logger:      logger,
	}
	if poll > 0 && feedback != nil {
		f.poller = utils.NewStoppableWorkerWithTicker(poll, f.poll)
	}
	return f, nil
}

// Send writes every command in one synchronized bus transaction.
func (f *FeetechActuators) Send(ctx context.Context, cmds []ActuatorCommand) error {
	raw := make(map[int]int, len(cmds))
	for _, c := range cmds {
		mc, ok := f.calibration[c.ActuatorID]
		if !ok {
			return fmt.Errorf("no calibration for actuator %d", c.ActuatorID)
		}
		raw[c.ActuatorID] = mc.Denormalize(c.Position)
	}
	return f.io.setPositions(ctx, raw)
}

// ReadFeedback reads every servo position once.
func (f *FeetechActuators) ReadFeedback(ctx context.Context) (JointFeedback, error) {
	raw, err := f.io.positions(ctx)
	if err != nil {
		return JointFeedback{}, err
	}
	names := make([]string, 0, f.registry.Width())
	positions := make([]float64, 0, f.registry.Width())
	for _, j := range f.registry.Joints() {
		if v, ok := raw[j.ActuatorID]; ok {
			names = append(names, j.Name)
			positions = append(positions, f.calibration[j.ActuatorID].Normalize(v))
		}
	}
	g := f.registry.Gripper()
	if v, ok := raw[g.ActuatorIDs[0]]; ok {
		names = append(names, g.Name)
		positions = append(positions, f.calibration[g.ActuatorIDs[0]].Normalize(v))
	}
	return JointFeedback{Names: names, Positions: positions, Stamp: time.Now()}, nil
}

func (f *FeetechActuators) poll(ctx context.Context) {
	fb, err := f.ReadFeedback(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Debugf("Position read failed: %v", err)
		}
		return
	}
	if len(fb.Positions) > 0 {
		f.feedback(fb)
	}
}

// Close stops polling, disables torque and releases the bus.
func (f *FeetechActuators) Close(ctx context.Context) error {
	if f.poller != nil {
		f.poller.Stop()
	}
	var errs error
	if err := f.io.disable(ctx); err != nil {
		f.logger.Warnf("Failed to disable torque: %v", err)
		errs = err
	}
	if err := f.io.close(); err != nil {
		return err
	}
	return errs
}
