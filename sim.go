package pickplace

import (
	"context"
	"math"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// SimulatedActuators moves a virtual arm toward the last commanded positions at a fixed
// speed and reports where it is through a feedback callback.
//
// Positions only change when advance is called. With time simulation on, a background
// worker calls it on a short ticker; tests call it directly for deterministic time.
type SimulatedActuators struct {
	registry *JointRegistry
	logger   logging.Logger
	// speed in radians per second, the same for every channel.
	speed    float64
	feedback func(JointFeedback)

	mu          sync.Mutex
	current     map[int]float64
	target      map[int]float64
	lastUpdated time.Time

	timeSimulation *utils.StoppableWorkers
}

// NewSimulatedActuators returns a simulator starting at zero on every channel. feedback
// may be nil.
func NewSimulatedActuators(
	registry *JointRegistry, speed float64, simulateTime bool, feedback func(JointFeedback), logger logging.Logger,
) *SimulatedActuators {
	if speed <= 0 {
		speed = DefaultMaxJointSpeed
	}
	s := &SimulatedActuators{
		registry: registry,
		logger:   logger,
		speed:    speed,
		feedback: feedback,
		current:  map[int]float64{},
		target:   map[int]float64{},
	}
	for _, id := range registry.ActuatorIDs() {
		s.current[id] = 0
		s.target[id] = 0
	}
	if simulateTime {
		s.lastUpdated = time.Now()
		s.timeSimulation = utils.NewStoppableWorkerWithTicker(20*time.Millisecond, func(_ context.Context) {
			s.advance(time.Now())
		})
	}
	return s
}

// Send sets new targets. Commands for unknown actuator ids are ignored.
func (s *SimulatedActuators) Send(_ context.Context, cmds []ActuatorCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cmds {
		if _, ok := s.target[c.ActuatorID]; !ok {
			s.logger.Debugf("Simulator ignoring unknown actuator %d", c.ActuatorID)
			continue
		}
		s.target[c.ActuatorID] = c.Position
	}
	return nil
}

// Positions returns the simulated position of every actuator.
func (s *SimulatedActuators) Positions() map[int]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]float64, len(s.current))
	for id, p := range s.current {
		out[id] = p
	}
	return out
}

// advance moves every channel toward its target for the time elapsed since the last
// call and publishes feedback.
func (s *SimulatedActuators) advance(now time.Time) {
	s.mu.Lock()
	elapsed := now.Sub(s.lastUpdated)
	if s.lastUpdated.IsZero() {
		elapsed = 0
	}
	s.lastUpdated = now

	step := elapsed.Seconds() * s.speed
	const epsilon = 1e-9
	for id, cur := range s.current {
		diff := s.target[id] - cur
		if step > math.Abs(diff)-epsilon {
			s.current[id] = s.target[id]
			continue
		}
		if diff < 0 {
			s.current[id] = cur - step
		} else {
			s.current[id] = cur + step
		}
	}
	fb := s.feedbackLocked(now)
	s.mu.Unlock()

	if s.feedback != nil {
		s.feedback(fb)
	}
}

func (s *SimulatedActuators) feedbackLocked(now time.Time) JointFeedback {
	positions := make([]float64, s.registry.Width())
	for _, j := range s.registry.Joints() {
		positions[j.Index] = s.current[j.ActuatorID]
	}
	g := s.registry.Gripper()
	positions[g.Index] = s.current[g.ActuatorIDs[0]]
	return JointFeedback{Positions: positions, Stamp: now}
}

// Close stops time simulation.
func (s *SimulatedActuators) Close() error {
	if s.timeSimulation != nil {
		s.timeSimulation.Stop()
	}
	return nil
}
