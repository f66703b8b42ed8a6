package pickplace

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"go.viam.com/rdk/logging"
)

// Normalization modes
const (
	// NormModeRadians maps the calibrated range center to zero, one servo revolution
	// to 2*pi.
	NormModeRadians = 0
	// NormModeUnit maps RangeMin..RangeMax to 0..1, used for gripper opening.
	NormModeUnit = 1
)

// servoResolution is the number of raw steps in one revolution of an STS3215.
const servoResolution = 4096

// MotorCalibration converts between raw servo steps and the positions the coordinator
// works in.
type MotorCalibration struct {
	ID        int `json:"id" yaml:"id"`
	DriveMode int `json:"drive_mode" yaml:"drive_mode"`
	RangeMin  int `json:"range_min" yaml:"range_min"`
	RangeMax  int `json:"range_max" yaml:"range_max"`
	NormMode  int `json:"norm_mode,omitempty" yaml:"norm_mode,omitempty"`
}

// Calibration holds one entry per actuator, keyed by actuator id.
type Calibration map[int]MotorCalibration

// Normalize converts a raw servo position.
func (c MotorCalibration) Normalize(raw int) float64 {
	var v float64
	switch c.NormMode {
	case NormModeUnit:
		span := float64(c.RangeMax - c.RangeMin)
		if span == 0 {
			return 0
		}
		v = math.Max(0, math.Min(1, float64(raw-c.RangeMin)/span))
		if c.DriveMode != 0 {
			v = 1 - v
		}
	default:
		center := float64(c.RangeMin+c.RangeMax) / 2
		v = (float64(raw) - center) * 2 * math.Pi / servoResolution
		if c.DriveMode != 0 {
			v = -v
		}
	}
	return v
}

// Denormalize converts a position to raw servo steps, clamped to the calibrated range.
func (c MotorCalibration) Denormalize(v float64) int {
	var raw int
	switch c.NormMode {
	case NormModeUnit:
		if c.DriveMode != 0 {
			v = 1 - v
		}
		v = math.Max(0, math.Min(1, v))
		raw = int(math.Round(v*float64(c.RangeMax-c.RangeMin))) + c.RangeMin
	default:
		if c.DriveMode != 0 {
			v = -v
		}
		center := float64(c.RangeMin+c.RangeMax) / 2
		raw = int(math.Round(v*servoResolution/(2*math.Pi) + center))
	}
	if raw < c.RangeMin {
		raw = c.RangeMin
	}
	if raw > c.RangeMax {
		raw = c.RangeMax
	}
	return raw
}

// Validate checks if the calibration parameters are valid
func (c MotorCalibration) Validate() error {
	if c.ID < 0 || c.ID > 253 {
		return fmt.Errorf("invalid servo ID: %d", c.ID)
	}
	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}
	if c.RangeMin < 0 || c.RangeMax >= servoResolution {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", servoResolution-1, c.RangeMin, c.RangeMax)
	}
	if c.NormMode != NormModeRadians && c.NormMode != NormModeUnit {
		return fmt.Errorf("invalid normalization mode: %d", c.NormMode)
	}
	return nil
}

// DefaultCalibration covers every actuator in the registry with the full mechanical
// range: radians for arm joints, unit opening for the gripper channels.
func DefaultCalibration(r *JointRegistry) Calibration {
	cal := Calibration{}
	for _, j := range r.Joints() {
		cal[j.ActuatorID] = MotorCalibration{ID: j.ActuatorID, RangeMin: 500, RangeMax: 3500, NormMode: NormModeRadians}
	}
	for _, id := range r.Gripper().ActuatorIDs {
		cal[id] = MotorCalibration{ID: id, RangeMin: 500, RangeMax: 3500, NormMode: NormModeUnit}
	}
	return cal
}

// IDs returns the calibrated actuator ids in ascending order.
func (c Calibration) IDs() []int {
	ids := make([]int, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Validate checks every entry and that the registry's actuators are all covered.
func (c Calibration) Validate(r *JointRegistry) error {
	for id, mc := range c {
		if mc.ID != id {
			return fmt.Errorf("calibration for actuator %d carries id %d", id, mc.ID)
		}
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("actuator %d: %w", id, err)
		}
	}
	for _, id := range r.ActuatorIDs() {
		if _, ok := c[id]; !ok {
			return fmt.Errorf("no calibration for actuator %d", id)
		}
	}
	return nil
}

// LoadCalibration reads a calibration file keyed by joint name, as written by
// SaveCalibration. Joints missing from the file keep their default entry.
func LoadCalibration(path string, r *JointRegistry, logger logging.Logger) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var byName map[string]MotorCalibration
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	cal := DefaultCalibration(r)
	for name, mc := range byName {
		id, ok := calibrationActuator(name, r)
		if !ok {
			logger.Warnf("Ignoring calibration for unknown joint %q", name)
			continue
		}
		switch mc.ID {
		case 0:
			mc.ID = id
		case id:
		default:
			return nil, fmt.Errorf("calibration for %s has id %d, expected actuator %d", name, mc.ID, id)
		}
		cal[id] = mc
	}
	if err := cal.Validate(r); err != nil {
		return nil, fmt.Errorf("calibration validation failed: %w", err)
	}
	logger.Debugf("Loaded calibration for %d actuators from %s", len(cal), path)
	return cal, nil
}

// SaveCalibration writes cal keyed by joint name. The two gripper channels are written
// as <gripper>_a and <gripper>_b.
func SaveCalibration(path string, cal Calibration, r *JointRegistry) error {
	byName := map[string]MotorCalibration{}
	for _, j := range r.Joints() {
		if mc, ok := cal[j.ActuatorID]; ok {
			byName[j.Name] = mc
		}
	}
	for i, id := range r.Gripper().ActuatorIDs {
		if mc, ok := cal[id]; ok {
			byName[gripperChannelName(r, i)] = mc
		}
	}

	data, err := json.MarshalIndent(byName, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

func gripperChannelName(r *JointRegistry, channel int) string {
	return fmt.Sprintf("%s_%c", r.Gripper().Name, 'a'+channel)
}

// calibrationActuator maps a calibration file key to the actuator it calibrates.
func calibrationActuator(name string, r *JointRegistry) (int, bool) {
	for _, j := range r.Joints() {
		if j.Name == name {
			return j.ActuatorID, true
		}
	}
	for i, id := range r.Gripper().ActuatorIDs {
		if name == gripperChannelName(r, i) {
			return id, true
		}
	}
	return 0, false
}
