package pickplace

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"
)

// DefaultBaudRate is the STS servo bus speed.
const DefaultBaudRate = 1000000

// Planner and output kinds.
const (
	PlannerLinear = "linear"
	PlannerRedis  = "redis"

	OutputDirect = "direct"
	OutputRedis  = "redis"
)

// Config is the coordinator configuration. JSON is accepted as well as YAML.
type Config struct {
	// Simulated selects simulated actuators and the simulated output channel set.
	Simulated bool `json:"simulated" yaml:"simulated"`
	// PlanningGroup is handed to the planner as is.
	PlanningGroup string  `json:"planning_group,omitempty" yaml:"planning_group,omitempty"`
	DispatchHz    float64 `json:"dispatch_hz,omitempty" yaml:"dispatch_hz,omitempty"`

	Joints  []JointConfig `json:"joints,omitempty" yaml:"joints,omitempty"`
	Gripper GripperConfig `json:"gripper,omitempty" yaml:"gripper,omitempty"`

	Planner PlannerConfig `json:"planner,omitempty" yaml:"planner,omitempty"`
	// Output is where commands go: "direct" to the actuators, or "redis" to the
	// command channels.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	Serial SerialConfig `json:"serial,omitempty" yaml:"serial,omitempty"`
	Redis  RedisConfig  `json:"redis,omitempty" yaml:"redis,omitempty"`
	HTTP   HTTPConfig   `json:"http,omitempty" yaml:"http,omitempty"`

	// SimSpeed is the simulated joint speed in radians per second.
	SimSpeed float64 `json:"sim_speed,omitempty" yaml:"sim_speed,omitempty"`
}

// JointConfig describes one arm joint. Limits are in degrees.
type JointConfig struct {
	Name       string     `json:"name" yaml:"name"`
	ActuatorID int        `json:"actuator_id" yaml:"actuator_id"`
	Limits     [2]float64 `json:"limits_degs,omitempty" yaml:"limits_degs,omitempty"`
}

// GripperConfig describes the gripper and its two actuator channels.
type GripperConfig struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	ActuatorIDs [2]int `json:"actuator_ids,omitempty" yaml:"actuator_ids,omitempty"`
}

// PlannerConfig selects and tunes the planner.
type PlannerConfig struct {
	Type              string        `json:"type,omitempty" yaml:"type,omitempty"`
	Budget            time.Duration `json:"budget,omitempty" yaml:"budget,omitempty"`
	MaxJointSpeedDegs float64       `json:"max_joint_speed_degs_per_sec,omitempty" yaml:"max_joint_speed_degs_per_sec,omitempty"`
	WaypointHz        float64       `json:"waypoint_hz,omitempty" yaml:"waypoint_hz,omitempty"`
	MinDuration       time.Duration `json:"min_duration,omitempty" yaml:"min_duration,omitempty"`
}

// SerialConfig is the servo bus used when not simulated.
type SerialConfig struct {
	Port            string        `json:"port,omitempty" yaml:"port,omitempty"`
	Baudrate        int           `json:"baudrate,omitempty" yaml:"baudrate,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	PollInterval    time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	CalibrationFile string        `json:"calibration_file,omitempty" yaml:"calibration_file,omitempty"`
}

// RedisConfig is the Redis connection for goal intake, feedback, command output and the
// remote planner.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// HTTPConfig is the HTTP API listener. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Validate ensures all parts of the config are valid and fills defaults. path names
// the config location in error messages.
func (cfg *Config) Validate(path string) error {
	if cfg.DispatchHz == 0 {
		cfg.DispatchHz = DefaultDispatchHz
	}
	if cfg.DispatchHz < 0 || math.IsNaN(cfg.DispatchHz) || math.IsInf(cfg.DispatchHz, 0) {
		return fmt.Errorf("%s: dispatch_hz must be positive, got %v", path, cfg.DispatchHz)
	}

	if cfg.Planner.Type == "" {
		cfg.Planner.Type = PlannerLinear
	}
	switch cfg.Planner.Type {
	case PlannerLinear:
	case PlannerRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%s: planner type %q requires redis.addr", path, PlannerRedis)
		}
	default:
		return fmt.Errorf("%s: unknown planner type %q", path, cfg.Planner.Type)
	}
	if cfg.Planner.Budget == 0 {
		cfg.Planner.Budget = DefaultPlanningBudget
	}
	if cfg.Planner.Budget < 0 {
		return fmt.Errorf("%s: planner.budget must be positive", path)
	}

	if cfg.Output == "" {
		cfg.Output = OutputDirect
	}
	switch cfg.Output {
	case OutputDirect:
		if !cfg.Simulated && cfg.Serial.Port == "" {
			return fmt.Errorf("%s: must specify serial.port for serial communication", path)
		}
	case OutputRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%s: output %q requires redis.addr", path, OutputRedis)
		}
	default:
		return fmt.Errorf("%s: unknown output %q", path, cfg.Output)
	}

	if cfg.Serial.Baudrate == 0 {
		cfg.Serial.Baudrate = DefaultBaudRate
	}
	if cfg.Serial.Timeout == 0 {
		cfg.Serial.Timeout = time.Second
	}
	if cfg.Serial.PollInterval == 0 {
		cfg.Serial.PollInterval = 100 * time.Millisecond
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "pickplace"
	}

	if _, err := cfg.Registry(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Registry builds the joint registry. Without joints the default layout is used.
func (cfg *Config) Registry() (*JointRegistry, error) {
	if len(cfg.Joints) == 0 && cfg.Gripper == (GripperConfig{}) {
		return DefaultJointRegistry(), nil
	}
	if len(cfg.Joints) == 0 {
		return nil, fmt.Errorf("gripper configured without joints")
	}
	joints := make([]Joint, len(cfg.Joints))
	for i, jc := range cfg.Joints {
		joints[i] = Joint{
			Name:       jc.Name,
			ActuatorID: jc.ActuatorID,
			Limits:     [2]float64{degToRad(jc.Limits[0]), degToRad(jc.Limits[1])},
		}
	}
	gripper := Gripper{Name: cfg.Gripper.Name, ActuatorIDs: cfg.Gripper.ActuatorIDs}
	if gripper.Name == "" {
		gripper.Name = DefaultGripperName
	}
	return NewJointRegistry(joints, gripper)
}

// LinearPlannerConfig converts the planner section.
func (cfg *Config) LinearPlannerConfig() LinearPlannerConfig {
	return LinearPlannerConfig{
		MaxJointSpeed: degToRad(cfg.Planner.MaxJointSpeedDegs),
		WaypointHz:    cfg.Planner.WaypointHz,
		MinDuration:   cfg.Planner.MinDuration,
		Budget:        cfg.Planner.Budget,
	}
}

// LoadCalibration loads the configured calibration file, or returns the default
// calibration when none is set. Relative paths resolve against dir.
func (cfg *Config) LoadCalibration(dir string, r *JointRegistry, logger logging.Logger) (Calibration, bool, error) {
	if cfg.Serial.CalibrationFile == "" {
		logger.Debug("No calibration file specified, using default calibration")
		return DefaultCalibration(r), false, nil
	}
	p := cfg.Serial.CalibrationFile
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	cal, err := LoadCalibration(p, r, logger)
	if err != nil {
		return nil, false, err
	}
	logger.Infof("Successfully loaded calibration from %s", p)
	return cal, true, nil
}

// LoadConfig reads and validates a YAML or JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
