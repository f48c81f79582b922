// Package config loads the drivetrain configuration from YAML with SWERVE_*
// environment overrides, and builds the hardware it describes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/swervebot/pkg/actuator"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/swerve"
)

const DefaultPath = "/cfg/swerve.yaml"

const (
	BackendSim       = "sim"
	BackendModuleBus = "modulebus"
	BackendCAN       = "can"

	// Steering sensors and turn motors can come from the backend ("board") or
	// from separate devices.
	SourceBoard   = "board"
	SourceAS5047  = "as5047"
	SourcePCA9685 = "pca9685"
)

type Config struct {
	Kind          string           `yaml:"kind"`
	Geometry      chassis.Geometry `yaml:"geometry"`
	SamplePeriod  time.Duration    `yaml:"sample_period"`
	ControlPeriod time.Duration    `yaml:"control_period"`
	MaxWheelSpeed float64          `yaml:"max_wheel_speed"`
	FieldRelative bool             `yaml:"field_relative"`

	Actuator ActuatorConfig `yaml:"actuator"`
	Hardware HardwareConfig `yaml:"hardware"`
}

type ActuatorConfig struct {
	Mode     string             `yaml:"mode"`
	TurnGain float64            `yaml:"turn_gain"`
	PID      actuator.PIDConfig `yaml:"pid"`
	Drive    actuator.Shaping   `yaml:"drive"`
	Turn     actuator.Shaping   `yaml:"turn"`
}

type HardwareConfig struct {
	Backend    string `yaml:"backend"`
	Steering   string `yaml:"steering"`
	TurnMotors string `yaml:"turn_motors"`

	I2CBus        string        `yaml:"i2c_bus"`
	ModuleBusAddr int           `yaml:"modulebus_addr"`
	Watchdog      time.Duration `yaml:"watchdog"`
	PCA9685Addr   int           `yaml:"pca9685_addr"`
	CANInterface  string        `yaml:"can_interface"`

	Sim SimConfig `yaml:"sim"`

	// One entry per wheel, in FrontRight, FrontLeft, BackLeft, BackRight
	// order.
	Modules []ModuleConfig `yaml:"modules"`
}

type SimConfig struct {
	DriveCountsPerSec float64 `yaml:"drive_counts_per_sec"`
	TurnDegreesPerSec float64 `yaml:"turn_degrees_per_sec"`
}

type ModuleConfig struct {
	// Channel on the module controller board.
	Channel   int    `yaml:"channel"`
	DriveNode uint32 `yaml:"drive_node"`
	TurnNode  uint32 `yaml:"turn_node"`
	PWMPort   int    `yaml:"pwm_port"`
	// SPI device of the absolute steering encoder.
	EncoderPort string `yaml:"encoder_port"`

	SteeringOffset float64 `yaml:"steering_offset"`
	InvertSteering bool    `yaml:"invert_steering"`
}

// envOverrides are the settings that can be overridden from the environment.
type envOverrides struct {
	Kind          string        `env:"SWERVE_KIND"`
	Backend       string        `env:"SWERVE_BACKEND"`
	I2CBus        string        `env:"SWERVE_I2C_BUS"`
	CANInterface  string        `env:"SWERVE_CAN_IFACE"`
	SamplePeriod  time.Duration `env:"SWERVE_SAMPLE_PERIOD"`
	ControlPeriod time.Duration `env:"SWERVE_CONTROL_PERIOD"`
	FieldRelative bool          `env:"SWERVE_FIELD_RELATIVE"`
	ActuatorMode  string        `env:"SWERVE_ACTUATOR_MODE"`
	TurnGain      float64       `env:"SWERVE_TURN_GAIN"`
}

func Default() Config {
	cfg := Config{
		Kind: kinematics.Swerve.String(),
		Geometry: chassis.Geometry{
			DriveCountsPerRev: 537.6,
			TurnCountsPerRev:  1120,
			WheelDiameter:     4,
			HalfWheelbase:     6,
			HalfTrack:         6,
		},
		SamplePeriod:  20 * time.Millisecond,
		ControlPeriod: 10 * time.Millisecond,
		MaxWheelSpeed: 60,
		Actuator: ActuatorConfig{
			Mode:     "proportional",
			TurnGain: 1.0 / 90,
			PID: actuator.PIDConfig{
				Kp:            0.02,
				Ki:            0.002,
				MaxIntegral:   0.3,
				MaxDerivative: 0.5,
			},
			Drive: actuator.Shaping{Multiplier: 1},
			Turn:  actuator.Shaping{Multiplier: 1},
		},
		Hardware: HardwareConfig{
			Backend:       BackendSim,
			Steering:      SourceBoard,
			TurnMotors:    SourceBoard,
			I2CBus:        "/dev/i2c-1",
			ModuleBusAddr: 0x42,
			Watchdog:      250 * time.Millisecond,
			PCA9685Addr:   0x40,
			CANInterface:  "can0",
			Sim: SimConfig{
				DriveCountsPerSec: 2000,
				TurnDegreesPerSec: 360,
			},
		},
	}
	for w := range chassis.AllWheels {
		cfg.Hardware.Modules = append(cfg.Hardware.Modules, ModuleConfig{
			Channel:     w,
			DriveNode:   uint32(1 + w),
			TurnNode:    uint32(11 + w),
			PWMPort:     w,
			EncoderPort: fmt.Sprintf("/dev/spidev0.%d", w),
		})
	}
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies the
// environment.  A missing file is not an error if path is the default path.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !(os.IsNotExist(err) && path == DefaultPath) {
			return cfg, errors.Wrap(err, "failed to read config")
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from SWERVE_* variables.  If environ is nil the
// process environment is used.
func (c *Config) ApplyEnv(environ map[string]string) error {
	o := envOverrides{
		Kind:          c.Kind,
		Backend:       c.Hardware.Backend,
		I2CBus:        c.Hardware.I2CBus,
		CANInterface:  c.Hardware.CANInterface,
		SamplePeriod:  c.SamplePeriod,
		ControlPeriod: c.ControlPeriod,
		FieldRelative: c.FieldRelative,
		ActuatorMode:  c.Actuator.Mode,
		TurnGain:      c.Actuator.TurnGain,
	}
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return errors.Wrap(err, "parse env")
	}
	c.Kind = o.Kind
	c.Hardware.Backend = o.Backend
	c.Hardware.I2CBus = o.I2CBus
	c.Hardware.CANInterface = o.CANInterface
	c.SamplePeriod = o.SamplePeriod
	c.ControlPeriod = o.ControlPeriod
	c.FieldRelative = o.FieldRelative
	c.Actuator.Mode = o.ActuatorMode
	c.Actuator.TurnGain = o.TurnGain
	return nil
}

func (c *Config) Validate() error {
	if _, err := kinematics.ParseKind(c.Kind); err != nil {
		return err
	}
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.SamplePeriod <= 0 || c.ControlPeriod <= 0 {
		return errors.Errorf("periods must be positive (sample %v, control %v)", c.SamplePeriod, c.ControlPeriod)
	}
	if c.MaxWheelSpeed < 0 {
		return errors.Errorf("negative max wheel speed %v", c.MaxWheelSpeed)
	}
	if _, err := actuator.ParseMode(c.Actuator.Mode); err != nil {
		return err
	}
	if c.Actuator.TurnGain < 0 {
		return errors.Errorf("negative turn gain %v", c.Actuator.TurnGain)
	}
	for _, s := range []actuator.Shaping{c.Actuator.Drive, c.Actuator.Turn} {
		if s.Deadzone < 0 || s.Deadzone >= 1 {
			return errors.Errorf("deadzone %v out of [0, 1)", s.Deadzone)
		}
	}

	h := c.Hardware
	switch h.Backend {
	case BackendSim, BackendModuleBus, BackendCAN:
	default:
		return errors.Errorf("unknown hardware backend %q", h.Backend)
	}
	switch h.Steering {
	case SourceBoard, SourceAS5047:
	default:
		return errors.Errorf("unknown steering sensor %q", h.Steering)
	}
	switch h.TurnMotors {
	case SourceBoard, SourcePCA9685:
	default:
		return errors.Errorf("unknown turn motors %q", h.TurnMotors)
	}
	if len(h.Modules) != chassis.NumWheels {
		return errors.Errorf("need %d module entries, have %d", chassis.NumWheels, len(h.Modules))
	}
	return nil
}

// Drivetrain converts the config into the drivetrain's own config.
func (c *Config) Drivetrain() (swerve.Config, error) {
	kind, err := kinematics.ParseKind(c.Kind)
	if err != nil {
		return swerve.Config{}, err
	}
	mode, err := actuator.ParseMode(c.Actuator.Mode)
	if err != nil {
		return swerve.Config{}, err
	}
	return swerve.Config{
		Kind:     kind,
		Geometry: c.Geometry,
		Actuator: actuator.Config{
			Mode:     mode,
			TurnGain: c.Actuator.TurnGain,
			PID:      c.Actuator.PID,
			Drive:    c.Actuator.Drive,
			Turn:     c.Actuator.Turn,
		},
		SamplePeriod:  c.SamplePeriod,
		ControlPeriod: c.ControlPeriod,
		MaxWheelSpeed: c.MaxWheelSpeed,
		FieldRelative: c.FieldRelative,
	}, nil
}
