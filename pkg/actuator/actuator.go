// Package actuator turns a wheel command into drive and steering motor powers.
package actuator

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/angle"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

type Mode int

const (
	// Proportional: turn power is TurnGain * heading error.
	Proportional Mode = iota
	// PID: turn power comes from a continuous-rotation PID loop on the
	// wrapped heading error.
	PID
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "proportional", "p":
		return Proportional, nil
	case "pid":
		return PID, nil
	}
	return Proportional, errors.Errorf("unknown actuator mode %q", s)
}

type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

type Config struct {
	Mode Mode
	// Turn power per degree of heading error in proportional mode.
	TurnGain float64
	PID      PIDConfig

	Drive Shaping
	Turn  Shaping
}

// Output is the result of planning one control step.
type Output struct {
	Drive float64
	Turn  float64
	// HeadingError is the signed short-way error in degrees, [-180, 180].
	HeadingError float64
}

type Actuator struct {
	cfg   Config
	drive hardware.MotorSink
	turn  hardware.MotorSink

	state State
	pid   *PIDController
}

func New(cfg Config, drive, turn hardware.MotorSink) (*Actuator, error) {
	if drive == nil {
		return nil, errors.New("actuator: nil drive motor")
	}
	if cfg.Mode == Proportional && (cfg.TurnGain < 0 || math.IsNaN(cfg.TurnGain)) {
		return nil, errors.Errorf("actuator: bad turn gain %v", cfg.TurnGain)
	}
	a := &Actuator{
		cfg:   cfg,
		drive: drive,
		turn:  turn,
	}
	if cfg.Mode == PID {
		a.pid = NewPIDController(cfg.PID)
	}
	return a, nil
}

func (a *Actuator) State() State {
	return a.state
}

// HeadingError returns the shortest signed rotation from current to target,
// in degrees.
func HeadingError(current, target float64) float64 {
	return angle.Shortest(current, target)
}

// Plan computes drive and turn power for cmd given the wheel's measured
// heading.  dt is the time since the previous plan; it only matters in PID
// mode.  Plan doesn't touch the motors.
func (a *Actuator) Plan(cmd chassis.WheelCommand, measuredHeading float64, dt time.Duration) Output {
	if a.state == Idle {
		if a.pid != nil {
			a.pid.Reset()
		}
		a.state = Tracking
	}

	headingErr := HeadingError(measuredHeading, cmd.Heading)
	var turn float64
	switch a.cfg.Mode {
	case PID:
		turn = a.pid.Update(headingErr, dt)
	default:
		turn = a.cfg.TurnGain * headingErr
	}

	return Output{
		Drive:        cmd.Speed,
		Turn:         turn,
		HeadingError: headingErr,
	}
}

// Write shapes and clips the outputs and sends them to the motors.  The clip
// to [-1, 1] is applied whatever the planner produced.
func (a *Actuator) Write(out Output) error {
	err := a.drive.SetPower(Clip(a.cfg.Drive.Apply(out.Drive)))
	if a.turn != nil {
		err = multierr.Append(err, a.turn.SetPower(Clip(a.cfg.Turn.Apply(out.Turn))))
	}
	return err
}

// Stop zeros both motors and drops back to idle.
func (a *Actuator) Stop() error {
	a.state = Idle
	err := a.drive.SetPower(0)
	if a.turn != nil {
		err = multierr.Append(err, a.turn.SetPower(0))
	}
	return err
}

// Clip limits v to [-1, 1]; NaN becomes 0.
func Clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
