// Package kinematics turns a chassis velocity command into per-wheel speed and
// heading setpoints.
package kinematics

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/angle"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
)

// Kind selects the drivetrain layout the solver mixes for.
type Kind int

const (
	Swerve Kind = iota
	Mecanum
	Tank
)

func (k Kind) String() string {
	switch k {
	case Swerve:
		return "swerve"
	case Mecanum:
		return "mecanum"
	case Tank:
		return "tank"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "swerve":
		return Swerve, nil
	case "mecanum":
		return Mecanum, nil
	case "tank":
		return Tank, nil
	}
	return Swerve, errors.Errorf("unknown drivetrain kind %q", s)
}

// Command is a normalized chassis command; each axis is in [-1, 1].
type Command struct {
	Forward float64
	Strafe  float64
	// Rotate is positive clockwise.
	Rotate float64
}

func (c Command) clamped() Command {
	return Command{
		Forward: clamp(c.Forward),
		Strafe:  clamp(c.Strafe),
		Rotate:  clamp(c.Rotate),
	}
}

type Solver struct {
	kind Kind

	// l/r and w/r are fixed for the life of the solver.
	lOverR, wOverR float64
}

func New(kind Kind, geom chassis.Geometry) (*Solver, error) {
	r := geom.Radius()
	if !(r > 0) || math.IsInf(r, 0) {
		return nil, errors.Wrapf(chassis.ErrDegenerateGeometry, "kinematics: chassis radius %v", r)
	}
	return &Solver{
		kind:   kind,
		lOverR: geom.HalfWheelbase / r,
		wOverR: geom.HalfTrack / r,
	}, nil
}

func (s *Solver) Kind() Kind {
	return s.kind
}

// Solve mixes cmd into four wheel commands.  chassisHeading is the current
// chassis heading in degrees; if fieldRelative is set the translation part of
// cmd is rotated into the chassis frame first.
func (s *Solver) Solve(cmd Command, chassisHeading float64, fieldRelative bool) chassis.PerWheel[chassis.WheelCommand] {
	cmd = cmd.clamped()
	if fieldRelative {
		cmd = FieldToChassis(cmd, chassisHeading)
	}

	var out chassis.PerWheel[chassis.WheelCommand]
	switch s.kind {
	case Mecanum:
		out = mixMecanum(cmd)
	case Tank:
		out = mixTank(cmd)
	default:
		out = s.mixSwerve(cmd)
	}

	var speeds chassis.PerWheel[float64]
	for w := range out {
		speeds[w] = out[w].Speed
	}
	speeds = Normalize(speeds)
	for w := range out {
		out[w].Speed = speeds[w]
	}
	return out
}

// FieldToChassis rotates the translation part of a field-relative command into
// the chassis frame, given the chassis heading in degrees.
func FieldToChassis(cmd Command, headingDegrees float64) Command {
	theta := angle.ToRadians(headingDegrees)
	sin, cos := math.Sincos(theta)
	return Command{
		Forward: cmd.Forward*cos + cmd.Strafe*sin,
		Strafe:  -cmd.Forward*sin + cmd.Strafe*cos,
		Rotate:  cmd.Rotate,
	}
}

func (s *Solver) mixSwerve(cmd Command) (out chassis.PerWheel[chassis.WheelCommand]) {
	fwd, str, rcw := cmd.Forward, cmd.Strafe, cmd.Rotate

	a := str - rcw*s.lOverR
	b := str + rcw*s.lOverR
	c := fwd - rcw*s.wOverR
	d := fwd + rcw*s.wOverR

	out[chassis.FrontRight] = wheel(b, c)
	out[chassis.FrontLeft] = wheel(b, d)
	out[chassis.BackLeft] = wheel(a, d)
	out[chassis.BackRight] = wheel(a, c)
	return
}

func wheel(y, x float64) chassis.WheelCommand {
	return chassis.WheelCommand{
		Speed:   math.Hypot(y, x),
		Heading: angle.Normalize(angle.ToDegrees(math.Atan2(y, x))),
	}
}

// Mecanum and tank wheels can't steer; heading is always 0 and the speed is
// signed.
func mixMecanum(cmd Command) (out chassis.PerWheel[chassis.WheelCommand]) {
	fwd, str, rcw := cmd.Forward, cmd.Strafe, cmd.Rotate
	out[chassis.FrontLeft].Speed = fwd + str + rcw
	out[chassis.FrontRight].Speed = fwd - str - rcw
	out[chassis.BackLeft].Speed = fwd - str + rcw
	out[chassis.BackRight].Speed = fwd + str - rcw
	return
}

func mixTank(cmd Command) (out chassis.PerWheel[chassis.WheelCommand]) {
	left := cmd.Forward + cmd.Rotate
	right := cmd.Forward - cmd.Rotate
	out[chassis.FrontLeft].Speed = left
	out[chassis.BackLeft].Speed = left
	out[chassis.FrontRight].Speed = right
	out[chassis.BackRight].Speed = right
	return
}

// Normalize scales all four values down by the largest magnitude if that
// magnitude exceeds 1.  Values already within [-1, 1] are returned unchanged.
func Normalize(values chassis.PerWheel[float64]) chassis.PerWheel[float64] {
	m := 0.0
	for _, v := range values {
		m = math.Max(m, math.Abs(v))
	}
	if m <= 1 {
		return values
	}
	for i := range values {
		values[i] /= m
	}
	return values
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
