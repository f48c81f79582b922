package joystick

import (
	"math"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

// Mapper turns stick events into a chassis command: left stick up is forward,
// left stick right is strafe right and right stick right rotates clockwise.
type Mapper struct {
	// Stick values with a smaller magnitude are treated as centred.
	Deadband float64
	// Expo > 1 softens the response near the centre.
	Expo float64

	cmd kinematics.Command
}

func NewMapper(deadband, expo float64) *Mapper {
	return &Mapper{Deadband: deadband, Expo: expo}
}

// OnEvent updates the command from an axis event.  It returns true if the
// event was one of the mapped axes.
func (m *Mapper) OnEvent(e Event) bool {
	if e.Type != EventTypeAxis {
		return false
	}
	v := m.shape(float64(e.Value) / math.MaxInt16)
	switch e.Number {
	case AxisLStickY:
		m.cmd.Forward = -v
	case AxisLStickX:
		m.cmd.Strafe = v
	case AxisRStickX:
		m.cmd.Rotate = v
	default:
		return false
	}
	return true
}

func (m *Mapper) Command() kinematics.Command {
	return m.cmd
}

func (m *Mapper) shape(v float64) float64 {
	v = ApplyDeadband(v, m.Deadband)
	if m.Expo > 0 {
		v = ApplyExpo(v, m.Expo)
	}
	return math.Max(-1, math.Min(1, v))
}

// ApplyDeadband zeros values inside the band and rescales the rest so the
// output still reaches ±1.
func ApplyDeadband(value, band float64) float64 {
	if band <= 0 {
		return value
	}
	if math.Abs(value) < band {
		return 0
	}
	return math.Copysign((math.Abs(value)-band)/(1-band), value)
}

func ApplyExpo(value float64, expo float64) float64 {
	absVal := math.Abs(value)
	absExpo := math.Pow(absVal, expo)
	signedExpo := math.Copysign(absExpo, value)
	return signedExpo
}
