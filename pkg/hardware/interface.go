package hardware

import (
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/angle"
)

var ErrNoData = errors.New("no reading available")

// EncoderSource reports a raw encoder counter.  The count is not guaranteed to
// be monotonic; it may be re-zeroed underneath us.
type EncoderSource interface {
	ReadCount() (int64, error)
}

// MotorSink drives one motor.  Power is in [-1, 1].
type MotorSink interface {
	SetPower(power float64) error
}

// HeadingSource reports a wheel's steering angle in degrees.
type HeadingSource interface {
	ReadHeading() (float64, error)
}

// Zeroer is implemented by encoders that can be re-zeroed on request.
type Zeroer interface {
	ZeroCount() error
}

type EncoderFunc func() (int64, error)

func (f EncoderFunc) ReadCount() (int64, error) {
	return f()
}

type MotorFunc func(power float64) error

func (f MotorFunc) SetPower(power float64) error {
	return f(power)
}

// TurnEncoder converts a steering encoder's count into a heading.
type TurnEncoder struct {
	Encoder      EncoderSource
	CountsPerRev float64
	// OffsetDegrees is the heading reported when the wheel points straight
	// ahead; it is subtracted from every reading.
	OffsetDegrees float64
	Inverted      bool
}

func (t *TurnEncoder) ReadHeading() (float64, error) {
	count, err := t.Encoder.ReadCount()
	if err != nil {
		return 0, err
	}
	deg := float64(count) * 360 / t.CountsPerRev
	if t.Inverted {
		deg = -deg
	}
	return angle.Normalize(deg - t.OffsetDegrees), nil
}

// FixedHeading is the heading source for wheels that can't steer.
type FixedHeading float64

func (f FixedHeading) ReadHeading() (float64, error) {
	return angle.Normalize(float64(f)), nil
}

// Module is the hardware behind one swerve module.
type Module struct {
	Drive        MotorSink
	Turn         MotorSink
	DriveEncoder EncoderSource
	Steering     HeadingSource
}

// Validate checks that the module has everything the drivetrain needs.  Turn
// may be nil for wheels that can't steer.
func (m Module) Validate() error {
	if m.Drive == nil {
		return errors.New("module has no drive motor")
	}
	if m.DriveEncoder == nil {
		return errors.New("module has no drive encoder")
	}
	if m.Steering == nil {
		return errors.New("module has no steering heading source")
	}
	return nil
}

// Closer is implemented by backends that hold open devices.
type Closer interface {
	Close() error
}
