package chassis

import "fmt"

// Wheel identifies one swerve module.  The order matches the kinematics table:
// wheel 1 is front-right, then anti-clockwise round the chassis.
type Wheel int

const (
	FrontRight Wheel = iota
	FrontLeft
	BackLeft
	BackRight

	NumWheels = 4
)

var AllWheels = [NumWheels]Wheel{FrontRight, FrontLeft, BackLeft, BackRight}

func (w Wheel) String() string {
	switch w {
	case FrontRight:
		return "front-right"
	case FrontLeft:
		return "front-left"
	case BackLeft:
		return "back-left"
	case BackRight:
		return "back-right"
	default:
		return fmt.Sprintf("unknown(%d)", int(w))
	}
}

func (w Wheel) Valid() bool {
	return w >= FrontRight && w <= BackRight
}

// PerWheel holds one value for each module, indexed by Wheel.
type PerWheel[T any] [NumWheels]T
