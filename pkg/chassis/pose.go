package chassis

import (
	"fmt"

	"github.com/tigerbot-team/swervebot/pkg/angle"
)

// Pose is an immutable position/orientation snapshot.  Heading is in degrees,
// always in [0, 360).
type Pose struct {
	Heading float64
	X, Y    float64
}

func NewPose(heading, x, y float64) Pose {
	return Pose{
		Heading: angle.Normalize(heading),
		X:       x,
		Y:       y,
	}
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f) @ %.1f°", p.X, p.Y, p.Heading)
}

// WheelCommand is the target output for one module.
type WheelCommand struct {
	// Speed in [-1, 1].
	Speed float64
	// Heading in degrees, [0, 360).
	Heading float64
}
