package chassis

import (
	"math"

	"github.com/pkg/errors"
)

var ErrDegenerateGeometry = errors.New("degenerate chassis geometry")

// Geometry describes the modules and where they sit on the chassis.  All four
// modules share one geometry.  Lengths may be in any unit as long as they are
// consistent; poses come out in the same unit as WheelDiameter.
type Geometry struct {
	DriveCountsPerRev float64 `yaml:"drive_counts_per_rev"`
	TurnCountsPerRev  float64 `yaml:"turn_counts_per_rev"`
	WheelDiameter     float64 `yaml:"wheel_diameter"`

	// L: half the distance between front and back wheel centres.
	HalfWheelbase float64 `yaml:"half_wheelbase"`
	// W: half the distance between left and right wheel centres.
	HalfTrack float64 `yaml:"half_track"`
}

// Radius is the distance from the chassis centre to each wheel centre.
func (g Geometry) Radius() float64 {
	return math.Hypot(g.HalfWheelbase, g.HalfTrack)
}

func (g Geometry) WheelCircumference() float64 {
	return math.Pi * g.WheelDiameter
}

// DistancePerCount is the distance a wheel rolls per drive encoder count.
func (g Geometry) DistancePerCount() float64 {
	return g.WheelCircumference() / g.DriveCountsPerRev
}

func (g Geometry) Validate() error {
	if !(g.Radius() > 0) {
		return errors.Wrapf(ErrDegenerateGeometry, "L=%v W=%v gives zero radius", g.HalfWheelbase, g.HalfTrack)
	}
	if g.HalfWheelbase < 0 || g.HalfTrack < 0 {
		return errors.Wrapf(ErrDegenerateGeometry, "negative dimension L=%v W=%v", g.HalfWheelbase, g.HalfTrack)
	}
	if !(g.DriveCountsPerRev > 0) {
		return errors.Wrapf(ErrDegenerateGeometry, "drive counts per rev %v", g.DriveCountsPerRev)
	}
	if !(g.TurnCountsPerRev > 0) {
		return errors.Wrapf(ErrDegenerateGeometry, "turn counts per rev %v", g.TurnCountsPerRev)
	}
	if !(g.WheelDiameter > 0) {
		return errors.Wrapf(ErrDegenerateGeometry, "wheel diameter %v", g.WheelDiameter)
	}
	return nil
}
