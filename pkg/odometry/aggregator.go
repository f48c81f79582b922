package odometry

import (
	"github.com/golang/geo/r2"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
)

// Aggregator estimates the chassis pose as the plain mean of the four module
// poses.  That is only a fair estimate for a symmetric chassis.  It keeps no
// state of its own.
type Aggregator struct {
	modules chassis.PerWheel[Tracker]
}

func NewAggregator(modules chassis.PerWheel[Tracker]) *Aggregator {
	return &Aggregator{modules: modules}
}

func (a *Aggregator) Pose() chassis.Pose {
	var headingSum float64
	var posSum r2.Point
	for _, m := range a.modules {
		p := m.Pose()
		headingSum += p.Heading
		posSum = posSum.Add(r2.Point{X: p.X, Y: p.Y})
	}
	mean := posSum.Mul(1.0 / chassis.NumWheels)
	return chassis.NewPose(headingSum/chassis.NumWheels, mean.X, mean.Y)
}

func (a *Aggregator) ModulePose(w chassis.Wheel) chassis.Pose {
	return a.modules[w].Pose()
}
