// Package odometry integrates per-module encoder counts into module poses and
// combines them into a chassis pose.
package odometry

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/swervebot/pkg/angle"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
)

var (
	ErrImplausibleSample = errors.New("implausible encoder step")
	ErrStaleSample       = errors.New("sample predates odometry reset")
)

// Tracker is anything that turns (raw drive count, wheel heading) samples into
// a pose.  Update is only ever called from one goroutine at a time; Pose may be
// called from any goroutine.
type Tracker interface {
	Update(rawCount int64, headingDegrees float64) error
	Pose() chassis.Pose
}

// EpochTracker is a Tracker that can be reset underneath a sampler.  Callers
// take Epoch before reading the sensors and pass it to UpdateAt, which refuses
// the sample with ErrStaleSample if a reset happened in between.
type EpochTracker interface {
	Tracker
	Epoch() uint64
	UpdateAt(epoch uint64, rawCount int64, headingDegrees float64) error
}

// ModuleOdometer dead-reckons a single module.  The current pose is published
// as an immutable value behind an atomic pointer so readers never block the
// sampler and never see a half-written pose.
type ModuleOdometer struct {
	distancePerCount float64
	maxStep          float64

	// Serialises writers (Update and Reset).  Readers don't take it.
	writeLock    sync.Mutex
	lastRawCount int64
	position     r2.Point
	// Bumped by Reset.  Written under writeLock, read without it.
	epoch atomic.Uint64

	pose      atomic.Pointer[chassis.Pose]
	discarded atomic.Uint64
	rezeroes  atomic.Uint64
}

var _ EpochTracker = (*ModuleOdometer)(nil)

// NewModuleOdometer creates an odometer for a module with the given geometry.
// maxStep is the largest distance the wheel can physically roll between two
// samples; larger steps are discarded as sensor faults.  Zero disables the
// check.
func NewModuleOdometer(geom chassis.Geometry, maxStep float64) (*ModuleOdometer, error) {
	if !(geom.DriveCountsPerRev > 0) || !(geom.WheelDiameter > 0) {
		return nil, errors.Wrapf(chassis.ErrDegenerateGeometry,
			"odometry: drive CPR %v, wheel diameter %v", geom.DriveCountsPerRev, geom.WheelDiameter)
	}
	if maxStep < 0 || math.IsNaN(maxStep) {
		return nil, errors.Errorf("odometry: bad max step %v", maxStep)
	}
	o := &ModuleOdometer{
		distancePerCount: geom.DistancePerCount(),
		maxStep:          maxStep,
	}
	o.pose.Store(&chassis.Pose{})
	return o, nil
}

// Update integrates the distance rolled since the previous sample along the
// given wheel heading.
//
// A raw count of exactly 0 is taken to mean the encoder was re-zeroed: the
// baseline is rebased and nothing is integrated.  Note that this can't be told
// apart from an encoder that genuinely passes back through 0.
func (o *ModuleOdometer) Update(rawCount int64, headingDegrees float64) error {
	o.writeLock.Lock()
	defer o.writeLock.Unlock()

	return o.updateLocked(rawCount, headingDegrees)
}

// Epoch identifies the odometer's current reset generation.
func (o *ModuleOdometer) Epoch() uint64 {
	return o.epoch.Load()
}

// UpdateAt is Update for a sample whose sensors were read during the given
// epoch.  If Reset has run since, the sample is dropped without touching the
// baseline and ErrStaleSample is returned.
func (o *ModuleOdometer) UpdateAt(epoch uint64, rawCount int64, headingDegrees float64) error {
	o.writeLock.Lock()
	defer o.writeLock.Unlock()

	if cur := o.epoch.Load(); epoch != cur {
		return errors.Wrapf(ErrStaleSample, "read in epoch %d, now %d", epoch, cur)
	}
	return o.updateLocked(rawCount, headingDegrees)
}

func (o *ModuleOdometer) updateLocked(rawCount int64, headingDegrees float64) error {
	heading := angle.Normalize(headingDegrees)

	if rawCount == 0 {
		o.lastRawCount = 0
		o.rezeroes.Add(1)
		o.publish(heading)
		return nil
	}

	delta := rawCount - o.lastRawCount
	travel := float64(delta) * o.distancePerCount
	if o.maxStep > 0 && math.Abs(travel) > o.maxStep {
		// Rebase so that one glitch doesn't poison every following sample.
		o.lastRawCount = rawCount
		o.discarded.Add(1)
		return errors.Wrapf(ErrImplausibleSample, "%d counts (%.3f) in one sample, limit %.3f",
			delta, travel, o.maxStep)
	}

	sin, cos := math.Sincos(angle.ToRadians(heading))
	o.position = o.position.Add(r2.Point{X: travel * cos, Y: travel * sin})
	o.lastRawCount = rawCount
	o.publish(heading)
	return nil
}

func (o *ModuleOdometer) publish(heading float64) {
	o.pose.Store(&chassis.Pose{
		Heading: heading,
		X:       o.position.X,
		Y:       o.position.Y,
	})
}

// Reset zeroes the position, heading and the count baseline, and starts a new
// epoch so that samples read before the reset can't land after it.
func (o *ModuleOdometer) Reset() {
	o.writeLock.Lock()
	defer o.writeLock.Unlock()

	o.epoch.Add(1)
	o.lastRawCount = 0
	o.position = r2.Point{}
	o.pose.Store(&chassis.Pose{})
}

func (o *ModuleOdometer) Pose() chassis.Pose {
	return *o.pose.Load()
}

// Discarded returns the number of samples thrown away as implausible.
func (o *ModuleOdometer) Discarded() uint64 {
	return o.discarded.Load()
}

// Rezeroes returns the number of zero samples seen.
func (o *ModuleOdometer) Rezeroes() uint64 {
	return o.rezeroes.Load()
}
