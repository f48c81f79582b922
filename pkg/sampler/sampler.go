// Package sampler polls the module encoders on a fixed period and feeds the
// odometers, independently of the control loop.
package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
	"github.com/tigerbot-team/swervebot/pkg/odometry"
)

const DefaultPeriod = 20 * time.Millisecond

// Only log every n-th consecutive fault on a wheel.
const faultLogInterval = 50

// Channel ties one module's sensors to its odometer.
type Channel struct {
	Encoder  hardware.EncoderSource
	Steering hardware.HeadingSource
	Tracker  odometry.Tracker
}

type Stats struct {
	Samples   uint64
	Faults    uint64
	Discarded uint64
	// Samples dropped because the odometer was reset while they were read.
	Stale uint64
}

type Sampler struct {
	period   time.Duration
	channels chassis.PerWheel[Channel]
	log      log.FieldLogger

	// Held for a whole pass; Loop and direct SampleOnce calls may overlap.
	passLock          sync.Mutex
	consecutiveFaults chassis.PerWheel[int]

	samples, faults, discarded, stale atomic.Uint64
}

func New(period time.Duration, channels chassis.PerWheel[Channel], logger log.FieldLogger) (*Sampler, error) {
	if period <= 0 {
		return nil, errors.Errorf("sampler: bad period %v", period)
	}
	for w, c := range channels {
		if c.Encoder == nil || c.Steering == nil || c.Tracker == nil {
			return nil, errors.Errorf("sampler: %v channel incomplete", chassis.Wheel(w))
		}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sampler{
		period:   period,
		channels: channels,
		log:      logger,
	}, nil
}

func (s *Sampler) Period() time.Duration {
	return s.period
}

// Loop samples every period until the context is cancelled.  A pass that has
// started always runs to completion so no odometer is left half updated.
func (s *Sampler) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.log.Info("SMP: sampler loop exited")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.SampleOnce()
	}
}

// SampleOnce reads every module once and updates its odometer.  Concurrent
// calls are serialised.
func (s *Sampler) SampleOnce() {
	s.passLock.Lock()
	defer s.passLock.Unlock()

	for w := range s.channels {
		wheel := chassis.Wheel(w)
		err := s.sampleWheel(wheel)
		switch {
		case err == nil:
			s.samples.Add(1)
			if n := s.consecutiveFaults[w]; n > 0 {
				s.log.WithField("wheel", wheel).Infof("SMP: recovered after %d faults", n)
				s.consecutiveFaults[w] = 0
			}
		case errors.Is(err, odometry.ErrStaleSample):
			s.stale.Add(1)
			s.log.WithField("wheel", wheel).Debug("SMP: dropped sample read across a reset")
		case errors.Is(err, odometry.ErrImplausibleSample):
			s.discarded.Add(1)
			s.log.WithField("wheel", wheel).WithError(err).Warn("SMP: discarded sample")
		default:
			s.faults.Add(1)
			s.consecutiveFaults[w]++
			if n := s.consecutiveFaults[w]; n == 1 || n%faultLogInterval == 0 {
				s.log.WithField("wheel", wheel).WithError(err).Errorf("SMP: read failed (%d in a row), keeping last pose", n)
			}
		}
	}
}

func (s *Sampler) sampleWheel(w chassis.Wheel) (err error) {
	// Some drivers panic when the bus goes away; one bad wheel mustn't take
	// the sampler down with it.
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while sampling: %v", r)
		}
	}()

	c := s.channels[w]
	// The epoch has to be taken before the sensors are read, otherwise a
	// reset landing mid-read would be missed.
	et, hasEpoch := c.Tracker.(odometry.EpochTracker)
	var epoch uint64
	if hasEpoch {
		epoch = et.Epoch()
	}
	heading, err := c.Steering.ReadHeading()
	if err != nil {
		return errors.Wrap(err, "steering")
	}
	count, err := c.Encoder.ReadCount()
	if err != nil {
		return errors.Wrap(err, "drive encoder")
	}
	if hasEpoch {
		return et.UpdateAt(epoch, count, heading)
	}
	return c.Tracker.Update(count, heading)
}

func (s *Sampler) Stats() Stats {
	return Stats{
		Samples:   s.samples.Load(),
		Faults:    s.faults.Load(),
		Discarded: s.discarded.Load(),
		Stale:     s.stale.Load(),
	}
}
