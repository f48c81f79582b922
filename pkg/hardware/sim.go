package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/swervebot/pkg/angle"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
)

var ErrInjectedFault = errors.New("simulated read fault")

type SimConfig struct {
	// Drive encoder counts per second at full power.
	DriveCountsPerSec float64
	// Steering rate at full power.  Positive power turns anti-clockwise.
	TurnDegreesPerSec float64
	TurnCountsPerRev  float64
}

// Sim is a stand-in for the robot: motor powers are integrated into encoder
// counts.  It's used for bench testing without hardware and by the tests.
type Sim struct {
	cfg SimConfig

	lock   sync.Mutex
	wheels chassis.PerWheel[simWheel]
}

type simWheel struct {
	drivePower, turnPower float64
	driveCount            float64
	heading               float64
	failReads             int
}

func NewSim(cfg SimConfig) *Sim {
	return &Sim{cfg: cfg}
}

// Module returns the hardware for one wheel.
func (s *Sim) Module(w chassis.Wheel) Module {
	return Module{
		Drive: MotorFunc(func(p float64) error {
			s.lock.Lock()
			s.wheels[w].drivePower = p
			s.lock.Unlock()
			return nil
		}),
		Turn: MotorFunc(func(p float64) error {
			s.lock.Lock()
			s.wheels[w].turnPower = p
			s.lock.Unlock()
			return nil
		}),
		DriveEncoder: &simEncoder{sim: s, wheel: w},
		Steering: &TurnEncoder{
			Encoder:      EncoderFunc(func() (int64, error) { return s.turnCount(w), nil }),
			CountsPerRev: s.cfg.TurnCountsPerRev,
		},
	}
}

type simEncoder struct {
	sim   *Sim
	wheel chassis.Wheel
}

func (e *simEncoder) ReadCount() (int64, error) {
	e.sim.lock.Lock()
	defer e.sim.lock.Unlock()
	w := &e.sim.wheels[e.wheel]
	if w.failReads > 0 {
		w.failReads--
		return 0, ErrInjectedFault
	}
	return int64(math.Round(w.driveCount)), nil
}

func (e *simEncoder) ZeroCount() error {
	e.sim.lock.Lock()
	defer e.sim.lock.Unlock()
	e.sim.wheels[e.wheel].driveCount = 0
	return nil
}

func (s *Sim) turnCount(w chassis.Wheel) int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return int64(math.Round(s.wheels[w].heading * s.cfg.TurnCountsPerRev / 360))
}

// Step advances the simulation by dt.
func (s *Sim) Step(dt time.Duration) {
	secs := dt.Seconds()
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.wheels {
		w := &s.wheels[i]
		w.driveCount += w.drivePower * s.cfg.DriveCountsPerSec * secs
		w.heading = angle.Normalize(w.heading + w.turnPower*s.cfg.TurnDegreesPerSec*secs)
	}
}

// Loop advances the simulation in real time until the context is cancelled.
func (s *Sim) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer log.Info("SIM: loop exited")

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}

// FailReads makes the next n drive encoder reads of a wheel fail.
func (s *Sim) FailReads(w chassis.Wheel, n int) {
	s.lock.Lock()
	s.wheels[w].failReads = n
	s.lock.Unlock()
}

// SetHeading points a wheel without going through the turn motor.
func (s *Sim) SetHeading(w chassis.Wheel, deg float64) {
	s.lock.Lock()
	s.wheels[w].heading = angle.Normalize(deg)
	s.lock.Unlock()
}

func (s *Sim) Heading(w chassis.Wheel) float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.wheels[w].heading
}

func (s *Sim) Powers(w chassis.Wheel) (drive, turn float64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.wheels[w].drivePower, s.wheels[w].turnPower
}

func (s *Sim) Close() error {
	log.Info("SIM: Shutdown")
	return nil
}
