// Package swerve owns the whole drivetrain: it solves chassis commands into
// module setpoints, drives the module actuators and keeps the odometry up to
// date.
package swerve

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/actuator"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/odometry"
	"github.com/tigerbot-team/swervebot/pkg/sampler"
)

const DefaultControlPeriod = 10 * time.Millisecond

type Config struct {
	Kind     kinematics.Kind
	Geometry chassis.Geometry
	Actuator actuator.Config

	SamplePeriod  time.Duration
	ControlPeriod time.Duration

	// MaxWheelSpeed is the fastest a wheel can roll, in geometry units per
	// second.  Encoder steps implying more than twice this are discarded.
	// Zero disables the check.
	MaxWheelSpeed float64

	FieldRelative bool
}

type Stats struct {
	sampler.Stats
	Commands uint64
}

type Drivetrain struct {
	cfg    Config
	log    log.FieldLogger
	solver *kinematics.Solver

	odometers chassis.PerWheel[*odometry.ModuleOdometer]
	encoders  chassis.PerWheel[hardware.EncoderSource]
	poses     *odometry.Aggregator
	sampler   *sampler.Sampler

	// Guards the actuators; Drive can be called from the control loop and
	// directly.
	driveLock       sync.Mutex
	actuators       chassis.PerWheel[*actuator.Actuator]
	lastDrive       time.Time
	driveMultiplier float64
	turnMultiplier  float64

	fieldRelative atomic.Bool
	command       atomic.Pointer[kinematics.Command]
	commands      atomic.Uint64

	cancelLoops context.CancelFunc
	loopsDone   sync.WaitGroup
}

func New(cfg Config, modules chassis.PerWheel[hardware.Module], logger log.FieldLogger) (*Drivetrain, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.SamplePeriod == 0 {
		cfg.SamplePeriod = sampler.DefaultPeriod
	}
	if cfg.ControlPeriod == 0 {
		cfg.ControlPeriod = DefaultControlPeriod
	}

	solver, err := kinematics.New(cfg.Kind, cfg.Geometry)
	if err != nil {
		return nil, err
	}

	d := &Drivetrain{
		cfg:             cfg,
		log:             logger,
		solver:          solver,
		driveMultiplier: 1,
		turnMultiplier:  1,
	}
	d.fieldRelative.Store(cfg.FieldRelative)
	d.command.Store(&kinematics.Command{})

	maxStep := 2 * cfg.MaxWheelSpeed * cfg.SamplePeriod.Seconds()
	var channels chassis.PerWheel[sampler.Channel]
	var trackers chassis.PerWheel[odometry.Tracker]
	for _, w := range chassis.AllWheels {
		m := modules[w]
		if err := m.Validate(); err != nil {
			return nil, errors.Wrapf(err, "%v module", w)
		}
		if cfg.Kind == kinematics.Swerve && m.Turn == nil {
			return nil, errors.Errorf("%v module has no turn motor", w)
		}
		odo, err := odometry.NewModuleOdometer(cfg.Geometry, maxStep)
		if err != nil {
			return nil, err
		}
		act, err := actuator.New(cfg.Actuator, m.Drive, m.Turn)
		if err != nil {
			return nil, errors.Wrapf(err, "%v module", w)
		}
		d.odometers[w] = odo
		d.encoders[w] = m.DriveEncoder
		d.actuators[w] = act
		trackers[w] = odo
		channels[w] = sampler.Channel{
			Encoder:  m.DriveEncoder,
			Steering: m.Steering,
			Tracker:  odo,
		}
	}
	d.poses = odometry.NewAggregator(trackers)
	d.sampler, err = sampler.New(cfg.SamplePeriod, channels, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Drive solves a chassis command and sends the result to the four modules.
// fwd, str and rcw are clamped to [-1, 1].
func (d *Drivetrain) Drive(fwd, str, rcw float64) error {
	cmd := kinematics.Command{Forward: fwd, Strafe: str, Rotate: rcw}

	d.driveLock.Lock()
	defer d.driveLock.Unlock()

	now := time.Now()
	var dt time.Duration
	if !d.lastDrive.IsZero() {
		dt = now.Sub(d.lastDrive)
	}
	d.lastDrive = now

	wheels := d.solver.Solve(cmd, d.poses.Pose().Heading, d.fieldRelative.Load())

	var outs chassis.PerWheel[actuator.Output]
	var drive, turn chassis.PerWheel[float64]
	for w, a := range d.actuators {
		outs[w] = a.Plan(wheels[w], d.odometers[w].Pose().Heading, dt)
		drive[w] = outs[w].Drive * d.driveMultiplier
		turn[w] = outs[w].Turn
	}
	// Turn powers get the same treatment as the wheel speeds so a big error on
	// one module doesn't saturate it while the others crawl.
	turn = kinematics.Normalize(turn)

	var err error
	for w, a := range d.actuators {
		outs[w].Drive = drive[w]
		outs[w].Turn = turn[w] * d.turnMultiplier
		if werr := a.Write(outs[w]); werr != nil {
			err = multierr.Append(err, errors.Wrapf(werr, "%v module", chassis.Wheel(w)))
		}
	}
	d.commands.Add(1)
	return err
}

// SetCommand sets the command the control loop re-issues every period.
func (d *Drivetrain) SetCommand(fwd, str, rcw float64) {
	d.command.Store(&kinematics.Command{Forward: fwd, Strafe: str, Rotate: rcw})
}

func (d *Drivetrain) Command() kinematics.Command {
	return *d.command.Load()
}

func (d *Drivetrain) SetFieldRelative(enabled bool) {
	d.fieldRelative.Store(enabled)
}

func (d *Drivetrain) FieldRelative() bool {
	return d.fieldRelative.Load()
}

// SetDriveMultiplier scales every drive output, e.g. for a slow mode.
func (d *Drivetrain) SetDriveMultiplier(m float64) {
	d.driveLock.Lock()
	defer d.driveLock.Unlock()
	d.driveMultiplier = clampMultiplier(m)
}

// SetTurnMultiplier scales the steering outputs.
func (d *Drivetrain) SetTurnMultiplier(m float64) {
	d.driveLock.Lock()
	defer d.driveLock.Unlock()
	d.turnMultiplier = clampMultiplier(m)
}

func clampMultiplier(m float64) float64 {
	if math.IsNaN(m) {
		return 1
	}
	return math.Max(0, math.Min(1, m))
}

// Pose is the current chassis pose estimate.
func (d *Drivetrain) Pose() chassis.Pose {
	return d.poses.Pose()
}

func (d *Drivetrain) ModulePose(w chassis.Wheel) chassis.Pose {
	return d.poses.ModulePose(w)
}

// ResetOdometry zeroes the four odometers.  Encoders that can be re-zeroed are
// zeroed first so that the next sample starts from a zero baseline.  It may be
// called while the sampler is running: a sample that was already being read
// when the reset happened is dropped rather than applied to the new origin.
func (d *Drivetrain) ResetOdometry() error {
	var err error
	for w, enc := range d.encoders {
		if z, ok := enc.(hardware.Zeroer); ok {
			if zerr := z.ZeroCount(); zerr != nil {
				err = multierr.Append(err, errors.Wrapf(zerr, "%v encoder", chassis.Wheel(w)))
			}
		}
	}
	for _, o := range d.odometers {
		o.Reset()
	}
	d.log.Info("DT: odometry reset")
	return err
}

// Start runs the sampler and the control loop in the background.
func (d *Drivetrain) Start(ctx context.Context) {
	d.Stop()

	var loopCtx context.Context
	loopCtx, d.cancelLoops = context.WithCancel(ctx)
	d.loopsDone.Add(2)
	go d.sampler.Loop(loopCtx, &d.loopsDone)
	go d.controlLoop(loopCtx, &d.loopsDone)
}

// Stop stops the background loops, waits for them and zeros the motors.
func (d *Drivetrain) Stop() {
	if d.cancelLoops == nil {
		return
	}
	d.log.Info("DT: Stopping drivetrain")
	d.cancelLoops()
	d.loopsDone.Wait()
	d.cancelLoops = nil

	d.driveLock.Lock()
	defer d.driveLock.Unlock()
	for w, a := range d.actuators {
		if err := a.Stop(); err != nil {
			d.log.WithField("wheel", chassis.Wheel(w)).WithError(err).Error("DT: failed to stop module")
		}
	}
	d.lastDrive = time.Time{}
	d.log.Info("DT: Stopped drivetrain")
}

func (d *Drivetrain) controlLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer d.log.Info("DT: control loop exited")

	ticker := time.NewTicker(d.cfg.ControlPeriod)
	defer ticker.Stop()

	var failing bool
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cmd := d.Command()
		err := d.Drive(cmd.Forward, cmd.Strafe, cmd.Rotate)
		if err != nil && !failing {
			d.log.WithError(err).Error("DT: failed to drive modules")
		} else if err == nil && failing {
			d.log.Info("DT: modules recovered")
		}
		failing = err != nil
	}
}

func (d *Drivetrain) Stats() Stats {
	return Stats{
		Stats:    d.sampler.Stats(),
		Commands: d.commands.Load(),
	}
}

// SampleOnce runs one sampler pass synchronously.  Mostly for tools and tests
// that don't run the background loops; if they are running, the pass waits
// for the loop's current one to finish.
func (d *Drivetrain) SampleOnce() {
	d.sampler.SampleOnce()
}
