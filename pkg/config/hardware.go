package config

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/as5047"
	"github.com/tigerbot-team/swervebot/pkg/canmotor"
	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/modulebus"
	"github.com/tigerbot-team/swervebot/pkg/pca9685"
)

// Rig is the hardware a config describes, ready to hand to the drivetrain.
type Rig struct {
	Modules chassis.PerWheel[hardware.Module]
	// Sim is set when the sim backend is in use.
	Sim *hardware.Sim

	loops   []func(ctx context.Context, wg *sync.WaitGroup)
	closers []hardware.Closer
}

// Start runs the background loops the hardware needs (the simulation, CAN
// receive).
func (r *Rig) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, l := range r.loops {
		wg.Add(1)
		go l(ctx, wg)
	}
}

// Close closes every device, most recently opened first.
func (r *Rig) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i].Close())
	}
	r.closers = nil
	return err
}

// Build opens the hardware described by the config.  On failure anything
// already opened is closed again.
func Build(ctx context.Context, cfg Config) (r *Rig, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := kinematics.ParseKind(cfg.Kind)
	h := cfg.Hardware

	r = &Rig{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, r.Close())
			r = nil
		}
	}()

	var drive, turn chassis.PerWheel[hardware.MotorSink]
	var driveEnc, turnEnc chassis.PerWheel[hardware.EncoderSource]
	turnCPR := cfg.Geometry.TurnCountsPerRev

	switch h.Backend {
	case BackendSim:
		log.Info("HW: Using simulated hardware")
		r.Sim = hardware.NewSim(hardware.SimConfig{
			DriveCountsPerSec: h.Sim.DriveCountsPerSec,
			TurnDegreesPerSec: h.Sim.TurnDegreesPerSec,
			TurnCountsPerRev:  turnCPR,
		})
		r.loops = append(r.loops, r.Sim.Loop)
		r.closers = append(r.closers, r.Sim)
		for _, w := range chassis.AllWheels {
			m := r.Sim.Module(w)
			drive[w], turn[w], driveEnc[w] = m.Drive, m.Turn, m.DriveEncoder
			turnEnc[w] = m.Steering.(*hardware.TurnEncoder).Encoder
		}
	case BackendModuleBus:
		log.WithField("bus", h.I2CBus).Info("HW: Opening module controller board")
		board, err := modulebus.New(h.I2CBus, h.ModuleBusAddr)
		if err != nil {
			return r, err
		}
		r.closers = append(r.closers, board)
		if err := board.SetWatchdog(h.Watchdog); err != nil {
			return r, err
		}
		for _, w := range chassis.AllWheels {
			ch := h.Modules[w].Channel
			drive[w], turn[w] = board.DriveMotor(ch), board.TurnMotor(ch)
			driveEnc[w], turnEnc[w] = board.DriveEncoder(ch), board.TurnEncoder(ch)
		}
	case BackendCAN:
		log.WithField("iface", h.CANInterface).Info("HW: Opening CAN bus")
		bus, err := canmotor.Dial(ctx, h.CANInterface)
		if err != nil {
			return r, err
		}
		r.closers = append(r.closers, bus)
		r.loops = append(r.loops, bus.Loop)
		for _, w := range chassis.AllWheels {
			mc := h.Modules[w]
			drive[w], turn[w] = bus.Motor(mc.DriveNode), bus.Motor(mc.TurnNode)
			driveEnc[w], turnEnc[w] = bus.Encoder(mc.DriveNode), bus.Encoder(mc.TurnNode)
		}
	}

	if h.TurnMotors == SourcePCA9685 {
		log.Info("HW: Using PCA9685 for turn motors")
		pwm, err := pca9685.New(h.I2CBus, h.PCA9685Addr)
		if err != nil {
			return r, err
		}
		r.closers = append(r.closers, pwm)
		if err := pwm.Configure(); err != nil {
			return r, errors.Wrap(err, "failed to configure PCA9685")
		}
		for _, w := range chassis.AllWheels {
			turn[w] = pwm.Motor(h.Modules[w].PWMPort)
		}
	}

	if h.Steering == SourceAS5047 {
		log.Info("HW: Using AS5047 steering encoders")
		for _, w := range chassis.AllWheels {
			enc, err := as5047.Open(h.Modules[w].EncoderPort)
			if err != nil {
				return r, errors.Wrapf(err, "%v steering encoder", w)
			}
			turnEnc[w] = enc
		}
		turnCPR = as5047.CountsPerRev
	}

	for _, w := range chassis.AllWheels {
		m := hardware.Module{
			Drive:        drive[w],
			DriveEncoder: driveEnc[w],
		}
		if kind == kinematics.Swerve {
			m.Turn = turn[w]
			m.Steering = &hardware.TurnEncoder{
				Encoder:       turnEnc[w],
				CountsPerRev:  turnCPR,
				OffsetDegrees: h.Modules[w].SteeringOffset,
				Inverted:      h.Modules[w].InvertSteering,
			}
		} else {
			m.Steering = hardware.FixedHeading(0)
		}
		r.Modules[w] = m
	}
	return r, nil
}
