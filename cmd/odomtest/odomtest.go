package main

import (
	"context"
	"time"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/config"
	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

var cli struct {
	Config string        `help:"Drivetrain config file." default:"/cfg/swerve.yaml" type:"path"`
	Speed  float64       `help:"Drive speed for each leg, 0-1." default:"0.3"`
	Leg    time.Duration `help:"How long to drive each leg." default:"2s"`
	Settle time.Duration `help:"How long to let the wheels steer before each leg." default:"500ms"`
	Rotate bool          `help:"Finish by spinning on the spot for one leg."`
}

// Drives a square (forward, right, back, left) and logs the module and chassis
// poses after each leg.  On a perfect drivetrain the chassis ends where it
// started.
func main() {
	kong.Parse(&cli, kong.Description("Drive a square and report odometry."))
	log.Info("---- odomtest ----")

	if err := run(); err != nil {
		log.WithError(err).Fatal("odomtest failed")
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	cfg.FieldRelative = false

	robot, err := config.Open(ctx, cfg, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := robot.Close(); err != nil {
			log.WithError(err).Error("Failed to close hardware")
		}
	}()
	d := robot.Drivetrain
	if err := d.ResetOdometry(); err != nil {
		log.WithError(err).Warn("Failed to reset odometry")
	}
	d.Start(ctx)

	s := cli.Speed
	legs := []struct {
		name string
		cmd  kinematics.Command
	}{
		{"forward", kinematics.Command{Forward: s}},
		{"right", kinematics.Command{Strafe: s}},
		{"back", kinematics.Command{Forward: -s}},
		{"left", kinematics.Command{Strafe: -s}},
	}
	if cli.Rotate {
		legs = append(legs, struct {
			name string
			cmd  kinematics.Command
		}{"spin", kinematics.Command{Rotate: s}})
	}

	for _, leg := range legs {
		// Point the wheels first, then drive.
		d.SetCommand(leg.cmd.Forward*0.01, leg.cmd.Strafe*0.01, leg.cmd.Rotate*0.01)
		if !sleep(ctx, cli.Settle) {
			return ctx.Err()
		}
		d.SetCommand(leg.cmd.Forward, leg.cmd.Strafe, leg.cmd.Rotate)
		if !sleep(ctx, cli.Leg) {
			return ctx.Err()
		}
		d.SetCommand(0, 0, 0)
		if !sleep(ctx, cli.Settle) {
			return ctx.Err()
		}

		fields := log.Fields{}
		for _, w := range chassis.AllWheels {
			fields[w.String()] = d.ModulePose(w).String()
		}
		log.WithFields(fields).Infof("After %s leg: %v", leg.name, d.Pose())
	}

	stats := d.Stats()
	log.WithFields(log.Fields{
		"samples":   stats.Samples,
		"faults":    stats.Faults,
		"discarded": stats.Discarded,
		"stale":     stats.Stale,
		"commands":  stats.Commands,
	}).Infof("Finished at %v", d.Pose())
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
