package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/config"
	"github.com/tigerbot-team/swervebot/pkg/joystick"
	"github.com/tigerbot-team/swervebot/pkg/swerve"
	"github.com/tigerbot-team/swervebot/pkg/tunable"
)

var cli struct {
	Config        string        `help:"Drivetrain config file." default:"/cfg/swerve.yaml" type:"path"`
	Joystick      string        `help:"Joystick device." default:"/dev/input/js0" env:"JOYSTICK_DEVICE"`
	FieldRelative bool          `help:"Start in field-relative mode."`
	Deadband      float64       `help:"Stick deadband." default:"0.05"`
	Expo          float64       `help:"Stick expo." default:"1.6"`
	Telemetry     time.Duration `help:"How often to log the pose." default:"1s"`
	LogLevel      string        `help:"Log level." default:"info" enum:"debug,info,warn,error"`
}

func main() {
	kong.Parse(&cli, kong.Description("Teleop for the swerve drivetrain."))

	level, err := log.ParseLevel(cli.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
	log.Info("---- swervectl ----")

	if err := run(); err != nil {
		log.WithError(err).Fatal("swervectl failed")
	}
}

// run owns everything that needs cleaning up, so it returns errors rather than
// exiting.
func run() error {
	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hook Ctrl-C etc.
	registerSignalHandlers(cancel)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.FieldRelative {
		cfg.FieldRelative = true
	}

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
	d.Start(ctx)

	// Wait for the joystick and kick off a background thread to read from it.
	j, err := joystick.Open(ctx, cli.Joystick, time.Second)
	if ctx.Err() != nil {
		// Shut down before a joystick turned up.
		return nil
	} else if err != nil {
		return err
	}
	events := make(chan joystick.Event)
	go func() {
		defer cancel()
		err := j.Run(ctx, events)
		log.WithError(err).Info("Joystick loop exited")
	}()

	runTeleop(ctx, d, events)
	return nil
}

func runTeleop(ctx context.Context, d *swerve.Drivetrain, events <-chan joystick.Event) {
	mapper := joystick.NewMapper(cli.Deadband, cli.Expo)

	var tunables tunable.Tunables
	driveMult := tunables.Create("drive-multiplier", 1, 0.1, 0.1, 1)
	turnMult := tunables.Create("turn-multiplier", 1, 0.1, 0.1, 1)
	apply := func() {
		d.SetDriveMultiplier(driveMult.Get())
		d.SetTurnMultiplier(turnMult.Get())
	}
	apply()

	telemetry := time.NewTicker(cli.Telemetry)
	defer telemetry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case je, ok := <-events:
			if !ok {
				return
			}
			if mapper.OnEvent(je) {
				cmd := mapper.Command()
				d.SetCommand(cmd.Forward, cmd.Strafe, cmd.Rotate)
				continue
			}
			if je.Init {
				continue
			}
			switch {
			case je.Type == joystick.EventTypeAxis && je.Number == joystick.AxisDPadX:
				if je.Value > 0 {
					tunables.SelectNext()
				} else if je.Value < 0 {
					tunables.SelectPrev()
				}
			case je.Type == joystick.EventTypeAxis && je.Number == joystick.AxisDPadY:
				// Up is negative.
				if je.Value < 0 {
					tunables.Current().Add(1)
				} else if je.Value > 0 {
					tunables.Current().Add(-1)
				}
				apply()
			case je.Pressed() && je.Number == joystick.ButtonTriangle:
				d.SetFieldRelative(!d.FieldRelative())
				log.WithField("fieldRelative", d.FieldRelative()).Info("Toggled field-relative mode")
			case je.Pressed() && je.Number == joystick.ButtonCross:
				if err := d.ResetOdometry(); err != nil {
					log.WithError(err).Error("Failed to reset odometry")
				}
			}
		case <-telemetry.C:
			logPose(d)
		}
	}
}

func logPose(d *swerve.Drivetrain) {
	fields := log.Fields{}
	for _, w := range chassis.AllWheels {
		fields[w.String()] = d.ModulePose(w).String()
	}
	stats := d.Stats()
	fields["samples"] = stats.Samples
	fields["faults"] = stats.Faults
	fields["discarded"] = stats.Discarded
	fields["stale"] = stats.Stale
	log.WithFields(fields).Infof("Pose %v", d.Pose())
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.WithField("signal", s).Info("Signal received, shutting down")
		cancelFunc()
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
