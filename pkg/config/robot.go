package config

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/swervebot/pkg/swerve"
)

// Swapped out by tests.
var newDrivetrain = swerve.New

// Robot is a drivetrain together with the hardware it runs on.
type Robot struct {
	Drivetrain *swerve.Drivetrain
	Rig        *Rig

	cancelLoops context.CancelFunc
	loops       sync.WaitGroup
}

// Open builds the hardware, puts a drivetrain on top of it and starts the
// hardware loops.  The drivetrain's own loops are left to the caller.  If
// anything fails, whatever was already opened is closed before returning.
func Open(ctx context.Context, cfg Config, logger log.FieldLogger) (*Robot, error) {
	dcfg, err := cfg.Drivetrain()
	if err != nil {
		return nil, errors.Wrap(err, "bad drivetrain config")
	}
	rig, err := Build(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open hardware")
	}
	d, err := newDrivetrain(dcfg, rig.Modules, logger)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "failed to create drivetrain"), rig.Close())
	}

	r := &Robot{Drivetrain: d, Rig: rig}
	var loopCtx context.Context
	loopCtx, r.cancelLoops = context.WithCancel(ctx)
	rig.Start(loopCtx, &r.loops)
	return r, nil
}

// Close stops the drivetrain, waits for the hardware loops and then closes the
// hardware.
func (r *Robot) Close() error {
	r.Drivetrain.Stop()
	r.cancelLoops()
	r.loops.Wait()
	return r.Rig.Close()
}
