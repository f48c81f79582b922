// Package modulebus drives the swerve module controller board: a
// microcontroller on I2C that runs the four drive motors and four turn motors
// and counts both sets of encoders.
package modulebus

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

const (
	DefaultAddr = 0x42
	DefaultBus  = "/dev/i2c-1"

	NumChannels = 4

	maxWriteTries = 5
)

// Registers are 16 bits, big endian.  Counts span two registers, high word
// first; the board auto-increments so a 4-byte read returns the whole count.
type Register byte

const (
	RegCtrl Register = iota
	RegStatus
	RegWatchdogTimeout
	RegFaultCount

	RegDrive0Power
	RegDrive1Power
	RegDrive2Power
	RegDrive3Power

	RegTurn0Power
	RegTurn1Power
	RegTurn2Power
	RegTurn3Power

	// Write a bitmask of drive channels to zero their counts.
	RegZeroCounts

	RegBattV // LSB=4mV
)

// Count registers: drive channel n at RegDrive0Count+2n, turn channel n at
// RegTurn0Count+2n.
const (
	RegDrive0Count Register = 0x10
	RegTurn0Count  Register = RegDrive0Count + 2*NumChannels
)

const BattVLSB = 0.004

const (
	RegCtrlEnableI2CControl uint16 = 1 << iota
	RegCtrlRun
	RegCtrlReset
	RegCtrlWatchdogEnable
)

type StatusFlag uint16

const (
	RegStatusFault StatusFlag = 1 << iota
	RegStatusWatchdogExpired
)

var ErrBadChannel = errors.New("module bus channel out of range")

// Device is the part of *i2c.Device that the driver uses.
type Device interface {
	Write(buf []byte) error
	ReadReg(reg byte, buf []byte) error
	Close() error
}

// Opener (re)opens the I2C device; the driver reopens it after write failures.
type Opener func() (Device, error)

type Board struct {
	open Opener
	log  log.FieldLogger

	lock            sync.Mutex
	dev             Device
	lastConfigWord  uint16
	lastConfigTime  time.Time
	watchdogEnabled bool
}

// New opens the board on the given bus device file.
func New(bus string, addr int) (*Board, error) {
	return NewWithOpener(func() (Device, error) {
		return i2c.Open(&i2c.Devfs{Dev: bus}, addr)
	})
}

func NewWithOpener(open Opener) (*Board, error) {
	dev, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open module bus")
	}
	return &Board{
		open: open,
		log:  log.WithField("dev", "modulebus"),
		dev:  dev,
	}, nil
}

// SetWatchdog makes the board stop the motors if it hears nothing for the
// timeout.  Zero disables the watchdog.
func (b *Board) SetWatchdog(timeout time.Duration) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if timeout == 0 {
		b.watchdogEnabled = false
		return b.maybeConfigure(false, false)
	}

	ms := timeout.Milliseconds()
	if ms > math.MaxUint16 {
		ms = math.MaxUint16
	}
	if err := b.writeReg(RegWatchdogTimeout, uint16(ms)); err != nil {
		return err
	}
	b.watchdogEnabled = true
	return b.maybeConfigure(false, false)
}

func (b *Board) SetDrivePower(ch int, power float64) error {
	return b.setPower(RegDrive0Power, ch, power)
}

func (b *Board) SetTurnPower(ch int, power float64) error {
	return b.setPower(RegTurn0Power, ch, power)
}

func (b *Board) setPower(base Register, ch int, power float64) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Wrapf(ErrBadChannel, "channel %d", ch)
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	if err := b.maybeConfigure(false, true); err != nil {
		return err
	}
	return b.writeReg(base+Register(ch), uint16(PowerToRaw(power)))
}

// PowerToRaw converts a power in [-1, 1] to the board's signed 16-bit speed.
func PowerToRaw(power float64) int16 {
	if math.IsNaN(power) {
		return 0
	}
	power = math.Max(-1, math.Min(1, power))
	return int16(math.Round(power * math.MaxInt16))
}

func (b *Board) DriveCount(ch int) (int64, error) {
	return b.readCount(RegDrive0Count, ch)
}

func (b *Board) TurnCount(ch int) (int64, error) {
	return b.readCount(RegTurn0Count, ch)
}

func (b *Board) readCount(base Register, ch int) (int64, error) {
	if ch < 0 || ch >= NumChannels {
		return 0, errors.Wrapf(ErrBadChannel, "channel %d", ch)
	}
	b.lock.Lock()
	defer b.lock.Unlock()

	dev, err := b.device()
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := dev.ReadReg(byte(base+Register(2*ch)), buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read count register %#x", byte(base+Register(2*ch)))
	}
	return int64(int32(binary.BigEndian.Uint32(buf[:]))), nil
}

// ZeroDriveCount resets one drive encoder count to 0 on the board.
func (b *Board) ZeroDriveCount(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Wrapf(ErrBadChannel, "channel %d", ch)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.writeReg(RegZeroCounts, 1<<ch)
}

// Stop zeros all eight motors.
func (b *Board) Stop() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	var err error
	for ch := 0; ch < NumChannels; ch++ {
		err = multierr.Append(err, b.writeReg(RegDrive0Power+Register(ch), 0))
		err = multierr.Append(err, b.writeReg(RegTurn0Power+Register(ch), 0))
	}
	return err
}

func (b *Board) BattVolts() (float64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	raw, err := b.readReg(RegBattV)
	if err != nil {
		return 0, err
	}
	return float64(raw) * BattVLSB, nil
}

func (b *Board) Status() (StatusFlag, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	raw, err := b.readReg(RegStatus)
	if err != nil {
		return 0, err
	}
	return StatusFlag(raw), nil
}

func (b *Board) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	err := b.maybeConfigure(true, false)
	if b.dev != nil {
		err = multierr.Append(err, b.dev.Close())
		b.dev = nil
	}
	return err
}

func (b *Board) maybeConfigure(resetMotors bool, enableMotors bool) error {
	var configWord = RegCtrlEnableI2CControl
	if resetMotors {
		configWord |= RegCtrlReset
	}
	if enableMotors {
		configWord |= RegCtrlRun
	}
	if b.watchdogEnabled {
		configWord |= RegCtrlWatchdogEnable
	}

	if configWord == b.lastConfigWord && time.Since(b.lastConfigTime) < 100*time.Millisecond {
		// Skip writing config if we've done it recently.
		return nil
	}
	if err := b.writeReg(RegCtrl, configWord); err != nil {
		return err
	}

	b.lastConfigTime = time.Now()
	b.lastConfigWord = configWord & (^RegCtrlReset) // Reset flag is not persistent.
	return nil
}

func (b *Board) writeReg(reg Register, value uint16) error {
	return b.writeWithRetries([]byte{byte(reg), byte(value >> 8), byte(value)})
}

func (b *Board) writeWithRetries(data []byte) error {
	var errs error
	for tries := 0; tries < maxWriteTries; tries++ {
		dev, err := b.device()
		if err == nil {
			err = dev.Write(data)
			if err == nil {
				if tries > 0 {
					b.log.WithField("tries", tries+1).Info("HW: wrote to module bus after retries")
				}
				return nil
			}
			// Drop the handle; the next attempt reopens it.
			_ = dev.Close()
			b.dev = nil
		}
		errs = multierr.Append(errs, err)
		b.log.WithError(err).Warn("HW: failed to write to module bus")
		time.Sleep(1 * time.Millisecond)
	}
	return errors.Wrapf(errs, "failed to write register %#x after %d tries", data[0], maxWriteTries)
}

// device returns the open device, reopening it if a previous attempt to do so
// failed.  b.dev is nil while there is no usable handle.
func (b *Board) device() (Device, error) {
	if b.dev == nil {
		dev, err := b.open()
		if err != nil {
			return nil, errors.Wrap(err, "reopening module bus")
		}
		b.dev = dev
	}
	return b.dev, nil
}

func (b *Board) readReg(reg Register) (uint16, error) {
	dev, err := b.device()
	if err != nil {
		return 0, err
	}
	var buf [2]byte
	if err := dev.ReadReg(byte(reg), buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// Channel adapters so the board plugs into hardware.Module.

type driveMotor struct {
	b  *Board
	ch int
}

func (m driveMotor) SetPower(p float64) error { return m.b.SetDrivePower(m.ch, p) }

type turnMotor struct {
	b  *Board
	ch int
}

func (m turnMotor) SetPower(p float64) error { return m.b.SetTurnPower(m.ch, p) }

type driveEncoder struct {
	b  *Board
	ch int
}

func (e driveEncoder) ReadCount() (int64, error) { return e.b.DriveCount(e.ch) }
func (e driveEncoder) ZeroCount() error          { return e.b.ZeroDriveCount(e.ch) }

type turnEncoder struct {
	b  *Board
	ch int
}

func (e turnEncoder) ReadCount() (int64, error) { return e.b.TurnCount(e.ch) }

var (
	_ hardware.EncoderSource = driveEncoder{}
	_ hardware.Zeroer        = driveEncoder{}
	_ hardware.MotorSink     = driveMotor{}
)

func (b *Board) DriveMotor(ch int) hardware.MotorSink { return driveMotor{b, ch} }
func (b *Board) TurnMotor(ch int) hardware.MotorSink  { return turnMotor{b, ch} }

// DriveEncoder returns the drive encoder for a channel; it also implements
// hardware.Zeroer.
func (b *Board) DriveEncoder(ch int) hardware.EncoderSource { return driveEncoder{b, ch} }
func (b *Board) TurnEncoder(ch int) hardware.EncoderSource  { return turnEncoder{b, ch} }
