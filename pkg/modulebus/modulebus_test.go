package modulebus

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

var errBus = errors.New("remote I/O error")

// fakeBus emulates the board's register file.
type fakeBus struct {
	lock       sync.Mutex
	regs       [64]uint16
	failWrites int
	failOpens  int
	opens      int
	// Calls made on a device after it was closed.
	usedClosed int
	closes     int
	writes     []Register
}

func (f *fakeBus) opener() Opener {
	return func() (Device, error) {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.opens++
		if f.failOpens > 0 {
			f.failOpens--
			return nil, errOpen
		}
		return &fakeDevice{f: f}, nil
	}
}

var errOpen = errors.New("no such device")

type fakeDevice struct {
	f      *fakeBus
	closed bool
}

func (d *fakeDevice) Write(buf []byte) error {
	d.f.lock.Lock()
	defer d.f.lock.Unlock()
	if d.closed {
		d.f.usedClosed++
		return errors.New("bad file descriptor")
	}
	if d.f.failWrites > 0 {
		d.f.failWrites--
		return errBus
	}
	reg := Register(buf[0])
	d.f.writes = append(d.f.writes, reg)
	for i := 1; i+1 < len(buf); i += 2 {
		d.f.regs[int(reg)+(i-1)/2] = binary.BigEndian.Uint16(buf[i:])
	}
	return nil
}

func (d *fakeDevice) ReadReg(reg byte, buf []byte) error {
	d.f.lock.Lock()
	defer d.f.lock.Unlock()
	if d.closed {
		d.f.usedClosed++
		return errors.New("bad file descriptor")
	}
	for i := 0; i+1 < len(buf); i += 2 {
		binary.BigEndian.PutUint16(buf[i:], d.f.regs[int(reg)+i/2])
	}
	return nil
}

func (d *fakeDevice) Close() error {
	d.f.lock.Lock()
	defer d.f.lock.Unlock()
	d.closed = true
	d.f.closes++
	return nil
}

func (f *fakeBus) setCount(reg Register, v int32) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.regs[reg] = uint16(uint32(v) >> 16)
	f.regs[reg+1] = uint16(uint32(v))
}

func (f *fakeBus) reg(r Register) uint16 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.regs[r]
}

func newBoard(t *testing.T) (*Board, *fakeBus) {
	f := &fakeBus{}
	b, err := NewWithOpener(f.opener())
	require.NoError(t, err)
	return b, f
}

func TestPowerToRaw(t *testing.T) {
	assert.Equal(t, int16(0), PowerToRaw(0))
	assert.Equal(t, int16(math.MaxInt16), PowerToRaw(1))
	assert.Equal(t, int16(-math.MaxInt16), PowerToRaw(-1))
	assert.Equal(t, int16(math.MaxInt16), PowerToRaw(3))
	assert.Equal(t, int16(0), PowerToRaw(math.NaN()))
	assert.Equal(t, int16(16384), PowerToRaw(0.5))
}

func TestSetPowerEnablesMotors(t *testing.T) {
	b, f := newBoard(t)

	require.NoError(t, b.SetDrivePower(2, -0.5))
	assert.Equal(t, RegCtrlEnableI2CControl|RegCtrlRun, f.reg(RegCtrl))
	assert.Equal(t, uint16(PowerToRaw(-0.5)), f.reg(RegDrive2Power))

	require.NoError(t, b.SetTurnPower(1, 0.25))
	assert.Equal(t, uint16(PowerToRaw(0.25)), f.reg(RegTurn1Power))

	// The control word was written once; it's refreshed at most every 100ms.
	n := 0
	for _, r := range f.writes {
		if r == RegCtrl {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestBadChannel(t *testing.T) {
	b, _ := newBoard(t)
	assert.ErrorIs(t, b.SetDrivePower(4, 0), ErrBadChannel)
	assert.ErrorIs(t, b.SetTurnPower(-1, 0), ErrBadChannel)
	_, err := b.DriveCount(7)
	assert.ErrorIs(t, err, ErrBadChannel)
	assert.ErrorIs(t, b.ZeroDriveCount(4), ErrBadChannel)
}

func TestReadCounts(t *testing.T) {
	b, f := newBoard(t)
	f.setCount(RegDrive0Count+2, 123456)
	f.setCount(RegTurn0Count+6, -42)

	c, err := b.DriveCount(1)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), c)

	c, err = b.TurnCount(3)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), c)
}

func TestZeroDriveCount(t *testing.T) {
	b, f := newBoard(t)
	require.NoError(t, b.DriveEncoder(3).(hardware.Zeroer).ZeroCount())
	assert.Equal(t, uint16(1<<3), f.reg(RegZeroCounts))
}

func TestWriteRetriesReopen(t *testing.T) {
	b, f := newBoard(t)
	f.failWrites = 2

	require.NoError(t, b.Stop())
	assert.Equal(t, 3, f.opens)
	assert.Equal(t, 2, f.closes)
}

func TestFailedReopenIsRetriedLater(t *testing.T) {
	b, f := newBoard(t)
	f.failWrites = 1
	f.failOpens = 100

	err := b.SetDrivePower(0, 0.5)
	assert.ErrorIs(t, err, errBus)
	assert.ErrorIs(t, err, errOpen)
	assert.Equal(t, 1, f.closes)
	assert.Equal(t, 1+(maxWriteTries-1), f.opens)

	// Reads don't fall back on the closed handle either.
	_, err = b.DriveCount(0)
	assert.ErrorIs(t, err, errOpen)

	// Once the bus is back the next call reopens it.
	f.failOpens = 0
	f.setCount(RegDrive0Count, 42)
	n, err := b.DriveCount(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, b.SetDrivePower(0, 0.5))
	assert.Zero(t, f.usedClosed)
}

func TestWriteGivesUp(t *testing.T) {
	b, f := newBoard(t)
	f.failWrites = 100

	err := b.SetDrivePower(0, 1)
	assert.ErrorIs(t, err, errBus)
}

func TestWatchdog(t *testing.T) {
	b, f := newBoard(t)
	require.NoError(t, b.SetWatchdog(250*time.Millisecond))
	assert.Equal(t, uint16(250), f.reg(RegWatchdogTimeout))
	assert.NotZero(t, f.reg(RegCtrl)&RegCtrlWatchdogEnable)

	require.NoError(t, b.SetWatchdog(0))
	assert.Zero(t, f.reg(RegCtrl)&RegCtrlWatchdogEnable)
}

func TestChannelAdapters(t *testing.T) {
	b, f := newBoard(t)
	f.setCount(RegDrive0Count, 10)
	f.setCount(RegTurn0Count, 20)
	f.regs[RegBattV] = 3000

	m := hardware.Module{
		Drive:        b.DriveMotor(0),
		Turn:         b.TurnMotor(0),
		DriveEncoder: b.DriveEncoder(0),
		Steering:     &hardware.TurnEncoder{Encoder: b.TurnEncoder(0), CountsPerRev: 80},
	}
	require.NoError(t, m.Validate())

	require.NoError(t, m.Drive.SetPower(1))
	require.NoError(t, m.Turn.SetPower(-1))
	assert.Equal(t, uint16(math.MaxInt16), f.reg(RegDrive0Power))
	assert.Equal(t, uint16(PowerToRaw(-1)), f.reg(RegTurn0Power))

	c, err := m.DriveEncoder.ReadCount()
	require.NoError(t, err)
	assert.Equal(t, int64(10), c)

	h, err := m.Steering.ReadHeading()
	require.NoError(t, err)
	assert.InDelta(t, 90, h, 1e-9)

	v, err := b.BattVolts()
	require.NoError(t, err)
	assert.InDelta(t, 12, v, 1e-9)

	require.NoError(t, b.Close())
	assert.Equal(t, 1, f.closes)
}
