// Package pca9685 drives the PCA9685 16-channel PWM chip.  On the swerve bot
// it runs the steering motors through continuous-rotation servo controllers,
// so motor power maps onto the servo pulse width with 1.5ms as stop.
package pca9685

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.
	RegTestMode = 0xff

	NumPorts = 16

	PWMPeriod = 20 * time.Millisecond

	ServoMinPulseDuration = 1000 * time.Microsecond
	ServoMaxPulseDuration = 2000 * time.Microsecond

	PWMMax = 4095

	ServoMinPWM = float64(PWMMax * ServoMinPulseDuration / PWMPeriod)
	ServoMaxPWM = float64(PWMMax * ServoMaxPulseDuration / PWMPeriod)
)

var ErrBadPort = errors.New("PCA9685 port out of range")

// Device is the part of *i2c.Device that the driver uses.
type Device interface {
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type PCA9685 struct {
	lock sync.Mutex
	dev  Device
}

func New(deviceFile string, addr int) (*PCA9685, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open PCA9685 on %s", deviceFile)
	}
	return NewWithDevice(dev), nil
}

func NewWithDevice(dev Device) *PCA9685 {
	return &PCA9685{dev: dev}
}

func (p *PCA9685) Configure() (err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	// Put device to sleep.
	err = p.dev.WriteReg(RegMode1, []byte{0x11})
	if err != nil {
		return
	}
	// Update pre-scaler for 50Hz.
	err = p.dev.WriteReg(RegPreScale, []byte{0x79})
	if err != nil {
		return
	}
	// Trigger a reset
	err = p.dev.WriteReg(RegMode1, []byte{0x01})
	if err != nil {
		return
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable.
	err = p.dev.WriteReg(RegMode1, []byte{0x81})
	return
}

// SetServo sets a positional servo; value 0 is the shortest pulse, 1 the
// longest.
func (p *PCA9685) SetServo(port int, value float64) error {
	value = math.Max(0, math.Min(1, value))
	return p.setRaw(port, uint16(ServoMinPWM+value*(ServoMaxPWM-ServoMinPWM)))
}

// SetMotor drives a continuous-rotation servo: -1 full reverse, 0 stop, 1 full
// forward.
func (p *PCA9685) SetMotor(port int, power float64) error {
	if math.IsNaN(power) {
		power = 0
	}
	power = math.Max(-1, math.Min(1, power))
	return p.SetServo(port, (power+1)/2)
}

func (p *PCA9685) SetPWM(port int, value float64) error {
	value = math.Max(0, math.Min(1, value))
	return p.setRaw(port, uint16(PWMMax*value))
}

func (p *PCA9685) setRaw(port int, pwmValue uint16) error {
	if port < 0 || port >= NumPorts {
		return errors.Wrapf(ErrBadPort, "port %d", port)
	}
	addr := RegLEDBase + port*4

	p.lock.Lock()
	defer p.lock.Unlock()
	return p.dev.WriteReg(byte(addr), []byte{0, 0, byte(pwmValue & 0xff), byte(pwmValue >> 8)})
}

func (p *PCA9685) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.dev.Close()
}

type motorPort struct {
	p    *PCA9685
	port int
}

func (m motorPort) SetPower(power float64) error {
	return m.p.SetMotor(m.port, power)
}

// Motor returns a hardware.MotorSink for a continuous-rotation servo on port.
func (p *PCA9685) Motor(port int) hardware.MotorSink {
	return motorPort{p: p, port: port}
}
