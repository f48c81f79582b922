// Package as5047 reads AS5047-style 14-bit magnetic absolute encoders over
// SPI.  They sit on the steering shafts and give the module heading directly.
package as5047

import (
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	CountsPerRev = 1 << 14

	RegNOP      = 0x0000
	RegErrFlag  = 0x0001
	RegDiag     = 0x3FFC
	RegAngleCom = 0x3FFF

	cmdRead   = 1 << 14
	flagError = 1 << 14
	dataMask  = CountsPerRev - 1
)

var (
	ErrParity = errors.New("AS5047 parity error")
	ErrFault  = errors.New("AS5047 reported an error")
)

// Conn is the part of spi.Conn that the driver uses.
type Conn interface {
	Tx(w, r []byte) error
}

type Encoder struct {
	lock sync.Mutex
	conn Conn
	w, r [4]byte
}

// Open connects to an encoder on the named SPI port, e.g. "/dev/spidev0.1".
func Open(port string) (*Encoder, error) {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %s", port)
	}
	c, err := p.Connect(physic.MegaHertz, spi.Mode1, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to SPI port %s", port)
	}
	return New(c), nil
}

func New(conn Conn) *Encoder {
	return &Encoder{conn: conn}
}

// ReadCount returns the shaft angle in [0, CountsPerRev).
func (e *Encoder) ReadCount() (int64, error) {
	v, err := e.ReadRegister(RegAngleCom)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ReadRegister reads a 14-bit register.  The chip answers a read command in
// the following frame so every read is two frames long.
func (e *Encoder) ReadRegister(addr uint16) (uint16, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	putFrame(e.w[0:2], Command(addr))
	putFrame(e.w[2:4], Command(RegNOP))
	if err := e.conn.Tx(e.w[:], e.r[:]); err != nil {
		return 0, errors.Wrap(err, "AS5047 transfer failed")
	}
	return DecodeResponse(uint16(e.r[2])<<8 | uint16(e.r[3]))
}

// Command builds a read command frame with even parity in bit 15.
func Command(addr uint16) uint16 {
	return withParity(cmdRead | addr&dataMask)
}

// DecodeResponse checks parity and the error flag and returns the data bits.
func DecodeResponse(frame uint16) (uint16, error) {
	if bits.OnesCount16(frame)%2 != 0 {
		return 0, errors.Wrapf(ErrParity, "frame %#04x", frame)
	}
	if frame&flagError != 0 {
		return 0, errors.Wrapf(ErrFault, "frame %#04x", frame)
	}
	return frame & dataMask, nil
}

func withParity(frame uint16) uint16 {
	frame &^= 1 << 15
	if bits.OnesCount16(frame)%2 != 0 {
		frame |= 1 << 15
	}
	return frame
}

func putFrame(b []byte, frame uint16) {
	b[0] = byte(frame >> 8)
	b[1] = byte(frame)
}
