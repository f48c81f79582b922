// Package canmotor talks to motor controllers on a CAN bus.  Each controller
// has a node ID; it takes a duty frame and broadcasts a status frame carrying
// its encoder position.
package canmotor

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

const (
	DutyBaseID   = 0x200
	StatusBaseID = 0x180
	MaxNodeID    = 0x7f

	DefaultStaleAfter   = 100 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Millisecond
)

var ErrBadNode = errors.New("CAN node ID out of range")

type Transmitter interface {
	TransmitFrame(ctx context.Context, frame can.Frame) error
}

type Receiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

type position struct {
	count int64
	at    time.Time
}

type Bus struct {
	tx     Transmitter
	rx     Receiver
	closer io.Closer

	StaleAfter   time.Duration
	WriteTimeout time.Duration

	lock      sync.Mutex
	positions map[uint32]position
	now       func() time.Time
}

// Dial opens a SocketCAN interface such as "can0".
func Dial(ctx context.Context, iface string) (*Bus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	return NewBus(socketcan.NewTransmitter(conn), socketcan.NewReceiver(conn), conn), nil
}

// NewBus wraps an existing transmitter/receiver pair.  closer may be nil.
func NewBus(tx Transmitter, rx Receiver, closer io.Closer) *Bus {
	return &Bus{
		tx:           tx,
		rx:           rx,
		closer:       closer,
		StaleAfter:   DefaultStaleAfter,
		WriteTimeout: DefaultWriteTimeout,
		positions:    map[uint32]position{},
		now:          time.Now,
	}
}

// EncodeDuty builds the duty frame for a node.  Power is clamped to [-1, 1]
// and sent as a big-endian int16.
func EncodeDuty(node uint32, power float64) can.Frame {
	if math.IsNaN(power) {
		power = 0
	}
	power = math.Max(-1, math.Min(1, power))
	f := can.Frame{ID: DutyBaseID + node, Length: 2}
	binary.BigEndian.PutUint16(f.Data[:], uint16(int16(math.Round(power*math.MaxInt16))))
	return f
}

// DecodeStatus extracts the node and encoder position from a status frame.
func DecodeStatus(f can.Frame) (node uint32, count int64, ok bool) {
	if f.IsRemote || f.IsExtended || f.Length < 4 {
		return 0, 0, false
	}
	if f.ID <= StatusBaseID || f.ID > StatusBaseID+MaxNodeID {
		return 0, 0, false
	}
	return f.ID - StatusBaseID, int64(int32(binary.BigEndian.Uint32(f.Data[:4]))), true
}

func (b *Bus) SetPower(node uint32, power float64) error {
	if node == 0 || node > MaxNodeID {
		return errors.Wrapf(ErrBadNode, "node %d", node)
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.WriteTimeout)
	defer cancel()
	if err := b.tx.TransmitFrame(ctx, EncodeDuty(node, power)); err != nil {
		return errors.Wrapf(err, "failed to send duty to node %d", node)
	}
	return nil
}

// Position returns the last reported encoder count for a node.  Positions
// older than StaleAfter are treated as missing.
func (b *Bus) Position(node uint32) (int64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	p, ok := b.positions[node]
	if !ok {
		return 0, errors.Wrapf(hardware.ErrNoData, "no status from node %d", node)
	}
	if age := b.now().Sub(p.at); b.StaleAfter > 0 && age > b.StaleAfter {
		return 0, errors.Wrapf(hardware.ErrNoData, "status from node %d is %v old", node, age)
	}
	return p.count, nil
}

// Loop receives status frames until the receiver fails or the context is
// cancelled.  Cancelling closes the bus to unblock the receiver.
func (b *Bus) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer log.Info("HW: CAN receive loop exited")

	stop := context.AfterFunc(ctx, func() {
		_ = b.Close()
	})
	defer stop()

	for b.rx.Receive() {
		b.handle(b.rx.Frame())
	}
	if err := b.rx.Err(); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("HW: CAN receive failed")
	}
}

func (b *Bus) handle(f can.Frame) {
	node, count, ok := DecodeStatus(f)
	if !ok {
		return
	}
	b.lock.Lock()
	b.positions[node] = position{count: count, at: b.now()}
	b.lock.Unlock()
}

func (b *Bus) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

type motor struct {
	b    *Bus
	node uint32
}

func (m motor) SetPower(p float64) error { return m.b.SetPower(m.node, p) }

type encoder struct {
	b    *Bus
	node uint32
}

func (e encoder) ReadCount() (int64, error) { return e.b.Position(e.node) }

func (b *Bus) Motor(node uint32) hardware.MotorSink       { return motor{b, node} }
func (b *Bus) Encoder(node uint32) hardware.EncoderSource { return encoder{b, node} }
