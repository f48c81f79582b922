// Package joystick reads the Linux joystick API (/dev/input/js*) and maps the
// sticks onto drivetrain commands.
package joystick

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type EventType uint8

const (
	EventTypeButton EventType = 0x01
	EventTypeAxis   EventType = 0x02

	// Set on the events the driver sends on open to report the initial state.
	initFlag = 0x80
)

// The controls the drivetrain uses, numbered as the kernel reports a PS4 pad.
// Axes run from -32767 (left/up) to +32767 (right/down).
const (
	ButtonCross    = 0
	ButtonTriangle = 2

	AxisLStickX = 0
	AxisLStickY = 1
	AxisRStickX = 3
	AxisDPadX   = 6
	AxisDPadY   = 7
)

// Size of a struct js_event.
const eventSize = 8

func (t EventType) String() string {
	switch t {
	case EventTypeAxis:
		return "axis"
	case EventTypeButton:
		return "button"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

type Event struct {
	// Device timestamp, from an arbitrary origin.
	Time   time.Duration
	Type   EventType
	Number uint8
	Value  int16
	// Init marks the synthetic state events sent when the device is opened.
	Init bool
}

func (e Event) String() string {
	return fmt.Sprintf("%v(%d)=%d", e.Type, e.Number, e.Value)
}

// Pressed is true for a real button-down event.
func (e Event) Pressed() bool {
	return e.Type == EventTypeButton && e.Value == 1 && !e.Init
}

type Joystick struct {
	device io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// Open opens the joystick device, retrying every retry interval until it shows
// up or the context is done.
func Open(ctx context.Context, path string, retry time.Duration) (*Joystick, error) {
	logged := false
	for {
		f, err := os.Open(path)
		if err == nil {
			log.WithField("device", path).Info("Opened joystick")
			return FromReader(f), nil
		}
		if !logged {
			log.WithError(err).Info("Waiting for joystick")
			logged = true
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "gave up waiting for %s", path)
		case <-time.After(retry):
		}
	}
}

// FromReader reads events from an already open device.
func FromReader(r io.ReadCloser) *Joystick {
	return &Joystick{device: r}
}

func (j *Joystick) ReadEvent() (Event, error) {
	var buf [eventSize]byte
	if _, err := io.ReadFull(j.device, buf[:]); err != nil {
		return Event{}, err
	}
	typ := buf[6]
	return Event{
		Time:   time.Duration(binary.LittleEndian.Uint32(buf[0:])) * time.Millisecond,
		Value:  int16(binary.LittleEndian.Uint16(buf[4:])),
		Type:   EventType(typ &^ initFlag),
		Number: buf[7],
		Init:   typ&initFlag != 0,
	}, nil
}

// Run reads events into the channel until the device fails or the context is
// done, then closes both the channel and the device.  A blocked read is broken
// by closing the device, so cancelling the context always ends Run; it then
// returns the context's error.
func (j *Joystick) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)
	defer j.Close()
	stop := context.AfterFunc(ctx, func() { _ = j.Close() })
	defer stop()

	for {
		e, err := j.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "joystick read failed")
		}
		select {
		case events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *Joystick) Close() error {
	j.closeOnce.Do(func() {
		j.closeErr = j.device.Close()
	})
	return j.closeErr
}
