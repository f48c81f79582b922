package joystick

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

// jsEvent builds one struct js_event as the kernel writes it.
func jsEvent(ms uint32, value int16, typ uint8, number uint8) []byte {
	var b [eventSize]byte
	binary.LittleEndian.PutUint32(b[0:], ms)
	binary.LittleEndian.PutUint16(b[4:], uint16(value))
	b[6] = typ
	b[7] = number
	return b[:]
}

func TestReadEvent(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(jsEvent(1000, -32767, uint8(EventTypeAxis)|initFlag, AxisLStickY))
	buf.Write(jsEvent(1250, 1, uint8(EventTypeButton), ButtonCross))
	buf.Write(jsEvent(1300, 0, uint8(EventTypeButton), ButtonCross)[:5])
	j := FromReader(io.NopCloser(&buf))

	e1, err := j.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, EventTypeAxis, e1.Type, "init flag should be masked")
	assert.True(t, e1.Init)
	assert.Equal(t, uint8(AxisLStickY), e1.Number)
	assert.Equal(t, int16(-32767), e1.Value)
	assert.False(t, e1.Pressed())

	e2, err := j.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, EventTypeButton, e2.Type)
	assert.False(t, e2.Init)
	assert.True(t, e2.Pressed())
	assert.Equal(t, 250*time.Millisecond, e2.Time-e1.Time)
	assert.Equal(t, "button(0)=1", e2.String())

	// A truncated event is an error, not a short read.
	_, err = j.ReadEvent()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NoError(t, j.Close())
}

func TestRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	j := FromReader(pr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, events) }()

	go func() { _, _ = pw.Write(jsEvent(5, 1, uint8(EventTypeButton), ButtonTriangle)) }()
	e := <-events
	assert.Equal(t, uint8(ButtonTriangle), e.Number)

	// Run is now blocked reading; cancelling must unblock it.
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run didn't return after cancel")
	}
	_, ok := <-events
	assert.False(t, ok, "events should be closed")
}

func TestRunReportsDeviceErrors(t *testing.T) {
	j := FromReader(io.NopCloser(bytes.NewReader(jsEvent(5, 100, uint8(EventTypeAxis), AxisRStickX))))
	events := make(chan Event, 1)
	err := j.Run(context.Background(), events)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int16(100), (<-events).Value)
}

func TestOpenWaitsForDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js0")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Open(ctx, path, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// Appear all at once, like a device node.
		tmp := path + ".tmp"
		_ = os.WriteFile(tmp, jsEvent(1, 7, uint8(EventTypeAxis), AxisDPadX), 0o644)
		_ = os.Rename(tmp, path)
	}()
	j, err := Open(context.Background(), path, 5*time.Millisecond)
	require.NoError(t, err)
	defer j.Close()
	e, err := j.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, uint8(AxisDPadX), e.Number)
}

func axis(n uint8, v int16) Event {
	return Event{Type: EventTypeAxis, Number: n, Value: v}
}

func TestMapperAxes(t *testing.T) {
	m := NewMapper(0, 0)

	assert.True(t, m.OnEvent(axis(AxisLStickY, -math.MaxInt16)))
	assert.True(t, m.OnEvent(axis(AxisLStickX, math.MaxInt16)))
	assert.True(t, m.OnEvent(axis(AxisRStickX, -math.MaxInt16/2)))
	assert.False(t, m.OnEvent(axis(4, 100)), "right stick Y is unmapped")
	assert.False(t, m.OnEvent(Event{Type: EventTypeButton, Number: ButtonCross, Value: 1}))

	cmd := m.Command()
	assert.Equal(t, 1.0, cmd.Forward)
	assert.Equal(t, 1.0, cmd.Strafe)
	assert.InDelta(t, -0.5, cmd.Rotate, 1e-4)

	m.OnEvent(axis(AxisLStickY, 0))
	m.OnEvent(axis(AxisLStickX, 0))
	m.OnEvent(axis(AxisRStickX, 0))
	assert.Equal(t, kinematics.Command{}, m.Command())
}

func TestMapperClampsMinInt16(t *testing.T) {
	m := NewMapper(0, 0)
	m.OnEvent(axis(AxisLStickY, math.MinInt16))
	assert.Equal(t, 1.0, m.Command().Forward)
}

func TestDeadband(t *testing.T) {
	assert.Equal(t, 0.0, ApplyDeadband(0.05, 0.1))
	assert.Equal(t, 0.0, ApplyDeadband(-0.09, 0.1))
	assert.InDelta(t, 1, ApplyDeadband(1, 0.1), 1e-12)
	assert.InDelta(t, -0.5, ApplyDeadband(-0.55, 0.1), 1e-12)
	assert.Equal(t, 0.3, ApplyDeadband(0.3, 0))
}

func TestExpo(t *testing.T) {
	assert.InDelta(t, 0.25, ApplyExpo(0.5, 2), 1e-12)
	assert.InDelta(t, -0.25, ApplyExpo(-0.5, 2), 1e-12)
	assert.Equal(t, 1.0, ApplyExpo(1, 1.6))
	assert.Equal(t, 0.0, ApplyExpo(0, 1.6))
}
