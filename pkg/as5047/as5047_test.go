package as5047

import (
	"math/bits"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

// fakeChip answers the previous frame's read with response.
type fakeChip struct {
	response uint16
	lastCmd  uint16
	err      error
}

func (f *fakeChip) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.lastCmd = uint16(w[0])<<8 | uint16(w[1])
	r[0], r[1] = 0, 0
	r[2], r[3] = byte(f.response>>8), byte(f.response)
	return nil
}

func TestCommandParity(t *testing.T) {
	// Documented frame for reading ANGLECOM.
	assert.Equal(t, uint16(0xFFFF), Command(RegAngleCom))
	assert.Equal(t, uint16(0x4001), Command(RegErrFlag))
	assert.Equal(t, uint16(0xC000), Command(RegNOP))
	for _, a := range []uint16{0, 1, 0x3FFC, 0x1234} {
		assert.Zero(t, bits.OnesCount16(Command(a))%2, "addr %#x", a)
	}
}

func TestReadCount(t *testing.T) {
	chip := &fakeChip{response: withParity(4096)}
	e := New(chip)

	c, err := e.ReadCount()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), c)
	assert.Equal(t, Command(RegAngleCom), chip.lastCmd)

	steering := &hardware.TurnEncoder{Encoder: e, CountsPerRev: CountsPerRev}
	h, err := steering.ReadHeading()
	require.NoError(t, err)
	assert.InDelta(t, 90, h, 1e-9)
}

func TestParityError(t *testing.T) {
	e := New(&fakeChip{response: withParity(100) ^ 1})
	_, err := e.ReadCount()
	assert.ErrorIs(t, err, ErrParity)
}

func TestErrorFlag(t *testing.T) {
	e := New(&fakeChip{response: withParity(flagError | 7)})
	_, err := e.ReadCount()
	assert.ErrorIs(t, err, ErrFault)
}

func TestTransferError(t *testing.T) {
	boom := errors.New("spi: transfer failed")
	e := New(&fakeChip{err: boom})
	_, err := e.ReadCount()
	assert.ErrorIs(t, err, boom)
}
