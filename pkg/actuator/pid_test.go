package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPIDProportionalOnly(t *testing.T) {
	p := NewPIDController(PIDConfig{Kp: 0.5})
	assert.Equal(t, 5.0, p.Update(10, 10*time.Millisecond))
	assert.Equal(t, -5.0, p.Update(-10, 10*time.Millisecond))
}

func TestPIDIntegralClamped(t *testing.T) {
	p := NewPIDController(PIDConfig{Ki: 1, MaxIntegral: 0.5})
	for i := 0; i < 100; i++ {
		p.Update(90, 100*time.Millisecond)
	}
	assert.InDelta(t, 0.5, p.Update(90, 100*time.Millisecond), 1e-12)

	p.Reset()
	assert.InDelta(t, 0.3, p.Update(3, 100*time.Millisecond), 1e-12)
}

func TestPIDDerivativeIgnoresWrap(t *testing.T) {
	p := NewPIDController(PIDConfig{Kd: 1})
	// First update has no derivative.
	assert.Equal(t, 0.0, p.Update(179, time.Second))
	// 179 -> -179 is a 2° change, not 358°.
	assert.InDelta(t, 2, p.Update(-179, time.Second), 1e-9)
}

func TestPIDDerivativeClamped(t *testing.T) {
	p := NewPIDController(PIDConfig{Kd: 1, MaxDerivative: 10})
	p.Update(0, time.Millisecond)
	assert.InDelta(t, 10, p.Update(90, time.Millisecond), 1e-9)
}

func TestPIDZeroDt(t *testing.T) {
	p := NewPIDController(PIDConfig{Kp: 1, Ki: 1, Kd: 1})
	assert.Equal(t, 3.0, p.Update(3, 0))
	assert.Equal(t, 4.0, p.Update(4, 0))
}
