package actuator

import (
	"math"
	"time"
)

type PIDConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	MaxIntegral   float64 `yaml:"max_integral"`
	MaxDerivative float64 `yaml:"max_derivative"`
}

// PIDController is a PID loop for a continuously rotating joint.  The error
// it is fed must already be wrapped into [-180, 180] so that the loop never
// winds the long way round.
type PIDController struct {
	cfg PIDConfig

	integral    float64
	lastError   float64
	initialized bool
}

func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg}
}

func (p *PIDController) Reset() {
	p.integral = 0
	p.lastError = 0
	p.initialized = false
}

func (p *PIDController) Update(headingError float64, dt time.Duration) float64 {
	secs := dt.Seconds()

	var d float64
	if p.initialized && secs > 0 {
		// A target that jumps across the wrap point would otherwise produce
		// a 360° derivative spike.
		d = wrapDelta(headingError-p.lastError) / secs
		if p.cfg.MaxDerivative > 0 {
			d = clampAbs(d, p.cfg.MaxDerivative)
		}
	}
	if secs > 0 {
		p.integral += headingError * secs
		if p.cfg.MaxIntegral > 0 {
			p.integral = clampAbs(p.integral, p.cfg.MaxIntegral)
		}
	}

	p.lastError = headingError
	p.initialized = true

	return p.cfg.Kp*headingError + p.cfg.Ki*p.integral + p.cfg.Kd*d
}

func wrapDelta(d float64) float64 {
	return math.Remainder(d, 360)
}

func clampAbs(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
