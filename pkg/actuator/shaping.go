package actuator

import "math"

// Shaping adjusts a motor's power before the final clip.  The zero value
// passes power through unchanged.
type Shaping struct {
	// Powers with a smaller magnitude than Deadzone are sent as 0.
	Deadzone float64 `yaml:"deadzone"`
	// Multiplier scales the power; 0 means 1.
	Multiplier float64 `yaml:"multiplier"`
	Inverted   bool    `yaml:"inverted"`
}

func (s Shaping) Apply(power float64) float64 {
	if math.Abs(power) < s.Deadzone {
		return 0
	}
	if s.Multiplier != 0 {
		power *= s.Multiplier
	}
	if s.Inverted {
		power = -power
	}
	return power
}
