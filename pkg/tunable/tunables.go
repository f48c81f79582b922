// Package tunable holds values that can be adjusted while the robot runs,
// e.g. from the joystick D-pad.
package tunable

import (
	"math"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

type Tunable struct {
	Name     string
	Step     float64
	Min, Max float64

	bits atomic.Uint64
}

// Add moves the value by steps*Step, clamped to [Min, Max], and returns the
// new value.
func (t *Tunable) Add(steps int) float64 {
	for {
		old := t.bits.Load()
		newV := t.clamp(math.Float64frombits(old) + float64(steps)*t.Step)
		if t.bits.CompareAndSwap(old, math.Float64bits(newV)) {
			log.WithField("tunable", t.Name).Infof("Tunable = %.3f", newV)
			return newV
		}
	}
}

func (t *Tunable) Set(v float64) {
	t.bits.Store(math.Float64bits(t.clamp(v)))
}

func (t *Tunable) Get() float64 {
	return math.Float64frombits(t.bits.Load())
}

func (t *Tunable) clamp(v float64) float64 {
	return math.Max(t.Min, math.Min(t.Max, v))
}

type Tunables struct {
	All      []*Tunable
	selected int
}

func (t *Tunables) Create(name string, value, step, lo, hi float64) *Tunable {
	newTunable := &Tunable{
		Name: name,
		Step: step,
		Min:  lo,
		Max:  hi,
	}
	newTunable.Set(value)
	t.All = append(t.All, newTunable)
	return newTunable
}

func (t *Tunables) SelectNext() {
	t.selected++
	if t.selected >= len(t.All) {
		t.selected = 0
	}
	t.logSelected()
}

func (t *Tunables) SelectPrev() {
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.All) - 1
	}
	t.logSelected()
}

func (t *Tunables) logSelected() {
	log.WithField("tunable", t.Current().Name).Infof("Tunable selected, value: %.3f", t.Current().Get())
}

func (t *Tunables) Current() *Tunable {
	return t.All[t.selected]
}
