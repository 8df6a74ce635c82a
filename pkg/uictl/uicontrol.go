// Package uictl holds small control interfaces shared between devices and
// the views that drive them.
package uictl

import (
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// Knob is a simple on/off toggle control.
type Knob interface {
	Read() bool
	On()
	Off()
	Toggle()
}

// Dial is a control that can read some value.
type Dial[N Number] interface {
	Read() N
}

// CappedDial is a Dial with a maximum cap value.
type CappedDial[N Number] interface {
	Dial[N]
	Cap() (num, max N)
}

// Levels is a control that can read multiple float32 levels.
type Levels[N Number] interface {
	Read() []N
}

// Switch is a Knob backed by an atomic flag. The zero value is off.
type Switch struct {
	on atomic.Bool
}

var _ Knob = (*Switch)(nil)

// NewSwitch returns a Switch in the given position.
func NewSwitch(on bool) *Switch {
	s := &Switch{}
	s.on.Store(on)
	return s
}

func (s *Switch) Read() bool { return s.on.Load() }
func (s *Switch) On()        { s.on.Store(true) }
func (s *Switch) Off()       { s.on.Store(false) }

// Toggle flips the switch.
func (s *Switch) Toggle() {
	for {
		cur := s.on.Load()
		if s.on.CompareAndSwap(cur, !cur) {
			return
		}
	}
}
