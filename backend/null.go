package backend

import (
	"sync"

	"github.com/psi4j/sunsetr/color"
)

// Null is a driver that records applied states instead of touching a
// display. Simulation runs and tests use it in place of a real adapter.
type Null struct {
	caps Capabilities

	mu      sync.Mutex
	applied []color.State
}

// NewNull creates a recording driver with the given capabilities.
func NewNull(caps Capabilities) *Null {
	return &Null{caps: caps}
}

func (d *Null) Capabilities() Capabilities { return d.caps }

func (d *Null) Set(s color.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.applied); n > 0 && d.applied[n-1].Equal(s) {
		return nil
	}
	d.applied = append(d.applied, s)
	return nil
}

func (d *Null) Close() {}

// Applied returns a copy of the distinct states applied so far.
func (d *Null) Applied() []color.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]color.State, len(d.applied))
	copy(out, d.applied)
	return out
}

// Last returns the most recently applied state.
func (d *Null) Last() (color.State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.applied) == 0 {
		return color.State{}, false
	}
	return d.applied[len(d.applied)-1], true
}
