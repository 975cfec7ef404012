// Package smoothing animates sub-second transitions between two color
// states over a wall-clock duration. It drives startup, shutdown, reload,
// preset, and test transitions; scheduled sunrise/sunset interpolation
// happens at the update interval without it.
package smoothing

import (
	"time"

	"github.com/psi4j/sunsetr/color"
)

// slowTicksBeforeStride is how many consecutive overlong ticks are tolerated
// before the animator halves its frame count to keep the wall duration.
const slowTicksBeforeStride = 3

// Animator steps a color transition one frame per tick at an adaptive
// interval. It is driven from the controller loop: Tick advances and returns
// the frame to apply, and Retarget redirects a running animation from the
// current interpolated state without a jump.
//
// The animator is not safe for concurrent use; the controller owns it.
type Animator struct {
	base time.Duration

	from, to color.State
	current  color.State
	frames   int
	frame    int
	stride   int
	active   bool

	lastTick time.Time
	slow     int
}

// New creates an animator with the configured base tick interval
// (adaptive_interval).
func New(base time.Duration) *Animator {
	if base <= 0 {
		base = time.Millisecond
	}
	return &Animator{base: base}
}

// Start begins a transition from one state to another over duration. A
// non-positive duration or an already-reached target completes immediately.
func (a *Animator) Start(from, to color.State, duration time.Duration, now time.Time) {
	a.from, a.to, a.current = from, to, from
	a.frame, a.stride, a.slow = 0, 1, 0
	a.lastTick = now
	a.frames = int(duration / a.base)
	if duration <= 0 || a.frames < 1 || from.Equal(to) {
		a.current = to
		a.active = false
		return
	}
	a.active = true
}

// Retarget redirects the animation toward a new target, starting from the
// currently interpolated state so there is no visible jump.
func (a *Animator) Retarget(to color.State, duration time.Duration, now time.Time) {
	a.Start(a.current, to, duration, now)
}

// Active reports whether frames remain.
func (a *Animator) Active() bool { return a.active }

// Current returns the most recently produced state.
func (a *Animator) Current() color.State { return a.current }

// Interval returns the tick period the controller should sleep between
// frames.
func (a *Animator) Interval() time.Duration { return a.base }

// Tick advances the animation and returns the state to apply. The measured
// time since the previous tick feeds the adaptive stride: when the
// compositor consistently cannot keep up with the base interval, the stride
// doubles so the transition still completes on time with fewer frames.
func (a *Animator) Tick(now time.Time) color.State {
	if !a.active {
		return a.current
	}
	if elapsed := now.Sub(a.lastTick); elapsed > 2*a.base*time.Duration(a.stride) {
		a.slow++
		if a.slow >= slowTicksBeforeStride {
			a.stride *= 2
			a.slow = 0
		}
	} else {
		a.slow = 0
	}
	a.lastTick = now

	a.frame += a.stride
	if a.frame >= a.frames {
		a.frame = a.frames
		a.active = false
		a.current = a.to
		return a.current
	}
	w := color.Ease(float64(a.frame) / float64(a.frames))
	a.current = color.Lerp(a.from, a.to, w)
	return a.current
}
