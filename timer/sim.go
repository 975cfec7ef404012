package timer

import (
	"context"
	"sync"
	"time"
)

// Simulated is a virtual clock for --simulate runs and tests. Time advances
// only through SleepUntil: immediately in fast-forward mode, or at a
// multiple of real time otherwise. Jump injects a wall-clock jump that is
// reported by the next sleep, mirroring what the system clock reports after
// suspend/resume or an NTP step.
type Simulated struct {
	mu      sync.Mutex
	now     time.Time
	mult    float64
	pending time.Duration // injected jump not yet observed
}

// NewSimulated creates a virtual clock starting at start. A multiplier of 0
// (or less) fast-forwards: sleeps return immediately after advancing virtual
// time to the deadline.
func NewSimulated(start time.Time, multiplier float64) *Simulated {
	return &Simulated{now: start, mult: multiplier}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Jump shifts virtual wall-clock time by d. The shift is applied and
// reported by the next sleep.
func (s *Simulated) Jump(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += d
}

func (s *Simulated) Sleep(ctx context.Context, d time.Duration) Wake {
	return s.SleepUntil(ctx, s.Now().Add(d))
}

func (s *Simulated) SleepUntil(ctx context.Context, deadline time.Time) Wake {
	if wake, ok := s.takeJump(); ok {
		return wake
	}
	s.mu.Lock()
	wait := deadline.Sub(s.now)
	mult := s.mult
	s.mu.Unlock()
	if wait <= 0 {
		return WakeDeadline
	}
	if mult > 0 {
		real := time.Duration(float64(wait) / mult)
		tm := time.NewTimer(real)
		defer tm.Stop()
		select {
		case <-ctx.Done():
			return WakeCancelled
		case <-tm.C:
		}
	}
	s.mu.Lock()
	if deadline.After(s.now) {
		s.now = deadline
	}
	s.mu.Unlock()
	if wake, ok := s.takeJump(); ok {
		return wake
	}
	return WakeDeadline
}

func (s *Simulated) takeJump() (Wake, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 {
		return 0, false
	}
	s.now = s.now.Add(s.pending)
	s.pending = 0
	return WakeJumped, true
}
