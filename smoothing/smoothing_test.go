package smoothing

import (
	"testing"
	"time"

	"github.com/psi4j/sunsetr/color"
)

var (
	day   = color.State{Temperature: 6500, Gamma: 100}
	night = color.State{Temperature: 3300, Gamma: 90}
)

func TestAnimatesToTarget(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(10 * time.Millisecond)
	a.Start(day, night, 500*time.Millisecond, now)
	if !a.Active() {
		t.Fatal("animator should be active")
	}
	var last color.State
	ticks := 0
	for a.Active() {
		now = now.Add(10 * time.Millisecond)
		last = a.Tick(now)
		ticks++
		if ticks > 1000 {
			t.Fatal("animation never completed")
		}
	}
	if !last.Equal(night) {
		t.Errorf("final state %+v, want %+v", last, night)
	}
	if ticks != 50 {
		t.Errorf("ticks = %d, want 50", ticks)
	}
}

func TestInstantWhenDurationZero(t *testing.T) {
	a := New(time.Millisecond)
	a.Start(day, night, 0, time.Unix(0, 0))
	if a.Active() {
		t.Fatal("zero duration should complete immediately")
	}
	if !a.Current().Equal(night) {
		t.Errorf("current = %+v, want target", a.Current())
	}
}

func TestRetargetFromCurrent(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(10 * time.Millisecond)
	a.Start(day, night, 500*time.Millisecond, now)
	for range 20 {
		now = now.Add(10 * time.Millisecond)
		a.Tick(now)
	}
	mid := a.Current()
	if mid.Equal(day) || mid.Equal(night) {
		t.Fatalf("expected mid-animation state, got %+v", mid)
	}

	a.Retarget(day, 500*time.Millisecond, now)
	now = now.Add(10 * time.Millisecond)
	first := a.Tick(now)
	// The first frame after retargeting must be near the state we were at,
	// not near either endpoint.
	if delta := first.Temperature - mid.Temperature; delta < -200 || delta > 200 {
		t.Errorf("retarget jumped: %+v -> %+v", mid, first)
	}
	for a.Active() {
		now = now.Add(10 * time.Millisecond)
		a.Tick(now)
	}
	if !a.Current().Equal(day) {
		t.Errorf("final state %+v, want %+v", a.Current(), day)
	}
}

func TestAdaptiveStrideOnSlowTicks(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(10 * time.Millisecond)
	a.Start(day, night, time.Second, now)
	ticks := 0
	for a.Active() {
		now = now.Add(50 * time.Millisecond) // compositor 5x slower than base
		a.Tick(now)
		ticks++
		if ticks > 1000 {
			t.Fatal("animation never completed")
		}
	}
	// 100 frames at stride 1 would need 100 ticks; the stride doubling must
	// cut that substantially.
	if ticks > 70 {
		t.Errorf("adaptive stride ineffective: %d ticks", ticks)
	}
	if !a.Current().Equal(night) {
		t.Errorf("final state %+v", a.Current())
	}
}

func TestMonotonicTowardsTarget(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(10 * time.Millisecond)
	a.Start(day, night, 300*time.Millisecond, now)
	prev := day.Temperature
	for a.Active() {
		now = now.Add(10 * time.Millisecond)
		s := a.Tick(now)
		if s.Temperature > prev {
			t.Fatalf("temperature rose during cooling transition: %d > %d", s.Temperature, prev)
		}
		prev = s.Temperature
	}
}
